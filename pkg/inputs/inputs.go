// Package inputs resolves input specifications into files grouped by dataset
// nickname.
//
// A specification is one of
//
//   - a ".root" file, taken as is (it may be remote, like "root://...")
//   - a glob pattern containing "*" ("**" matches any depth)
//   - a directory, standing for "<dir>/*.root"
//   - a ".dbs" bookkeeping file
//   - a ".txt" file listing one specification per line
//
// Anything else is logged and ignored.
package inputs

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opst/anawrap/pkg/configdoc"
	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/nickname"
)

// ErrRecursionLimit is returned when list files or globs nest deeper than
// allowed, as with a list file including itself.
var ErrRecursionLimit = errors.New("input specification nests too deep")

const DefaultMaxDepth = 16

// DefaultWeight is the weight of files resolved from specifications.
const DefaultWeight = "1"

// Resolution is the result of resolving input specifications.
type Resolution struct {
	// Files in resolution order, without duplicates.
	Files []string

	// Groups holds Files per nickname, with DefaultWeight.
	Groups *dbs.Manifest
}

// Filter narrows entries read from a .dbs file before they are resolved.
type Filter func(dbsPath string, m *dbs.Manifest) *dbs.Manifest

type config struct {
	fallback string
	logger   *log.Logger
	filter   Filter
	maxDepth int
	lookup   func(string) (string, bool)
}

type Option func(*config)

// WithFallbackNickname sets the nickname of files whose names carry none.
func WithFallbackNickname(nick string) Option {
	return func(c *config) { c.fallback = nick }
}

func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithFilter applies f to every .dbs file read.
func WithFilter(f Filter) Option {
	return func(c *config) { c.filter = f }
}

func WithMaxDepth(depth int) Option {
	return func(c *config) { c.maxDepth = depth }
}

// WithEnv replaces os.LookupEnv in expanding $VAR in specifications.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(c *config) { c.lookup = lookup }
}

// Clean strips quotes and commas from a specification as typed on a
// command line, like `"a.root",`.
func Clean(spec string) string {
	return strings.NewReplacer(`"`, "", "'", "", ",", "").Replace(spec)
}

type resolved struct {
	file string
	nick string
}

// Resolve resolves specifications in order.
//
// Resolving the same specifications again yields the same result.
func Resolve(specs []string, options ...Option) (Resolution, error) {
	c := &config{
		fallback: "auto",
		logger:   logger.Null(),
		maxDepth: DefaultMaxDepth,
		lookup:   os.LookupEnv,
	}
	for _, o := range options {
		o(c)
	}

	found := []resolved{}
	for _, s := range specs {
		s = Clean(s)
		if s == "" {
			continue
		}
		r, err := c.resolve(s, 0)
		if err != nil {
			return Resolution{}, err
		}
		found = append(found, r...)
	}

	files := []string{}
	groups := new(dbs.Builder)
	seen := map[string]struct{}{}
	for _, r := range found {
		if _, ok := seen[r.file]; ok {
			continue
		}
		seen[r.file] = struct{}{}
		files = append(files, r.file)
		groups.Add(r.nick, r.file, DefaultWeight)
	}
	return Resolution{Files: files, Groups: groups.Build()}, nil
}

func (c *config) resolve(spec string, depth int) ([]resolved, error) {
	if depth > c.maxDepth {
		return nil, fmt.Errorf("%w: %s (depth > %d)", ErrRecursionLimit, spec, c.maxDepth)
	}
	spec = configdoc.ExpandString(spec, c.lookup)
	ext := filepath.Ext(spec)

	switch {
	case strings.Contains(spec, "*"):
		matches, err := doublestar.FilepathGlob(spec)
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern %s: %w", spec, err)
		}
		if len(matches) == 0 {
			c.logger.Printf("no files match %s", spec)
		}
		slices.Sort(matches)
		return c.resolveAll(matches, depth+1)
	case ext == ".root":
		return []resolved{{file: spec, nick: nickname.Extract(spec, c.fallback)}}, nil
	case ext == ".dbs":
		m, err := dbs.Load(spec)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", spec, err)
		}
		if c.filter != nil {
			m = c.filter(spec, m)
		}
		return c.resolveAll(m.Files(), depth+1)
	case isDir(spec):
		return c.resolve(filepath.Join(spec, "*.root"), depth+1)
	case ext == ".txt":
		lines, err := readLines(spec)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", spec, err)
		}
		return c.resolveAll(lines, depth+1)
	default:
		c.logger.Printf("input %s is not further considered", spec)
		return nil, nil
	}
}

func (c *config) resolveAll(specs []string, depth int) ([]resolved, error) {
	ret := []resolved{}
	for _, s := range specs {
		r, err := c.resolve(s, depth)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r...)
	}
	return ret, nil
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := []string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		l := strings.TrimSpace(sc.Text())
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines, sc.Err()
}

// Limit keeps the first n files. n <= 0 keeps nothing.
func Limit(res Resolution, n int) Resolution {
	if n < 0 {
		n = 0
	}
	if n >= len(res.Files) {
		return res
	}
	kept := res.Files[:n:n]
	set := make(map[string]struct{}, n)
	for _, f := range kept {
		set[f] = struct{}{}
	}
	groups := res.Groups.Keep(func(_ string, e dbs.Entry) bool {
		_, ok := set[e.File]
		return ok
	})
	return Resolution{Files: kept, Groups: groups}
}
