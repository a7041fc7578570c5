// Package repoversions records revisions of version-controlled checkouts found
// under a set of base directories.
package repoversions

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opst/anawrap/pkg/configdoc"
	"github.com/opst/anawrap/pkg/logger"
	"github.com/opst/anawrap/pkg/runner"
)

// Query is how the revision of one kind of checkout is asked for.
type Query struct {
	// Marker is the metadata directory name, like ".git".
	Marker string

	Command string
	Args    []string
}

// DefaultQueries knows git and subversion checkouts.
var DefaultQueries = []Query{
	{Marker: ".git", Command: "git", Args: []string{"rev-parse", "HEAD"}},
	{Marker: ".svn", Command: "svn", Args: []string{"info"}},
}

type config struct {
	commander runner.Commander
	logger    *log.Logger
	queries   []Query
}

type Option func(*config)

func WithCommander(c runner.Commander) Option {
	return func(cfg *config) { cfg.commander = c }
}

func WithLogger(l *log.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

func WithQueries(q ...Query) Option {
	return func(cfg *config) { cfg.queries = q }
}

// Dirs lists directories to be scanned: each base directory and its
// subdirectories down to maxDepth levels. Hidden directories are not entered.
func Dirs(baseDirs []string, maxDepth int) []string {
	seen := map[string]struct{}{}
	dirs := []string{}
	for _, base := range baseDirs {
		for level := 0; level <= maxDepth; level++ {
			pattern := base
			for range level {
				pattern = filepath.Join(pattern, "*")
			}
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				continue
			}
			slices.Sort(matches)
			for _, m := range matches {
				if hiddenBelow(base, m) {
					continue
				}
				if st, err := os.Stat(m); err != nil || !st.IsDir() {
					continue
				}
				abs, err := filepath.Abs(m)
				if err != nil {
					continue
				}
				if _, ok := seen[abs]; ok {
					continue
				}
				seen[abs] = struct{}{}
				dirs = append(dirs, abs)
			}
		}
	}
	return dirs
}

func hiddenBelow(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." {
		return false
	}
	for _, elem := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(elem, ".") {
			return true
		}
	}
	return false
}

// Scan queries the revision of every checkout found by Dirs.
//
// The result is keyed by the absolute path of the checkout. A checkout whose
// query cannot be run or exits with non-zero is logged and left out.
func Scan(ctx context.Context, baseDirs []string, maxDepth int, opts ...Option) map[string]string {
	cfg := &config{
		commander: runner.ExecCommander{},
		logger:    logger.Null(),
		queries:   DefaultQueries,
	}
	for _, o := range opts {
		o(cfg)
	}

	revisions := map[string]string{}
	for _, q := range cfg.queries {
		for _, dir := range Dirs(baseDirs, maxDepth) {
			if _, err := os.Stat(filepath.Join(dir, q.Marker)); err != nil {
				continue
			}
			stdout, code, err := runner.Output(ctx, cfg.commander, runner.Command{
				Path: q.Command, Args: q.Args, Dir: dir,
			})
			if err != nil {
				cfg.logger.Printf("cannot query revision of %s: %s", dir, err)
				continue
			}
			if code != 0 {
				cfg.logger.Printf("cannot query revision of %s: %s exited with code %d", dir, q.Command, code)
				continue
			}
			revisions[dir] = strings.TrimSpace(strings.ReplaceAll(stdout, "\n", ""))
		}
	}
	return revisions
}

// Apply writes revisions into doc, keyed by checkout path in sorted order.
func Apply(doc configdoc.Document, revisions map[string]string) configdoc.Document {
	paths := make([]string, 0, len(revisions))
	for p := range revisions {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		doc = doc.With(p, revisions[p])
	}
	return doc
}
