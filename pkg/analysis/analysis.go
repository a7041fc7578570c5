// Package analysis builds base configurations of analyses for a dataset.
package analysis

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/opst/anawrap/pkg/configdoc"
	"github.com/opst/anawrap/pkg/nickname"
)

var ErrUnknownAnalysis = errors.New("unknown analysis")

// Builder makes the base configuration for a dataset nickname.
type Builder interface {
	Build(nick string) (configdoc.Document, error)
}

type BuilderFunc func(nick string) (configdoc.Document, error)

func (f BuilderFunc) Build(nick string) (configdoc.Document, error) {
	return f(nick)
}

// KeyNicknameOverrides lists {Match: <regexp>, Config: {...}} entries in a
// configuration file. Configs of entries matching the nickname are merged
// over the rest of the file, in order.
const KeyNicknameOverrides = "NicknameOverrides"

type override struct {
	match  *regexp.Regexp
	config configdoc.Document
}

// FileBuilder builds from a configuration document.
type FileBuilder struct {
	base      configdoc.Document
	overrides []override
}

var _ Builder = &FileBuilder{}

// NewFileBuilder splits NicknameOverrides off doc.
func NewFileBuilder(doc configdoc.Document) (*FileBuilder, error) {
	fb := &FileBuilder{base: doc.Without(KeyNicknameOverrides)}

	raw, ok := doc.Get(KeyNicknameOverrides)
	if !ok || raw == nil {
		return fb, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s should be a list", KeyNicknameOverrides)
	}
	for i, item := range list {
		entry, ok := item.(configdoc.Document)
		if !ok {
			return nil, fmt.Errorf("%s[%d] should be a document", KeyNicknameOverrides, i)
		}
		pattern, ok := entry.String("Match")
		if !ok {
			return nil, fmt.Errorf("%s[%d]: Match should be a string", KeyNicknameOverrides, i)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", KeyNicknameOverrides, i, err)
		}
		config, _ := entry.Document("Config")
		fb.overrides = append(fb.overrides, override{match: re, config: config})
	}
	return fb, nil
}

// LoadFileBuilder reads a configuration file with configdoc.Load.
func LoadFileBuilder(path string) (*FileBuilder, error) {
	doc, err := configdoc.Load(path)
	if err != nil {
		return nil, err
	}
	fb, err := NewFileBuilder(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fb, nil
}

func (fb *FileBuilder) Build(nick string) (configdoc.Document, error) {
	doc := fb.base
	for _, o := range fb.overrides {
		if o.match.MatchString(nick) {
			doc = configdoc.Merge(doc, o.config)
		}
	}
	return doc, nil
}

//go:embed configs/*.yaml
var configs embed.FS

// Registry resolves analysis identifiers to Builders.
type Registry struct {
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

// Register binds b to every one of ids.
func (r *Registry) Register(b Builder, ids ...string) {
	for _, id := range ids {
		r.builders[id] = b
	}
}

// Known lists registered identifiers.
func (r *Registry) Known() []string {
	ids := make([]string, 0, len(r.builders))
	for id := range r.builders {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Default knows the standard model ("SM", "sm") and MSSM ("MSSM", "mssm",
// "MSSM2017", "mssm2017") analyses.
func Default() *Registry {
	r := NewRegistry()
	for file, ids := range map[string][]string{
		"sm.yaml":       {"SM", "sm"},
		"mssm.yaml":     {"MSSM", "mssm"},
		"mssm2017.yaml": {"MSSM2017", "mssm2017"},
	} {
		buf, err := configs.ReadFile(path.Join("configs", file))
		if err != nil {
			panic(err)
		}
		doc, err := configdoc.Parse(buf)
		if err != nil {
			panic(fmt.Sprintf("configs/%s: %s", file, err))
		}
		fb, err := NewFileBuilder(doc)
		if err != nil {
			panic(fmt.Sprintf("configs/%s: %s", file, err))
		}
		r.Register(fb, ids...)
	}
	return r
}

// Lookup finds the Builder for id.
//
// An id which is not registered is taken as a path of a configuration file
// (.json, .yaml, .yml or .hcl).
func (r *Registry) Lookup(id string) (Builder, error) {
	if b, ok := r.builders[id]; ok {
		return b, nil
	}

	switch strings.ToLower(filepath.Ext(id)) {
	case ".json", ".yaml", ".yml", ".hcl":
	default:
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownAnalysis, id, strings.Join(r.Known(), ", "))
	}
	if s, err := os.Stat(id); err != nil || s.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a readable file", ErrUnknownAnalysis, id)
	}
	return LoadFileBuilder(id)
}

// DetermineNickname decides the nickname of a run.
//
// When flag contains "auto", the nickname comes from the first file, and
// consistent tells whether every file agrees. Otherwise flag is the nickname.
func DetermineNickname(flag string, files []string, fallback string) (nick string, consistent bool) {
	if !strings.Contains(flag, "auto") {
		return flag, true
	}
	if len(files) == 0 || files[0] == "" {
		return fallback, true
	}
	nick = nickname.Extract(files[0], fallback)
	for _, f := range files[1:] {
		if nickname.Extract(f, fallback) != nick {
			return nick, false
		}
	}
	return nick, true
}
