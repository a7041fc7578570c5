// Package dbs reads and writes dataset bookkeeping files (".dbs").
//
// A .dbs file lists input files per dataset nickname:
//
//	[DYJetsToLL]
//	/store/kappa_DYJetsToLL_1.root = 1
//	/store/kappa_DYJetsToLL_2.root = 1
//
//	[SingleMuon]
//	/store/kappa_SingleMuon_1.root = 1
package dbs

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Entry is a file with its weight, as written.
type Entry struct {
	File   string
	Weight string
}

// Manifest is an ordered mapping from nickname to entries.
//
// The zero value is an empty manifest. Methods returning *Manifest do not
// modify their receiver.
type Manifest struct {
	nicks   []string
	entries map[string][]Entry
}

func New() *Manifest {
	return &Manifest{entries: map[string][]Entry{}}
}

func (m *Manifest) clone() *Manifest {
	n := New()
	if m == nil {
		return n
	}
	n.nicks = slices.Clone(m.nicks)
	for k, v := range m.entries {
		n.entries[k] = slices.Clone(v)
	}
	return n
}

// Nicknames returns section names in order.
func (m *Manifest) Nicknames() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.nicks)
}

// Entries of a nickname.
func (m *Manifest) Entries(nick string) []Entry {
	if m == nil {
		return nil
	}
	return slices.Clone(m.entries[nick])
}

// Len is the total number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, es := range m.entries {
		n += len(es)
	}
	return n
}

// Files flattens all entries, section by section.
func (m *Manifest) Files() []string {
	files := []string{}
	if m == nil {
		return files
	}
	for _, n := range m.nicks {
		for _, e := range m.entries[n] {
			files = append(files, e.File)
		}
	}
	return files
}

// Groups returns files per nickname.
func (m *Manifest) Groups() map[string][]string {
	g := map[string][]string{}
	if m == nil {
		return g
	}
	for _, n := range m.nicks {
		files := make([]string, 0, len(m.entries[n]))
		for _, e := range m.entries[n] {
			files = append(files, e.File)
		}
		g[n] = files
	}
	return g
}

// WithSection returns a manifest having an (possibly empty) section for nick.
func (m *Manifest) WithSection(nick string) *Manifest {
	n := m.clone()
	n.ensure(nick)
	return n
}

func (m *Manifest) ensure(nick string) {
	if _, ok := m.entries[nick]; !ok {
		m.nicks = append(m.nicks, nick)
		m.entries[nick] = []Entry{}
	}
}

// Add returns a manifest with an entry appended to the nickname's section.
//
// The section is created when missing.
func (m *Manifest) Add(nick string, file string, weight string) *Manifest {
	n := m.clone()
	n.ensure(nick)
	n.entries[nick] = append(n.entries[nick], Entry{File: file, Weight: weight})
	return n
}

// Extend appends every section of other, in other's order.
func (m *Manifest) Extend(other *Manifest) *Manifest {
	n := m.clone()
	if other == nil {
		return n
	}
	for _, nick := range other.nicks {
		n.ensure(nick)
		n.entries[nick] = append(n.entries[nick], other.entries[nick]...)
	}
	return n
}

// Subtract returns a manifest without consumed entries.
//
// consumed counts, per nickname, how many entries of each file are removed,
// earliest first. Files not listed and nicknames without a section are
// ignored. The second result counts removed entries per nickname.
func (m *Manifest) Subtract(consumed map[string]map[string]int) (*Manifest, map[string]int) {
	removed := map[string]int{}
	n := New()
	if m == nil {
		return n, removed
	}
	for _, nick := range m.nicks {
		n.ensure(nick)
		left := consumed[nick]
		if len(left) == 0 {
			n.entries[nick] = append(n.entries[nick], m.entries[nick]...)
			continue
		}
		left = maps.Clone(left)
		for _, e := range m.entries[nick] {
			if left[e.File] > 0 {
				left[e.File] -= 1
				removed[nick] += 1
				continue
			}
			n.entries[nick] = append(n.entries[nick], e)
		}
	}
	return n, removed
}

// Retain returns a manifest keeping, per nickname, only entries whose file is
// listed in groups. Order of the manifest is kept.
func (m *Manifest) Retain(groups map[string][]string) *Manifest {
	sets := make(map[string]map[string]struct{}, len(groups))
	for nick, files := range groups {
		set := make(map[string]struct{}, len(files))
		for _, f := range files {
			set[f] = struct{}{}
		}
		sets[nick] = set
	}
	return m.Keep(func(nick string, e Entry) bool {
		_, ok := sets[nick][e.File]
		return ok
	})
}

// Keep returns a manifest with the entries for which keep is true.
// Sections and order are kept, even when a section becomes empty.
func (m *Manifest) Keep(keep func(nick string, e Entry) bool) *Manifest {
	n := New()
	if m == nil {
		return n
	}
	for _, nick := range m.nicks {
		n.ensure(nick)
		for _, e := range m.entries[nick] {
			if keep(nick, e) {
				n.entries[nick] = append(n.entries[nick], e)
			}
		}
	}
	return n
}

func (m *Manifest) Equal(other *Manifest) bool {
	if !slices.Equal(m.Nicknames(), other.Nicknames()) {
		return false
	}
	for _, n := range m.Nicknames() {
		if !slices.Equal(m.entries[n], other.entries[n]) {
			return false
		}
	}
	return true
}

// Builder makes a manifest entry by entry without copying it on each step.
//
// The zero value is ready to use.
type Builder struct {
	m *Manifest
}

// Add appends an entry to the nickname's section, creating the section.
func (b *Builder) Add(nick string, file string, weight string) {
	if b.m == nil {
		b.m = New()
	}
	b.m.ensure(nick)
	b.m.entries[nick] = append(b.m.entries[nick], Entry{File: file, Weight: weight})
}

// Build hands over the manifest made so far and empties the builder.
func (b *Builder) Build() *Manifest {
	if b.m == nil {
		return New()
	}
	m := b.m
	b.m = nil
	return m
}

// Parse reads a .dbs file.
//
// A line containing "[" starts a section named by the line without brackets.
// A line containing "=" is an entry; when the right side is not a number
// the line is skipped. Entries before the first section are skipped, too.
func Parse(r io.Reader) (*Manifest, error) {
	m := New()
	current := ""
	inSection := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "["):
			current = strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(line))
			inSection = true
			m.ensure(current)
		case strings.Contains(line, "="):
			if !inSection {
				continue
			}
			file, weight, _ := strings.Cut(line, "=")
			weight = strings.TrimSpace(weight)
			if _, err := strconv.ParseFloat(weight, 64); err != nil {
				continue
			}
			m.entries[current] = append(
				m.entries[current],
				Entry{File: strings.TrimSpace(file), Weight: weight},
			)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load parses a .dbs file at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

type WriteOption struct {
	// MaxFilesPerNick truncates every section to this many entries. 0 means all.
	MaxFilesPerNick int
}

// Write renders the manifest as a .dbs file.
func Write(w io.Writer, m *Manifest, opt WriteOption) error {
	bw := bufio.NewWriter(w)
	for i, nick := range m.Nicknames() {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "[%s]\n", nick); err != nil {
			return err
		}
		es := m.entries[nick]
		if 0 < opt.MaxFilesPerNick && opt.MaxFilesPerNick < len(es) {
			es = es[:opt.MaxFilesPerNick]
		}
		for _, e := range es {
			if _, err := fmt.Fprintf(bw, "%s = %s\n", e.File, e.Weight); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Save writes the manifest to path.
func Save(path string, m *Manifest, opt WriteOption) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, m, opt); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
