package configdoc

import (
	"fmt"
	"strings"
)

type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is one difference between two documents.
//
// Path is dot separated through nested documents.
type Change struct {
	Kind ChangeKind
	Path string
	From any
	To   any
}

func (c Change) String() string {
	switch c.Kind {
	case Added:
		return fmt.Sprintf("+ %s: %v", c.Path, c.To)
	case Removed:
		return fmt.Sprintf("- %s: %v", c.Path, c.From)
	}
	return fmt.Sprintf("~ %s: %v -> %v", c.Path, c.From, c.To)
}

// Diff lists the differences turning a into b.
//
// Removed and changed keys come in a's order, then added keys in b's order.
func Diff(a, b Document) []Change {
	return DiffIgnoring(a, b, nil)
}

// DiffIgnoring is Diff skipping keys, at any depth, for which ignore returns true.
func DiffIgnoring(a, b Document, ignore func(key string) bool) []Change {
	return diff("", a, b, ignore)
}

// IsComment reports whether a key is a comment or documentation entry.
func IsComment(key string) bool {
	return strings.Contains(key, "#") ||
		strings.Contains(key, "documentation") ||
		strings.Contains(key, "comment")
}

func diff(prefix string, a, b Document, ignore func(string) bool) []Change {
	changes := []Change{}
	skip := func(k string) bool { return ignore != nil && ignore(k) }

	for _, k := range a.keys {
		if skip(k) {
			continue
		}
		path := prefix + k
		av := a.values[k]
		bv, ok := b.values[k]
		if !ok {
			changes = append(changes, Change{Kind: Removed, Path: path, From: av})
			continue
		}
		ad, aIsDoc := av.(Document)
		bd, bIsDoc := bv.(Document)
		if aIsDoc && bIsDoc {
			changes = append(changes, diff(path+".", ad, bd, ignore)...)
			continue
		}
		if !valueEqual(av, bv) {
			changes = append(changes, Change{Kind: Changed, Path: path, From: av, To: bv})
		}
	}
	for _, k := range b.keys {
		if skip(k) {
			continue
		}
		if _, ok := a.values[k]; ok {
			continue
		}
		changes = append(changes, Change{Kind: Added, Path: prefix + k, To: b.values[k]})
	}
	return changes
}
