// Package configdoc provides the ordered, immutable configuration document
// passed to the analysis executable.
//
// A Document maps string keys to values in insertion order. A value is one of
//
//   - nil
//   - string
//   - int64
//   - float64
//   - bool
//   - []any (elements are values, too)
//   - Document
//
// Documents are values: every operation returning a Document leaves its
// receiver and arguments untouched.
package configdoc

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
)

// ErrNotDocument is returned when a source does not hold a key-value mapping
// at its top level.
var ErrNotDocument = errors.New("not a configuration document")

type Document struct {
	keys   []string
	values map[string]any
}

// Of builds a Document from alternating keys and values.
//
//	configdoc.Of("Nickname", "DYJetsToLL", "ProcessNEvents", 100)
//
// It panics when a key is not a string or a value is not supported.
func Of(kv ...any) Document {
	if len(kv)%2 != 0 {
		panic("configdoc.Of: odd number of arguments")
	}
	d := Document{}
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("configdoc.Of: key %v is not a string", kv[i]))
		}
		d = d.With(k, kv[i+1])
	}
	return d
}

func (d Document) clone() Document {
	return Document{
		keys:   slices.Clone(d.keys),
		values: maps.Clone(d.values),
	}
}

// With returns a Document where key is set to value.
//
// An existing key keeps its position; a new key is appended.
func (d Document) With(key string, value any) Document {
	v, err := normalize(value)
	if err != nil {
		panic(fmt.Sprintf("configdoc: key %q: %s", key, err))
	}
	return d.set(key, v)
}

func (d Document) set(key string, v any) Document {
	nd := d.clone()
	if nd.values == nil {
		nd.values = map[string]any{}
	}
	if _, ok := nd.values[key]; !ok {
		nd.keys = append(nd.keys, key)
	}
	nd.values[key] = v
	return nd
}

// Without returns a Document without the given keys.
func (d Document) Without(keys ...string) Document {
	nd := d.clone()
	for _, k := range keys {
		if _, ok := nd.values[k]; !ok {
			continue
		}
		delete(nd.values, k)
		nd.keys = slices.DeleteFunc(nd.keys, func(s string) bool { return s == k })
	}
	return nd
}

func (d Document) Len() int {
	return len(d.keys)
}

func (d Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Keys returns keys in document order.
func (d Document) Keys() []string {
	return slices.Clone(d.keys)
}

// Iter yields key-value pairs in document order.
//
// Lists and nested documents must not be modified through yielded values.
func (d Document) Iter() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range d.keys {
			if !yield(k, d.values[k]) {
				return
			}
		}
	}
}

func (d Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// GetPath looks up a dot separated path through nested documents.
func (d Document) GetPath(path string) (any, bool) {
	cur := d
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur.values[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(Document)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

func (d Document) String(key string) (string, bool) {
	v, ok := d.values[key].(string)
	return v, ok
}

// Float returns a numeric value as float64. Integers are converted.
func (d Document) Float(key string) (float64, bool) {
	switch v := d.values[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns a numeric value as int64.
//
// Floats are accepted only when they have no fraction.
func (d Document) Int(key string) (int64, bool) {
	switch v := d.values[key].(type) {
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

func (d Document) Bool(key string) (bool, bool) {
	v, ok := d.values[key].(bool)
	return v, ok
}

func (d Document) Document(key string) (Document, bool) {
	v, ok := d.values[key].(Document)
	return v, ok
}

// Equal reports whether both documents have the same keys in the same order
// with equal values.
func (d Document) Equal(other Document) bool {
	if !slices.Equal(d.keys, other.keys) {
		return false
	}
	for _, k := range d.keys {
		if !valueEqual(d.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Document:
		bv, ok := b.(Document)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		return ok && slices.EqualFunc(av, bv, valueEqual)
	case int64:
		switch bv := b.(type) {
		case int64:
			return av == bv
		case float64:
			return float64(av) == bv
		}
		return false
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int64:
			return av == float64(bv)
		}
		return false
	default:
		return a == b
	}
}

func normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, int64, float64:
		return v, nil
	case Document:
		return v, nil
	case *Document:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case []string:
		return listOf(v)
	case []int:
		return listOf(v)
	case []int64:
		return listOf(v)
	case []float64:
		return listOf(v)
	case []Document:
		return listOf(v)
	case []any:
		return listOf(v)
	case map[string]any:
		keys := slices.Sorted(maps.Keys(v))
		d := Document{}
		for _, k := range keys {
			nv, err := normalize(v[k])
			if err != nil {
				return nil, err
			}
			d = d.set(k, nv)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", value)
}

func listOf[T any](items []T) ([]any, error) {
	ret := make([]any, 0, len(items))
	for _, i := range items {
		v, err := normalize(i)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	return ret, nil
}
