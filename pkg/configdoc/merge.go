package configdoc

import (
	"os"
	"regexp"
	"slices"
)

// Merge overlays override onto base.
//
// When both sides have a document under the same key, they are merged
// recursively. Any other value in override (lists included) replaces the one
// in base. Keys only in override are appended in override's order.
func Merge(base, override Document) Document {
	merged := base.clone()
	if merged.values == nil {
		merged.values = map[string]any{}
	}
	for _, k := range override.keys {
		ov := override.values[k]
		if bd, ok := merged.values[k].(Document); ok {
			if od, ok := ov.(Document); ok {
				merged.values[k] = Merge(bd, od)
				continue
			}
		}
		if _, ok := merged.values[k]; !ok {
			merged.keys = append(merged.keys, k)
		}
		merged.values[k] = ov
	}
	return merged
}

// MapStrings returns a Document where every string leaf, including those in
// lists and nested documents, is replaced by fn's result.
//
// Keys are not mapped.
func MapStrings(d Document, fn func(string) (string, error)) (Document, error) {
	nd := d.clone()
	for _, k := range nd.keys {
		v, err := mapValue(nd.values[k], fn)
		if err != nil {
			return Document{}, err
		}
		nd.values[k] = v
	}
	return nd, nil
}

func mapValue(v any, fn func(string) (string, error)) (any, error) {
	switch vv := v.(type) {
	case string:
		return fn(vv)
	case []any:
		ret := slices.Clone(vv)
		for i := range ret {
			mv, err := mapValue(ret[i], fn)
			if err != nil {
				return nil, err
			}
			ret[i] = mv
		}
		return ret, nil
	case Document:
		return MapStrings(vv, fn)
	}
	return v, nil
}

var reVariable = regexp.MustCompile(`\$(\w+|\{[^}]*\})`)

// ExpandString replaces $NAME and ${NAME} with values given by lookup.
//
// Variables unknown to lookup are left as written.
func ExpandString(s string, lookup func(string) (string, bool)) string {
	return reVariable.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1:]
		if len(name) >= 2 && name[0] == '{' {
			name = name[1 : len(name)-1]
		}
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// ExpandEnv expands variables in every string leaf of d.
//
// When lookup is nil, os.LookupEnv is used.
func ExpandEnv(d Document, lookup func(string) (string, bool)) Document {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	nd, _ := MapStrings(d, func(s string) (string, error) {
		return ExpandString(s, lookup), nil
	})
	return nd
}
