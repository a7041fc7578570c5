package configdoc

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var _ json.Marshaler = Document{}

// MarshalJSON encodes the document as a JSON object, keeping key order.
func (d Document) MarshalJSON() ([]byte, error) {
	return d.Canonical()
}

// Canonical is the compact JSON form of the document in document order.
func (d Document) Canonical() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeJSON(buf, d, "", ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Indented is the JSON form of the document, indented by indent per level.
func (d Document) Indented(indent string) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeJSON(buf, d, "\n", indent); err != nil {
		return nil, err
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// Hash is the hex encoded MD5 digest of the canonical form.
func (d Document) Hash() (string, error) {
	c, err := d.Canonical()
	if err != nil {
		return "", err
	}
	sum := md5.Sum(c)
	return hex.EncodeToString(sum[:]), nil
}

// DefaultPath is where the document is saved when no path is requested:
// "<dir>/artus_<hash>.json".
func (d Document) DefaultPath(dir string) (string, error) {
	h, err := d.Hash()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("artus_%s.json", h)), nil
}

// Save writes the document as JSON indented by 4 spaces.
func (d Document) Save(path string) error {
	buf, err := d.Indented("    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.FileMode(0755)); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf, os.FileMode(0644))
}

func writeJSON(buf *bytes.Buffer, v any, newline string, indent string) error {
	return writeJSONValue(buf, v, newline, indent, 0)
}

func writeJSONValue(buf *bytes.Buffer, v any, newline, indent string, depth int) error {
	pad := func(level int) {
		if newline == "" {
			return
		}
		buf.WriteString(newline)
		buf.WriteString(strings.Repeat(indent, level))
	}

	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(vv))
	case int64:
		buf.WriteString(strconv.FormatInt(vv, 10))
	case float64:
		s, err := formatFloat(vv)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case string:
		writeJSONString(buf, vv)
	case []any:
		if len(vv) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[")
		for i, item := range vv {
			if i > 0 {
				buf.WriteString(",")
				if newline == "" {
					buf.WriteString(" ")
				}
			}
			pad(depth + 1)
			if err := writeJSONValue(buf, item, newline, indent, depth+1); err != nil {
				return err
			}
		}
		pad(depth)
		buf.WriteString("]")
	case Document:
		if vv.Len() == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{")
		for i, k := range vv.keys {
			if i > 0 {
				buf.WriteString(",")
				if newline == "" {
					buf.WriteString(" ")
				}
			}
			pad(depth + 1)
			writeJSONString(buf, k)
			buf.WriteString(": ")
			if err := writeJSONValue(buf, vv.values[k], newline, indent, depth+1); err != nil {
				return err
			}
		}
		pad(depth)
		buf.WriteString("}")
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%v cannot be written as JSON", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s, nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.Encode(s)
	// Encode terminates with a newline.
	buf.Truncate(buf.Len() - 1)
}
