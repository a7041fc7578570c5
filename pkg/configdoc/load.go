package configdoc

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Load reads a document from a file. The format follows the extension:
// ".json", ".yaml" and ".yml" are read as YAML (JSON being a subset of it),
// ".hcl" as HCL.
func Load(path string) (Document, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".yaml", ".yml":
		d, err := Parse(buf)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", path, err)
		}
		return d, nil
	case ".hcl":
		return ParseHCL(buf, path, os.Environ())
	default:
		return Document{}, fmt.Errorf("%w: %s: unknown extension %q", ErrNotDocument, path, ext)
	}
}

// Parse reads a YAML or JSON document, keeping key order.
func Parse(buf []byte) (Document, error) {
	root := new(yaml.Node)
	if err := yaml.Unmarshal(buf, root); err != nil {
		return Document{}, err
	}
	if root.Kind == 0 {
		// empty input
		return Document{}, nil
	}
	n := root
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return Document{}, nil
		}
		n = n.Content[0]
	}
	v, err := fromNode(n)
	if err != nil {
		return Document{}, err
	}
	d, ok := v.(Document)
	if !ok {
		return Document{}, fmt.Errorf("%w: top level is %T", ErrNotDocument, v)
	}
	return d, nil
}

func fromNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.MappingNode:
		d := Document{}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
				inherited, err := fromNode(v)
				if err != nil {
					return nil, err
				}
				if id, ok := inherited.(Document); ok {
					d = Merge(id, d)
				}
				continue
			}
			value, err := fromNode(v)
			if err != nil {
				return nil, err
			}
			d = d.set(k.Value, value)
		}
		return d, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}
			return b, nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return nil, err
			}
			return i, nil
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return nil, err
			}
			return f, nil
		default:
			return n.Value, nil
		}
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

// ParseHCL reads an HCL document.
//
// Attributes become keys in source order. A block becomes a nested document
// under its type, and each label nests one level further:
//
//	pipeline "mt" { Quantities = ["pt_1"] }
//
// is {"pipeline": {"mt": {"Quantities": ["pt_1"]}}}. Blocks sharing a path are
// merged. Expressions can refer to environment variables as env.NAME.
func ParseHCL(src []byte, filename string, environ []string) (Document, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return Document{}, diags
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return Document{}, fmt.Errorf("%w: %s is not native HCL syntax", ErrNotDocument, filename)
	}

	envs := map[string]cty.Value{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		envs[k] = cty.StringVal(v)
	}
	ectx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(envs)},
	}

	return fromHCLBody(body, ectx)
}

func fromHCLBody(body *hclsyntax.Body, ectx *hcl.EvalContext) (Document, error) {
	attrs := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, a := range body.Attributes {
		attrs = append(attrs, a)
	}
	sortAttributes(attrs)

	d := Document{}
	for _, a := range attrs {
		val, diags := a.Expr.Value(ectx)
		if diags.HasErrors() {
			return Document{}, diags
		}
		v, err := fromCty(val)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", a.Name, err)
		}
		d = d.set(a.Name, v)
	}

	for _, b := range body.Blocks {
		inner, err := fromHCLBody(b.Body, ectx)
		if err != nil {
			return Document{}, err
		}
		for i := len(b.Labels) - 1; i >= 0; i-- {
			inner = Document{}.set(b.Labels[i], inner)
		}
		d = Merge(d, Document{}.set(b.Type, inner))
	}
	return d, nil
}

func sortAttributes(attrs []*hclsyntax.Attribute) {
	slices.SortFunc(attrs, func(a, b *hclsyntax.Attribute) int {
		return a.SrcRange.Start.Byte - b.SrcRange.Start.Byte
	})
}

func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		list := []any{}
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			e, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			list = append(list, e)
		}
		return list, nil
	case ty.IsObjectType() || ty.IsMapType():
		d := Document{}
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			e, err := fromCty(ev)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k.AsString(), err)
			}
			d = d.set(k.AsString(), e)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
}
