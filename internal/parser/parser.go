// Package parser decodes and re-encodes entity documents (YAML or JSON)
// while preserving key order and, for YAML, comments and scalar style.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor returns the document format implied by a file extension.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// Ext returns the canonical file extension for f, including the dot.
func (f Format) Ext() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".yaml"
}

// Document is a parsed top-level mapping. Data is the mutable payload;
// the original node tree is kept so Encode can reproduce key order.
type Document struct {
	Format Format
	Data   map[string]any

	node *yaml.Node // document node of the source, nil for new documents
}

// Parse decodes data in the given format. The top-level value must be a mapping.
func Parse(data []byte, format Format) (*Document, error) {
	switch format {
	case FormatYAML:
		return parseYAML(data)
	case FormatJSON:
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("parser: unsupported format %q", format)
	}
}

func parseYAML(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parser: yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("parser: yaml: empty document")
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parser: yaml: top-level value is not a mapping")
	}
	var m map[string]any
	if err := root.Content[0].Decode(&m); err != nil {
		return nil, fmt.Errorf("parser: yaml: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return &Document{Format: FormatYAML, Data: normalize(m).(map[string]any), node: &root}, nil
}

func parseJSON(data []byte) (*Document, error) {
	v, err := DecodeJSONValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parser: json: top-level value is not an object")
	}
	doc := &Document{Format: FormatJSON, Data: m}
	// JSON is a YAML subset; the node tree only supplies key order.
	var root yaml.Node
	if yaml.Unmarshal(data, &root) == nil && len(root.Content) == 1 && root.Content[0].Kind == yaml.MappingNode {
		doc.node = &root
	}
	return doc, nil
}

// DecodeJSONValue decodes a JSON value. Integral numbers become int,
// others float64, so the result compares equal to the YAML decoding of
// the same data.
func DecodeJSONValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parser: json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parser: json: trailing data after top-level value")
	}
	return normalize(v), nil
}

// normalize converts decoder-specific shapes into the canonical payload
// representation: map[string]any, []any, string, bool, int, float64, nil.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case int64:
		return int(x)
	case uint64:
		return int(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// NewDocument builds a document with no source. Keys listed in first are
// emitted first (in that order); the remaining keys are sorted.
func NewDocument(format Format, data map[string]any, first ...string) *Document {
	if data == nil {
		data = map[string]any{}
	}
	doc := &Document{Format: format, Data: data}
	if len(first) == 0 {
		return doc
	}
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range first {
		if _, ok := data[k]; !ok {
			continue
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"},
		)
	}
	doc.node = &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mapping}}
	return doc
}

// Clone returns a document with a deep copy of Data sharing the
// immutable source node.
func (d *Document) Clone() *Document {
	return &Document{
		Format: d.Format,
		Data:   CloneValue(d.Data).(map[string]any),
		node:   d.node,
	}
}

// CloneValue deep-copies maps and slices of a payload value.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Encode serializes the document in its format.
func (d *Document) Encode() ([]byte, error) {
	switch d.Format {
	case FormatJSON:
		return d.encodeJSON()
	case FormatYAML, "":
		return d.encodeYAML()
	default:
		return nil, fmt.Errorf("parser: unsupported format %q", d.Format)
	}
}

func (d *Document) source() *yaml.Node {
	if d.node == nil || len(d.node.Content) == 0 {
		return nil
	}
	return d.node.Content[0]
}

func (d *Document) encodeYAML() ([]byte, error) {
	body, err := syncNode(d.source(), d.Data)
	if err != nil {
		return nil, fmt.Errorf("parser: yaml encode: %w", err)
	}
	root := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{body}}
	if d.node != nil {
		root.HeadComment = d.node.HeadComment
		root.FootComment = d.node.FootComment
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("parser: yaml encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: yaml encode: %w", err)
	}
	return buf.Bytes(), nil
}

// syncNode returns a node representing value, reusing src (and its
// comments, ordering and style) wherever src still matches. src is never
// modified, so documents may share it.
func syncNode(src *yaml.Node, value any) (*yaml.Node, error) {
	switch v := value.(type) {
	case map[string]any:
		if src == nil || src.Kind != yaml.MappingNode {
			src = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		out := *src
		out.Content = make([]*yaml.Node, 0, 2*len(v))
		seen := make(map[string]bool, len(v))
		for i := 0; i+1 < len(src.Content); i += 2 {
			k := src.Content[i].Value
			e, ok := v[k]
			if !ok || seen[k] {
				continue
			}
			seen[k] = true
			n, err := syncNode(src.Content[i+1], e)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, src.Content[i], n)
		}
		for _, k := range sortedKeys(v) {
			if seen[k] {
				continue
			}
			n, err := syncNode(nil, v[k])
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, n)
		}
		return &out, nil
	case []any:
		if src == nil || src.Kind != yaml.SequenceNode {
			src = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		}
		out := *src
		out.Content = make([]*yaml.Node, 0, len(v))
		for i, e := range v {
			var prev *yaml.Node
			if i < len(src.Content) {
				prev = src.Content[i]
			}
			n, err := syncNode(prev, e)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, n)
		}
		if len(out.Content) == 0 {
			out.Style |= yaml.FlowStyle
		}
		return &out, nil
	default:
		if src != nil && src.Kind == yaml.ScalarNode {
			var cur any
			if err := src.Decode(&cur); err == nil && reflect.DeepEqual(normalize(cur), value) {
				return src, nil
			}
		}
		n := &yaml.Node{}
		if err := n.Encode(value); err != nil {
			return nil, err
		}
		if src != nil {
			n.HeadComment, n.LineComment, n.FootComment = src.HeadComment, src.LineComment, src.FootComment
		}
		return n, nil
	}
}

func (d *Document) encodeJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ordered(d.source(), d.Data)); err != nil {
		return nil, fmt.Errorf("parser: json encode: %w", err)
	}
	return buf.Bytes(), nil
}

// orderedMap marshals its keys in a fixed order.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(k); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends a newline
		buf.WriteByte(':')
		if err := enc.Encode(m.values[k]); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ordered wraps maps in value so they marshal in src key order, with
// keys unknown to src appended sorted.
func ordered(src *yaml.Node, value any) any {
	switch v := value.(type) {
	case map[string]any:
		om := orderedMap{values: make(map[string]any, len(v))}
		seen := make(map[string]bool, len(v))
		if src != nil && src.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(src.Content); i += 2 {
				k := src.Content[i].Value
				if _, ok := v[k]; !ok || seen[k] {
					continue
				}
				seen[k] = true
				om.keys = append(om.keys, k)
				om.values[k] = ordered(src.Content[i+1], v[k])
			}
		}
		for _, k := range sortedKeys(v) {
			if seen[k] {
				continue
			}
			om.keys = append(om.keys, k)
			om.values[k] = ordered(nil, v[k])
		}
		return om
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			var prev *yaml.Node
			if src != nil && src.Kind == yaml.SequenceNode && i < len(src.Content) {
				prev = src.Content[i]
			}
			out[i] = ordered(prev, e)
		}
		return out
	default:
		return value
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Title derives a display title from common payload fields, falling back
// to the given id.
func Title(data map[string]any, id string) string {
	for _, k := range []string{"title", "name", "summary"} {
		if s, ok := data[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return id
}
