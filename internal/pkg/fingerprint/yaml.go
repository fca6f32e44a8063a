package fingerprint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionYAML is the on-disk YAML shape of a fingerprint
type definitionYAML struct {
	Name        string                 `yaml:"name"`
	Author      string                 `yaml:"author,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	Filters     []filterGroupYAML      `yaml:"filters,omitempty"`
	Payloads    map[string]payloadYAML `yaml:"payloads"`
}

// filterGroupYAML holds name/for plus one key per predicate, e.g.
// "dst_port: 502", "ttl_within: {min: 1, max: 64}" or "flags: [ACK, PSH]".
type filterGroupYAML struct {
	Name       string                 `yaml:"name,omitempty"`
	For        string                 `yaml:"for"`
	Predicates map[string]interface{} `yaml:",inline"`
}

type payloadYAML struct {
	Description string       `yaml:"description,omitempty"`
	Always      []returnYAML `yaml:"always,omitempty"`
	Operations  []yaml.Node  `yaml:"operations,omitempty"`
}

type contentYAML struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

type matchYAML struct {
	Offset      int          `yaml:"offset"`
	Relative    bool         `yaml:"relative"`
	Depth       int          `yaml:"depth"`
	NoCase      bool         `yaml:"no_case"`
	MoveCursors bool         `yaml:"move_cursors"`
	Content     *contentYAML `yaml:"content"`
	Pattern     string       `yaml:"pattern"`
	AndThen     []yaml.Node  `yaml:"and_then"`
}

type byteTestYAML struct {
	Offset     int         `yaml:"offset"`
	Relative   bool        `yaml:"relative"`
	Bytes      int         `yaml:"bytes"`
	Endian     string      `yaml:"endian"`
	Test       string      `yaml:"test"`
	Value      int64       `yaml:"value"`
	PostOffset int         `yaml:"post_offset"`
	AndThen    []yaml.Node `yaml:"and_then"`
}

type byteJumpYAML struct {
	Offset     int         `yaml:"offset"`
	Relative   bool        `yaml:"relative"`
	Bytes      int         `yaml:"bytes"`
	Endian     string      `yaml:"endian"`
	Calc       string      `yaml:"calc"`
	PostOffset int         `yaml:"post_offset"`
	AndThen    []yaml.Node `yaml:"and_then"`
}

type isDataAtYAML struct {
	Offset   int         `yaml:"offset"`
	Relative bool        `yaml:"relative"`
	AndThen  []yaml.Node `yaml:"and_then"`
}

type anchorYAML struct {
	Cursor   string      `yaml:"cursor"`
	Position string      `yaml:"position"`
	Offset   int         `yaml:"offset"`
	AndThen  []yaml.Node `yaml:"and_then"`
}

type detailsYAML struct {
	Role     string            `yaml:"role"`
	Category string            `yaml:"category"`
	Detail   map[string]string `yaml:"detail"`
}

type extractYAML struct {
	Name      string `yaml:"name"`
	From      int    `yaml:"from"`
	To        int    `yaml:"to"`
	MaxLength int    `yaml:"max_length"`
	Endian    string `yaml:"endian"`
	Relative  bool   `yaml:"relative"`
	Convert   string `yaml:"convert"`
	Lookup    string `yaml:"lookup"`
}

type returnYAML struct {
	Direction  string        `yaml:"direction"`
	Confidence string        `yaml:"confidence"`
	Details    *detailsYAML  `yaml:"details"`
	Extract    []extractYAML `yaml:"extract"`
}

// ParseYAML decodes one fingerprint. Element-level problems are returned in
// errs and the offending element is skipped; err is set only when the
// document itself is unusable.
func ParseYAML(data []byte, opts LoadOptions) (def *Definition, errs []error, err error) {
	var raw definitionYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse fingerprint YAML: %w", err)
	}

	def = &Definition{
		Name:        raw.Name,
		Author:      raw.Author,
		Description: raw.Description,
		Payloads:    make(map[string]*Payload, len(raw.Payloads)),
	}

	for i, fg := range raw.Filters {
		group, gerrs := fg.toGroup(i)
		errs = append(errs, gerrs...)
		if group != nil {
			def.Filters = append(def.Filters, group)
		}
	}

	for tag, p := range raw.Payloads {
		pl := &Payload{For: tag, Description: p.Description}
		for _, r := range p.Always {
			ret, err := r.toReturn()
			if err != nil {
				errs = append(errs, fmt.Errorf("payload %q always: %w", tag, err))
				continue
			}
			pl.Always = append(pl.Always, ret)
		}
		ops, oerrs := decodeOperations(p.Operations, opts)
		for _, e := range oerrs {
			errs = append(errs, fmt.Errorf("payload %q: %w", tag, e))
		}
		pl.Operations = ops
		def.Payloads[tag] = pl
	}

	errs = append(errs, def.validate()...)
	return def, errs, nil
}

func (fg filterGroupYAML) toGroup(index int) (*FilterGroup, []error) {
	name := fg.Name
	if name == "" {
		name = fmt.Sprintf("filter-%d", index)
	}
	if fg.For == "" {
		return nil, []error{fmt.Errorf("filter %q has no payload reference", name)}
	}
	group := &FilterGroup{Name: name, For: fg.For}

	var errs []error
	keys := make([]string, 0, len(fg.Predicates))
	for k := range fg.Predicates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		filters, err := yamlPredicate(key, fg.Predicates[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("filter %q: %w", name, err))
			continue
		}
		group.Filters = append(group.Filters, filters...)
	}
	return group, errs
}

// yamlPredicate accepts a scalar, a list of scalars (alternatives, or a flag
// set for "flags") or a {min, max} mapping.
func yamlPredicate(key string, value interface{}) ([]Filter, error) {
	typ, _, err := LookupFilterType(key)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case []interface{}:
		if typ == FilterFlags {
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, scalarString(item))
			}
			f, err := ParseFilter(key, strings.Join(parts, " "))
			if err != nil {
				return nil, err
			}
			return []Filter{f}, nil
		}
		out := make([]Filter, 0, len(v))
		for _, item := range v {
			f, err := ParseFilter(key, scalarString(item))
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	case map[string]interface{}:
		f, err := NewRangeFilter(key, scalarString(v["min"]), scalarString(v["max"]))
		if err != nil {
			return nil, err
		}
		return []Filter{f}, nil
	default:
		f, err := ParseFilter(key, scalarString(v))
		if err != nil {
			return nil, err
		}
		return []Filter{f}, nil
	}
}

func scalarString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	default:
		return fmt.Sprint(s)
	}
}

func decodeOperations(nodes []yaml.Node, opts LoadOptions) ([]Operation, []error) {
	var (
		ops  []Operation
		errs []error
	)
	for i := range nodes {
		op, oerrs := decodeOperation(&nodes[i], opts)
		errs = append(errs, oerrs...)
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops, errs
}

// decodeOperation expects a single-key mapping such as {match: {...}}
func decodeOperation(node *yaml.Node, opts LoadOptions) (Operation, []error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, []error{fmt.Errorf("line %d: operation must be a single-key mapping", node.Line)}
	}
	kind, body := node.Content[0].Value, node.Content[1]
	at := func(err error) error {
		return fmt.Errorf("line %d: %s: %w", node.Line, kind, err)
	}

	switch strings.ToLower(strings.ReplaceAll(kind, "_", "")) {
	case "match":
		var m matchYAML
		if err := body.Decode(&m); err != nil {
			return nil, []error{at(err)}
		}
		andThen, errs := decodeOperations(m.AndThen, opts)
		spec := matchSpec{
			Offset:      m.Offset,
			Relative:    m.Relative,
			Depth:       m.Depth,
			NoCase:      m.NoCase,
			MoveCursors: m.MoveCursors,
			Pattern:     m.Pattern,
		}
		if m.Content != nil {
			spec.ContentType = m.Content.Type
			spec.Content = &m.Content.Value
		}
		op, merrs := buildMatch(spec, andThen, opts)
		for _, e := range merrs {
			errs = append(errs, at(e))
		}
		if op == nil {
			return nil, errs
		}
		return op, errs

	case "bytetest", "bytetestfunction":
		var b byteTestYAML
		if err := body.Decode(&b); err != nil {
			return nil, []error{at(err)}
		}
		andThen, errs := decodeOperations(b.AndThen, opts)
		op, err := buildByteTest(b.Offset, b.Relative, b.Bytes, b.Endian, b.Test, b.Value, b.PostOffset, andThen)
		if err != nil {
			return nil, append(errs, at(err))
		}
		return op, errs

	case "bytejump", "bytejumpfunction":
		var b byteJumpYAML
		if err := body.Decode(&b); err != nil {
			return nil, []error{at(err)}
		}
		andThen, errs := decodeOperations(b.AndThen, opts)
		op, err := buildByteJump(b.Offset, b.Relative, b.Bytes, b.Endian, b.Calc, b.PostOffset, andThen)
		if err != nil {
			return nil, append(errs, at(err))
		}
		return op, errs

	case "isdataat":
		var d isDataAtYAML
		if err := body.Decode(&d); err != nil {
			return nil, []error{at(err)}
		}
		andThen, errs := decodeOperations(d.AndThen, opts)
		return &IsDataAt{Offset: d.Offset, Relative: d.Relative, AndThen: andThen}, errs

	case "anchor":
		var a anchorYAML
		if err := body.Decode(&a); err != nil {
			return nil, []error{at(err)}
		}
		andThen, errs := decodeOperations(a.AndThen, opts)
		op, err := buildAnchor(a.Cursor, a.Position, a.Offset, andThen)
		if err != nil {
			return nil, append(errs, at(err))
		}
		return op, errs

	case "return":
		var r returnYAML
		if err := body.Decode(&r); err != nil {
			return nil, []error{at(err)}
		}
		op, err := r.toReturn()
		if err != nil {
			return nil, []error{at(err)}
		}
		return op, nil

	default:
		return nil, []error{fmt.Errorf("line %d: %w: %q", node.Line, ErrUnknownOperation, kind)}
	}
}

func (r returnYAML) toReturn() (*Return, error) {
	var details *DetailGroup
	if r.Details != nil {
		details = &DetailGroup{Role: r.Details.Role, Category: r.Details.Category}
		names := make([]string, 0, len(r.Details.Detail))
		for name := range r.Details.Detail {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			details.Details = append(details.Details, Detail{Name: name, Value: r.Details.Detail[name]})
		}
	}

	extracts := make([]*Extract, 0, len(r.Extract))
	for _, e := range r.Extract {
		ex, err := buildExtract(extractSpec(e))
		if err != nil {
			return nil, err
		}
		extracts = append(extracts, ex)
	}
	return buildReturn(r.Direction, r.Confidence, details, extracts)
}
