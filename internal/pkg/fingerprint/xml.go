package fingerprint

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// xmlNode is a generic element tree. The XML fingerprint format interleaves
// operation elements inside AndThen, so decoding into a fixed struct would
// lose their order.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) name() string {
	return n.XMLName.Local
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (n *xmlNode) child(name string) *xmlNode {
	for i := range n.Nodes {
		if strings.EqualFold(n.Nodes[i].name(), name) {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) childText(name string) string {
	if c := n.child(name); c != nil {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

// attrInt returns 0 for a missing attribute
func (n *xmlNode) attrInt(name string) (int, error) {
	v := n.attr(name)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return i, nil
}

func (n *xmlNode) attrBool(name string) bool {
	b, _ := strconv.ParseBool(n.attr(name))
	return b
}

// ParseXML decodes one <Fingerprint> document. Unknown elements are reported
// in errs and skipped.
func ParseXML(data []byte, opts LoadOptions) (def *Definition, errs []error, err error) {
	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return nil, nil, fmt.Errorf("failed to parse fingerprint XML: %w", err)
	}
	if !strings.EqualFold(root.name(), "Fingerprint") {
		return nil, nil, fmt.Errorf("unexpected root element <%s>", root.name())
	}

	def = &Definition{Payloads: make(map[string]*Payload)}
	if h := root.child("Header"); h != nil {
		def.Name = h.childText("Name")
		def.Author = h.childText("Author")
		def.Description = h.childText("Description")
	}
	if def.Name == "" {
		def.Name = root.attr("Name")
	}

	filterIndex := 0
	for i := range root.Nodes {
		node := &root.Nodes[i]
		switch strings.ToLower(node.name()) {
		case "header":
		case "filter":
			group, gerrs := xmlFilterGroup(node, filterIndex)
			filterIndex++
			errs = append(errs, gerrs...)
			if group != nil {
				def.Filters = append(def.Filters, group)
			}
		case "payload":
			pl, perrs := xmlPayload(node, opts)
			errs = append(errs, perrs...)
			if pl != nil {
				def.Payloads[pl.For] = pl
			}
		default:
			errs = append(errs, fmt.Errorf("unknown element <%s>", node.name()))
		}
	}

	errs = append(errs, def.validate()...)
	return def, errs, nil
}

func xmlFilterGroup(node *xmlNode, index int) (*FilterGroup, []error) {
	name := node.attr("Name")
	if name == "" {
		name = fmt.Sprintf("filter-%d", index)
	}
	group := &FilterGroup{Name: name, For: node.attr("For")}
	if group.For == "" {
		return nil, []error{fmt.Errorf("filter %q has no For attribute", name)}
	}

	var errs []error
	for i := range node.Nodes {
		pred := &node.Nodes[i]
		_, isRange, err := LookupFilterType(pred.name())
		if err != nil {
			errs = append(errs, fmt.Errorf("filter %q: %w", name, err))
			continue
		}

		var f Filter
		if isRange && pred.attr("Min") != "" {
			f, err = NewRangeFilter(pred.name(), pred.attr("Min"), pred.attr("Max"))
		} else {
			f, err = ParseFilter(pred.name(), pred.Text)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("filter %q: %w", name, err))
			continue
		}
		group.Filters = append(group.Filters, f)
	}
	return group, errs
}

func xmlPayload(node *xmlNode, opts LoadOptions) (*Payload, []error) {
	tag := node.attr("For")
	if tag == "" {
		return nil, []error{fmt.Errorf("payload without For attribute")}
	}
	pl := &Payload{For: tag}

	var errs []error
	var opNodes []xmlNode
	for i := range node.Nodes {
		child := &node.Nodes[i]
		switch strings.ToLower(child.name()) {
		case "description":
			pl.Description = strings.TrimSpace(child.Text)
		case "always":
			for j := range child.Nodes {
				r, err := xmlReturn(&child.Nodes[j])
				if err != nil {
					errs = append(errs, fmt.Errorf("payload %q always: %w", tag, err))
					continue
				}
				pl.Always = append(pl.Always, r)
			}
		default:
			opNodes = append(opNodes, *child)
		}
	}

	ops, oerrs := xmlOperations(opNodes, opts)
	for _, e := range oerrs {
		errs = append(errs, fmt.Errorf("payload %q: %w", tag, e))
	}
	pl.Operations = ops
	return pl, errs
}

func xmlOperations(nodes []xmlNode, opts LoadOptions) ([]Operation, []error) {
	var (
		ops  []Operation
		errs []error
	)
	for i := range nodes {
		op, oerrs := xmlOperation(&nodes[i], opts)
		errs = append(errs, oerrs...)
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops, errs
}

func xmlAndThen(node *xmlNode, opts LoadOptions) ([]Operation, []error) {
	if at := node.child("AndThen"); at != nil {
		return xmlOperations(at.Nodes, opts)
	}
	return nil, nil
}

func xmlOperation(node *xmlNode, opts LoadOptions) (Operation, []error) {
	kind := node.name()
	wrap := func(err error) error {
		return fmt.Errorf("<%s>: %w", kind, err)
	}

	offset, err := node.attrInt("Offset")
	if err != nil {
		return nil, []error{wrap(err)}
	}
	relative := node.attrBool("Relative")

	switch strings.ToLower(kind) {
	case "match":
		depth, err := node.attrInt("Depth")
		if err != nil {
			return nil, []error{wrap(err)}
		}
		andThen, errs := xmlAndThen(node, opts)
		spec := matchSpec{
			Offset:      offset,
			Relative:    relative,
			Depth:       depth,
			NoCase:      node.attrBool("NoCase"),
			MoveCursors: node.attrBool("MoveCursors"),
			Pattern:     node.childText("Pattern"),
		}
		if c := node.child("Content"); c != nil {
			value := c.Text
			if c.attr("Type") != "" && !strings.EqualFold(c.attr("Type"), "STRING") {
				value = strings.TrimSpace(value)
			}
			spec.ContentType = c.attr("Type")
			spec.Content = &value
		}
		op, merrs := buildMatch(spec, andThen, opts)
		for _, e := range merrs {
			errs = append(errs, wrap(e))
		}
		if op == nil {
			return nil, errs
		}
		return op, errs

	case "bytetestfunction", "bytetest":
		bytesN, err := node.attrInt("Bytes")
		if err != nil {
			return nil, []error{wrap(err)}
		}
		postOffset, err := node.attrInt("PostOffset")
		if err != nil {
			return nil, []error{wrap(err)}
		}
		test, value := "", int64(0)
		for i := range node.Nodes {
			c := &node.Nodes[i]
			if IsTestOp(c.name()) {
				test = c.name()
				value, err = parseInt(strings.TrimSpace(c.Text))
				if err != nil {
					return nil, []error{wrap(fmt.Errorf("test value %q: %w", c.Text, err))}
				}
				break
			}
		}
		andThen, errs := xmlAndThen(node, opts)
		op, err := buildByteTest(offset, relative, bytesN, node.attr("Endian"), test, value, postOffset, andThen)
		if err != nil {
			return nil, append(errs, wrap(err))
		}
		return op, errs

	case "bytejumpfunction", "bytejump":
		bytesN, err := node.attrInt("Bytes")
		if err != nil {
			return nil, []error{wrap(err)}
		}
		postOffset, err := node.attrInt("PostOffset")
		if err != nil {
			return nil, []error{wrap(err)}
		}
		andThen, errs := xmlAndThen(node, opts)
		op, err := buildByteJump(offset, relative, bytesN, node.attr("Endian"), node.childText("Calc"), postOffset, andThen)
		if err != nil {
			return nil, append(errs, wrap(err))
		}
		return op, errs

	case "isdataat":
		andThen, errs := xmlAndThen(node, opts)
		return &IsDataAt{Offset: offset, Relative: relative, AndThen: andThen}, errs

	case "anchor":
		andThen, errs := xmlAndThen(node, opts)
		op, err := buildAnchor(node.attr("Cursor"), node.attr("Position"), offset, andThen)
		if err != nil {
			return nil, append(errs, wrap(err))
		}
		return op, errs

	case "return":
		op, err := xmlReturn(node)
		if err != nil {
			return nil, []error{wrap(err)}
		}
		return op, nil

	default:
		return nil, []error{fmt.Errorf("%w: <%s>", ErrUnknownOperation, kind)}
	}
}

func xmlReturn(node *xmlNode) (*Return, error) {
	if !strings.EqualFold(node.name(), "Return") {
		return nil, fmt.Errorf("%w: <%s> where Return expected", ErrUnknownOperation, node.name())
	}

	var details *DetailGroup
	if d := node.child("Details"); d != nil {
		details = &DetailGroup{Role: d.childText("Role"), Category: d.childText("Category")}
		for i := range d.Nodes {
			c := &d.Nodes[i]
			if strings.EqualFold(c.name(), "Detail") {
				details.Details = append(details.Details, Detail{Name: c.attr("Name"), Value: strings.TrimSpace(c.Text)})
			}
		}
	}

	var extracts []*Extract
	for i := range node.Nodes {
		c := &node.Nodes[i]
		if !strings.EqualFold(c.name(), "Extract") {
			continue
		}
		spec := extractSpec{
			Name:     c.attr("Name"),
			Endian:   c.attr("Endian"),
			Relative: c.attrBool("Relative"),
		}
		var err error
		if spec.From, err = c.attrInt("From"); err != nil {
			return nil, err
		}
		if spec.To, err = c.attrInt("To"); err != nil {
			return nil, err
		}
		if spec.MaxLength, err = c.attrInt("MaxLength"); err != nil {
			return nil, err
		}
		if post := c.child("Post"); post != nil {
			spec.Convert = post.attr("Convert")
			spec.Lookup = post.attr("Lookup")
		}
		ex, err := buildExtract(spec)
		if err != nil {
			return nil, err
		}
		extracts = append(extracts, ex)
	}

	return buildReturn(node.attr("Direction"), node.attr("Confidence"), details, extracts)
}
