package fingerprint

import (
	"fmt"
	"strings"
	"time"

	"github.com/endorses/fpengine/internal/pkg/payload"
)

// DefaultRegexTimeout bounds a single pattern evaluation
const DefaultRegexTimeout = 100 * time.Millisecond

// LoadOptions tune how definitions are compiled
type LoadOptions struct {
	RegexTimeout time.Duration
}

func (o LoadOptions) regexTimeout() time.Duration {
	if o.RegexTimeout <= 0 {
		return DefaultRegexTimeout
	}
	return o.RegexTimeout
}

var testOps = map[string]TestOp{
	"EQ":  TestEQ,
	"NE":  TestNE,
	"GT":  TestGT,
	"GTE": TestGTE,
	"LT":  TestLT,
	"LTE": TestLTE,
	"AND": TestAND,
	"OR":  TestOR,
}

var testOpAliases = map[string]string{
	"=":  "EQ",
	"==": "EQ",
	"!=": "NE",
	">":  "GT",
	">=": "GTE",
	"<":  "LT",
	"<=": "LTE",
	"&":  "AND",
	"|":  "OR",
}

// ParseTestOp resolves a ByteTest operator name or symbol
func ParseTestOp(s string) (TestOp, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := testOpAliases[key]; ok {
		key = alias
	}
	op, ok := testOps[key]
	if !ok {
		return 0, fmt.Errorf("unknown byte test operator %q", s)
	}
	return op, nil
}

// IsTestOp reports whether name is a ByteTest operator element
func IsTestOp(name string) bool {
	_, ok := testOps[strings.ToUpper(name)]
	return ok
}

// ParseDirection resolves SOURCE, DESTINATION or CONNECTION
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SOURCE", "SRC":
		return DirectionSource, nil
	case "DESTINATION", "DST":
		return DirectionDestination, nil
	case "CONNECTION", "CONN":
		return DirectionConnection, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// ParseEndian resolves BIG or LITTLE; empty means the context default
func ParseEndian(s string) (Endian, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return EndianDefault, nil
	case "BIG", "NETWORK":
		return EndianBig, nil
	case "LITTLE":
		return EndianLittle, nil
	default:
		return EndianDefault, fmt.Errorf("unknown endianness %q", s)
	}
}

// ParseCursorMark resolves the cursor an Anchor sets
func ParseCursorMark(s string) (CursorMark, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "START", "CURSOR_A", "":
		return CursorA, nil
	case "B", "END", "CURSOR_B":
		return CursorB, nil
	case "MAIN", "CURSOR_MAIN":
		return CursorMain, nil
	default:
		return CursorA, fmt.Errorf("unknown anchor cursor %q", s)
	}
}

// ParseAnchorBase resolves the position an Anchor offset is applied to
func ParseAnchorBase(s string) (AnchorBase, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CURSOR_MAIN", "MAIN":
		return BaseCursorMain, nil
	case "START_OF_PAYLOAD":
		return BaseStartOfPayload, nil
	case "END_OF_PAYLOAD":
		return BaseEndOfPayload, nil
	case "CURSOR_A", "CURSOR_START":
		return BaseCursorA, nil
	case "CURSOR_B", "CURSOR_END":
		return BaseCursorB, nil
	default:
		return BaseCursorMain, fmt.Errorf("unknown anchor position %q", s)
	}
}

// ParseConvert resolves an Extract conversion
func ParseConvert(s string) (ConvertType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "STRING":
		return ConvertString, nil
	case "HEX":
		return ConvertHex, nil
	case "INTEGER", "INT":
		return ConvertInteger, nil
	case "RAW_BYTES", "RAWBYTES", "BYTES":
		return ConvertRawBytes, nil
	default:
		return ConvertString, fmt.Errorf("unknown convert type %q", s)
	}
}

// matchSpec is the format-neutral description of a Match element
type matchSpec struct {
	Offset      int
	Relative    bool
	Depth       int
	NoCase      bool
	MoveCursors bool
	ContentType string
	Content     *string
	Pattern     string
}

// buildMatch validates a Match. A malformed content literal is reported but
// still yields an operation whose content is empty, which never matches.
func buildMatch(spec matchSpec, andThen []Operation, opts LoadOptions) (*Match, []error) {
	var errs []error
	m := &Match{
		Offset:      spec.Offset,
		Relative:    spec.Relative,
		Depth:       spec.Depth,
		NoCase:      spec.NoCase,
		MoveCursors: spec.MoveCursors,
		AndThen:     andThen,
	}

	switch {
	case spec.Content != nil && spec.Pattern != "":
		return nil, []error{fmt.Errorf("match declares both content and pattern")}
	case spec.Content != nil:
		typ, err := ParseContentType(spec.ContentType)
		if err != nil {
			errs = append(errs, err)
		}
		content, err := NewContent(typ, *spec.Content)
		if err != nil {
			errs = append(errs, err)
		}
		m.Content = content
	case spec.Pattern != "":
		re, err := payload.CompilePattern(spec.Pattern, spec.NoCase, opts.regexTimeout())
		if err != nil {
			return nil, append(errs, err)
		}
		m.Pattern = spec.Pattern
		m.Regexp = re
	default:
		return nil, []error{fmt.Errorf("match declares neither content nor pattern")}
	}
	return m, errs
}

func buildByteTest(offset int, relative bool, bytes int, endian, test string, value int64, postOffset int, andThen []Operation) (*ByteTest, error) {
	if bytes <= 0 || bytes > payload.MaxIntBytes {
		return nil, fmt.Errorf("byte test reads %d bytes, want 1..%d", bytes, payload.MaxIntBytes)
	}
	e, err := ParseEndian(endian)
	if err != nil {
		return nil, err
	}
	op, err := ParseTestOp(test)
	if err != nil {
		return nil, err
	}
	return &ByteTest{
		Offset:     offset,
		Relative:   relative,
		Bytes:      bytes,
		Endian:     e,
		Test:       op,
		Value:      value,
		PostOffset: postOffset,
		AndThen:    andThen,
	}, nil
}

func buildByteJump(offset int, relative bool, bytes int, endian, calc string, postOffset int, andThen []Operation) (*ByteJump, error) {
	if bytes <= 0 || bytes > payload.MaxIntBytes {
		return nil, fmt.Errorf("byte jump reads %d bytes, want 1..%d", bytes, payload.MaxIntBytes)
	}
	e, err := ParseEndian(endian)
	if err != nil {
		return nil, err
	}
	j := &ByteJump{
		Offset:     offset,
		Relative:   relative,
		Bytes:      bytes,
		Endian:     e,
		PostOffset: postOffset,
		AndThen:    andThen,
	}
	if strings.TrimSpace(calc) != "" {
		c, err := CompileCalc(calc)
		if err != nil {
			return nil, err
		}
		j.Calc = c
	}
	return j, nil
}

func buildAnchor(cursor, position string, offset int, andThen []Operation) (*Anchor, error) {
	mark, err := ParseCursorMark(cursor)
	if err != nil {
		return nil, err
	}
	base, err := ParseAnchorBase(position)
	if err != nil {
		return nil, err
	}
	return &Anchor{Cursor: mark, Position: base, Offset: offset, AndThen: andThen}, nil
}

// extractSpec is the format-neutral description of an Extract element
type extractSpec struct {
	Name      string
	From      int
	To        int
	MaxLength int
	Endian    string
	Relative  bool
	Convert   string
	Lookup    string
}

func buildExtract(spec extractSpec) (*Extract, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("extract without a name")
	}
	e, err := ParseEndian(spec.Endian)
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", spec.Name, err)
	}
	conv, err := ParseConvert(spec.Convert)
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", spec.Name, err)
	}
	return &Extract{
		Name:      spec.Name,
		From:      spec.From,
		To:        spec.To,
		MaxLength: spec.MaxLength,
		Endian:    e,
		Relative:  spec.Relative,
		Convert:   conv,
		Lookup:    strings.TrimSpace(spec.Lookup),
	}, nil
}

func buildReturn(direction, confidence string, details *DetailGroup, extracts []*Extract) (*Return, error) {
	dir, err := ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	conf := ConfidenceGuess
	if confidence != "" {
		c, ok := ParseConfidence(confidence)
		if !ok {
			return nil, fmt.Errorf("unknown confidence %q", confidence)
		}
		conf = c
	}
	return &Return{Direction: dir, Confidence: conf, Details: details, Extracts: extracts}, nil
}

// validate checks cross references once a definition is assembled
func (d *Definition) validate() []error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("fingerprint without a name"))
	}
	kept := d.Filters[:0]
	for _, g := range d.Filters {
		if _, ok := d.Payloads[g.For]; !ok {
			errs = append(errs, fmt.Errorf("filter %q references unknown payload %q", g.Name, g.For))
			continue
		}
		kept = append(kept, g)
	}
	d.Filters = kept

	if len(d.Filters) > 0 {
		referenced := make(map[string]bool, len(d.Filters))
		for _, g := range d.Filters {
			referenced[g.For] = true
		}
		for _, tag := range d.PayloadTags() {
			if !referenced[tag] {
				errs = append(errs, fmt.Errorf("payload %q is not referenced by any filter and will never run", tag))
			}
		}
	}
	return errs
}
