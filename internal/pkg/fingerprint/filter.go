package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterType is a packet attribute a filter group can constrain. Range forms
// such as TTLWithin share the type of their single-value counterpart.
type FilterType int

const (
	FilterDstPort FilterType = iota
	FilterSrcPort
	FilterTransportProtocol
	FilterEthertype
	FilterTTL
	FilterFlags
	FilterAck
	FilterSeq
	FilterWindow
	FilterMSS
	FilterDsize

	filterTypeCount
)

// FilterTypes lists every filter type in declaration order
func FilterTypes() []FilterType {
	types := make([]FilterType, 0, filterTypeCount)
	for t := FilterType(0); t < filterTypeCount; t++ {
		types = append(types, t)
	}
	return types
}

var filterTypeNames = [...]string{
	FilterDstPort:           "DstPort",
	FilterSrcPort:           "SrcPort",
	FilterTransportProtocol: "TransportProtocol",
	FilterEthertype:         "Ethertype",
	FilterTTL:               "TTL",
	FilterFlags:             "Flags",
	FilterAck:               "Ack",
	FilterSeq:               "Seq",
	FilterWindow:            "Window",
	FilterMSS:               "MSS",
	FilterDsize:             "Dsize",
}

func (t FilterType) String() string {
	if t >= 0 && t < filterTypeCount {
		return filterTypeNames[t]
	}
	return "Unknown"
}

// MarshalText renders the filter type name
func (t FilterType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// filterAliases maps normalised element names to a type and whether the
// element declares a range.
var filterAliases = map[string]struct {
	typ     FilterType
	isRange bool
}{
	"dstport":           {FilterDstPort, false},
	"dstportrange":      {FilterDstPort, true},
	"srcport":           {FilterSrcPort, false},
	"srcportrange":      {FilterSrcPort, true},
	"transportprotocol": {FilterTransportProtocol, false},
	"ethertype":         {FilterEthertype, false},
	"ttl":               {FilterTTL, false},
	"ttlwithin":         {FilterTTL, true},
	"flags":             {FilterFlags, false},
	"ack":               {FilterAck, false},
	"seq":               {FilterSeq, false},
	"window":            {FilterWindow, false},
	"mss":               {FilterMSS, false},
	"dsize":             {FilterDsize, false},
	"dsizewithin":       {FilterDsize, true},
}

// LookupFilterType resolves an element name such as "DstPort", "dst_port" or
// "TTLWithin".
func LookupFilterType(name string) (FilterType, bool, error) {
	key := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	alias, ok := filterAliases[key]
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownFilterType, name)
	}
	return alias.typ, alias.isRange, nil
}

// Filter is a single predicate: the packet's value for Type must fall inside
// [Lo, Hi].
type Filter struct {
	Type FilterType
	Lo   int64
	Hi   int64
}

// Contains reports whether v satisfies the predicate
func (f Filter) Contains(v int64) bool {
	return v >= f.Lo && v <= f.Hi
}

// FilterGroup is a conjunction over filter types; predicates of the same type
// are alternatives.
type FilterGroup struct {
	Name    string
	For     string
	Filters []Filter
}

// Has reports whether the group constrains t
func (g *FilterGroup) Has(t FilterType) bool {
	for _, f := range g.Filters {
		if f.Type == t {
			return true
		}
	}
	return false
}

// Accepts reports whether v satisfies any predicate of type t
func (g *FilterGroup) Accepts(t FilterType, v int64) bool {
	for _, f := range g.Filters {
		if f.Type == t && f.Contains(v) {
			return true
		}
	}
	return false
}

// Bounds returns the smallest and largest value accepted for t
func (g *FilterGroup) Bounds(t FilterType) (lo, hi int64, ok bool) {
	for _, f := range g.Filters {
		if f.Type != t {
			continue
		}
		if !ok || f.Lo < lo {
			lo = f.Lo
		}
		if !ok || f.Hi > hi {
			hi = f.Hi
		}
		ok = true
	}
	return lo, hi, ok
}

// TCP flag bits as carried in the header
const (
	FlagFIN = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

var flagNames = map[string]int64{
	"FIN": FlagFIN,
	"SYN": FlagSYN,
	"RST": FlagRST,
	"PSH": FlagPSH,
	"ACK": FlagACK,
	"URG": FlagURG,
	"ECE": FlagECE,
	"CWR": FlagCWR,
	"NS":  FlagNS,
}

// ParseFlags turns "ACK PSH", "ACK,PSH" or a number into a flag bitmask
func ParseFlags(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := parseInt(s); err == nil {
		return n, nil
	}
	var mask int64
	for _, name := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '|' || r == '\t'
	}) {
		bit, ok := flagNames[strings.ToUpper(name)]
		if !ok {
			return 0, fmt.Errorf("unknown TCP flag %q", name)
		}
		mask |= bit
	}
	if mask == 0 {
		return 0, fmt.Errorf("empty flag set %q", s)
	}
	return mask, nil
}

// ParseFilter builds a predicate from an element name and its textual value.
// Single values may also be written as "lo-hi" ranges.
func ParseFilter(name, value string) (Filter, error) {
	typ, _, err := LookupFilterType(name)
	if err != nil {
		return Filter{}, err
	}
	value = strings.TrimSpace(value)

	if typ == FilterFlags {
		mask, err := ParseFlags(value)
		if err != nil {
			return Filter{}, fmt.Errorf("%s: %w", name, err)
		}
		return Filter{Type: typ, Lo: mask, Hi: mask}, nil
	}

	if lo, hi, found := strings.Cut(value, "-"); found && lo != "" {
		return NewRangeFilter(name, lo, hi)
	}

	n, err := parseInt(value)
	if err != nil {
		return Filter{}, fmt.Errorf("%s: invalid value %q: %w", name, value, err)
	}
	if n < 0 {
		return Filter{}, fmt.Errorf("%s: negative value %d", name, n)
	}
	return Filter{Type: typ, Lo: n, Hi: n}, nil
}

// NewRangeFilter builds a predicate from explicit bounds
func NewRangeFilter(name, lo, hi string) (Filter, error) {
	typ, _, err := LookupFilterType(name)
	if err != nil {
		return Filter{}, err
	}
	l, err := parseInt(strings.TrimSpace(lo))
	if err != nil {
		return Filter{}, fmt.Errorf("%s: invalid lower bound %q: %w", name, lo, err)
	}
	h, err := parseInt(strings.TrimSpace(hi))
	if err != nil {
		return Filter{}, fmt.Errorf("%s: invalid upper bound %q: %w", name, hi, err)
	}
	if l > h {
		l, h = h, l
	}
	if l < 0 {
		return Filter{}, fmt.Errorf("%s: negative bound %d", name, l)
	}
	return Filter{Type: typ, Lo: l, Hi: h}, nil
}

// parseInt accepts decimal and 0x-prefixed hexadecimal
func parseInt(s string) (int64, error) {
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseInt(rest, 16, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}
