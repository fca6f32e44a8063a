// Package fingerprint defines the declarative fingerprint model: filter
// groups that select which packets a payload applies to, and payloads made of
// byte-level operations with nested continuation lists.
package fingerprint

import (
	"sort"

	"github.com/dlclark/regexp2"
)

// Definition is an immutable fingerprint identified by its name
type Definition struct {
	Name        string
	Author      string
	Description string

	// Filters are evaluated against packet metadata; each names the payload
	// it enables through For.
	Filters []*FilterGroup

	// Payloads keyed by their For tag
	Payloads map[string]*Payload
}

// PayloadTags returns the payload tags in sorted order
func (d *Definition) PayloadTags() []string {
	tags := make([]string, 0, len(d.Payloads))
	for tag := range d.Payloads {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Payload is one code path of a fingerprint
type Payload struct {
	For         string
	Description string

	// Always holds returns that fire whenever the payload is selected
	Always []*Return

	Operations []Operation
}

// OpKind tags the variants of Operation
type OpKind int

const (
	OpMatch OpKind = iota
	OpByteTest
	OpByteJump
	OpIsDataAt
	OpAnchor
	OpReturn
)

func (k OpKind) String() string {
	switch k {
	case OpMatch:
		return "Match"
	case OpByteTest:
		return "ByteTest"
	case OpByteJump:
		return "ByteJump"
	case OpIsDataAt:
		return "IsDataAt"
	case OpAnchor:
		return "Anchor"
	case OpReturn:
		return "Return"
	default:
		return "Unknown"
	}
}

// Operation is a closed set of byte operations. Only the types in this
// package implement it.
type Operation interface {
	Kind() OpKind
	operation()
}

// Match searches for a content literal (subsequence search) or a pattern
// (whole-window regular expression match).
type Match struct {
	Offset      int
	Relative    bool
	Depth       int // 0 searches to the end of the payload
	NoCase      bool
	MoveCursors bool

	// Exactly one of Content and Pattern is set
	Content *Content
	Pattern string
	Regexp  *regexp2.Regexp

	AndThen []Operation
}

// ByteTest compares an integer read from the payload against Value
type ByteTest struct {
	Offset     int
	Relative   bool
	Bytes      int
	Endian     Endian
	Test       TestOp
	Value      int64
	PostOffset int

	AndThen []Operation
}

// ByteJump reads an integer, optionally transforms it with Calc, and moves
// the cursor by (relative) or to (absolute) the result.
type ByteJump struct {
	Offset     int
	Relative   bool
	Bytes      int
	Endian     Endian
	Calc       *Calc
	PostOffset int

	AndThen []Operation
}

// IsDataAt checks that an offset lies inside the payload
type IsDataAt struct {
	Offset   int
	Relative bool

	AndThen []Operation
}

// Anchor pins one of the cursor marks to a base position plus Offset
type Anchor struct {
	Cursor   CursorMark
	Position AnchorBase
	Offset   int

	AndThen []Operation
}

// Return is terminal: it produces properties for a direction
type Return struct {
	Direction  Direction
	Confidence Confidence
	Details    *DetailGroup
	Extracts   []*Extract
}

func (*Match) Kind() OpKind    { return OpMatch }
func (*ByteTest) Kind() OpKind { return OpByteTest }
func (*ByteJump) Kind() OpKind { return OpByteJump }
func (*IsDataAt) Kind() OpKind { return OpIsDataAt }
func (*Anchor) Kind() OpKind   { return OpAnchor }
func (*Return) Kind() OpKind   { return OpReturn }

func (*Match) operation()    {}
func (*ByteTest) operation() {}
func (*ByteJump) operation() {}
func (*IsDataAt) operation() {}
func (*Anchor) operation()   {}
func (*Return) operation()   {}

// DetailGroup carries the descriptive part of a Return
type DetailGroup struct {
	Role     string
	Category string
	Details  []Detail
}

// Detail is an ordered name/value pair
type Detail struct {
	Name  string
	Value string
}

// Extract pulls a named value out of the payload
type Extract struct {
	Name      string
	From      int
	To        int // exclusive
	MaxLength int
	Endian    Endian
	Relative  bool
	Convert   ConvertType
	Lookup    string
}

// Direction selects which endpoint a Return describes
type Direction int

const (
	DirectionSource Direction = iota
	DirectionDestination
	DirectionConnection
)

func (d Direction) String() string {
	switch d {
	case DirectionSource:
		return "SOURCE"
	case DirectionDestination:
		return "DESTINATION"
	case DirectionConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the direction name
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Endian is the byte order of an integer read. EndianDefault defers to the
// context default, which is big-endian.
type Endian int

const (
	EndianDefault Endian = iota
	EndianBig
	EndianLittle
)

// IsNetworkOrder reports whether reads are big-endian
func (e Endian) IsNetworkOrder() bool {
	return e != EndianLittle
}

func (e Endian) String() string {
	switch e {
	case EndianLittle:
		return "LITTLE"
	case EndianBig:
		return "BIG"
	default:
		return "DEFAULT"
	}
}

// TestOp is a ByteTest comparison
type TestOp int

const (
	TestEQ TestOp = iota
	TestNE
	TestGT
	TestGTE
	TestLT
	TestLTE
	TestAND
	TestOR
)

// Eval applies the operator to a value read from the payload
func (op TestOp) Eval(read, value int64) bool {
	switch op {
	case TestEQ:
		return read == value
	case TestNE:
		return read != value
	case TestGT:
		return read > value
	case TestGTE:
		return read >= value
	case TestLT:
		return read < value
	case TestLTE:
		return read <= value
	case TestAND:
		return read&value != 0
	case TestOR:
		return read|value != 0
	default:
		return false
	}
}

func (op TestOp) String() string {
	for name, o := range testOps {
		if o == op {
			return name
		}
	}
	return "UNKNOWN"
}

// CursorMark selects which cursor field an Anchor sets
type CursorMark int

const (
	CursorA CursorMark = iota
	CursorB
	CursorMain
)

// AnchorBase is the position an Anchor offset is applied to
type AnchorBase int

const (
	BaseCursorMain AnchorBase = iota
	BaseStartOfPayload
	BaseEndOfPayload
	BaseCursorA
	BaseCursorB
)

// ConvertType reinterprets extracted bytes
type ConvertType int

const (
	ConvertString ConvertType = iota
	ConvertHex
	ConvertInteger
	ConvertRawBytes
)

func (c ConvertType) String() string {
	switch c {
	case ConvertHex:
		return "HEX"
	case ConvertInteger:
		return "INTEGER"
	case ConvertRawBytes:
		return "RAW_BYTES"
	default:
		return "STRING"
	}
}
