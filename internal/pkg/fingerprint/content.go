package fingerprint

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ContentType is the encoding of a Match content literal
type ContentType int

const (
	ContentString ContentType = iota
	ContentHex
	ContentInteger
	ContentRawBytes
)

func (c ContentType) String() string {
	switch c {
	case ContentHex:
		return "HEX"
	case ContentInteger:
		return "INTEGER"
	case ContentRawBytes:
		return "RAW_BYTES"
	default:
		return "STRING"
	}
}

// ParseContentType resolves a declared content type name
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "STRING":
		return ContentString, nil
	case "HEX":
		return ContentHex, nil
	case "INTEGER", "INT":
		return ContentInteger, nil
	case "RAW_BYTES", "RAWBYTES", "BYTES":
		return ContentRawBytes, nil
	default:
		return ContentString, fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, s)
	}
}

// Content is a literal byte sequence searched for by Match
type Content struct {
	Type  ContentType
	Value string
	Bytes []byte
}

// NewContent decodes value. A malformed literal yields an empty byte slice
// together with the decode error; the caller decides whether to report it.
func NewContent(typ ContentType, value string) (*Content, error) {
	b, err := DecodeContent(typ, value)
	if err != nil {
		return &Content{Type: typ, Value: value, Bytes: []byte{}}, err
	}
	return &Content{Type: typ, Value: value, Bytes: b}, nil
}

// DecodeContent converts a literal in the given encoding to bytes.
//
// HEX accepts optional whitespace, "0x" prefixes and "|" delimiters.
// INTEGER is a decimal or hex number encoded as the shortest big-endian
// sequence. RAW_BYTES is a list of byte values such as "[71, 69, 84]"
// or "71 69 84"; negative values are taken as signed bytes.
func DecodeContent(typ ContentType, value string) ([]byte, error) {
	switch typ {
	case ContentString:
		return []byte(value), nil

	case ContentHex:
		clean := strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "", "|", "", "0x", "", "0X", "", ":", "").Replace(value)
		b, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("%w: hex %q: %v", ErrInvalidContent, value, err)
		}
		return b, nil

	case ContentInteger:
		n, err := parseInt(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: integer %q", ErrInvalidContent, value)
		}
		return minimalBigEndian(uint64(n)), nil

	case ContentRawBytes:
		fields := strings.FieldsFunc(strings.Trim(strings.TrimSpace(value), "[]"), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
		out := make([]byte, 0, len(fields))
		for _, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil || n < -128 || n > 255 {
				return nil, fmt.Errorf("%w: byte value %q", ErrInvalidContent, f)
			}
			out = append(out, byte(n))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unsupported content type %d", ErrInvalidContent, typ)
	}
}

func minimalBigEndian(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}
	var out []byte
	for n > 0 {
		out = append([]byte{byte(n)}, out...)
		n >>= 8
	}
	return out
}
