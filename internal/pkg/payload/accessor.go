// Package payload provides a read-only, bounds-checked view over a packet's
// transport payload. Reads outside the buffer never fail loudly: they yield
// empty results so truncated packets simply do not match.
package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// MaxIntBytes is the widest integer GetInt will read
const MaxIntBytes = 4

// Accessor is a read-only view over payload bytes. It holds no byte-order
// state; every integer read names its endianness.
type Accessor struct {
	data []byte
}

// New wraps data. A nil or empty payload yields a nil Accessor, which the
// evaluator treats as "no payload".
func New(data []byte) *Accessor {
	if len(data) == 0 {
		return nil
	}
	return &Accessor{data: data}
}

// Len returns the payload length
func (a *Accessor) Len() int {
	if a == nil {
		return 0
	}
	return len(a.data)
}

// Valid reports whether pos addresses a byte inside the payload
func (a *Accessor) Valid(pos int) bool {
	return pos >= 0 && pos < a.Len()
}

// Extract returns bytes in [from, to), capped to length bytes when length > 0
// and to the end of the buffer. Out-of-range requests yield an empty slice.
func (a *Accessor) Extract(from, to, length int) []byte {
	if a == nil || from < 0 || from >= len(a.data) || to <= from {
		return []byte{}
	}
	if length > 0 && to-from > length {
		to = from + length
	}
	if to > len(a.data) {
		to = len(a.data)
	}
	return a.data[from:to]
}

// GetInt reads up to MaxIntBytes bytes at offset and accumulates them
// big-endian into a signed 32-bit value. When networkOrder is false the bytes
// are reversed first (little-endian). ok is false when the read does not fit.
func (a *Accessor) GetInt(offset, length int, networkOrder bool) (value int, ok bool) {
	if length <= 0 {
		return 0, false
	}
	if length > MaxIntBytes {
		length = MaxIntBytes
	}
	if a == nil || offset < 0 || offset+length > len(a.data) {
		return 0, false
	}
	return int(DecodeInt(a.data[offset:offset+length], networkOrder)), true
}

// DecodeInt accumulates raw (at most MaxIntBytes of it) into a signed 32-bit
// integer using the given byte order.
func DecodeInt(raw []byte, networkOrder bool) int32 {
	n := len(raw)
	if n > MaxIntBytes {
		n = MaxIntBytes
	}
	var acc uint32
	for i := 0; i < n; i++ {
		b := raw[i]
		if !networkOrder {
			b = raw[n-1-i]
		}
		acc = acc<<8 | uint32(b)
	}
	return int32(acc)
}

// Index performs a sliding-window search for content inside
// [offset, offset+length) and returns the absolute position of the first
// occurrence, or -1. A non-positive length searches to the end of the buffer.
func (a *Accessor) Index(content []byte, offset, length int, noCase bool) int {
	if a == nil || len(content) == 0 {
		return -1
	}
	to := len(a.data)
	if length > 0 {
		to = offset + length
	}
	window := a.Extract(offset, to, 0)
	for i := 0; i+len(content) <= len(window); i++ {
		if equalBytes(window[i:i+len(content)], content, noCase) {
			return offset + i
		}
	}
	return -1
}

// Match runs re against the decoded window [offset, offset+length) and
// returns the window text only if re matches the whole, non-empty window.
// Patterns should be compiled with CompilePattern, which anchors them.
func (a *Accessor) Match(re *regexp2.Regexp, offset, length int) (string, bool) {
	if a == nil || re == nil {
		return "", false
	}
	to := len(a.data)
	if length > 0 {
		to = offset + length
	}
	window := a.Extract(offset, to, 0)
	if len(window) == 0 {
		return "", false
	}
	text := Decode(window)
	m, err := re.FindStringMatch(text)
	if err != nil || m == nil {
		return "", false
	}
	if m.Index != 0 || m.Length != len(window) {
		return "", false
	}
	return text, true
}

// CompilePattern compiles a fingerprint regular expression so that it only
// succeeds when it spans the entire search window.
func CompilePattern(pattern string, noCase bool, timeout time.Duration) (*regexp2.Regexp, error) {
	opts := regexp2.None
	if noCase {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(`\A(?:`+pattern+`)\z`, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}
	return re, nil
}

// Decode maps each byte to the rune of the same value (ISO-8859-1), so
// binary payloads round-trip through regular expressions unchanged.
func Decode(raw []byte) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, b := range raw {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

func equalBytes(a, b []byte, noCase bool) bool {
	for i := range a {
		x, y := a[i], b[i]
		if noCase {
			x, y = lower(x), lower(y)
		}
		if x != y {
			return false
		}
	}
	return true
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
