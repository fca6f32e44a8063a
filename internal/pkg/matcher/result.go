package matcher

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/endorses/fpengine/internal/pkg/cursor"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/payload"
)

// Property names produced from a DetailGroup
const (
	PropertyRole     = "Role"
	PropertyCategory = "Category"
)

// Property is a single extracted value tagged with its confidence tier and
// the tier's score.
type Property struct {
	Name       string                 `json:"name"`
	Value      string                 `json:"value"`
	Confidence fingerprint.Confidence `json:"confidence"`
	Score      float64                `json:"score"`
}

// Result is the output of one Return
type Result struct {
	Direction  fingerprint.Direction
	Confidence fingerprint.Confidence
	Properties []Property
}

// processReturn builds the properties of ret: details first, then each
// Extract that yielded bytes.
func (e *Evaluator) processReturn(ret *fingerprint.Return, acc *payload.Accessor, cur *cursor.Cursor) Result {
	res := Result{Direction: ret.Direction, Confidence: ret.Confidence}
	score := ret.Confidence.Score()
	add := func(name, value string) {
		res.Properties = append(res.Properties, Property{Name: name, Value: value, Confidence: ret.Confidence, Score: score})
	}

	if d := ret.Details; d != nil {
		if d.Role != "" {
			add(PropertyRole, d.Role)
		}
		if d.Category != "" {
			add(PropertyCategory, d.Category)
		}
		for _, detail := range d.Details {
			add(detail.Name, detail.Value)
		}
	}

	for _, ex := range ret.Extracts {
		if value, ok := e.extract(ex, acc, cur); ok {
			add(ex.Name, value)
		}
	}
	return res
}

// extract reads [From, To) (shifted by the cursor when Relative), capped at
// MaxLength. A missing or inverted To reads to the end of the payload.
func (e *Evaluator) extract(ex *fingerprint.Extract, acc *payload.Accessor, cur *cursor.Cursor) (string, bool) {
	from, to := ex.From, ex.To
	if ex.Relative {
		from += cur.Get()
		to += cur.Get()
	}
	if to <= from {
		to = acc.Len()
	}

	raw := acc.Extract(from, to, ex.MaxLength)
	if len(raw) == 0 {
		return "", false
	}

	value := Convert(raw, ex.Convert, ex.Endian)
	if ex.Lookup != "" && e.lookups != nil {
		if translated, ok := e.lookups.Lookup(ex.Lookup, value); ok {
			value = translated
		}
	}
	return value, true
}

// Convert renders extracted bytes
func Convert(raw []byte, conv fingerprint.ConvertType, endian fingerprint.Endian) string {
	switch conv {
	case fingerprint.ConvertHex:
		return hex.EncodeToString(raw)
	case fingerprint.ConvertInteger:
		return strconv.Itoa(int(payload.DecodeInt(raw, endian.IsNetworkOrder())))
	case fingerprint.ConvertRawBytes:
		return fmt.Sprint(raw)
	default:
		return strings.TrimRight(payload.Decode(raw), "\x00")
	}
}
