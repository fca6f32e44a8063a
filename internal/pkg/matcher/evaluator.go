// Package matcher interprets fingerprint operation trees against a payload.
//
// Every operation shares one cursor for the duration of a payload
// evaluation. Operations whose preconditions fail (no payload, reads past
// the end, a calc that cannot be computed) contribute nothing and never
// abort their siblings.
package matcher

import (
	"github.com/endorses/fpengine/internal/pkg/cursor"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/payload"
)

// LookupProvider translates extracted values through named tables
type LookupProvider interface {
	Lookup(table, key string) (string, bool)
}

// Evaluator runs payload definitions. It holds no per-packet state and is
// safe for concurrent use.
type Evaluator struct {
	lookups LookupProvider
}

// NewEvaluator creates an evaluator; lookups may be nil
func NewEvaluator(lookups LookupProvider) *Evaluator {
	return &Evaluator{lookups: lookups}
}

// Run evaluates pl against data with a fresh cursor: first the Always block,
// then the operation list. It returns one Result per Return reached.
func (e *Evaluator) Run(pl *fingerprint.Payload, data []byte) []Result {
	acc := payload.New(data)
	cur := cursor.New()

	var results []Result
	emit := func(r Result) { results = append(results, r) }

	for _, ret := range pl.Always {
		emit(e.processReturn(ret, acc, cur))
	}
	e.Evaluate(pl.Operations, acc, cur, emit)
	return results
}

// Evaluate runs ops in order. Each sibling is evaluated regardless of the
// outcome of the previous one; AndThen lists run only when their parent
// succeeds.
func (e *Evaluator) Evaluate(ops []fingerprint.Operation, acc *payload.Accessor, cur *cursor.Cursor, emit func(Result)) {
	for _, op := range ops {
		e.evaluate(op, acc, cur, emit)
	}
}

func (e *Evaluator) evaluate(op fingerprint.Operation, acc *payload.Accessor, cur *cursor.Cursor, emit func(Result)) {
	switch o := op.(type) {
	case *fingerprint.Match:
		if e.match(o, acc, cur) {
			e.Evaluate(o.AndThen, acc, cur, emit)
		}
	case *fingerprint.ByteTest:
		if e.byteTest(o, acc, cur) {
			e.Evaluate(o.AndThen, acc, cur, emit)
		}
	case *fingerprint.ByteJump:
		if e.byteJump(o, acc, cur) {
			e.Evaluate(o.AndThen, acc, cur, emit)
		}
	case *fingerprint.IsDataAt:
		if acc.Valid(cur.Resolve(o.Offset, o.Relative)) {
			e.Evaluate(o.AndThen, acc, cur, emit)
		}
	case *fingerprint.Anchor:
		e.anchor(o, acc, cur)
		e.Evaluate(o.AndThen, acc, cur, emit)
	case *fingerprint.Return:
		emit(e.processReturn(o, acc, cur))
	default:
		logger.Warn("Skipping unknown operation", "op", op)
	}
}

// match runs either the content search or the whole-window pattern match
func (e *Evaluator) match(m *fingerprint.Match, acc *payload.Accessor, cur *cursor.Cursor) bool {
	start := cur.Resolve(m.Offset, m.Relative)
	if !acc.Valid(start) {
		return false
	}

	if m.Content != nil {
		pos := acc.Index(m.Content.Bytes, start, m.Depth, m.NoCase)
		if pos < 0 {
			return false
		}
		if m.MoveCursors {
			cur.Set(pos + len(m.Content.Bytes))
		}
		return true
	}

	if _, ok := acc.Match(m.Regexp, start, m.Depth); !ok {
		return false
	}
	if m.MoveCursors {
		end := acc.Len()
		if m.Depth > 0 && start+m.Depth < end {
			end = start + m.Depth
		}
		cur.Set(end)
	}
	return true
}

// byteTest applies PostOffset whenever the comparison was evaluated,
// whatever its outcome; only the AndThen chain depends on the result.
func (e *Evaluator) byteTest(t *fingerprint.ByteTest, acc *payload.Accessor, cur *cursor.Cursor) bool {
	v, ok := acc.GetInt(cur.Resolve(t.Offset, t.Relative), t.Bytes, t.Endian.IsNetworkOrder())
	if !ok {
		return false
	}
	passed := t.Test.Eval(int64(v), t.Value)
	cur.Forward(t.PostOffset)
	return passed
}

func (e *Evaluator) byteJump(j *fingerprint.ByteJump, acc *payload.Accessor, cur *cursor.Cursor) bool {
	v, ok := acc.GetInt(cur.Resolve(j.Offset, j.Relative), j.Bytes, j.Endian.IsNetworkOrder())
	if !ok {
		return false
	}

	n, err := j.Calc.Apply(int64(uint32(v)))
	if err != nil {
		logger.Debug("Byte jump calc failed", "error", err)
		return false
	}

	if j.Relative {
		cur.Forward(int(n))
	} else {
		cur.Set(int(n))
	}
	cur.Forward(j.PostOffset)
	return true
}

func (e *Evaluator) anchor(a *fingerprint.Anchor, acc *payload.Accessor, cur *cursor.Cursor) {
	var base int
	switch a.Position {
	case fingerprint.BaseStartOfPayload:
		base = 0
	case fingerprint.BaseEndOfPayload:
		base = acc.Len()
	case fingerprint.BaseCursorA:
		base = cur.GetA()
	case fingerprint.BaseCursorB:
		base = cur.GetB()
	default:
		base = cur.Get()
	}

	target := base + a.Offset
	switch a.Cursor {
	case fingerprint.CursorB:
		cur.SetB(target)
	case fingerprint.CursorMain:
		cur.Set(target)
	default:
		cur.SetA(target)
	}
}
