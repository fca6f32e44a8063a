package engine

import (
	"time"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/matcher"
)

// Kind distinguishes endpoint records from connection records
type Kind int

const (
	KindVertex Kind = iota
	KindEdge
)

func (k Kind) String() string {
	if k == KindEdge {
		return "edge"
	}
	return "vertex"
}

// MarshalText renders the kind name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Record is the property collection produced by one Return. Vertex records
// are keyed by Address; edge records by the Src/Dst pair.
type Record struct {
	Kind        Kind                   `json:"kind"`
	Direction   fingerprint.Direction  `json:"direction"`
	Address     string                 `json:"address,omitempty"`
	Src         string                 `json:"src,omitempty"`
	Dst         string                 `json:"dst,omitempty"`
	Fingerprint string                 `json:"fingerprint"`
	Payload     string                 `json:"payload"`
	Confidence  fingerprint.Confidence `json:"confidence"`
	Timestamp   time.Time              `json:"timestamp"`
	Properties  []matcher.Property     `json:"properties"`
}

// Sink receives records as they are produced. Implementations called from
// several goroutines must synchronise themselves.
type Sink interface {
	Emit(Record)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Record)

func (f SinkFunc) Emit(r Record) { f(r) }

type addressed interface {
	SrcAddr() string
	DstAddr() string
}

// newRecord attributes a result to the packet's endpoints. It reports false
// when the address the direction needs is unavailable.
func newRecord(res matcher.Result, pkt addressed) (Record, bool) {
	r := Record{
		Direction:  res.Direction,
		Confidence: res.Confidence,
		Properties: res.Properties,
	}
	switch res.Direction {
	case fingerprint.DirectionSource:
		r.Address = pkt.SrcAddr()
		return r, r.Address != ""
	case fingerprint.DirectionDestination:
		r.Address = pkt.DstAddr()
		return r, r.Address != ""
	case fingerprint.DirectionConnection:
		r.Kind = KindEdge
		r.Src, r.Dst = pkt.SrcAddr(), pkt.DstAddr()
		return r, r.Src != "" && r.Dst != ""
	default:
		return r, false
	}
}
