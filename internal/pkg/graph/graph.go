// Package graph aggregates engine records into a host graph: vertices keyed
// by address and edges keyed by the unordered address pair, each holding
// multi-valued, confidence-tagged properties.
package graph

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/endorses/fpengine/internal/pkg/engine"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
)

// Value is one observed value of a property
type Value struct {
	Value      string                 `json:"value"`
	Confidence fingerprint.Confidence `json:"confidence"`
}

// Properties maps a property name to its distinct values, highest
// confidence first.
type Properties map[string][]Value

// merge adds v under name. A value seen again keeps its highest confidence.
func (p Properties) merge(name string, v Value) {
	values := p[name]
	for i := range values {
		if values[i].Value == v.Value {
			if v.Confidence > values[i].Confidence {
				values[i].Confidence = v.Confidence
				sortValues(values)
			}
			return
		}
	}
	values = append(values, v)
	sortValues(values)
	p[name] = values
}

// Best returns the highest-confidence value of name
func (p Properties) Best(name string) (Value, bool) {
	values := p[name]
	if len(values) == 0 {
		return Value{}, false
	}
	return values[0], true
}

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for name, values := range p {
		out[name] = append([]Value(nil), values...)
	}
	return out
}

func sortValues(values []Value) {
	sort.SliceStable(values, func(i, j int) bool {
		if values[i].Confidence != values[j].Confidence {
			return values[i].Confidence > values[j].Confidence
		}
		return values[i].Value < values[j].Value
	})
}

// Vertex is a host seen as a source or destination
type Vertex struct {
	Address      string     `json:"address"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	Records      int        `json:"records"`
	Fingerprints []string   `json:"fingerprints"`
	Properties   Properties `json:"properties"`
}

// Edge is a connection between two hosts. A and B are ordered so that
// both directions of a conversation share one edge.
type Edge struct {
	ID           string     `json:"id"`
	A            string     `json:"a"`
	B            string     `json:"b"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	Records      int        `json:"records"`
	Fingerprints []string   `json:"fingerprints"`
	Properties   Properties `json:"properties"`
}

// Graph is an engine.Sink that accumulates records. It is safe for
// concurrent use.
type Graph struct {
	mu       sync.RWMutex
	vertices map[string]*Vertex
	edges    map[string]*Edge // by edgeKey
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		vertices: make(map[string]*Vertex),
		edges:    make(map[string]*Edge),
	}
}

// edgeKey joins the ordered pair. Addresses never contain '|'.
func edgeKey(a, b string) string {
	a, b = order(a, b)
	return a + "|" + b
}

// EdgeID returns the direction-independent display identifier of the a/b
// pair
func EdgeID(a, b string) string {
	a, b = order(a, b)

	h := fnv.New64a()
	h.Write([]byte(a))
	h.Write([]byte{'|'})
	h.Write([]byte(b))
	return fmt.Sprintf("%x", h.Sum64())
}

func order(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Emit implements engine.Sink
func (g *Graph) Emit(r engine.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Kind == engine.KindEdge {
		key := edgeKey(r.Src, r.Dst)
		e, ok := g.edges[key]
		if !ok {
			a, b := order(r.Src, r.Dst)
			e = &Edge{ID: EdgeID(a, b), A: a, B: b, Properties: make(Properties)}
			g.edges[key] = e
		}
		e.Records++
		e.FirstSeen, e.LastSeen = seen(e.FirstSeen, e.LastSeen, r.Timestamp)
		e.Fingerprints = addName(e.Fingerprints, r.Fingerprint)
		mergeAll(e.Properties, r)
		return
	}

	v, ok := g.vertices[r.Address]
	if !ok {
		v = &Vertex{Address: r.Address, Properties: make(Properties)}
		g.vertices[r.Address] = v
	}
	v.Records++
	v.FirstSeen, v.LastSeen = seen(v.FirstSeen, v.LastSeen, r.Timestamp)
	v.Fingerprints = addName(v.Fingerprints, r.Fingerprint)
	mergeAll(v.Properties, r)
}

func mergeAll(p Properties, r engine.Record) {
	for _, prop := range r.Properties {
		p.merge(prop.Name, Value{Value: prop.Value, Confidence: prop.Confidence})
	}
}

func seen(first, last, ts time.Time) (time.Time, time.Time) {
	if ts.IsZero() {
		return first, last
	}
	if first.IsZero() || ts.Before(first) {
		first = ts
	}
	if ts.After(last) {
		last = ts
	}
	return first, last
}

func addName(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		return names
	}
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}

// Vertex returns a copy of the vertex for addr
func (g *Graph) Vertex(addr string) (Vertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.vertices[addr]
	if !ok {
		return Vertex{}, false
	}
	return v.copy(), true
}

// Edge returns a copy of the edge between a and b, in either order
func (g *Graph) Edge(a, b string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.edges[edgeKey(a, b)]
	if !ok {
		return Edge{}, false
	}
	return e.copy(), true
}

// Vertices returns copies of every vertex sorted by address
func (g *Graph) Vertices() []Vertex {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		out = append(out, v.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Edges returns copies of every edge sorted by endpoints
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Size returns the number of vertices and edges
func (g *Graph) Size() (vertices, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vertices), len(g.edges)
}

// Clear drops everything accumulated so far
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vertices = make(map[string]*Vertex)
	g.edges = make(map[string]*Edge)
}

func (v *Vertex) copy() Vertex {
	c := *v
	c.Fingerprints = append([]string(nil), v.Fingerprints...)
	c.Properties = v.Properties.clone()
	return c
}

func (e *Edge) copy() Edge {
	c := *e
	c.Fingerprints = append([]string(nil), e.Fingerprints...)
	c.Properties = e.Properties.clone()
	return c
}
