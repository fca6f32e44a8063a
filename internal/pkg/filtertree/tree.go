// Package filtertree builds the dispatch tree that narrows the loaded
// fingerprints down to the payloads whose filter groups a packet satisfies.
//
// The tree is immutable once built and safe for concurrent lookups. A
// reload builds a new tree and replaces the old reference.
package filtertree

import (
	"sort"
	"strconv"
	"strings"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
)

// DenseLimit is the widest value span indexed with a dense child array.
// Wider spans fall back to a sorted interval index.
const DenseLimit = 1 << 16

// Packet supplies the value a packet carries for each filter type, or a
// negative value when the attribute does not apply to the packet.
type Packet interface {
	FilterValue(t fingerprint.FilterType) int64
}

// PayloadRef identifies one payload of one fingerprint
type PayloadRef struct {
	Fingerprint string
	Payload     *fingerprint.Payload
}

type interval struct {
	lo, hi int64
	child  *node
}

type node struct {
	filter   fingerprint.FilterType
	indexed  bool
	payloads []*PayloadRef

	// dense children indexed by value-min
	min   int64
	dense []*node

	// interval children, sorted and non-overlapping
	intervals []interval

	pass *node
}

func (n *node) child(v int64) *node {
	if n.dense != nil {
		i := v - n.min
		if i < 0 || i >= int64(len(n.dense)) {
			return nil
		}
		return n.dense[i]
	}
	i := sort.Search(len(n.intervals), func(i int) bool { return n.intervals[i].hi >= v })
	if i < len(n.intervals) && n.intervals[i].lo <= v {
		return n.intervals[i].child
	}
	return nil
}

// Tree is a read-only dispatch tree
type Tree struct {
	root  *node
	order []fingerprint.FilterType
	stats Stats
}

// Stats describes a built tree
type Stats struct {
	Fingerprints int `json:"fingerprints"`
	Groups       int `json:"groups"`
	Payloads     int `json:"payloads"`
	Nodes        int `json:"nodes"`
	Depth        int `json:"depth"`
}

// entry is a filter group bound to the payload it enables
type entry struct {
	group *fingerprint.FilterGroup
	ref   *PayloadRef
}

// Build constructs a tree from defs. A fingerprint declaring no filter groups
// is reachable from every packet.
func Build(defs []*fingerprint.Definition) *Tree {
	var entries []entry
	payloads := 0
	for _, def := range defs {
		refs := make(map[string]*PayloadRef, len(def.Payloads))
		for _, tag := range def.PayloadTags() {
			refs[tag] = &PayloadRef{Fingerprint: def.Name, Payload: def.Payloads[tag]}
		}
		payloads += len(refs)

		if len(def.Filters) == 0 {
			for _, tag := range def.PayloadTags() {
				entries = append(entries, entry{group: &fingerprint.FilterGroup{For: tag}, ref: refs[tag]})
			}
			continue
		}
		for _, g := range def.Filters {
			if ref, ok := refs[g.For]; ok {
				entries = append(entries, entry{group: g, ref: ref})
			}
		}
	}

	b := &builder{
		entries: entries,
		order:   DiscriminationOrder(defs),
		memo:    make(map[string]*node),
	}
	all := make([]int, len(entries))
	for i := range all {
		all[i] = i
	}

	t := &Tree{order: b.order}
	t.root = b.build(all, 0)
	t.stats = Stats{
		Fingerprints: len(defs),
		Groups:       len(entries),
		Payloads:     payloads,
		Nodes:        b.nodes,
		Depth:        depth(t.root),
	}
	return t
}

// DiscriminationOrder returns the filter types used by defs, most frequent
// first. Ties keep declaration order.
func DiscriminationOrder(defs []*fingerprint.Definition) []fingerprint.FilterType {
	counts := make(map[fingerprint.FilterType]int)
	for _, def := range defs {
		for _, g := range def.Filters {
			for _, f := range g.Filters {
				counts[f.Type]++
			}
		}
	}
	order := make([]fingerprint.FilterType, 0, len(counts))
	for _, t := range fingerprint.FilterTypes() {
		if counts[t] > 0 {
			order = append(order, t)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order
}

// Lookup returns every payload whose filter group the packet may satisfy,
// each at most once, in a stable order.
func (t *Tree) Lookup(pkt Packet) []*PayloadRef {
	if t == nil || t.root == nil {
		return nil
	}

	var out []*PayloadRef
	stack := []*node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, ref := range n.payloads {
			if !contains(out, ref) {
				out = append(out, ref)
			}
		}
		if !n.indexed {
			continue
		}
		// Pushed first so the indexed child is visited before it
		if n.pass != nil {
			stack = append(stack, n.pass)
		}
		if v := pkt.FilterValue(n.filter); v >= 0 {
			if c := n.child(v); c != nil {
				stack = append(stack, c)
			}
		}
	}
	return out
}

// Order returns the discrimination order the tree was built with
func (t *Tree) Order() []fingerprint.FilterType {
	return append([]fingerprint.FilterType(nil), t.order...)
}

// Stats returns construction statistics
func (t *Tree) Stats() Stats {
	return t.stats
}

func contains(refs []*PayloadRef, ref *PayloadRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

type builder struct {
	entries []entry
	order   []fingerprint.FilterType
	memo    map[string]*node
	nodes   int
}

// build returns the node for the entries in set, discriminating on
// order[level:]. Identical (level, set) pairs share one node.
func (b *builder) build(set []int, level int) *node {
	if len(set) == 0 {
		return nil
	}
	key := memoKey(set, level)
	if n, ok := b.memo[key]; ok {
		return n
	}
	n := &node{}
	b.memo[key] = n
	b.nodes++

	// Entries with nothing left to test terminate here
	var pending []int
	for _, i := range set {
		if b.constrained(i, level) {
			pending = append(pending, i)
		} else {
			n.payloads = appendRef(n.payloads, b.entries[i].ref)
		}
	}
	sortRefs(n.payloads)
	if len(pending) == 0 {
		return n
	}

	// Skip levels no pending entry constrains
	for !b.anyHas(pending, b.order[level]) {
		level++
	}
	t := b.order[level]
	n.filter = t
	n.indexed = true

	var with, without []int
	for _, i := range pending {
		if b.entries[i].group.Has(t) {
			with = append(with, i)
		} else {
			without = append(without, i)
		}
	}
	n.pass = b.build(without, level+1)
	b.index(n, with, level)
	return n
}

// index attaches one child per distinct accepting set of values of n.filter
func (b *builder) index(n *node, with []int, level int) {
	t := n.filter

	// bounds[k] is the hull of with[k]'s predicates on t
	bounds := make([][2]int64, len(with))
	var points []int64
	for k, i := range with {
		lo, hi, _ := b.entries[i].group.Bounds(t)
		bounds[k] = [2]int64{lo, hi}
		for _, f := range b.entries[i].group.Filters {
			if f.Type == t {
				points = append(points, f.Lo, f.Hi+1)
			}
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	points = uniq(points)

	var segs []interval
	for k := 0; k+1 < len(points); k++ {
		lo, hi := points[k], points[k+1]-1
		var accepting []int
		for k, i := range with {
			if lo < bounds[k][0] || lo > bounds[k][1] {
				continue
			}
			if b.entries[i].group.Accepts(t, lo) {
				accepting = append(accepting, i)
			}
		}
		if len(accepting) == 0 {
			continue
		}
		child := b.build(accepting, level+1)
		if last := len(segs) - 1; last >= 0 && segs[last].child == child && segs[last].hi+1 == lo {
			segs[last].hi = hi
			continue
		}
		segs = append(segs, interval{lo: lo, hi: hi, child: child})
	}
	if len(segs) == 0 {
		return
	}

	lo, hi := segs[0].lo, segs[len(segs)-1].hi
	if hi-lo+1 > DenseLimit {
		n.intervals = segs
		return
	}
	n.min = lo
	n.dense = make([]*node, hi-lo+1)
	for _, s := range segs {
		for v := s.lo; v <= s.hi; v++ {
			n.dense[v-lo] = s.child
		}
	}
}

// constrained reports whether entry i has a filter among order[level:]
func (b *builder) constrained(i, level int) bool {
	for _, t := range b.order[level:] {
		if b.entries[i].group.Has(t) {
			return true
		}
	}
	return false
}

func (b *builder) anyHas(set []int, t fingerprint.FilterType) bool {
	for _, i := range set {
		if b.entries[i].group.Has(t) {
			return true
		}
	}
	return false
}

func memoKey(set []int, level int) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(level))
	for _, i := range set {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(i))
	}
	return sb.String()
}

func appendRef(refs []*PayloadRef, ref *PayloadRef) []*PayloadRef {
	if contains(refs, ref) {
		return refs
	}
	return append(refs, ref)
}

func sortRefs(refs []*PayloadRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Fingerprint != refs[j].Fingerprint {
			return refs[i].Fingerprint < refs[j].Fingerprint
		}
		return refs[i].Payload.For < refs[j].Payload.For
	})
}

func uniq(s []int64) []int64 {
	out := s[:0]
	for _, v := range s {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func depth(n *node) int {
	seen := make(map[*node]int)
	var walk func(*node) int
	walk = func(n *node) int {
		if n == nil {
			return 0
		}
		if d, ok := seen[n]; ok {
			return d
		}
		d := 0
		if n.pass != nil {
			d = walk(n.pass)
		}
		for _, c := range n.dense {
			if c != nil {
				d = max(d, walk(c))
			}
		}
		for _, s := range n.intervals {
			d = max(d, walk(s.child))
		}
		seen[n] = d + 1
		return d + 1
	}
	return walk(n)
}
