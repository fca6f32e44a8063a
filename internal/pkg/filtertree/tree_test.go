package filtertree

import (
	"fmt"
	"testing"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePacket carries only the attributes it was given
type fakePacket map[fingerprint.FilterType]int64

func (p fakePacket) FilterValue(t fingerprint.FilterType) int64 {
	if v, ok := p[t]; ok {
		return v
	}
	return -1
}

func def(name string, groups ...[]fingerprint.Filter) *fingerprint.Definition {
	d := &fingerprint.Definition{
		Name:     name,
		Payloads: map[string]*fingerprint.Payload{"main": {For: "main"}},
	}
	for i, filters := range groups {
		d.Filters = append(d.Filters, &fingerprint.FilterGroup{
			Name:    fmt.Sprintf("%s-%d", name, i),
			For:     "main",
			Filters: filters,
		})
	}
	return d
}

func eq(t fingerprint.FilterType, v int64) fingerprint.Filter {
	return fingerprint.Filter{Type: t, Lo: v, Hi: v}
}

func span(t fingerprint.FilterType, lo, hi int64) fingerprint.Filter {
	return fingerprint.Filter{Type: t, Lo: lo, Hi: hi}
}

func names(refs []*PayloadRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Fingerprint)
	}
	return out
}

func TestLookup_FilterlessAlwaysReachable(t *testing.T) {
	tree := Build([]*fingerprint.Definition{
		def("any"),
		def("modbus", []fingerprint.Filter{eq(fingerprint.FilterDstPort, 502)}),
		def("dns", []fingerprint.Filter{eq(fingerprint.FilterDstPort, 53), eq(fingerprint.FilterTransportProtocol, 17)}),
	})

	packets := []fakePacket{
		{},
		{fingerprint.FilterDstPort: 502},
		{fingerprint.FilterDstPort: 53, fingerprint.FilterTransportProtocol: 17},
		{fingerprint.FilterTTL: 64},
	}
	for _, pkt := range packets {
		assert.Contains(t, names(tree.Lookup(pkt)), "any")
	}
}

func TestLookup_DistinctTypesSelectExactlyOne(t *testing.T) {
	defs := []*fingerprint.Definition{
		def("free"),
		def("dport", []fingerprint.Filter{eq(fingerprint.FilterDstPort, 80)}),
		def("sport", []fingerprint.Filter{eq(fingerprint.FilterSrcPort, 1234)}),
		def("proto", []fingerprint.Filter{eq(fingerprint.FilterTransportProtocol, 6)}),
		def("ttl", []fingerprint.Filter{eq(fingerprint.FilterTTL, 128)}),
		def("flags", []fingerprint.Filter{eq(fingerprint.FilterFlags, fingerprint.FlagSYN)}),
	}
	tree := Build(defs)

	tests := []struct {
		pkt  fakePacket
		want string
	}{
		{fakePacket{fingerprint.FilterDstPort: 80, fingerprint.FilterSrcPort: 1, fingerprint.FilterTransportProtocol: 17}, "dport"},
		{fakePacket{fingerprint.FilterDstPort: 1, fingerprint.FilterSrcPort: 1234}, "sport"},
		{fakePacket{fingerprint.FilterTransportProtocol: 6, fingerprint.FilterTTL: 64}, "proto"},
		{fakePacket{fingerprint.FilterTTL: 128, fingerprint.FilterFlags: fingerprint.FlagACK}, "ttl"},
		{fakePacket{fingerprint.FilterFlags: fingerprint.FlagSYN}, "flags"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.ElementsMatch(t, []string{"free", tt.want}, names(tree.Lookup(tt.pkt)))
		})
	}
}

func TestLookup_OutsideDeclaredRange(t *testing.T) {
	tree := Build([]*fingerprint.Definition{
		def("free"),
		def("ttl", []fingerprint.Filter{span(fingerprint.FilterTTL, 60, 64)}),
		def("ports", []fingerprint.Filter{span(fingerprint.FilterDstPort, 1000, 2000)}),
		def("seq", []fingerprint.Filter{span(fingerprint.FilterSeq, 0, 1<<31)}),
	})

	for _, pkt := range []fakePacket{
		{fingerprint.FilterTTL: 59},
		{fingerprint.FilterTTL: 65},
		{fingerprint.FilterDstPort: 999},
		{fingerprint.FilterDstPort: 2001},
		{fingerprint.FilterSeq: 1<<31 + 1},
		{fingerprint.FilterTTL: 1 << 40},
	} {
		assert.Equal(t, []string{"free"}, names(tree.Lookup(pkt)), "packet %v", pkt)
	}

	assert.ElementsMatch(t, []string{"free", "ttl"}, names(tree.Lookup(fakePacket{fingerprint.FilterTTL: 60})))
	assert.ElementsMatch(t, []string{"free", "ttl"}, names(tree.Lookup(fakePacket{fingerprint.FilterTTL: 64})))
	assert.ElementsMatch(t, []string{"free", "ports"}, names(tree.Lookup(fakePacket{fingerprint.FilterDstPort: 1500})))
	assert.ElementsMatch(t, []string{"free", "seq"}, names(tree.Lookup(fakePacket{fingerprint.FilterSeq: 1 << 30})))
}

func TestLookup_ConjunctionAndAlternatives(t *testing.T) {
	tree := Build([]*fingerprint.Definition{
		def("web", []fingerprint.Filter{
			eq(fingerprint.FilterDstPort, 80),
			eq(fingerprint.FilterDstPort, 8080),
			eq(fingerprint.FilterTransportProtocol, 6),
		}),
	})

	assert.Equal(t, []string{"web"}, names(tree.Lookup(fakePacket{fingerprint.FilterDstPort: 8080, fingerprint.FilterTransportProtocol: 6})))
	assert.Equal(t, []string{"web"}, names(tree.Lookup(fakePacket{fingerprint.FilterDstPort: 80, fingerprint.FilterTransportProtocol: 6})))
	assert.Empty(t, tree.Lookup(fakePacket{fingerprint.FilterDstPort: 80, fingerprint.FilterTransportProtocol: 17}))
	assert.Empty(t, tree.Lookup(fakePacket{fingerprint.FilterDstPort: 80}), "a missing attribute does not satisfy a declared predicate")
}

func TestLookup_PassThroughForUndeclaredTypes(t *testing.T) {
	// "udp" does not constrain the port, so packets on any port reach it
	tree := Build([]*fingerprint.Definition{
		def("dns", []fingerprint.Filter{eq(fingerprint.FilterDstPort, 53), eq(fingerprint.FilterTransportProtocol, 17)}),
		def("ntp", []fingerprint.Filter{eq(fingerprint.FilterDstPort, 123), eq(fingerprint.FilterTransportProtocol, 17)}),
		def("udp", []fingerprint.Filter{eq(fingerprint.FilterTransportProtocol, 17)}),
	})

	assert.Equal(t, []fingerprint.FilterType{fingerprint.FilterTransportProtocol, fingerprint.FilterDstPort}, tree.Order())
	assert.ElementsMatch(t, []string{"dns", "udp"},
		names(tree.Lookup(fakePacket{fingerprint.FilterDstPort: 53, fingerprint.FilterTransportProtocol: 17})))
	assert.ElementsMatch(t, []string{"udp"},
		names(tree.Lookup(fakePacket{fingerprint.FilterDstPort: 9999, fingerprint.FilterTransportProtocol: 17})))
	assert.ElementsMatch(t, []string{"udp"},
		names(tree.Lookup(fakePacket{fingerprint.FilterTransportProtocol: 17})))
}

func TestLookup_NoDuplicates(t *testing.T) {
	// Two groups enabling the same payload, both satisfied
	d := def("multi",
		[]fingerprint.Filter{eq(fingerprint.FilterDstPort, 502)},
		[]fingerprint.Filter{eq(fingerprint.FilterTransportProtocol, 6)},
	)
	tree := Build([]*fingerprint.Definition{d})

	refs := tree.Lookup(fakePacket{fingerprint.FilterDstPort: 502, fingerprint.FilterTransportProtocol: 6})
	require.Len(t, refs, 1)
	assert.Same(t, d.Payloads["main"], refs[0].Payload)
}

func TestLookup_Deterministic(t *testing.T) {
	defs := []*fingerprint.Definition{
		def("c"),
		def("a"),
		def("b", []fingerprint.Filter{span(fingerprint.FilterDstPort, 1, 100)}),
	}
	tree := Build(defs)
	pkt := fakePacket{fingerprint.FilterDstPort: 50}

	first := tree.Lookup(pkt)
	assert.Equal(t, []string{"a", "c", "b"}, names(first))
	assert.Equal(t, first, tree.Lookup(pkt))
}

func TestBuild_SharesIdenticalChildren(t *testing.T) {
	tree := Build([]*fingerprint.Definition{
		def("ttl", []fingerprint.Filter{span(fingerprint.FilterTTL, 0, 255)}),
	})
	// root plus the single child shared by all 256 values
	assert.Equal(t, 2, tree.Stats().Nodes)
	assert.Equal(t, 2, tree.Stats().Depth)
}

func TestBuild_WideRangeUsesIntervals(t *testing.T) {
	tree := Build([]*fingerprint.Definition{
		def("low", []fingerprint.Filter{span(fingerprint.FilterAck, 0, 10)}),
		def("high", []fingerprint.Filter{span(fingerprint.FilterAck, 1<<32-10, 1<<32-1)}),
	})
	require.NotNil(t, tree.root)
	assert.Nil(t, tree.root.dense)
	assert.Len(t, tree.root.intervals, 2)

	assert.Equal(t, []string{"low"}, names(tree.Lookup(fakePacket{fingerprint.FilterAck: 5})))
	assert.Equal(t, []string{"high"}, names(tree.Lookup(fakePacket{fingerprint.FilterAck: 1<<32 - 1})))
	assert.Empty(t, tree.Lookup(fakePacket{fingerprint.FilterAck: 1 << 20}))
}

func TestBuild_OverlappingRanges(t *testing.T) {
	tree := Build([]*fingerprint.Definition{
		def("wide", []fingerprint.Filter{span(fingerprint.FilterDsize, 0, 100)}),
		def("narrow", []fingerprint.Filter{span(fingerprint.FilterDsize, 40, 60)}),
	})

	assert.Equal(t, []string{"wide"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 10})))
	assert.ElementsMatch(t, []string{"wide", "narrow"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 50})))
	assert.Equal(t, []string{"wide"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 61})))
}

func TestBuild_GappedAlternativesInsideHull(t *testing.T) {
	// "edges" spans 10..90 but accepts nothing between its two ranges
	tree := Build([]*fingerprint.Definition{
		def("edges", []fingerprint.Filter{
			span(fingerprint.FilterDsize, 10, 20),
			span(fingerprint.FilterDsize, 80, 90),
		}),
		def("middle", []fingerprint.Filter{span(fingerprint.FilterDsize, 15, 85)}),
		def("outside", []fingerprint.Filter{span(fingerprint.FilterDsize, 200, 300)}),
	})

	assert.Equal(t, []string{"edges"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 10})))
	assert.ElementsMatch(t, []string{"edges", "middle"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 18})))
	assert.Equal(t, []string{"middle"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 50})))
	assert.ElementsMatch(t, []string{"edges", "middle"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 85})))
	assert.Equal(t, []string{"edges"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 90})))
	assert.Empty(t, tree.Lookup(fakePacket{fingerprint.FilterDsize: 150}))
	assert.Equal(t, []string{"outside"}, names(tree.Lookup(fakePacket{fingerprint.FilterDsize: 250})))
}

func TestDiscriminationOrder(t *testing.T) {
	defs := []*fingerprint.Definition{
		def("a", []fingerprint.Filter{eq(fingerprint.FilterTTL, 1), eq(fingerprint.FilterDstPort, 1)}),
		def("b", []fingerprint.Filter{eq(fingerprint.FilterDstPort, 2)}),
		def("c", []fingerprint.Filter{eq(fingerprint.FilterSrcPort, 3)}),
	}
	assert.Equal(t, []fingerprint.FilterType{
		fingerprint.FilterDstPort,
		fingerprint.FilterSrcPort,
		fingerprint.FilterTTL,
	}, DiscriminationOrder(defs))
}

func TestEmptyTree(t *testing.T) {
	tree := Build(nil)
	assert.Empty(t, tree.Lookup(fakePacket{}))
	assert.Equal(t, 0, tree.Stats().Nodes)

	var nilTree *Tree
	assert.Nil(t, nilTree.Lookup(fakePacket{}))
}

func BenchmarkLookup(b *testing.B) {
	var defs []*fingerprint.Definition
	for i := 0; i < 500; i++ {
		defs = append(defs, def(fmt.Sprintf("fp%03d", i), []fingerprint.Filter{
			eq(fingerprint.FilterDstPort, int64(1000+i)),
			eq(fingerprint.FilterTransportProtocol, int64(6+11*(i%2))),
		}))
	}
	defs = append(defs, def("any"))
	tree := Build(defs)
	pkt := fakePacket{fingerprint.FilterDstPort: 1250, fingerprint.FilterTransportProtocol: 6}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.Lookup(pkt)
	}
}
