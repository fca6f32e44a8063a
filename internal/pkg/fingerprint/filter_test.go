package fingerprint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFilterType(t *testing.T) {
	tests := []struct {
		name    string
		want    FilterType
		isRange bool
	}{
		{"DstPort", FilterDstPort, false},
		{"dst_port", FilterDstPort, false},
		{"TTLWithin", FilterTTL, true},
		{"ttl_within", FilterTTL, true},
		{"DsizeWithin", FilterDsize, true},
		{"TransportProtocol", FilterTransportProtocol, false},
		{"Flags", FilterFlags, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, isRange, err := LookupFilterType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, typ)
			assert.Equal(t, tt.isRange, isRange)
		})
	}

	_, _, err := LookupFilterType("Colour")
	assert.True(t, errors.Is(err, ErrUnknownFilterType))
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("DstPort", "502")
	require.NoError(t, err)
	assert.Equal(t, Filter{Type: FilterDstPort, Lo: 502, Hi: 502}, f)

	f, err = ParseFilter("SrcPort", "1024-2048")
	require.NoError(t, err)
	assert.Equal(t, Filter{Type: FilterSrcPort, Lo: 1024, Hi: 2048}, f)

	f, err = ParseFilter("Ethertype", "0x0800")
	require.NoError(t, err)
	assert.Equal(t, int64(0x0800), f.Lo)

	f, err = ParseFilter("Flags", "ACK PSH")
	require.NoError(t, err)
	assert.Equal(t, int64(FlagACK|FlagPSH), f.Lo)
	assert.Equal(t, f.Lo, f.Hi)

	_, err = ParseFilter("DstPort", "http")
	assert.Error(t, err)
	_, err = ParseFilter("DstPort", "-1")
	assert.Error(t, err)
	_, err = ParseFilter("Flags", "ACK BOGUS")
	assert.Error(t, err)
}

func TestNewRangeFilter_SwapsBounds(t *testing.T) {
	f, err := NewRangeFilter("TTLWithin", "64", "1")
	require.NoError(t, err)
	assert.Equal(t, Filter{Type: FilterTTL, Lo: 1, Hi: 64}, f)
	assert.True(t, f.Contains(32))
	assert.False(t, f.Contains(65))
}

func TestFilterGroup(t *testing.T) {
	g := &FilterGroup{
		Name: "g",
		For:  "p",
		Filters: []Filter{
			{Type: FilterDstPort, Lo: 80, Hi: 80},
			{Type: FilterDstPort, Lo: 8080, Hi: 8090},
			{Type: FilterTTL, Lo: 1, Hi: 64},
		},
	}

	assert.True(t, g.Has(FilterDstPort))
	assert.False(t, g.Has(FilterSrcPort))
	assert.True(t, g.Accepts(FilterDstPort, 80))
	assert.True(t, g.Accepts(FilterDstPort, 8085))
	assert.False(t, g.Accepts(FilterDstPort, 81))

	lo, hi, ok := g.Bounds(FilterDstPort)
	require.True(t, ok)
	assert.Equal(t, int64(80), lo)
	assert.Equal(t, int64(8090), hi)

	_, _, ok = g.Bounds(FilterSeq)
	assert.False(t, ok)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceGuess, ConfidenceFromLevel(-3))
	assert.Equal(t, ConfidenceMedium, ConfidenceFromLevel(2))
	assert.Equal(t, ConfidenceDefinite, ConfidenceFromLevel(9))

	c, ok := ParseConfidence("4")
	require.True(t, ok)
	assert.Equal(t, ConfidenceVeryHigh, c)
	assert.Equal(t, ScoreVeryHigh, c.Score())

	c, ok = ParseConfidence("high")
	require.True(t, ok)
	assert.Equal(t, ConfidenceHigh, c)

	_, ok = ParseConfidence("certain")
	assert.False(t, ok)
}
