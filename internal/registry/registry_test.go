package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonetracker/internal/model"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func zone(id string, dir model.Direction, low, high float64) *model.Zone {
	z := model.NewZone(id, model.KindOrderBlock, dir, low, high, 0, t0)
	z.SourceTimeframe = "M5"
	return z
}

func ids(zs []*model.Zone) []string {
	out := make([]string, len(zs))
	for i, z := range zs {
		out[i] = z.ID
	}
	return out
}

func TestRegistry_IDAllocator(t *testing.T) {
	r := NewWithSeed(10)
	assert.Equal(t, "ob_M5_11", r.NextID("ob_M5"))
	assert.Equal(t, "ob_M5_12", r.NextID("ob_M5"))

	r.Clear()
	assert.Equal(t, "ob_M5_11", r.NextID("ob_M5"), "Clear rewinds to the seed")

	other := New()
	assert.Equal(t, "x_1", other.NextID("x"), "allocators are per instance")
}

func TestRegistry_AddRejectsDuplicatesAndInvalid(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(zone("a", model.Bullish, 10, 12)))
	assert.ErrorIs(t, r.Add(zone("a", model.Bullish, 1, 2)), model.ErrDuplicateZoneID)

	bad := zone("b", model.Bullish, 10, 12)
	bad.Low = 13
	assert.ErrorIs(t, r.Add(bad), model.ErrInvalidZone)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10.0, got.Low)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ActiveAtAndFilters(t *testing.T) {
	r := New()
	a := zone("a", model.Bullish, 10, 12)
	b := zone("b", model.Bearish, 20, 22)
	b.SourceTimeframe = "H1"
	c := zone("c", model.Bullish, 30, 32)
	c.Kind = model.KindLiquidity
	d := zone("d", model.Bullish, 40, 42)
	d.Invalidate(9, t0.Add(time.Hour), "close_below_low")
	for _, z := range []*model.Zone{a, b, c, d} {
		require.NoError(t, r.Add(z))
	}

	at := t0.Add(30 * time.Minute)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(r.ActiveAt(at, Filter{})))
	assert.Equal(t, []string{"a", "b", "c"}, ids(r.ActiveAt(t0.Add(2*time.Hour), Filter{})))
	assert.Equal(t, []string{"b"}, ids(r.ActiveAt(at, Filter{Timeframe: "H1"})))
	assert.Equal(t, []string{"c"}, ids(r.ActiveAt(at, Filter{Kind: model.KindLiquidity})))
	assert.Empty(t, r.ActiveAt(t0.Add(-time.Minute), Filter{}))

	assert.Equal(t, Counts{Total: 4, Active: 3, Invalidated: 1}, r.Counts())
	assert.Equal(t, []string{"d"}, ids(r.ByState(model.Invalidated)))
}

func TestRegistry_Containing(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(zone("a", model.Bullish, 10, 12)))
	require.NoError(t, r.Add(zone("b", model.Bullish, 11, 15)))
	require.NoError(t, r.Add(zone("c", model.Bullish, 13, 15)))

	assert.Equal(t, []string{"a", "b"}, ids(r.Containing(12, t0, Filter{})))
	assert.Empty(t, r.Containing(16, t0, Filter{}))
}

func TestRegistry_NearestRespectsSide(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(zone("inside", model.Bullish, 99, 101)))
	require.NoError(t, r.Add(zone("edge", model.Bearish, 100, 103)))
	require.NoError(t, r.Add(zone("above", model.Bearish, 105, 106)))
	require.NoError(t, r.Add(zone("below", model.Bullish, 90, 97)))

	z, ok := r.Nearest(100, t0, Any, Filter{})
	require.True(t, ok)
	assert.Equal(t, "edge", z.ID, "both contain price, smallest id wins")

	z, ok = r.Nearest(100, t0, Above, Filter{})
	require.True(t, ok)
	assert.Equal(t, "above", z.ID)
	assert.Greater(t, z.Low, 100.0)

	z, ok = r.Nearest(100, t0, Below, Filter{})
	require.True(t, ok)
	assert.Equal(t, "below", z.ID)

	_, ok = r.Nearest(200, t0, Above, Filter{})
	assert.False(t, ok)
}

func TestRegistry_NearestAboveNeverReturnsLowAtOrBelowPrice(t *testing.T) {
	r := New()
	lows := []float64{95, 100, 100.5, 98, 130, 101}
	for i, lo := range lows {
		require.NoError(t, r.Add(zone(model.ZoneID("z", i), model.Bearish, lo, lo+2)))
	}
	z, ok := r.Nearest(100, t0, Above, Filter{})
	require.True(t, ok)
	assert.Greater(t, z.Low, 100.0)
	assert.Equal(t, 100.5, z.Low)
}

func TestRegistry_NearestTieBreakIsSmallestID(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(zone("zb", model.Bearish, 102, 104)))
	require.NoError(t, r.Add(zone("za", model.Bullish, 96, 98)))

	z, ok := r.Nearest(100, t0, Any, Filter{})
	require.True(t, ok)
	assert.Equal(t, "za", z.ID)
}

func TestRegistry_NearestTieBreakComparesSequence(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(zone("ob_M5_10", model.Bearish, 102, 104)))
	require.NoError(t, r.Add(zone("ob_M5_2", model.Bullish, 96, 98)))

	z, ok := r.Nearest(100, t0, Any, Filter{})
	require.True(t, ok)
	assert.Equal(t, "ob_M5_2", z.ID)
}

func TestLessID(t *testing.T) {
	assert.True(t, LessID("ob_M5_2", "ob_M5_10"))
	assert.False(t, LessID("ob_M5_10", "ob_M5_2"))
	assert.True(t, LessID("ob_H1_9", "ob_M5_1"), "different prefixes compare as strings")
	assert.True(t, LessID("a", "b"))
	assert.False(t, LessID("ob_M5_3", "ob_M5_3"))
}
