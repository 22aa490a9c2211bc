package zone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonetracker/internal/model"
)

var base = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) model.Candle {
	return model.Candle{TS: base.Add(time.Duration(i) * 5 * time.Minute), Open: o, High: h, Low: l, Close: c}
}

// scenario returns a 200-candle series with one swing low at 50 confirmed by a
// bullish imbalance over 50..52. The last bearish candle before the swing is 47
// ([99.5, 102.5]); price revisits the zone at 70 and 90 and closes below it at 100.
func scenario() []model.Candle {
	cs := make([]model.Candle, 0, 200)
	add := func(o, h, l, c float64) { cs = append(cs, bar(len(cs), o, h, l, c)) }

	for i := 0; i < 47; i++ {
		add(101, 102, 100, 101.5)
	}
	add(102, 102.5, 99.5, 99.8) // 47 anchor
	add(99.8, 100.5, 99, 100.2)
	add(99, 99.6, 98.5, 99.4)
	add(99.4, 99.8, 98, 99.6) // 50 swing low
	add(99.6, 102, 99.5, 101.8)
	add(101.8, 104, 100.5, 103.8) // 52 low above 50's high
	add(103.8, 105, 103, 104.5)
	for i := 54; i < 70; i++ {
		add(104.5, 105.5, 104, 105)
	}
	add(104, 104.2, 102, 103.5) // 70 wick into zone
	for i := 71; i < 90; i++ {
		add(103.5, 104.5, 103, 104)
	}
	add(104, 104.2, 100, 101) // 90 deeper wick, close still inside
	for i := 91; i < 100; i++ {
		add(103, 103.5, 102.8, 103.2)
	}
	add(103, 103.2, 99, 99.2) // 100 close below 99.5
	for len(cs) < 200 {
		add(99.3, 99.8, 98.8, 99.5)
	}
	return cs
}

func newOB(t *testing.T) *OrderBlockDetector {
	t.Helper()
	d, err := NewOrderBlockDetector("M5", DefaultOrderBlockParams(), nil)
	require.NoError(t, err)
	return d
}

func TestOrderBlocks_EndToEndScenario(t *testing.T) {
	candles := scenario()
	require.Len(t, candles, 200)

	d := newOB(t)
	res, err := d.Detect(candles[:100])
	require.NoError(t, err)
	require.Len(t, res.Zones, 1)

	z := res.Zones[0]
	assert.Equal(t, "ob_M5_1", z.ID)
	assert.Equal(t, model.Bullish, z.Direction)
	assert.Equal(t, model.Active, z.State)
	assert.Equal(t, 47, z.OriginIndex)
	assert.Equal(t, 99.5, z.Low)
	assert.Equal(t, 102.5, z.High)
	assert.Equal(t, 52, z.ImbalanceEnd)
	assert.Equal(t, 2, z.MitigationCount)
	assert.Nil(t, z.InvalidationIndex)
	assert.Equal(t, "M5", z.SourceTimeframe)

	res, err = d.Detect(candles)
	require.NoError(t, err)
	require.Len(t, res.Zones, 1)
	z = res.Zones[0]
	assert.Equal(t, "ob_M5_1", z.ID, "ids restart each run")
	assert.Equal(t, model.Invalidated, z.State)
	require.NotNil(t, z.InvalidationIndex)
	assert.Equal(t, 100, *z.InvalidationIndex)
	assert.Equal(t, ReasonCloseBelowLow, z.InvalidationReason)
	assert.Equal(t, 3, z.MitigationCount)
	assert.InDelta(t, 0.6, z.MitigationScore, 1e-9)
	assert.Equal(t, 100, *z.LastMitigationIndex)
	require.NotNil(t, z.EndTime)
	assert.Equal(t, candles[100].TS, *z.EndTime)

	assert.Equal(t, 1, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Invalidated)
	assert.Equal(t, 1, res.Summary.Bullish)
	assert.InDelta(t, 0.6, res.Summary.AvgMitigation, 1e-9)

	got, ok := d.Registry().Get("ob_M5_1")
	require.True(t, ok)
	assert.Same(t, z, got)
}

func TestOrderBlocks_Hooks(t *testing.T) {
	d := newOB(t)
	var created, invalidated []string
	d.OnZoneCreated = func(z *model.Zone) { created = append(created, z.ID) }
	d.OnZoneInvalidated = func(z *model.Zone) { invalidated = append(invalidated, z.ID) }

	_, err := d.Detect(scenario())
	require.NoError(t, err)
	assert.Equal(t, []string{"ob_M5_1"}, created)
	assert.Equal(t, []string{"ob_M5_1"}, invalidated)
}

func TestOrderBlocks_MinBodyAndAnchorMiss(t *testing.T) {
	p := DefaultOrderBlockParams()
	p.MinBodySize = 5
	d, err := NewOrderBlockDetector("M5", p, nil)
	require.NoError(t, err)
	res, err := d.Detect(scenario())
	require.NoError(t, err)
	assert.Empty(t, res.Zones)
	assert.Equal(t, 1, res.Summary.SmallBodies)

	// Recolour the anchor: no bearish candle left between 41 and 49.
	candles := scenario()
	candles[47] = bar(47, 99.8, 102.5, 99.5, 102)
	d = newOB(t)
	var misses []int
	d.OnAnchorMiss = func(i int, _ model.Direction) { misses = append(misses, i) }
	res, err = d.Detect(candles)
	require.NoError(t, err)
	assert.Empty(t, res.Zones)
	assert.Equal(t, []int{50}, misses)
	assert.Equal(t, 1, res.Summary.AnchorMisses)
}

func TestOrderBlocks_EmptyAndShortInput(t *testing.T) {
	d := newOB(t)
	res, err := d.Detect(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Zones)

	res, err = d.Detect(scenario()[:15])
	require.NoError(t, err)
	assert.Empty(t, res.Zones)
}

func TestOrderBlocks_RejectsBadInput(t *testing.T) {
	candles := scenario()
	candles[10].TS = candles[9].TS
	_, err := newOB(t).Detect(candles)
	assert.ErrorIs(t, err, model.ErrNonMonotonicTime)

	p := DefaultOrderBlockParams()
	p.SwingLength = -1
	_, err = NewOrderBlockDetector("M5", p, nil)
	assert.ErrorIs(t, err, model.ErrInvalidParam)
}

func TestWalk_MitigationVersusInvalidation(t *testing.T) {
	z := model.NewZone("a", model.KindOrderBlock, model.Bullish, 10, 12, 0, base)
	candles := []model.Candle{
		bar(0, 13, 14, 12.5, 13.5), // no touch
		bar(1, 13, 13.5, 9, 10.5),  // wick below low, close back inside
		bar(2, 11, 12, 10, 11.5),
	}
	assert.False(t, Walk(z, candles, 0))
	assert.Equal(t, model.Active, z.State)
	assert.Equal(t, 2, z.MitigationCount)

	more := append(candles, bar(3, 11, 11.2, 9.8, 9.9)) // close below low
	z2 := model.NewZone("b", model.KindOrderBlock, model.Bullish, 10, 12, 0, base)
	assert.True(t, Walk(z2, more, 0))
	assert.Equal(t, 3, *z2.InvalidationIndex)
	assert.Equal(t, 3, z2.MitigationCount, "the invalidating candle also touched")

	bear := model.NewZone("c", model.KindOrderBlock, model.Bearish, 10, 12, 0, base)
	gap := []model.Candle{bar(0, 9, 12.5, 8, 11.9), bar(1, 11.9, 13, 11, 12.1)}
	assert.True(t, Walk(bear, gap, 0))
	assert.Equal(t, 1, *bear.InvalidationIndex)
	assert.Equal(t, ReasonCloseAboveHigh, bear.InvalidationReason)
}

func TestWalk_CloseThroughWithoutOverlapStillInvalidates(t *testing.T) {
	z := model.NewZone("a", model.KindOrderBlock, model.Bullish, 10, 12, 0, base)
	candles := []model.Candle{bar(0, 9, 9.5, 8, 8.5)}
	assert.True(t, Walk(z, candles, 0))
	assert.Equal(t, 0, z.MitigationCount)
}

func TestRetain_TwoTier(t *testing.T) {
	mk := func(id string, origin, touches int, invalidAt int) *model.Zone {
		z := model.NewZone(id, model.KindOrderBlock, model.Bullish, 1, 2, origin, base)
		for k := 0; k < touches; k++ {
			z.Mitigate(origin + k + 1)
		}
		if invalidAt >= 0 {
			z.Invalidate(invalidAt, base, ReasonCloseBelowLow)
		}
		return z
	}
	zones := []*model.Zone{
		mk("a1", 10, 2, -1),
		mk("a2", 20, 0, -1),
		mk("a3", 30, 0, -1),
		mk("a4", 40, 1, -1),
		mk("i1", 5, 0, 50),
		mk("i2", 6, 0, 70),
		mk("i3", 7, 0, 60),
		mk("i4", 8, 0, 55),
		mk("i5", 9, 0, 40),
	}

	kept := Retain(zones, 3)
	var ids []string
	for _, z := range kept {
		ids = append(ids, z.ID)
	}
	assert.Equal(t, []string{"a3", "a2", "a4", "i2", "i3", "i4"}, ids)
	assert.Equal(t, "a1", zones[0].ID, "input order untouched")

	assert.Equal(t, 3, HistoryCap(3))
	assert.Equal(t, 5, HistoryCap(15))
	assert.Equal(t, 66, HistoryCap(200))
}

func liquiditySeries() []model.Candle {
	return []model.Candle{
		bar(0, 9, 10, 8, 9.5),
		bar(1, 9.5, 11, 9, 10.5),
		bar(2, 10.5, 12, 10, 11.5),
		bar(3, 11.5, 12, 10.5, 11),   // equal high with 2
		bar(4, 11, 11.8, 9.9, 11.2),  // wick into [11.5, 12], close below
		bar(5, 11.2, 12.6, 11, 12.4), // close above 12
		bar(6, 12.4, 13, 12.2, 12.8),
	}
}

func newLiquidity(t *testing.T, mutate func(*LiquidityParams)) *LiquidityDetector {
	t.Helper()
	p := DefaultLiquidityParams()
	p.Tolerance = 0.3
	p.UseRSIFilter = false
	if mutate != nil {
		mutate(&p)
	}
	d, err := NewLiquidityDetector("M15", p, nil)
	require.NoError(t, err)
	return d
}

func TestLiquidity_EqualHighsBodySweep(t *testing.T) {
	d := newLiquidity(t, nil)
	res, err := d.Detect(liquiditySeries())
	require.NoError(t, err)
	require.Len(t, res.Zones, 1)

	z := res.Zones[0]
	assert.Equal(t, "liq_M15_1", z.ID)
	assert.Equal(t, model.KindLiquidity, z.Kind)
	assert.Equal(t, model.Bearish, z.Direction)
	assert.Equal(t, 2, z.OriginIndex)
	assert.Equal(t, 11.5, z.Low)
	assert.Equal(t, 12.0, z.High)
	assert.Equal(t, 2, z.MitigationCount, "second candle of the pair and candle 4 both reject")
	require.NotNil(t, z.InvalidationIndex)
	assert.Equal(t, 5, *z.InvalidationIndex)
	assert.Equal(t, ReasonSweepBody, z.InvalidationReason)
}

func TestLiquidity_SweepModes(t *testing.T) {
	wick := newLiquidity(t, func(p *LiquidityParams) { p.SweepType = SweepWick })
	res, err := wick.Detect(liquiditySeries())
	require.NoError(t, err)
	require.Len(t, res.Zones, 1)
	assert.Equal(t, 5, *res.Zones[0].InvalidationIndex)
	assert.Equal(t, ReasonSweepWick, res.Zones[0].InvalidationReason)

	rejection := newLiquidity(t, func(p *LiquidityParams) { p.AllowRejection = true })
	res, err = rejection.Detect(liquiditySeries())
	require.NoError(t, err)
	require.Len(t, res.Zones, 1)
	assert.Equal(t, 6, *res.Zones[0].InvalidationIndex, "needs two closes above")
}

func TestLiquidity_FiltersAndAge(t *testing.T) {
	rsi := newLiquidity(t, func(p *LiquidityParams) { p.UseRSIFilter = true })
	res, err := rsi.Detect(liquiditySeries())
	require.NoError(t, err)
	assert.Empty(t, res.Zones, "RSI is neutral until warmed up")

	aged := newLiquidity(t, func(p *LiquidityParams) { p.MaxZoneAge = 2 })
	res, err = aged.Detect(liquiditySeries())
	require.NoError(t, err)
	assert.Empty(t, res.Zones)
	assert.Equal(t, 1, res.Summary.Expired)

	res, err = newLiquidity(t, nil).Detect(liquiditySeries()[:1])
	require.NoError(t, err)
	assert.Empty(t, res.Zones)
}

func TestLiquidity_Thresholds(t *testing.T) {
	d := newLiquidity(t, func(p *LiquidityParams) { p.VarianceSpan = 1 })
	thr := d.Thresholds(liquiditySeries())
	assert.Equal(t, 0.0, thr[0])
	// span 1 → alpha 1: threshold tracks the raw variance of each bar
	assert.InDelta(t, 0.3*1.0, thr[1], 1e-9)
	assert.InDelta(t, 0.3*0.25, thr[3], 1e-9)
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultOrderBlockParams().Validate())
	require.NoError(t, DefaultLiquidityParams().Validate())

	p := DefaultOrderBlockParams()
	p.ImbalanceBars = 1
	assert.ErrorIs(t, p.Validate(), model.ErrInvalidParam)

	l := DefaultLiquidityParams()
	l.SweepType = "close"
	assert.ErrorIs(t, l.Validate(), model.ErrInvalidParam)
}
