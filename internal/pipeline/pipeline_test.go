package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonetracker/internal/logger"
	"zonetracker/internal/metrics"
	"zonetracker/internal/model"
	"zonetracker/internal/mtf"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// series has one bullish order block anchored at 47 ([99.5, 102.5]), touched at
// 70 and 90. The last close (candle 90) sits inside the zone.
func series() []model.Candle {
	cs := make([]model.Candle, 0, 91)
	add := func(o, h, l, c float64) {
		cs = append(cs, model.Candle{TS: t0.Add(time.Duration(len(cs)) * 5 * time.Minute), Open: o, High: h, Low: l, Close: c})
	}
	for i := 0; i < 47; i++ {
		add(101, 102, 100, 101.5)
	}
	add(102, 102.5, 99.5, 99.8)
	add(99.8, 100.5, 99, 100.2)
	add(99, 99.6, 98.5, 99.4)
	add(99.4, 99.8, 98, 99.6)
	add(99.6, 102, 99.5, 101.8)
	add(101.8, 104, 100.5, 103.8)
	add(103.8, 105, 103, 104.5)
	for i := 54; i < 70; i++ {
		add(104.5, 105.5, 104, 105)
	}
	add(104, 104.2, 102, 103.5)
	for i := 71; i < 90; i++ {
		add(103.5, 104.5, 103, 104)
	}
	add(104, 104.2, 100, 101)
	return cs
}

// extend appends n flat candles at price after cs.
func extend(cs []model.Candle, n int, price float64) []model.Candle {
	out := append([]model.Candle(nil), cs...)
	next := cs[len(cs)-1].TS
	for i := 0; i < n; i++ {
		next = next.Add(5 * time.Minute)
		out = append(out, model.Candle{TS: next, Open: price, High: price + 0.5, Low: price - 0.5, Close: price})
	}
	return out
}

func newPipeline(t *testing.T, m *metrics.Metrics, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig("NAS100", "m15", "M5")
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, m, nil)
	require.NoError(t, err)
	return p
}

func TestRun_AggregatesAcrossTimeframes(t *testing.T) {
	p := newPipeline(t, nil, nil)
	assert.Equal(t, []string{"M5", "M15"}, p.Timeframes())

	cs := series()
	res, err := p.Run(context.Background(), map[string][]model.Candle{"M5": cs, "M15": cs})
	require.NoError(t, err)

	assert.Len(t, res.RunID, 36)
	assert.Equal(t, "NAS100", res.Symbol)
	assert.Equal(t, "active", res.View)
	assert.Equal(t, 101.0, res.LastClose)

	require.Len(t, res.Timeframes, 2)
	assert.Equal(t, "M5", res.Timeframes[0].Timeframe)
	assert.Equal(t, 1, res.Timeframes[0].OrderBlocks.Active)
	assert.Nil(t, res.Timeframes[0].Liquidity)

	require.Len(t, res.Aggregated, 1)
	agg := res.Aggregated[0]
	assert.Equal(t, 99.5, agg.Low)
	assert.Equal(t, 102.5, agg.High)
	assert.Equal(t, 2.0, agg.Score)
	assert.Equal(t, map[string]int{"M5": 1, "M15": 1}, agg.TFCounts)
	assert.InDelta(t, 0.8, agg.ActiveMitigation, 1e-9)
	require.Len(t, res.AtPrice, 1)

	z, ok := p.Tracker().Registry("M15")
	require.True(t, ok)
	got, ok := z.Get("ob_M15_1")
	require.True(t, ok)
	assert.Equal(t, "NAS100", got.Symbol)
}

func TestRun_RescanDropsZonesNoLongerDetected(t *testing.T) {
	p := newPipeline(t, nil, func(c *Config) { c.Timeframes = []string{"M5"} })

	first, err := p.Run(context.Background(), map[string][]model.Candle{"M5": series()})
	require.NoError(t, err)
	require.Len(t, first.Aggregated, 1)

	// A later window past the order block: flat candles yield no swings.
	later := extend(series(), 30, 94.5)[len(series()):]
	res, err := p.Run(context.Background(), map[string][]model.Candle{"M5": later})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Timeframes[0].OrderBlocks.Total)
	assert.Equal(t, 0, p.Tracker().Len("M5"))
	assert.Empty(t, res.Aggregated)
	assert.Empty(t, res.AtPrice)
}

func TestRun_HistoryViewKeepsInvalidated(t *testing.T) {
	p := newPipeline(t, nil, func(c *Config) {
		c.Timeframes = []string{"M5"}
		c.Eligibility = mtf.WithHistory
		c.Tracker.KeepInvalidated = false
	})
	assert.True(t, p.cfg.Tracker.KeepInvalidated)

	// Closes at 94.5 go through the low of the [99.5, 102.5] block.
	res, err := p.Run(context.Background(), map[string][]model.Candle{"M5": extend(series(), 5, 94.5)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Timeframes[0].OrderBlocks.Invalidated)
	assert.Equal(t, 1, p.Tracker().Counts()["M5"].Invalidated)
	require.Len(t, res.Aggregated, 1)
	assert.Equal(t, 1, res.Aggregated[0].InvalidatedCount)
	assert.Equal(t, 0, res.Aggregated[0].ActiveCount)
}

func TestRun_RescanIsIdempotent(t *testing.T) {
	p := newPipeline(t, nil, nil)
	cs := series()
	in := map[string][]model.Candle{"M5": cs, "M15": cs}

	ctx := logger.WithRunID(context.Background(), "fixed-run")
	first, err := p.Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "fixed-run", first.RunID)

	_, err = p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Tracker().Len("M5"))
	assert.Equal(t, 1, p.Tracker().Len("M15"))
}

func TestRun_Errors(t *testing.T) {
	p := newPipeline(t, nil, nil)
	cs := series()

	_, err := p.Run(context.Background(), map[string][]model.Candle{"M5": cs})
	assert.Error(t, err, "missing timeframe")

	bad := append([]model.Candle(nil), cs...)
	bad[10].Low = 500
	_, err = p.Run(context.Background(), map[string][]model.Candle{"M5": cs, "M15": bad})
	assert.ErrorIs(t, err, model.ErrInvalidCandle)
	assert.Equal(t, 0, p.Tracker().Len("M5"), "tracker untouched when a detector fails")
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidParam)

	cfg := DefaultConfig("X", "W1")
	_, err = New(cfg, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidParam)

	cfg = DefaultConfig("X", "M5")
	cfg.OrderBlock.SwingLength = 0
	_, err = New(cfg, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidParam)

	cfg = DefaultConfig("X", "M5")
	cfg.Aggregator.OverlapMinRatio = 0
	_, err = New(cfg, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidParam)
}

func TestRun_OptionalDetectorsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := newPipeline(t, m, func(c *Config) {
		c.Timeframes = []string{"M5"}
		c.EnableLiquidity = true
		c.EnableStructure = true
		c.Eligibility = mtf.WithHistory
	})

	res, err := p.Run(context.Background(), map[string][]model.Candle{"M5": series()})
	require.NoError(t, err)
	assert.Equal(t, "history", res.View)
	require.NotNil(t, res.Timeframes[0].Liquidity)
	assert.Len(t, res.Breaks(), len(res.Timeframes[0].Breaks))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ZonesCreated.WithLabelValues("M5", "order_block", "bullish")))
	assert.Equal(t, 91.0, testutil.ToFloat64(m.CandlesScanned.WithLabelValues("M5")))
	assert.Equal(t, float64(len(res.Aggregated)), testutil.ToFloat64(m.AggregatedZones))
	assert.Equal(t, float64(p.Tracker().Len("M5")), testutil.ToFloat64(m.TrackerZones.WithLabelValues("M5")))
}
