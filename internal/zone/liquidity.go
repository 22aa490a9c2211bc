package zone

import (
	"fmt"
	"log/slog"
	"math"

	"zonetracker/internal/indicator"
	"zonetracker/internal/model"
	"zonetracker/internal/registry"
	"zonetracker/internal/swing"
)

// Invalidation reasons recorded on liquidity zones.
const (
	ReasonSweepBody = "sweep_body"
	ReasonSweepWick = "sweep_wick"
)

// LiquidityDetector finds equal highs (EQH, bearish zones) and equal lows
// (EQL, bullish zones) on one timeframe.
//
// Two consecutive highs are "equal" when they differ by less than
// tolerance × EMA(variance), where variance is the mean absolute bar-to-bar change
// of highs and lows. The zone spans the wick extreme to the body extreme of the
// pair and is invalidated when price sweeps the wick level.
type LiquidityDetector struct {
	tf     string
	params LiquidityParams
	reg    *registry.Registry
	log    *slog.Logger

	Symbol string

	OnZoneCreated     func(z *model.Zone)
	OnZoneInvalidated func(z *model.Zone)
}

// NewLiquidityDetector creates an EQH/EQL detector for timeframe tf.
func NewLiquidityDetector(tf string, params LiquidityParams, log *slog.Logger) (*LiquidityDetector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &LiquidityDetector{
		tf:     tf,
		params: params,
		reg:    registry.New(),
		log:    log.With(slog.String("component", "liquidity"), slog.String("tf", tf)),
	}, nil
}

func (d *LiquidityDetector) Timeframe() string            { return d.tf }
func (d *LiquidityDetector) Registry() *registry.Registry { return d.reg }

// Thresholds returns the per-bar equality threshold (tolerance × smoothed variance).
// Index 0 has no previous bar and is always 0.
func (d *LiquidityDetector) Thresholds(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	ema := indicator.NewEMA(d.params.VarianceSpan)
	for i := 1; i < len(candles); i++ {
		v := (math.Abs(candles[i].High-candles[i-1].High) + math.Abs(candles[i].Low-candles[i-1].Low)) / 2
		ema.Update(v)
		out[i] = ema.Value() * d.params.Tolerance
	}
	return out
}

// Detect scans candles from scratch and replaces the registry contents.
func (d *LiquidityDetector) Detect(candles []model.Candle) (Result, error) {
	if err := swing.Validate(candles); err != nil {
		return Result{}, fmt.Errorf("liquidity %s: %w", d.tf, err)
	}
	d.reg.Clear()
	sum := Summary{Timeframe: d.tf, Candles: len(candles)}
	if len(candles) < 2 {
		return Result{Summary: sum}, nil
	}

	thr := d.Thresholds(candles)
	closes := make([]float64, len(candles))
	for i := range candles {
		closes[i] = candles[i].Close
	}
	rsi := indicator.Series(indicator.NewRSI(d.params.RSIPeriod), closes, 50)

	high := func(c *model.Candle) float64 { return c.High }
	low := func(c *model.Candle) float64 { return c.Low }
	eqh := d.equalAt(candles, thr, high, func(i int) bool { return rsi[i] > 50+d.params.RSIThreshold })
	eql := d.equalAt(candles, thr, low, func(i int) bool { return rsi[i] < 50-d.params.RSIThreshold })

	last := len(candles) - 1
	var zones []*model.Zone
	create := func(i int, dir model.Direction) {
		origin := i - 1
		if last-origin > d.params.MaxZoneAge {
			sum.Expired++
			return
		}
		a, b := &candles[origin], &candles[i]
		var level, body float64
		if dir == model.Bearish {
			level = math.Max(a.High, b.High)
			body = math.Max(math.Max(a.Open, a.Close), math.Max(b.Open, b.Close))
		} else {
			level = math.Min(a.Low, b.Low)
			body = math.Min(math.Min(a.Open, a.Close), math.Min(b.Open, b.Close))
		}
		z := model.NewZone(d.reg.NextID("liq_"+d.tf), model.KindLiquidity, dir, level, body, origin, a.TS)
		z.Symbol = d.Symbol
		z.SourceTimeframe = d.tf
		sum.Created++
		if d.OnZoneCreated != nil {
			d.OnZoneCreated(z)
		}
		if d.walk(z, candles, level) && d.OnZoneInvalidated != nil {
			d.OnZoneInvalidated(z)
		}
		zones = append(zones, z)
	}
	for _, i := range eqh {
		create(i, model.Bearish)
	}
	for _, i := range eql {
		create(i, model.Bullish)
	}

	for _, z := range zones {
		if err := d.reg.Add(z); err != nil {
			return Result{}, fmt.Errorf("liquidity %s: %w", d.tf, err)
		}
	}
	sum.tally(zones)
	d.log.Info("liquidity detected",
		slog.Int("candles", sum.Candles),
		slog.Int("eqh", len(eqh)),
		slog.Int("eql", len(eql)),
		slog.Int("kept", sum.Total),
		slog.Int("invalidated", sum.Invalidated),
		slog.Int("expired", sum.Expired))

	return Result{Zones: d.reg.All(), Summary: sum}, nil
}

// equalAt returns the indices i where price(i) equals price(i-1) within thr[i],
// the RSI filter passes and i-1 was not itself an equality.
func (d *LiquidityDetector) equalAt(candles []model.Candle, thr []float64, price func(*model.Candle) float64, rsiOK func(int) bool) []int {
	var out []int
	for i := 1; i < len(candles); i++ {
		if math.Abs(price(&candles[i])-price(&candles[i-1])) >= thr[i] {
			continue
		}
		if d.params.UseRSIFilter && !rsiOK(i) {
			continue
		}
		if i > 1 && math.Abs(price(&candles[i-1])-price(&candles[i-2])) < thr[i] {
			continue
		}
		out = append(out, i)
	}
	return out
}

// walk counts rejections (wick into the zone, close back outside) as mitigation
// and invalidates on the first sweep of level.
func (d *LiquidityDetector) walk(z *model.Zone, candles []model.Candle, level float64) bool {
	bearish := z.Direction == model.Bearish
	for i := z.OriginIndex + 1; i < len(candles); i++ {
		c := &candles[i]
		if bearish {
			if c.High >= z.Low && c.High <= z.High && c.Close < z.Low {
				z.Mitigate(i)
			}
		} else {
			if c.Low >= z.Low && c.Low <= z.High && c.Close > z.High {
				z.Mitigate(i)
			}
		}

		swept, reason := false, ReasonSweepWick
		if d.params.SweepType == SweepWick {
			swept = (bearish && c.High > level) || (!bearish && c.Low < level)
		} else {
			reason = ReasonSweepBody
			swept = closedThrough(c, level, bearish)
			if swept && d.params.AllowRejection {
				swept = closedThrough(&candles[i-1], level, bearish)
			}
		}
		if swept {
			z.Invalidate(i, c.TS, reason)
			return true
		}
	}
	return false
}

func closedThrough(c *model.Candle, level float64, above bool) bool {
	if above {
		return c.Close > level
	}
	return c.Close < level
}
