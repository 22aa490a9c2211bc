// Package pipeline runs one scan: detectors per timeframe, then the tracker,
// then the multi-timeframe aggregation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"zonetracker/internal/logger"
	"zonetracker/internal/metrics"
	"zonetracker/internal/model"
	"zonetracker/internal/mtf"
	"zonetracker/internal/structure"
	"zonetracker/internal/tracker"
	"zonetracker/internal/zone"
)

// Config selects what a scan runs.
type Config struct {
	Symbol     string
	Timeframes []string

	OrderBlock zone.OrderBlockParams
	Liquidity  zone.LiquidityParams
	Structure  structure.Params
	Aggregator mtf.Params
	Tracker    tracker.Config

	EnableLiquidity bool
	EnableStructure bool
	Eligibility     mtf.Eligibility
}

// DefaultConfig runs order blocks only, with stock parameters.
func DefaultConfig(symbol string, timeframes ...string) Config {
	return Config{
		Symbol:     symbol,
		Timeframes: timeframes,
		OrderBlock: zone.DefaultOrderBlockParams(),
		Liquidity:  zone.DefaultLiquidityParams(),
		Structure:  structure.DefaultParams(),
		Aggregator: mtf.DefaultParams(),
		Tracker:    tracker.DefaultConfig(),
	}
}

// TimeframeResult is the detector output for one timeframe.
type TimeframeResult struct {
	Timeframe   string                 `json:"tf"`
	Candles     int                    `json:"candles"`
	OrderBlocks zone.Summary           `json:"order_blocks"`
	Liquidity   *zone.Summary          `json:"liquidity,omitempty"`
	Breaks      []model.StructureBreak `json:"breaks,omitempty"`

	zones []*model.Zone
}

// Result is the outcome of one Run.
type Result struct {
	RunID       string                 `json:"run_id"`
	Symbol      string                 `json:"symbol"`
	View        string                 `json:"view"`
	GeneratedAt time.Time              `json:"generated_at"`
	LastClose   float64                `json:"last_close"`
	Timeframes  []TimeframeResult      `json:"timeframes"`
	Aggregated  []model.AggregatedZone `json:"aggregated"`
	AtPrice     []model.AggregatedZone `json:"at_price"`
}

// Breaks returns the structure breaks of every timeframe, shortest timeframe first.
func (r *Result) Breaks() []model.StructureBreak {
	var out []model.StructureBreak
	for _, tr := range r.Timeframes {
		out = append(out, tr.Breaks...)
	}
	return out
}

// Pipeline owns a tracker that persists across runs. Each run is a full rescan,
// so it replaces every timeframe bucket wholesale: a zone the rescan no longer
// produces is dropped.
type Pipeline struct {
	cfg     Config
	tracker *tracker.Tracker
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New validates cfg. m may be nil. The history view needs invalidated zones in
// the tracker, so it turns Tracker.KeepInvalidated on.
func New(cfg Config, m *metrics.Metrics, log *slog.Logger) (*Pipeline, error) {
	if len(cfg.Timeframes) == 0 {
		return nil, fmt.Errorf("%w: no timeframes", model.ErrInvalidParam)
	}
	if cfg.Eligibility == mtf.WithHistory {
		cfg.Tracker.KeepInvalidated = true
	}
	tfs := make([]string, 0, len(cfg.Timeframes))
	for _, label := range cfg.Timeframes {
		tf, err := model.ParseTimeframe(label)
		if err != nil {
			return nil, err
		}
		tfs = append(tfs, tf)
	}
	model.SortTimeframes(tfs)
	cfg.Timeframes = tfs

	for _, check := range []func() error{cfg.OrderBlock.Validate, cfg.Liquidity.Validate, cfg.Structure.Validate} {
		if err := check(); err != nil {
			return nil, err
		}
	}
	agg, err := mtf.New(cfg.Aggregator)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	tr, err := tracker.New(tfs, cfg.Tracker, agg, log)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, tracker: tr, metrics: m, log: log.With(slog.String("component", "pipeline")), now: time.Now}
	if m != nil {
		tr.OnEvict = func(tf string, evicted []*model.Zone) {
			m.TrackerEvictions.WithLabelValues(tf).Add(float64(len(evicted)))
		}
	}
	return p, nil
}

// Tracker exposes the tracker for registry queries between runs.
func (p *Pipeline) Tracker() *tracker.Tracker { return p.tracker }

// Timeframes returns the normalised timeframe labels, shortest first.
func (p *Pipeline) Timeframes() []string { return append([]string(nil), p.cfg.Timeframes...) }

// Run detects zones on every configured timeframe of series concurrently, then
// feeds the tracker in timeframe order and aggregates. A configured timeframe
// missing from series is an error. The last close is taken from the shortest timeframe.
func (p *Pipeline) Run(ctx context.Context, series map[string][]model.Candle) (*Result, error) {
	for _, tf := range p.cfg.Timeframes {
		if _, ok := series[tf]; !ok {
			return nil, fmt.Errorf("pipeline: no candles for timeframe %s", tf)
		}
	}

	runID := logger.RunID(ctx)
	if runID == "" {
		runID = logger.NewRunID()
		ctx = logger.WithRunID(ctx, runID)
	}
	log := logger.FromContext(ctx, p.log)

	results := make([]TimeframeResult, len(p.cfg.Timeframes))
	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range p.cfg.Timeframes {
		i, tf := i, tf
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.detect(tf, series[tf], log)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		if err := p.tracker.Replace(res.Timeframe, res.zones); err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.TrackerZones.WithLabelValues(res.Timeframe).Set(float64(p.tracker.Len(res.Timeframe)))
		}
	}

	start := time.Now()
	agg, err := p.tracker.Aggregate(p.cfg.Eligibility)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.AggregateDur.Observe(time.Since(start).Seconds())
		p.metrics.AggregatedZones.Set(float64(len(agg)))
	}

	out := &Result{
		RunID:       runID,
		Symbol:      p.cfg.Symbol,
		View:        p.cfg.Eligibility.String(),
		GeneratedAt: p.now().UTC(),
		Timeframes:  results,
		Aggregated:  agg,
	}
	if base := series[p.cfg.Timeframes[0]]; len(base) > 0 {
		out.LastClose = base[len(base)-1].Close
		out.AtPrice = mtf.ZonesAtPrice(agg, out.LastClose)
	}

	log.Info("scan complete",
		slog.String("symbol", out.Symbol),
		slog.Int("timeframes", len(results)),
		slog.Int("aggregated", len(agg)),
		slog.Int("at_price", len(out.AtPrice)),
		slog.Float64("last_close", out.LastClose))
	return out, nil
}

// detect runs every enabled detector on one timeframe. Detectors are built per
// call so goroutines never share one.
func (p *Pipeline) detect(tf string, candles []model.Candle, log *slog.Logger) (TimeframeResult, error) {
	start := time.Now()
	res := TimeframeResult{Timeframe: tf, Candles: len(candles)}

	ob, err := zone.NewOrderBlockDetector(tf, p.cfg.OrderBlock, log)
	if err != nil {
		return res, err
	}
	ob.Symbol = p.cfg.Symbol
	p.instrument(ob, tf)

	obRes, err := ob.Detect(candles)
	if err != nil {
		return res, err
	}
	res.OrderBlocks = obRes.Summary
	res.zones = append(res.zones, obRes.Zones...)

	if p.cfg.EnableLiquidity {
		liq, err := zone.NewLiquidityDetector(tf, p.cfg.Liquidity, log)
		if err != nil {
			return res, err
		}
		liq.Symbol = p.cfg.Symbol
		if p.metrics != nil {
			liq.OnZoneCreated = func(z *model.Zone) {
				p.metrics.ZonesCreated.WithLabelValues(tf, string(z.Kind), string(z.Direction)).Inc()
			}
			liq.OnZoneInvalidated = func(z *model.Zone) {
				p.metrics.ZonesInvalidated.WithLabelValues(tf, string(z.Kind)).Inc()
			}
		}
		liqRes, err := liq.Detect(candles)
		if err != nil {
			return res, err
		}
		res.Liquidity = &liqRes.Summary
		res.zones = append(res.zones, liqRes.Zones...)
	}

	if p.cfg.EnableStructure {
		sd, err := structure.NewDetector(tf, p.cfg.Structure, log)
		if err != nil {
			return res, err
		}
		sd.Symbol = p.cfg.Symbol
		if res.Breaks, err = sd.Detect(candles); err != nil {
			return res, err
		}
		if p.metrics != nil {
			for _, b := range res.Breaks {
				p.metrics.StructureBreaks.WithLabelValues(tf, string(b.Direction)).Inc()
			}
		}
	}

	if p.metrics != nil {
		p.metrics.CandlesScanned.WithLabelValues(tf).Add(float64(len(candles)))
		p.metrics.DetectDur.WithLabelValues(tf).Observe(time.Since(start).Seconds())
	}
	return res, nil
}

func (p *Pipeline) instrument(d *zone.OrderBlockDetector, tf string) {
	if p.metrics == nil {
		return
	}
	m := p.metrics
	d.OnZoneCreated = func(z *model.Zone) {
		m.ZonesCreated.WithLabelValues(tf, string(z.Kind), string(z.Direction)).Inc()
	}
	d.OnZoneInvalidated = func(z *model.Zone) {
		m.ZonesInvalidated.WithLabelValues(tf, string(z.Kind)).Inc()
	}
	d.OnAnchorMiss = func(int, model.Direction) {
		m.AnchorMisses.WithLabelValues(tf).Inc()
	}
}
