// Package zone builds zones from scanner output and drives their lifecycle.
//
// An OrderBlockDetector turns swing + imbalance confirmations into order-block
// zones anchored on the last opposite-colour candle before the swing, then walks
// each zone forward: wick overlap counts as mitigation, a close through the far
// boundary invalidates. A LiquidityDetector does the same for equal highs/lows.
//
// Detectors are single-goroutine; run one instance per timeframe.
package zone

import (
	"fmt"
	"log/slog"

	"zonetracker/internal/model"
	"zonetracker/internal/registry"
	"zonetracker/internal/swing"
)

// OrderBlockDetector detects order blocks on one timeframe.
type OrderBlockDetector struct {
	tf     string
	params OrderBlockParams
	reg    *registry.Registry
	log    *slog.Logger

	// Symbol is stamped on every zone produced.
	Symbol string

	// OnZoneCreated is called for every zone built, before retention.
	OnZoneCreated func(z *model.Zone)
	// OnZoneInvalidated is called when the forward walk invalidates a zone.
	OnZoneInvalidated func(z *model.Zone)
	// OnAnchorMiss is called when a confirmed swing has no opposite candle to anchor on.
	OnAnchorMiss func(swingIndex int, dir model.Direction)
}

// NewOrderBlockDetector creates a detector for timeframe tf.
func NewOrderBlockDetector(tf string, params OrderBlockParams, log *slog.Logger) (*OrderBlockDetector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &OrderBlockDetector{
		tf:     tf,
		params: params,
		reg:    registry.New(),
		log:    log.With(slog.String("component", "orderblocks"), slog.String("tf", tf)),
	}, nil
}

// Timeframe returns the label zones are tagged with.
func (d *OrderBlockDetector) Timeframe() string { return d.tf }

// Params returns the detector settings.
func (d *OrderBlockDetector) Params() OrderBlockParams { return d.params }

// Registry exposes the zones of the last run for read queries.
func (d *OrderBlockDetector) Registry() *registry.Registry { return d.reg }

type anchorKey struct {
	dir    model.Direction
	anchor int
}

// Detect scans candles from scratch, replacing the registry contents with the
// retained zones of this run. Empty or short input yields no zones.
func (d *OrderBlockDetector) Detect(candles []model.Candle) (Result, error) {
	p := d.params
	highs, lows, err := swing.FindSwings(candles, p.SwingLength)
	if err != nil {
		return Result{}, fmt.Errorf("orderblocks %s: %w", d.tf, err)
	}

	d.reg.Clear()
	sum := Summary{Timeframe: d.tf, Candles: len(candles)}

	isHigh := make(map[int]bool, len(highs))
	for _, h := range highs {
		isHigh[h.Index] = true
	}
	isLow := make(map[int]bool, len(lows))
	for _, l := range lows {
		isLow[l.Index] = true
	}

	var zones []*model.Zone
	seen := make(map[anchorKey]bool)

	build := func(i int, dir model.Direction) {
		imb, ok, err := swing.FindImbalance(candles, i, p.ImbalanceBars)
		if err != nil || !ok || imb.Direction != dir {
			return
		}
		anchor, found := d.findAnchor(candles, i, dir)
		if !found {
			sum.AnchorMisses++
			d.log.Debug("no anchor candle", slog.Int("swing", i), slog.String("direction", string(dir)))
			if d.OnAnchorMiss != nil {
				d.OnAnchorMiss(i, dir)
			}
			return
		}
		body := candles[anchor].Body()
		if body < p.MinBodySize {
			sum.SmallBodies++
			return
		}
		key := anchorKey{dir: dir, anchor: anchor}
		if seen[key] {
			sum.Duplicates++
			return
		}
		seen[key] = true

		c := &candles[anchor]
		z := model.NewZone(d.reg.NextID("ob_"+d.tf), model.KindOrderBlock, dir, c.Low, c.High, anchor, c.TS)
		z.Symbol = d.Symbol
		z.SourceTimeframe = d.tf
		z.ImbalanceEnd = imb.End
		z.BodySize = body
		sum.Created++
		if d.OnZoneCreated != nil {
			d.OnZoneCreated(z)
		}
		d.log.Debug("zone created", slog.String("id", z.ID), slog.String("direction", string(dir)),
			slog.Int("anchor", anchor), slog.Float64("low", z.Low), slog.Float64("high", z.High))

		if Walk(z, candles, imb.End+p.SkipImpulseCandles) {
			d.log.Debug("zone invalidated", slog.String("id", z.ID), slog.Int("at", *z.InvalidationIndex),
				slog.String("reason", z.InvalidationReason))
			if d.OnZoneInvalidated != nil {
				d.OnZoneInvalidated(z)
			}
		}
		zones = append(zones, z)
	}

	// Swing must leave room for a full imbalance run plus one candle.
	for i := p.SwingLength; i < len(candles)-p.ImbalanceBars-1; i++ {
		if isLow[i] {
			build(i, model.Bullish)
		}
		if isHigh[i] {
			build(i, model.Bearish)
		}
	}

	kept := Retain(zones, p.MaxZones)
	for _, z := range kept {
		if err := d.reg.Add(z); err != nil {
			return Result{}, fmt.Errorf("orderblocks %s: %w", d.tf, err)
		}
	}
	sum.tally(kept)

	d.log.Info("order blocks detected",
		slog.Int("candles", sum.Candles),
		slog.Int("created", sum.Created),
		slog.Int("kept", sum.Total),
		slog.Int("active", sum.Active),
		slog.Int("invalidated", sum.Invalidated),
		slog.Int("anchor_misses", sum.AnchorMisses))

	return Result{Zones: d.reg.All(), Summary: sum}, nil
}

// findAnchor scans back from the swing for the last candle of the opposite colour:
// bearish for a bullish zone, bullish for a bearish one. The search covers the
// swing_length-1 candles before the swing and never reaches index 0.
func (d *OrderBlockDetector) findAnchor(candles []model.Candle, swingIdx int, dir model.Direction) (int, bool) {
	stop := swingIdx - d.params.SwingLength
	if stop < 0 {
		stop = 0
	}
	for j := swingIdx - 1; j > stop; j-- {
		c := &candles[j]
		if (dir == model.Bullish && c.Bearish()) || (dir == model.Bearish && c.Bullish()) {
			return j, true
		}
	}
	return 0, false
}
