// Package tracker keeps the latest zones of every timeframe in one place and
// feeds them to the multi-timeframe aggregator.
//
// Each timeframe owns a registry bucket. Update replaces zones by id and Replace
// swaps the bucket wholesale. Both purge invalidated zones unless configured to
// keep them and bound the bucket with the same two-tier retention the detectors use. A Tracker is not safe for
// concurrent writers: fan detector results in from one goroutine.
package tracker

import (
	"fmt"
	"log/slog"

	"zonetracker/internal/model"
	"zonetracker/internal/mtf"
	"zonetracker/internal/registry"
	"zonetracker/internal/zone"
)

// Config bounds the per-timeframe buckets.
type Config struct {
	MaxZonesPerTimeframe int  `yaml:"max_zones_per_timeframe" mapstructure:"max_zones_per_timeframe" json:"max_zones_per_timeframe" default:"200" validate:"min=1"`
	KeepInvalidated      bool `yaml:"keep_invalidated" mapstructure:"keep_invalidated" json:"keep_invalidated"`
}

// DefaultConfig keeps up to 200 zones per timeframe and drops invalidated ones.
func DefaultConfig() Config {
	return Config{MaxZonesPerTimeframe: 200}
}

// Tracker fans zones from several timeframes into one aggregation point.
type Tracker struct {
	cfg     Config
	agg     *mtf.Aggregator
	log     *slog.Logger
	order   []string
	buckets map[string]*registry.Registry

	last []model.AggregatedZone

	// OnEvict is called with the zones dropped by the size bound of an Update.
	OnEvict func(tf string, evicted []*model.Zone)
}

// New creates a tracker with an empty bucket per timeframe. A nil aggregator
// uses mtf.DefaultParams.
func New(timeframes []string, cfg Config, agg *mtf.Aggregator, log *slog.Logger) (*Tracker, error) {
	if cfg.MaxZonesPerTimeframe < 1 {
		return nil, fmt.Errorf("%w: max_zones_per_timeframe %d < 1", model.ErrInvalidParam, cfg.MaxZonesPerTimeframe)
	}
	if agg == nil {
		var err error
		if agg, err = mtf.New(mtf.DefaultParams()); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		cfg:     cfg,
		agg:     agg,
		log:     log.With(slog.String("component", "tracker")),
		buckets: make(map[string]*registry.Registry, len(timeframes)),
	}
	for _, tf := range timeframes {
		t.register(tf)
	}
	return t, nil
}

func (t *Tracker) register(tf string) *registry.Registry {
	if b, ok := t.buckets[tf]; ok {
		return b
	}
	b := registry.New()
	t.buckets[tf] = b
	t.order = append(t.order, tf)
	return b
}

// Timeframes returns bucket labels in registration order.
func (t *Tracker) Timeframes() []string {
	return append([]string(nil), t.order...)
}

// Update merges zones into the bucket of tf, registering tf if needed.
//
// Incoming zones are copied and re-tagged with tf. A zone whose id is already in
// the bucket replaces it in place; new ids are appended. The call is atomic: if
// any zone is invalid or ids repeat within zones, the bucket is left untouched.
func (t *Tracker) Update(tf string, zones []*model.Zone) error {
	var base []*model.Zone
	if b, ok := t.buckets[tf]; ok {
		base = b.All()
	}
	return t.apply(tf, base, zones)
}

// Replace swaps the whole bucket of tf for zones. Use it when zones is a full
// rescan of tf: zones missing from it are dropped. Same atomicity as Update.
func (t *Tracker) Replace(tf string, zones []*model.Zone) error {
	return t.apply(tf, nil, zones)
}

func (t *Tracker) apply(tf string, base, zones []*model.Zone) error {
	seen := make(map[string]bool, len(zones))
	for i, z := range zones {
		if err := z.Validate(); err != nil {
			return fmt.Errorf("tracker %s zone %d: %w", tf, i, err)
		}
		if seen[z.ID] {
			return fmt.Errorf("tracker %s: %w: %s", tf, model.ErrDuplicateZoneID, z.ID)
		}
		seen[z.ID] = true
	}

	merged := base
	pos := make(map[string]int, len(base)+len(zones))
	for i, z := range merged {
		pos[z.ID] = i
	}
	for _, z := range zones {
		c := z.Clone()
		c.SourceTimeframe = tf
		if i, ok := pos[c.ID]; ok {
			merged[i] = c
			continue
		}
		pos[c.ID] = len(merged)
		merged = append(merged, c)
	}

	if !t.cfg.KeepInvalidated {
		kept := merged[:0:0]
		for _, z := range merged {
			if z.State == model.Active {
				kept = append(kept, z)
			}
		}
		merged = kept
	}

	var evicted []*model.Zone
	if len(merged) > t.cfg.MaxZonesPerTimeframe {
		kept := zone.Retain(merged, t.cfg.MaxZonesPerTimeframe)
		keep := make(map[*model.Zone]bool, len(kept))
		for _, z := range kept {
			keep[z] = true
		}
		for _, z := range merged {
			if !keep[z] {
				evicted = append(evicted, z)
			}
		}
		merged = kept
	}

	b := registry.New()
	for _, z := range merged {
		if err := b.Add(z); err != nil {
			return fmt.Errorf("tracker %s: %w", tf, err)
		}
	}
	t.register(tf)
	t.buckets[tf] = b

	if len(evicted) > 0 {
		t.log.Debug("zones evicted", slog.String("tf", tf), slog.Int("count", len(evicted)))
		if t.OnEvict != nil {
			t.OnEvict(tf, evicted)
		}
	}
	return nil
}

// Registry returns the bucket of tf for time/price queries.
func (t *Tracker) Registry(tf string) (*registry.Registry, bool) {
	b, ok := t.buckets[tf]
	return b, ok
}

// Len returns the bucket size of tf, 0 for unknown timeframes.
func (t *Tracker) Len(tf string) int {
	if b, ok := t.buckets[tf]; ok {
		return b.Len()
	}
	return 0
}

// Counts tallies every bucket by state.
func (t *Tracker) Counts() map[string]registry.Counts {
	out := make(map[string]registry.Counts, len(t.buckets))
	for tf, b := range t.buckets {
		out[tf] = b.Counts()
	}
	return out
}

// ActiveZones flattens the Active zones of the requested timeframes (all when
// none are given). Unknown timeframes contribute nothing.
func (t *Tracker) ActiveZones(tfs ...string) []*model.Zone {
	var out []*model.Zone
	for _, tf := range t.pick(tfs) {
		if b, ok := t.buckets[tf]; ok {
			out = append(out, b.ByState(model.Active)...)
		}
	}
	return out
}

// Zones flattens every stored zone of the requested timeframes, whatever its state.
func (t *Tracker) Zones(tfs ...string) []*model.Zone {
	var out []*model.Zone
	for _, tf := range t.pick(tfs) {
		if b, ok := t.buckets[tf]; ok {
			out = append(out, b.All()...)
		}
	}
	return out
}

func (t *Tracker) pick(tfs []string) []string {
	if len(tfs) == 0 {
		return t.order
	}
	return tfs
}

// Aggregate clusters the tracked zones and caches the result.
func (t *Tracker) Aggregate(elig mtf.Eligibility) ([]model.AggregatedZone, error) {
	zones := t.ActiveZones()
	if elig == mtf.WithHistory {
		zones = t.Zones()
	}
	out, err := t.agg.Aggregate(zones, elig)
	if err != nil {
		return nil, err
	}
	t.last = out
	return out, nil
}

// LastAggregated returns the result of the previous Aggregate call.
func (t *Tracker) LastAggregated() []model.AggregatedZone { return t.last }

// ZonesAtPrice returns the aggregated zones containing price. With refresh, or
// when nothing is cached yet, it re-aggregates the Active zones first.
func (t *Tracker) ZonesAtPrice(price float64, refresh bool) ([]model.AggregatedZone, error) {
	if refresh || t.last == nil {
		if _, err := t.Aggregate(mtf.ActiveOnly); err != nil {
			return nil, err
		}
	}
	return mtf.ZonesAtPrice(t.last, price), nil
}
