// Package mtf merges zones detected on several timeframes into scored clusters.
//
// Clustering is greedy single-linkage, first fit: zones are sorted by (low, high)
// and each joins the first existing cluster whose envelope it overlaps enough
// (or lies within merge_gap of), otherwise it starts a new cluster. Clusters are
// never merged with each other afterwards.
package mtf

import (
	"fmt"
	"math"
	"sort"
	"time"

	"zonetracker/internal/model"
)

// minLength floors zero-width intervals in the overlap ratio.
const minLength = 1e-12

// Eligibility selects which zones take part in an aggregation.
type Eligibility int

const (
	ActiveOnly  Eligibility = iota // tradeable view
	WithHistory                    // active and invalidated zones, for history rendering
)

func (e Eligibility) String() string {
	if e == WithHistory {
		return "history"
	}
	return "active"
}

func (e Eligibility) admits(z *model.Zone) bool {
	return e == WithHistory || z.State == model.Active
}

// Params configures the clustering and scoring.
type Params struct {
	OverlapMinRatio float64            `yaml:"overlap_min_ratio" mapstructure:"overlap_min_ratio" json:"overlap_min_ratio" default:"0.2" validate:"gt=0,lte=1"`
	MergeGap        float64            `yaml:"merge_gap" mapstructure:"merge_gap" json:"merge_gap" validate:"gte=0"`
	TFWeights       map[string]float64 `yaml:"tf_weights" mapstructure:"tf_weights" json:"tf_weights,omitempty" validate:"dive,gte=0"`
}

// DefaultParams returns overlap 0.2, no proximity merging, every timeframe weighted 1.
func DefaultParams() Params {
	return Params{OverlapMinRatio: 0.2}
}

func (p Params) Validate() error {
	if math.IsNaN(p.OverlapMinRatio) || p.OverlapMinRatio <= 0 || p.OverlapMinRatio > 1 {
		return fmt.Errorf("%w: overlap_min_ratio %.4f outside (0, 1]", model.ErrInvalidParam, p.OverlapMinRatio)
	}
	if math.IsNaN(p.MergeGap) || p.MergeGap < 0 {
		return fmt.Errorf("%w: merge_gap %.5f < 0", model.ErrInvalidParam, p.MergeGap)
	}
	for tf, w := range p.TFWeights {
		if math.IsNaN(w) || w < 0 {
			return fmt.Errorf("%w: weight %.4f for %s < 0", model.ErrInvalidParam, w, tf)
		}
	}
	return nil
}

// Aggregator is a stateless clustering function bound to a Params value.
type Aggregator struct {
	params Params
}

// New validates params and returns an Aggregator.
func New(params Params) (*Aggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(params.TFWeights))
	for tf, w := range params.TFWeights {
		weights[tf] = w
	}
	params.TFWeights = weights
	return &Aggregator{params: params}, nil
}

// Aggregate is shorthand for New(params) followed by Aggregate.
func Aggregate(zones []*model.Zone, params Params, elig Eligibility) ([]model.AggregatedZone, error) {
	a, err := New(params)
	if err != nil {
		return nil, err
	}
	return a.Aggregate(zones, elig)
}

func (a *Aggregator) Params() Params { return a.params }

// Weight returns the score contribution of one zone from tf (1 when unset).
func (a *Aggregator) Weight(tf string) float64 {
	if w, ok := a.params.TFWeights[tf]; ok {
		return w
	}
	return 1
}

// OverlapRatio is the intersection length over the shorter of the two intervals,
// 0 when they do not intersect.
func OverlapRatio(aLow, aHigh, bLow, bHigh float64) float64 {
	inter := math.Min(aHigh, bHigh) - math.Max(aLow, bLow)
	if inter <= 0 {
		return 0
	}
	aLen := math.Max(aHigh-aLow, minLength)
	bLen := math.Max(bHigh-bLow, minLength)
	return inter / math.Min(aLen, bLen)
}

// Gap is the distance between two intervals, 0 when they touch or overlap.
func Gap(aLow, aHigh, bLow, bHigh float64) float64 {
	switch {
	case aLow > bHigh:
		return aLow - bHigh
	case bLow > aHigh:
		return bLow - aHigh
	}
	return 0
}

type cluster struct {
	low, high float64
	members   []*model.Zone
}

// joins reports whether z belongs in c: enough overlap with the envelope, or a
// gap no wider than merge_gap. With merge_gap 0 only touching edges pass the gap
// test; a thin overlap still has to meet the ratio.
func (a *Aggregator) joins(c *cluster, z *model.Zone) bool {
	if OverlapRatio(z.Low, z.High, c.low, c.high) >= a.params.OverlapMinRatio {
		return true
	}
	if Gap(z.Low, z.High, c.low, c.high) > a.params.MergeGap {
		return false
	}
	return a.params.MergeGap > 0 || math.Min(z.High, c.high) <= math.Max(z.Low, c.low)
}

// Aggregate clusters the eligible zones and returns the clusters by score, then
// width, descending. The input slice is not reordered. Any invalid zone fails the
// whole call.
func (a *Aggregator) Aggregate(zones []*model.Zone, elig Eligibility) ([]model.AggregatedZone, error) {
	eligible := make([]*model.Zone, 0, len(zones))
	for i, z := range zones {
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("aggregate zone %d: %w", i, err)
		}
		if elig.admits(z) {
			eligible = append(eligible, z)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		x, y := eligible[i], eligible[j]
		if x.Low != y.Low {
			return x.Low < y.Low
		}
		if x.High != y.High {
			return x.High < y.High
		}
		if x.SourceTimeframe != y.SourceTimeframe {
			return x.SourceTimeframe < y.SourceTimeframe
		}
		return x.ID < y.ID
	})

	var clusters []*cluster
	for _, z := range eligible {
		placed := false
		for _, c := range clusters {
			if a.joins(c, z) {
				c.members = append(c.members, z)
				c.low = math.Min(c.low, z.Low)
				c.high = math.Max(c.high, z.High)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{low: z.Low, high: z.High, members: []*model.Zone{z}})
		}
	}

	out := make([]model.AggregatedZone, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, a.summarize(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Width() > out[j].Width()
	})
	return out, nil
}

func (a *Aggregator) summarize(c *cluster) model.AggregatedZone {
	agg := model.AggregatedZone{
		Low:             c.low,
		High:            c.high,
		Contributors:    make([]model.Contributor, 0, len(c.members)),
		TFCounts:        make(map[string]int),
		DirectionCounts: make(map[model.Direction]int),
	}
	var end time.Time
	open := false
	for i, z := range c.members {
		tf := z.SourceTimeframe
		if tf == "" {
			tf = model.UnknownTimeframe
		}
		agg.TFCounts[tf]++
		agg.DirectionCounts[z.Direction]++
		agg.Score += a.Weight(tf)

		if z.State == model.Active {
			agg.ActiveCount++
			agg.ActiveMitigation += z.MitigationScore
		} else {
			agg.InvalidatedCount++
		}

		if i == 0 || z.StartTime.Before(agg.StartTime) {
			agg.StartTime = z.StartTime
		}
		if z.EndTime == nil {
			open = true
		} else if z.EndTime.After(end) {
			end = *z.EndTime
		}

		agg.Contributors = append(agg.Contributors, model.Contributor{
			ID:              z.ID,
			Kind:            z.Kind,
			Timeframe:       tf,
			Direction:       z.Direction,
			State:           z.State,
			Low:             z.Low,
			High:            z.High,
			MitigationCount: z.MitigationCount,
		})
	}
	if !open {
		agg.EndTime = &end
	}
	return agg
}

// ZonesAtPrice filters aggregated zones to those containing price, keeping order.
func ZonesAtPrice(zones []model.AggregatedZone, price float64) []model.AggregatedZone {
	var out []model.AggregatedZone
	for i := range zones {
		if zones[i].Contains(price) {
			out = append(out, zones[i])
		}
	}
	return out
}
