package zone

import (
	"sort"

	"zonetracker/internal/model"
)

// Invalidation reasons recorded on order-block zones.
const (
	ReasonCloseBelowLow  = "close_below_low"
	ReasonCloseAboveHigh = "close_above_high"
)

// Walk advances z over candles[from:], counting wick touches as mitigation and
// invalidating on the first close through the far boundary. A touching candle
// that also closes through is counted before the zone is invalidated.
// Returns true if the zone was invalidated.
func Walk(z *model.Zone, candles []model.Candle, from int) bool {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(candles) && z.State == model.Active; i++ {
		c := &candles[i]
		if c.Overlaps(z.Low, z.High) {
			z.Mitigate(i)
		}
		switch z.Direction {
		case model.Bullish:
			if c.Close < z.Low {
				z.Invalidate(i, c.TS, ReasonCloseBelowLow)
			}
		case model.Bearish:
			if c.Close > z.High {
				z.Invalidate(i, c.TS, ReasonCloseAboveHigh)
			}
		}
	}
	return z.State == model.Invalidated
}

// HistoryCap is the number of invalidated zones Retain keeps alongside cap active ones.
func HistoryCap(cap int) int {
	if h := cap / 3; h > 3 {
		return h
	}
	return 3
}

// Retain applies the two-tier retention policy: up to cap Active zones, least
// mitigated first with the most recent origin breaking ties, followed by up to
// HistoryCap(cap) of the most recently invalidated zones.
// The input slice is not modified.
func Retain(zones []*model.Zone, cap int) []*model.Zone {
	var active, invalidated []*model.Zone
	for _, z := range zones {
		if z.State == model.Active {
			active = append(active, z)
		} else {
			invalidated = append(invalidated, z)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.MitigationScore != b.MitigationScore {
			return a.MitigationScore < b.MitigationScore
		}
		return a.OriginIndex > b.OriginIndex
	})
	sort.SliceStable(invalidated, func(i, j int) bool {
		a, b := invalidated[i], invalidated[j]
		ai, bi := invalidationIndex(a), invalidationIndex(b)
		if ai != bi {
			return ai > bi
		}
		return a.OriginIndex > b.OriginIndex
	})

	if cap < 0 {
		cap = 0
	}
	if len(active) > cap {
		active = active[:cap]
	}
	if h := HistoryCap(cap); len(invalidated) > h {
		invalidated = invalidated[:h]
	}

	out := make([]*model.Zone, 0, len(active)+len(invalidated))
	out = append(out, active...)
	return append(out, invalidated...)
}

func invalidationIndex(z *model.Zone) int {
	if z.InvalidationIndex == nil {
		return -1
	}
	return *z.InvalidationIndex
}

// Summary describes one detector run over the retained zones.
type Summary struct {
	Timeframe     string  `json:"tf"`
	Candles       int     `json:"candles"`
	Created       int     `json:"created"`
	Total         int     `json:"total_zones"`
	Active        int     `json:"active_zones"`
	Invalidated   int     `json:"invalidated_zones"`
	Bullish       int     `json:"bullish_zones"`
	Bearish       int     `json:"bearish_zones"`
	AvgMitigation float64 `json:"avg_mitigation_score"`
	AnchorMisses  int     `json:"anchor_misses"`
	SmallBodies   int     `json:"small_bodies"`
	Duplicates    int     `json:"duplicates"`
	Expired       int     `json:"expired"`
}

func (s *Summary) tally(zones []*model.Zone) {
	s.Total = len(zones)
	s.Active, s.Invalidated, s.Bullish, s.Bearish = 0, 0, 0, 0
	var sum float64
	for _, z := range zones {
		if z.State == model.Active {
			s.Active++
		} else {
			s.Invalidated++
		}
		if z.Direction == model.Bullish {
			s.Bullish++
		} else {
			s.Bearish++
		}
		sum += z.MitigationScore
	}
	n := len(zones)
	if n == 0 {
		n = 1
	}
	s.AvgMitigation = float64(int(sum/float64(n)*100+0.5)) / 100
}

// Result is the output of one detector run. Zones are owned by the detector's
// registry and stay valid until the next Detect call.
type Result struct {
	Zones   []*model.Zone `json:"zones"`
	Summary Summary       `json:"summary"`
}
