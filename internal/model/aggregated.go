package model

import "time"

// UnknownTimeframe is the tally key for zones without a source timeframe.
const UnknownTimeframe = "UNKNOWN"

// Contributor identifies a source zone inside an AggregatedZone. It is a copy
// of the fields consumers need, not a handle on the zone itself.
type Contributor struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Timeframe       string    `json:"tf"`
	Direction       Direction `json:"direction"`
	State           State     `json:"state"`
	Low             float64   `json:"low"`
	High            float64   `json:"high"`
	MitigationCount int       `json:"mitigation_count"`
}

// AggregatedZone is a cluster of overlapping zones from one or more timeframes.
// It is recomputed on every aggregation and never persisted.
type AggregatedZone struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Score float64 `json:"score"`

	Contributors    []Contributor     `json:"contributors"`
	TFCounts        map[string]int    `json:"tf_counts"`
	DirectionCounts map[Direction]int `json:"direction_counts"`

	ActiveCount      int     `json:"active_count"`
	InvalidatedCount int     `json:"invalidated_count"`
	ActiveMitigation float64 `json:"active_mitigation"` // summed score of active contributors

	StartTime time.Time  `json:"t_start"`         // earliest contributor start
	EndTime   *time.Time `json:"t_end,omitempty"` // latest end, nil while any contributor is open-ended
}

// Contains reports Low <= price <= High.
func (a *AggregatedZone) Contains(price float64) bool {
	return a.Low <= price && price <= a.High
}

// Width returns High - Low.
func (a *AggregatedZone) Width() float64 { return a.High - a.Low }

// Dominant returns the direction with the most contributors, or "" on a tie.
func (a *AggregatedZone) Dominant() Direction {
	bull, bear := a.DirectionCounts[Bullish], a.DirectionCounts[Bearish]
	switch {
	case bull > bear:
		return Bullish
	case bear > bull:
		return Bearish
	}
	return ""
}
