package model

import (
	"fmt"
	"math"
	"time"
)

// Direction is the bias of a zone: demand below price (bullish) or supply above (bearish).
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool { return d == Bullish || d == Bearish }

// State is the lifecycle state of a zone. The only transition is Active → Invalidated.
type State string

const (
	Active      State = "active"
	Invalidated State = "invalidated"
)

// Kind names the detector family that produced a zone.
type Kind string

const (
	KindOrderBlock Kind = "order_block"
	KindLiquidity  Kind = "liquidity"
)

// MitigationWeight is the score added per mitigation touch.
const MitigationWeight = 0.2

// Zone is a price interval anchored to an origin candle.
//
// Zones carry no detection logic; the lifecycle manager mutates them only through
// Mitigate and Invalidate, which enforce the monotonic-state invariant.
type Zone struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Direction       Direction `json:"direction"`
	State           State     `json:"state"`
	Symbol          string    `json:"symbol,omitempty"`
	SourceTimeframe string    `json:"source_tf"`

	Low  float64 `json:"low"`
	High float64 `json:"high"`

	OriginIndex int        `json:"origin_index"`
	StartTime   time.Time  `json:"t_start"`
	EndTime     *time.Time `json:"t_end,omitempty"` // invalidation candle time

	InvalidationIndex  *int   `json:"invalidation_index,omitempty"`
	InvalidationReason string `json:"invalidation_reason,omitempty"`

	MitigationCount     int     `json:"mitigation_count"`
	MitigationScore     float64 `json:"mitigation_score"`
	LastMitigationIndex *int    `json:"last_mitigation_index,omitempty"`

	// Detector metadata; free to change at any time.
	ImbalanceEnd int     `json:"imbalance_end,omitempty"`
	BodySize     float64 `json:"body_size,omitempty"`
}

// NewZone builds an Active zone. Bounds are normalised so that Low <= High.
func NewZone(id string, kind Kind, dir Direction, low, high float64, originIndex int, start time.Time) *Zone {
	if low > high {
		low, high = high, low
	}
	return &Zone{
		ID:          id,
		Kind:        kind,
		Direction:   dir,
		State:       Active,
		Low:         low,
		High:        high,
		OriginIndex: originIndex,
		StartTime:   start,
	}
}

// Validate checks the structural invariants of the zone.
func (z *Zone) Validate() error {
	if z == nil {
		return fmt.Errorf("%w: nil zone", ErrInvalidZone)
	}
	if z.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidZone)
	}
	if math.IsNaN(z.Low) || math.IsNaN(z.High) || math.IsInf(z.Low, 0) || math.IsInf(z.High, 0) {
		return fmt.Errorf("%w: %s has non-finite bounds", ErrInvalidZone, z.ID)
	}
	if z.Low > z.High {
		return fmt.Errorf("%w: %s low %.5f above high %.5f", ErrInvalidZone, z.ID, z.Low, z.High)
	}
	if !z.Direction.Valid() {
		return fmt.Errorf("%w: %s has direction %q", ErrInvalidZone, z.ID, z.Direction)
	}
	switch z.State {
	case Active:
	case Invalidated:
		if z.InvalidationIndex == nil {
			return fmt.Errorf("%w: %s invalidated without index", ErrInvalidZone, z.ID)
		}
	default:
		return fmt.Errorf("%w: %s has state %q", ErrInvalidZone, z.ID, z.State)
	}
	if z.MitigationCount < 0 {
		return fmt.Errorf("%w: %s negative mitigation count", ErrInvalidZone, z.ID)
	}
	return nil
}

// Tradeable reports whether strategies may still act on the zone.
func (z *Zone) Tradeable() bool { return z.State == Active }

// Visible reports whether the zone is drawn at bar i: from its origin candle up to and
// including the invalidation candle, open-ended while Active.
func (z *Zone) Visible(i int) bool {
	if i < z.OriginIndex {
		return false
	}
	return z.InvalidationIndex == nil || i <= *z.InvalidationIndex
}

// ActiveAt reports whether the zone is live at t. Open-ended zones must still be Active;
// zones with a fixed end are live for t within [StartTime, EndTime].
func (z *Zone) ActiveAt(t time.Time) bool {
	if t.Before(z.StartTime) {
		return false
	}
	if z.EndTime != nil {
		return !t.After(*z.EndTime)
	}
	return z.State == Active
}

// Contains reports Low <= price <= High.
func (z *Zone) Contains(price float64) bool {
	return z.Low <= price && price <= z.High
}

// DistanceTo returns 0 inside the zone, otherwise the gap to the nearer edge.
func (z *Zone) DistanceTo(price float64) float64 {
	switch {
	case price < z.Low:
		return z.Low - price
	case price > z.High:
		return price - z.High
	default:
		return 0
	}
}

// Width returns High - Low.
func (z *Zone) Width() float64 { return z.High - z.Low }

// Mitigate records a touch at candle i. It is a no-op once the zone is invalidated.
func (z *Zone) Mitigate(i int) bool {
	if z.State != Active {
		return false
	}
	z.MitigationCount++
	z.MitigationScore = float64(z.MitigationCount) * MitigationWeight
	idx := i
	z.LastMitigationIndex = &idx
	return true
}

// Invalidate moves the zone to Invalidated at candle i. Returns false if it already was.
func (z *Zone) Invalidate(i int, ts time.Time, reason string) bool {
	if z.State != Active {
		return false
	}
	idx := i
	end := ts
	z.State = Invalidated
	z.InvalidationIndex = &idx
	z.EndTime = &end
	z.InvalidationReason = reason
	return true
}

// Clone returns a deep copy; optional fields do not alias the original.
func (z *Zone) Clone() *Zone {
	c := *z
	if z.EndTime != nil {
		t := *z.EndTime
		c.EndTime = &t
	}
	if z.InvalidationIndex != nil {
		i := *z.InvalidationIndex
		c.InvalidationIndex = &i
	}
	if z.LastMitigationIndex != nil {
		i := *z.LastMitigationIndex
		c.LastMitigationIndex = &i
	}
	return &c
}
