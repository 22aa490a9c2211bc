// Package swing scans a candle series for pivot extremes and three-candle imbalances.
//
// Everything here is a pure function over an already materialised series: no state
// is retained between calls and the input is never mutated.
package swing

import (
	"fmt"
	"time"

	"zonetracker/internal/model"
)

// Pivot is a local extreme: a swing high (Price = candle high) or swing low (Price = candle low).
type Pivot struct {
	Index int       `json:"index"`
	Price float64   `json:"price"`
	TS    time.Time `json:"ts"`
}

// Imbalance is a run of candles whose first and last candle leave a price gap
// (a fair value gap when the run is three candles long).
type Imbalance struct {
	Start     int             `json:"start"`
	End       int             `json:"end"`
	Direction model.Direction `json:"direction"`
	GapLow    float64         `json:"gap_low"`
	GapHigh   float64         `json:"gap_high"`
}

// Validate checks every candle's OHLC shape and that timestamps strictly increase.
func Validate(candles []model.Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && !candles[i].TS.After(candles[i-1].TS) {
			return fmt.Errorf("%w: candle %d at %s not after %s", model.ErrNonMonotonicTime,
				i, candles[i].TS.Format(time.RFC3339), candles[i-1].TS.Format(time.RFC3339))
		}
	}
	return nil
}

// FindSwings returns swing highs and swing lows in index order.
//
// Candle i is a swing high iff its high is the maximum over [i-window, i+window]
// (clipped to the series). On equal highs the first occurrence wins: a later candle
// with the same high inside the window is not flagged. Swing lows are symmetric.
// A series shorter than 2*window+1 yields no swings.
func FindSwings(candles []model.Candle, window int) (highs, lows []Pivot, err error) {
	if window < 1 {
		return nil, nil, fmt.Errorf("%w: swing window %d < 1", model.ErrInvalidParam, window)
	}
	if err := Validate(candles); err != nil {
		return nil, nil, err
	}
	if len(candles) < 2*window+1 {
		return nil, nil, nil
	}

	for i := range candles {
		if IsSwingHigh(candles, i, window) {
			highs = append(highs, Pivot{Index: i, Price: candles[i].High, TS: candles[i].TS})
		}
		if IsSwingLow(candles, i, window) {
			lows = append(lows, Pivot{Index: i, Price: candles[i].Low, TS: candles[i].TS})
		}
	}
	return highs, lows, nil
}

// IsSwingHigh applies the swing-high rule of FindSwings to a single index.
// It does not validate the series.
func IsSwingHigh(candles []model.Candle, i, window int) bool {
	lo, hi := bounds(len(candles), i, window)
	h := candles[i].High
	for j := lo; j < i; j++ {
		if candles[j].High >= h {
			return false
		}
	}
	for j := i + 1; j <= hi; j++ {
		if candles[j].High > h {
			return false
		}
	}
	return true
}

// IsSwingLow applies the swing-low rule of FindSwings to a single index.
func IsSwingLow(candles []model.Candle, i, window int) bool {
	lo, hi := bounds(len(candles), i, window)
	l := candles[i].Low
	for j := lo; j < i; j++ {
		if candles[j].Low <= l {
			return false
		}
	}
	for j := i + 1; j <= hi; j++ {
		if candles[j].Low < l {
			return false
		}
	}
	return true
}

// FindImbalance tests the run of runLength candles starting at start.
// Bullish: the last candle's low is above the first candle's high.
// Bearish: the last candle's high is below the first candle's low.
// ok is false when there is no gap or the run does not fit in the series.
func FindImbalance(candles []model.Candle, start, runLength int) (imb Imbalance, ok bool, err error) {
	if runLength < 2 {
		return Imbalance{}, false, fmt.Errorf("%w: imbalance run length %d < 2", model.ErrInvalidParam, runLength)
	}
	if start < 0 {
		return Imbalance{}, false, fmt.Errorf("%w: negative start index %d", model.ErrInvalidParam, start)
	}
	end := start + runLength - 1
	if end >= len(candles) {
		return Imbalance{}, false, nil
	}

	first, last := candles[start], candles[end]
	switch {
	case last.Low > first.High:
		return Imbalance{Start: start, End: end, Direction: model.Bullish, GapLow: first.High, GapHigh: last.Low}, true, nil
	case last.High < first.Low:
		return Imbalance{Start: start, End: end, Direction: model.Bearish, GapLow: last.High, GapHigh: first.Low}, true, nil
	}
	return Imbalance{}, false, nil
}

// FindImbalances scans every start index and returns all imbalance runs in order.
func FindImbalances(candles []model.Candle, runLength int) ([]Imbalance, error) {
	if err := Validate(candles); err != nil {
		return nil, err
	}
	var out []Imbalance
	for i := range candles {
		imb, ok, err := FindImbalance(candles, i, runLength)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, imb)
		}
	}
	return out, nil
}

func bounds(n, i, window int) (lo, hi int) {
	lo = i - window
	if lo < 0 {
		lo = 0
	}
	hi = i + window
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}
