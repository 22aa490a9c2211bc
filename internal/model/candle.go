package model

import (
	"fmt"
	"math"
	"time"
)

// Candle represents one OHLC bar of a time-ordered series.
// Within one run the 0-based position of a candle in its series is its identity;
// zones refer to candles by that index.
type Candle struct {
	TS     time.Time `json:"ts"`               // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"` // optional, 0 when the feed has none
}

// Bullish reports a green candle (close above open).
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports a red candle (close below open).
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// Body returns |close - open|.
func (c *Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

// Overlaps reports whether the candle's wick range [Low, High] intersects [low, high].
// Touching edges count as overlap.
func (c *Candle) Overlaps(low, high float64) bool {
	return c.High >= low && c.Low <= high
}

// Validate checks the OHLC shape of a single candle.
func (c *Candle) Validate() error {
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite price at %s", ErrInvalidCandle, c.TS.Format(time.RFC3339))
		}
	}
	if c.TS.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidCandle)
	}
	if c.Low > c.High {
		return fmt.Errorf("%w: low %.5f above high %.5f at %s", ErrInvalidCandle, c.Low, c.High, c.TS.Format(time.RFC3339))
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("%w: open/close outside [low, high] at %s", ErrInvalidCandle, c.TS.Format(time.RFC3339))
	}
	return nil
}
