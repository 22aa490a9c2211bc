// Package resample builds higher-timeframe candles from a base series.
// Candles are grouped into buckets aligned on the target duration
// (bucket start = ts - ts%tf, in Unix seconds) and merged OHLCV-wise.
// The last bucket is emitted even if the base series ends mid-bucket.
package resample

import (
	"fmt"
	"time"

	"zonetracker/internal/model"
)

// Builder resamples a time-ordered base series into one target timeframe.
// It is incremental: Push candles in order, then Flush the forming bucket.
// Single-goroutine use only.
type Builder struct {
	tf      int64 // target duration in seconds
	bucket  int64
	candle  model.Candle
	started bool
	out     []model.Candle

	// Candles whose bucket is behind the forming one are dropped.
	OnStaleCandle func(c model.Candle) // optional
	// OnCandle is called for every completed bucket (optional).
	OnCandle func(c model.Candle)
}

// New creates a builder for the target duration, which must be a whole number of seconds.
func New(tf time.Duration) (*Builder, error) {
	if tf < time.Second || tf%time.Second != 0 {
		return nil, fmt.Errorf("%w: resample duration %s", model.ErrInvalidParam, tf)
	}
	return &Builder{tf: int64(tf / time.Second)}, nil
}

// Push folds one base candle into the forming bucket, completing the previous
// bucket when c opens a new one.
func (b *Builder) Push(c model.Candle) {
	ts := c.TS.Unix()
	bucket := ts - (ts % b.tf) // align to TF boundary

	if b.started && bucket < b.bucket {
		if b.OnStaleCandle != nil {
			b.OnStaleCandle(c)
		}
		return
	}

	if b.started && bucket > b.bucket {
		b.emit()
	}

	if !b.started {
		// Start a new forming candle for this bucket
		b.bucket = bucket
		b.started = true
		b.candle = model.Candle{
			TS:     time.Unix(bucket, 0).UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
		return
	}

	// Update the forming candle
	if c.High > b.candle.High {
		b.candle.High = c.High
	}
	if c.Low < b.candle.Low {
		b.candle.Low = c.Low
	}
	b.candle.Close = c.Close
	b.candle.Volume += c.Volume
}

func (b *Builder) emit() {
	b.out = append(b.out, b.candle)
	if b.OnCandle != nil {
		b.OnCandle(b.candle)
	}
	b.started = false
}

// Flush completes the forming bucket, if any, and returns every candle built
// since the previous Flush.
func (b *Builder) Flush() []model.Candle {
	if b.started {
		b.emit()
	}
	out := b.out
	b.out = nil
	return out
}

// Resample converts base into tf candles.
func Resample(base []model.Candle, tf time.Duration) ([]model.Candle, error) {
	b, err := New(tf)
	if err != nil {
		return nil, err
	}
	for _, c := range base {
		b.Push(c)
	}
	return b.Flush(), nil
}

// ToTimeframe resamples base into the timeframe named by label ("H1", ...).
// The base series must not be coarser than the target.
func ToTimeframe(base []model.Candle, baseLabel, label string) ([]model.Candle, error) {
	from, err := model.TimeframeDuration(baseLabel)
	if err != nil {
		return nil, err
	}
	to, err := model.TimeframeDuration(label)
	if err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("%w: cannot resample %s down to %s", model.ErrInvalidParam, baseLabel, label)
	}
	if to == from {
		return append([]model.Candle(nil), base...), nil
	}
	return Resample(base, to)
}
