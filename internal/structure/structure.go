// Package structure detects breaks of structure: the first candle after a swing
// that trades (wick) or closes through the swing price.
package structure

import (
	"fmt"
	"log/slog"

	"zonetracker/internal/model"
	"zonetracker/internal/swing"
)

// Break validation modes.
const (
	ByWick  = "wick"
	ByClose = "close"
)

// Params configures a Detector.
type Params struct {
	SwingPeriod       int    `yaml:"swing_period" mapstructure:"swing_period" json:"swing_period" default:"5" validate:"min=1"`
	BreakValidation   string `yaml:"break_validation" mapstructure:"break_validation" json:"break_validation" default:"wick" validate:"oneof=wick close"`
	WickCountRequired int    `yaml:"wick_count_required" mapstructure:"wick_count_required" json:"wick_count_required" default:"1" validate:"min=1"`
}

// DefaultParams returns the stock settings.
func DefaultParams() Params {
	return Params{SwingPeriod: 5, BreakValidation: ByWick, WickCountRequired: 1}
}

func (p Params) Validate() error {
	switch {
	case p.SwingPeriod < 1:
		return fmt.Errorf("%w: swing_period %d < 1", model.ErrInvalidParam, p.SwingPeriod)
	case p.BreakValidation != ByWick && p.BreakValidation != ByClose:
		return fmt.Errorf("%w: break_validation %q", model.ErrInvalidParam, p.BreakValidation)
	case p.WickCountRequired < 1:
		return fmt.Errorf("%w: wick_count_required %d < 1", model.ErrInvalidParam, p.WickCountRequired)
	}
	return nil
}

// Detector finds structure breaks on one timeframe.
type Detector struct {
	tf     string
	params Params
	log    *slog.Logger

	Symbol string
}

func NewDetector(tf string, params Params, log *slog.Logger) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		tf:     tf,
		params: params,
		log:    log.With(slog.String("component", "structure"), slog.String("tf", tf)),
	}, nil
}

// Detect returns bullish breaks (swing highs taken out) followed by bearish
// breaks (swing lows taken out), each in swing order. Only swings with a full
// window on both sides are considered; swings never broken are omitted.
func (d *Detector) Detect(candles []model.Candle) ([]model.StructureBreak, error) {
	n := d.params.SwingPeriod
	highs, lows, err := swing.FindSwings(candles, n)
	if err != nil {
		return nil, fmt.Errorf("structure %s: %w", d.tf, err)
	}

	var out []model.StructureBreak
	for _, p := range highs {
		if p.Index < n || p.Index >= len(candles)-n {
			continue
		}
		if at, ok := d.breakAt(candles, p, true); ok {
			out = append(out, d.newBreak(candles, p, at, model.Bullish))
		}
	}
	for _, p := range lows {
		if p.Index < n || p.Index >= len(candles)-n {
			continue
		}
		if at, ok := d.breakAt(candles, p, false); ok {
			out = append(out, d.newBreak(candles, p, at, model.Bearish))
		}
	}
	d.log.Debug("structure breaks", slog.Int("swing_highs", len(highs)), slog.Int("swing_lows", len(lows)),
		slog.Int("breaks", len(out)))
	return out, nil
}

func (d *Detector) breakAt(candles []model.Candle, p swing.Pivot, up bool) (int, bool) {
	wicks := 0
	for i := p.Index + 1; i < len(candles); i++ {
		c := &candles[i]
		if d.params.BreakValidation == ByClose {
			if (up && c.Close > p.Price) || (!up && c.Close < p.Price) {
				return i, true
			}
			continue
		}
		if (up && c.High > p.Price) || (!up && c.Low < p.Price) {
			wicks++
			if wicks >= d.params.WickCountRequired {
				return i, true
			}
		}
	}
	return 0, false
}

func (d *Detector) newBreak(candles []model.Candle, p swing.Pivot, at int, dir model.Direction) model.StructureBreak {
	return model.StructureBreak{
		ID:              "bos_" + string(dir) + "_" + model.Itoa(p.Index),
		Direction:       dir,
		Symbol:          d.Symbol,
		SourceTimeframe: d.tf,
		Price:           p.Price,
		SwingIndex:      p.Index,
		SwingTime:       p.TS,
		BreakIndex:      at,
		BreakTime:       candles[at].TS,
		Validation:      d.params.BreakValidation,
	}
}
