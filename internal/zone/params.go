package zone

import (
	"fmt"

	"zonetracker/internal/model"
)

// OrderBlockParams configures an OrderBlockDetector.
// Struct tags drive YAML/map decoding, defaults and validation in the config package.
type OrderBlockParams struct {
	SwingLength        int     `yaml:"swing_length" mapstructure:"swing_length" json:"swing_length" default:"10" validate:"min=1"`
	MinBodySize        float64 `yaml:"min_body_size" mapstructure:"min_body_size" json:"min_body_size" default:"2.0" validate:"gte=0"`
	ImbalanceBars      int     `yaml:"imbalance_bars" mapstructure:"imbalance_bars" json:"imbalance_bars" default:"3" validate:"min=2"`
	MaxZones           int     `yaml:"max_zones" mapstructure:"max_zones" json:"max_zones" default:"15" validate:"min=1"`
	SkipImpulseCandles int     `yaml:"skip_impulse_candles" mapstructure:"skip_impulse_candles" json:"skip_impulse_candles" default:"2" validate:"min=0"`
}

// DefaultOrderBlockParams returns the stock order-block settings.
func DefaultOrderBlockParams() OrderBlockParams {
	return OrderBlockParams{
		SwingLength:        10,
		MinBodySize:        2.0,
		ImbalanceBars:      3,
		MaxZones:           15,
		SkipImpulseCandles: 2,
	}
}

// Validate rejects settings the detector cannot run with.
func (p OrderBlockParams) Validate() error {
	switch {
	case p.SwingLength < 1:
		return fmt.Errorf("%w: swing_length %d < 1", model.ErrInvalidParam, p.SwingLength)
	case p.MinBodySize < 0:
		return fmt.Errorf("%w: min_body_size %.5f < 0", model.ErrInvalidParam, p.MinBodySize)
	case p.ImbalanceBars < 2:
		return fmt.Errorf("%w: imbalance_bars %d < 2", model.ErrInvalidParam, p.ImbalanceBars)
	case p.MaxZones < 1:
		return fmt.Errorf("%w: max_zones %d < 1", model.ErrInvalidParam, p.MaxZones)
	case p.SkipImpulseCandles < 0:
		return fmt.Errorf("%w: skip_impulse_candles %d < 0", model.ErrInvalidParam, p.SkipImpulseCandles)
	}
	return nil
}

// Sweep modes for liquidity zones.
const (
	SweepBody = "body" // close through the level
	SweepWick = "wick" // any wick through the level
)

// LiquidityParams configures a LiquidityDetector (equal highs / equal lows).
type LiquidityParams struct {
	Tolerance      float64 `yaml:"tolerance" mapstructure:"tolerance" json:"tolerance" default:"0.05" validate:"gt=0"`
	UseRSIFilter   bool    `yaml:"use_rsi_filter" mapstructure:"use_rsi_filter" json:"use_rsi_filter" default:"true"`
	RSIPeriod      int     `yaml:"rsi_period" mapstructure:"rsi_period" json:"rsi_period" default:"14" validate:"min=1"`
	RSIThreshold   float64 `yaml:"rsi_threshold" mapstructure:"rsi_threshold" json:"rsi_threshold" default:"5" validate:"gte=0,lte=50"`
	VarianceSpan   int     `yaml:"variance_span" mapstructure:"variance_span" json:"variance_span" default:"500" validate:"min=1"`
	MaxZoneAge     int     `yaml:"max_zone_age" mapstructure:"max_zone_age" json:"max_zone_age" default:"1000" validate:"min=1"`
	SweepType      string  `yaml:"sweep_type" mapstructure:"sweep_type" json:"sweep_type" default:"body" validate:"oneof=body wick"`
	AllowRejection bool    `yaml:"allow_rejection" mapstructure:"allow_rejection" json:"allow_rejection"`
}

// DefaultLiquidityParams returns the stock EQH/EQL settings.
func DefaultLiquidityParams() LiquidityParams {
	return LiquidityParams{
		Tolerance:    0.05,
		UseRSIFilter: true,
		RSIPeriod:    14,
		RSIThreshold: 5,
		VarianceSpan: 500,
		MaxZoneAge:   1000,
		SweepType:    SweepBody,
	}
}

func (p LiquidityParams) Validate() error {
	switch {
	case p.Tolerance <= 0:
		return fmt.Errorf("%w: tolerance %.5f <= 0", model.ErrInvalidParam, p.Tolerance)
	case p.RSIPeriod < 1:
		return fmt.Errorf("%w: rsi_period %d < 1", model.ErrInvalidParam, p.RSIPeriod)
	case p.RSIThreshold < 0 || p.RSIThreshold > 50:
		return fmt.Errorf("%w: rsi_threshold %.2f outside [0, 50]", model.ErrInvalidParam, p.RSIThreshold)
	case p.VarianceSpan < 1:
		return fmt.Errorf("%w: variance_span %d < 1", model.ErrInvalidParam, p.VarianceSpan)
	case p.MaxZoneAge < 1:
		return fmt.Errorf("%w: max_zone_age %d < 1", model.ErrInvalidParam, p.MaxZoneAge)
	case p.SweepType != SweepBody && p.SweepType != SweepWick:
		return fmt.Errorf("%w: sweep_type %q", model.ErrInvalidParam, p.SweepType)
	}
	return nil
}
