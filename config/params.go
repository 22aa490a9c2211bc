package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"

	"zonetracker/internal/model"
	"zonetracker/internal/mtf"
	"zonetracker/internal/structure"
	"zonetracker/internal/tracker"
	"zonetracker/internal/zone"
)

// Detector parameters also arrive as flat key/value maps, typically parsed from
// query strings or chart settings where every value is a string. The *FromMap
// helpers coerce those values, fill in defaults for missing keys and reject
// values the detectors cannot run with. Keys that match no field are ignored.

// OrderBlockParamsFromMap decodes order-block settings.
func OrderBlockParamsFromMap(m map[string]any) (zone.OrderBlockParams, error) {
	var p zone.OrderBlockParams
	if err := fromMap(m, &p); err != nil {
		return zone.OrderBlockParams{}, err
	}
	return p, p.Validate()
}

// LiquidityParamsFromMap decodes EQH/EQL settings.
func LiquidityParamsFromMap(m map[string]any) (zone.LiquidityParams, error) {
	var p zone.LiquidityParams
	if err := fromMap(m, &p); err != nil {
		return zone.LiquidityParams{}, err
	}
	return p, p.Validate()
}

// StructureParamsFromMap decodes break-of-structure settings.
func StructureParamsFromMap(m map[string]any) (structure.Params, error) {
	var p structure.Params
	if err := fromMap(m, &p); err != nil {
		return structure.Params{}, err
	}
	return p, p.Validate()
}

// AggregatorParamsFromMap decodes aggregator settings. tf_weights may be a
// nested map of timeframe to weight.
func AggregatorParamsFromMap(m map[string]any) (mtf.Params, error) {
	var p mtf.Params
	if err := fromMap(m, &p); err != nil {
		return mtf.Params{}, err
	}
	return p, p.Validate()
}

// TrackerConfigFromMap decodes tracker settings.
func TrackerConfigFromMap(m map[string]any) (tracker.Config, error) {
	var c tracker.Config
	if err := fromMap(m, &c); err != nil {
		return tracker.Config{}, err
	}
	return c, nil
}

// fromMap sets defaults first so keys present in m, including explicit false
// and zero values, win over them.
func fromMap(m map[string]any, out any) error {
	if err := defaults.Set(out); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
	}
	if err := validate.Struct(out); err != nil {
		return describe(err)
	}
	return nil
}
