package model

import "errors"

// Sentinel errors shared by the zone packages. Wrap with fmt.Errorf("...: %w")
// so callers can test with errors.Is.
var (
	ErrInvalidCandle    = errors.New("invalid candle")
	ErrNonMonotonicTime = errors.New("candle timestamps not strictly increasing")
	ErrInvalidParam     = errors.New("invalid parameter")
	ErrInvalidZone      = errors.New("invalid zone")
	ErrDuplicateZoneID  = errors.New("duplicate zone id")
)
