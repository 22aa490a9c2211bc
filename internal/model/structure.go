package model

import "time"

// StructureBreak marks the first candle that broke a swing level (break of structure).
// A broken swing high is a bullish break, a broken swing low a bearish one.
type StructureBreak struct {
	ID              string    `json:"id"`
	Direction       Direction `json:"direction"`
	Symbol          string    `json:"symbol,omitempty"`
	SourceTimeframe string    `json:"source_tf"`
	Price           float64   `json:"price"`
	SwingIndex      int       `json:"swing_index"`
	SwingTime       time.Time `json:"swing_time"`
	BreakIndex      int       `json:"break_index"`
	BreakTime       time.Time `json:"break_time"`
	Validation      string    `json:"validation"`
}
