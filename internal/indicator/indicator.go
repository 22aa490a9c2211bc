// Package indicator provides rolling technical series used by the zone detectors.
//
// All indicators implement the Indicator interface, receiving one value per bar
// and producing a float64. They are single-goroutine and O(1) per update.
package indicator

// Indicator is the interface for all rolling indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next bar's value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Series feeds values through ind and returns Value() after each update.
// Positions where the indicator is not Ready hold fallback.
func Series(ind Indicator, values []float64, fallback float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		} else {
			out[i] = fallback
		}
	}
	return out
}
