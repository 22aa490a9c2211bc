package indicator

// EMA calculates an Exponential Moving Average with alpha = 2/(span+1).
// The first value seeds the average (no SMA warm-up), so it is Ready after one update.
// O(1) per update, no window storage.
type EMA struct {
	span       int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(span int) *EMA {
	if span < 1 {
		span = 1
	}
	return &EMA{
		span:       span,
		multiplier: 2.0 / float64(span+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(v float64) {
	e.count++
	if e.count == 1 {
		e.current = v
		return
	}
	// EMA = (v * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= 1 }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
