package indicator

// RSI calculates the Relative Strength Index from simple rolling means of gains
// and losses over period deltas (no Wilder smoothing).
//
// The first value only seeds the previous close, so RSI is Ready after period+1 updates.
// When both averages are zero the RSI is undefined and Value returns 50.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gains     *SMA
	losses    *SMA
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{
		period: period,
		gains:  NewSMA(period),
		losses: NewSMA(period),
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(v float64) {
	r.count++
	if r.count == 1 {
		// First value: no delta yet
		r.prevClose = v
		return
	}

	delta := v - r.prevClose
	r.prevClose = v

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.Update(gain)
	r.losses.Update(loss)

	if !r.gains.Ready() {
		return
	}
	avgGain, avgLoss := r.gains.Value(), r.losses.Value()
	switch {
	case avgLoss == 0 && avgGain == 0:
		r.current = 50
	case avgLoss == 0:
		r.current = 100
	default:
		rs := avgGain / avgLoss
		r.current = 100.0 - (100.0 / (1.0 + rs))
	}
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }
