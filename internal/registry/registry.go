// Package registry stores the zones produced by one detector instance and answers
// the read queries strategies and renderers depend on: active at a time, containing
// a price, nearest to a price.
//
// Queries are linear scans in insertion order. A Registry is owned by a single
// caller and is not safe for concurrent use.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"zonetracker/internal/model"
)

// Side restricts Nearest to zones above or below a price.
type Side int

const (
	Any   Side = iota
	Above      // zone.Low > price
	Below      // zone.High < price
)

func (s Side) String() string {
	switch s {
	case Above:
		return "above"
	case Below:
		return "below"
	default:
		return "any"
	}
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Timeframe string
	Kind      model.Kind
}

func (f Filter) match(z *model.Zone) bool {
	if f.Timeframe != "" && z.SourceTimeframe != f.Timeframe {
		return false
	}
	if f.Kind != "" && z.Kind != f.Kind {
		return false
	}
	return true
}

// Counts is a state tally of the registry.
type Counts struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Invalidated int `json:"invalidated"`
}

// Registry is an append/query store of zones with its own id allocator.
type Registry struct {
	seed  int
	seq   int
	zones []*model.Zone
	index map[string]int
}

// New creates an empty registry whose ids start at 1.
func New() *Registry { return NewWithSeed(0) }

// NewWithSeed creates an empty registry whose first allocated id sequence is seed+1.
func NewWithSeed(seed int) *Registry {
	return &Registry{
		seed:  seed,
		seq:   seed,
		index: make(map[string]int),
	}
}

// NextID allocates the next id, formatted "{prefix}_{n}".
func (r *Registry) NextID(prefix string) string {
	r.seq++
	return model.ZoneID(prefix, r.seq)
}

// Add appends z. The zone must be valid and its id unused.
func (r *Registry) Add(z *model.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	if _, dup := r.index[z.ID]; dup {
		return fmt.Errorf("%w: %s", model.ErrDuplicateZoneID, z.ID)
	}
	r.index[z.ID] = len(r.zones)
	r.zones = append(r.zones, z)
	return nil
}

// Get looks a zone up by id.
func (r *Registry) Get(id string) (*model.Zone, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.zones[i], true
}

// ActiveAt returns zones live at t that match f, in insertion order.
func (r *Registry) ActiveAt(t time.Time, f Filter) []*model.Zone {
	var out []*model.Zone
	for _, z := range r.zones {
		if f.match(z) && z.ActiveAt(t) {
			out = append(out, z)
		}
	}
	return out
}

// Containing returns the zones of ActiveAt(t, f) whose range includes price.
func (r *Registry) Containing(price float64, t time.Time, f Filter) []*model.Zone {
	var out []*model.Zone
	for _, z := range r.ActiveAt(t, f) {
		if z.Contains(price) {
			out = append(out, z)
		}
	}
	return out
}

// Nearest returns the zone live at t closest to price on the requested side.
// Distance is 0 inside a zone, otherwise the gap to the nearer edge.
// Equidistant candidates resolve to the lowest id, see LessID.
func (r *Registry) Nearest(price float64, t time.Time, side Side, f Filter) (*model.Zone, bool) {
	var (
		best     *model.Zone
		bestDist float64
	)
	for _, z := range r.ActiveAt(t, f) {
		switch side {
		case Above:
			if z.Low <= price {
				continue
			}
		case Below:
			if z.High >= price {
				continue
			}
		}
		d := z.DistanceTo(price)
		if best == nil || d < bestDist || (d == bestDist && LessID(z.ID, best.ID)) {
			best, bestDist = z, d
		}
	}
	return best, best != nil
}

// LessID orders zone ids. Ids sharing a prefix with numeric sequence suffixes
// compare by sequence, so ob_M5_2 sorts before ob_M5_10. Anything else compares
// as plain strings.
func LessID(a, b string) bool {
	ap, an, aok := splitID(a)
	bp, bn, bok := splitID(b)
	if aok && bok && ap == bp && an != bn {
		return an < bn
	}
	return a < b
}

func splitID(id string) (prefix string, seq int, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}

// All returns every zone in insertion order. The slice is a copy; the zones are not.
func (r *Registry) All() []*model.Zone {
	out := make([]*model.Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// ByState returns the zones currently in state s.
func (r *Registry) ByState(s model.State) []*model.Zone {
	var out []*model.Zone
	for _, z := range r.zones {
		if z.State == s {
			out = append(out, z)
		}
	}
	return out
}

// Counts tallies zones by state.
func (r *Registry) Counts() Counts {
	c := Counts{Total: len(r.zones)}
	for _, z := range r.zones {
		if z.State == model.Active {
			c.Active++
		} else {
			c.Invalidated++
		}
	}
	return c
}

// Len returns the number of stored zones.
func (r *Registry) Len() int { return len(r.zones) }

// Clear drops every zone and rewinds the id allocator to its seed.
func (r *Registry) Clear() {
	r.zones = nil
	r.index = make(map[string]int)
	r.seq = r.seed
}
