package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe labels follow the MetaTrader convention ("M5", "H1", ...).
var timeframeDurations = map[string]time.Duration{
	"M1":  time.Minute,
	"M3":  3 * time.Minute,
	"M5":  5 * time.Minute,
	"M15": 15 * time.Minute,
	"M30": 30 * time.Minute,
	"H1":  time.Hour,
	"H4":  4 * time.Hour,
	"D1":  24 * time.Hour,
}

// IsTimeframe reports whether label is a known timeframe.
func IsTimeframe(label string) bool {
	_, ok := timeframeDurations[label]
	return ok
}

// TimeframeDuration returns the bar duration for a label such as "H1".
func TimeframeDuration(label string) (time.Duration, error) {
	d, ok := timeframeDurations[strings.ToUpper(strings.TrimSpace(label))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidParam, label)
	}
	return d, nil
}

// ParseTimeframe normalises a single label ("h1" → "H1").
func ParseTimeframe(label string) (string, error) {
	tf := strings.ToUpper(strings.TrimSpace(label))
	if !IsTimeframe(tf) {
		return "", fmt.Errorf("%w: unknown timeframe %q", ErrInvalidParam, label)
	}
	return tf, nil
}

// ParseTimeframes parses "M5,H1,H4" into normalised labels, preserving order
// and dropping duplicates.
func ParseTimeframes(s string) ([]string, error) {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !IsTimeframe(p) {
			return nil, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidParam, p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// SortTimeframes orders labels from the shortest to the longest bar duration.
// Unknown labels sort last, alphabetically.
func SortTimeframes(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		di, oki := timeframeDurations[labels[i]]
		dj, okj := timeframeDurations[labels[j]]
		switch {
		case oki && okj:
			return di < dj
		case oki != okj:
			return oki
		default:
			return labels[i] < labels[j]
		}
	})
}
