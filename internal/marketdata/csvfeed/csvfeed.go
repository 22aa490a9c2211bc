// Package csvfeed loads OHLC candles from CSV exports (MT5 terminal, pandas
// to_csv, broker downloads) into a time-ordered series.
//
// The first row must be a header. Recognised columns, case-insensitive and with
// MT5 angle brackets stripped: time|datetime|timestamp (or date + time), open,
// high, low, close and optionally volume|tick_volume|vol. Comma, semicolon and
// tab separators are detected from the header line.
package csvfeed

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"zonetracker/internal/model"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
	"2006.01.02",
}

type columns struct {
	ts, date, clock      int
	open, high, low, cls int
	volume               int
}

// LoadFile reads a CSV file. See Load.
func LoadFile(path string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candles, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// Load parses CSV candles from r. Rows are sorted by time; when a timestamp
// repeats the later row wins. Times without a zone are read as UTC.
func Load(r io.Reader) ([]model.Candle, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}

	reader := csv.NewReader(br)
	reader.Comma = detectComma(head)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []model.Candle
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		c, err := cols.parse(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	deduped := out[:0]
	for i, c := range out {
		if i+1 < len(out) && out[i+1].TS.Equal(c.TS) {
			continue
		}
		deduped = append(deduped, c)
	}
	return deduped, nil
}

func detectComma(head []byte) rune {
	first := string(head)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	switch {
	case strings.Contains(first, "\t"):
		return '\t'
	case strings.Count(first, ";") > strings.Count(first, ","):
		return ';'
	}
	return ','
}

func mapColumns(header []string) (columns, error) {
	cols := columns{ts: -1, date: -1, clock: -1, open: -1, high: -1, low: -1, cls: -1, volume: -1}
	for i, h := range header {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(h), "<>\ufeff"))
		switch name {
		case "datetime", "timestamp":
			cols.ts = i
		case "time":
			cols.clock = i
		case "date":
			cols.date = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.cls = i
		case "volume", "tick_volume", "tickvol", "vol":
			if cols.volume < 0 {
				cols.volume = i
			}
		}
	}
	if cols.ts < 0 {
		switch {
		case cols.date >= 0 && cols.clock >= 0:
		case cols.clock >= 0:
			cols.ts, cols.clock = cols.clock, -1
		case cols.date >= 0:
			cols.ts, cols.date = cols.date, -1
		}
	}
	if cols.ts < 0 && cols.date < 0 {
		return cols, fmt.Errorf("%w: no time column in header %v", model.ErrInvalidCandle, header)
	}
	for name, idx := range map[string]int{"open": cols.open, "high": cols.high, "low": cols.low, "close": cols.cls} {
		if idx < 0 {
			return cols, fmt.Errorf("%w: missing %s column", model.ErrInvalidCandle, name)
		}
	}
	return cols, nil
}

func (cols columns) parse(record []string) (model.Candle, error) {
	field := func(i int) (string, error) {
		if i >= len(record) {
			return "", fmt.Errorf("%w: %d fields, need column %d", model.ErrInvalidCandle, len(record), i+1)
		}
		return strings.TrimSpace(record[i]), nil
	}
	num := func(i int) (float64, error) {
		s, err := field(i)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", model.ErrInvalidCandle, err)
		}
		return v, nil
	}

	var raw string
	if cols.ts >= 0 {
		s, err := field(cols.ts)
		if err != nil {
			return model.Candle{}, err
		}
		raw = s
	} else {
		d, err := field(cols.date)
		if err != nil {
			return model.Candle{}, err
		}
		t, err := field(cols.clock)
		if err != nil {
			return model.Candle{}, err
		}
		raw = d + " " + t
	}
	ts, err := ParseTime(raw)
	if err != nil {
		return model.Candle{}, err
	}

	c := model.Candle{TS: ts}
	if c.Open, err = num(cols.open); err != nil {
		return c, err
	}
	if c.High, err = num(cols.high); err != nil {
		return c, err
	}
	if c.Low, err = num(cols.low); err != nil {
		return c, err
	}
	if c.Close, err = num(cols.cls); err != nil {
		return c, err
	}
	if cols.volume >= 0 && cols.volume < len(record) && strings.TrimSpace(record[cols.volume]) != "" {
		if c.Volume, err = num(cols.volume); err != nil {
			return c, err
		}
	}
	return c, nil
}

// ParseTime accepts the layouts seen in candle exports and Unix seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised time %q", model.ErrInvalidCandle, s)
}
