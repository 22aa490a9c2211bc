package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"zonetracker/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored candle series.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns candles for symbol/tf after the given time (zero = all),
// ordered by timestamp ascending. When limit > 0 only the most recent limit
// candles are returned.
func (r *Reader) ReadCandles(symbol, tf string, after time.Time, limit int) ([]model.Candle, error) {
	var afterTS int64 = -1 << 62
	if !after.IsZero() {
		afterTS = after.Unix()
	}

	query := `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`
	args := []any{symbol, tf, afterTS}
	if limit > 0 {
		// Latest N, returned oldest first
		query = `
			SELECT ts, open, high, low, close, volume FROM (
				SELECT ts, open, high, low, close, volume
				FROM candles
				WHERE symbol = ? AND tf = ? AND ts > ?
				ORDER BY ts DESC
				LIMIT ?
			) ORDER BY ts ASC
		`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Timeframes lists the timeframes stored for symbol, shortest first.
func (r *Reader) Timeframes(symbol string) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT tf FROM candles WHERE symbol = ?`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query timeframes: %w", err)
	}
	defer rows.Close()

	var tfs []string
	for rows.Next() {
		var tf string
		if err := rows.Scan(&tf); err != nil {
			return nil, fmt.Errorf("sqlite scan timeframes: %w", err)
		}
		tfs = append(tfs, tf)
	}
	model.SortTimeframes(tfs)
	return tfs, rows.Err()
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
