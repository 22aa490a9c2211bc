package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"zonetracker/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			tf     TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, tf, ts)
		);
	`)
	return err
}

// WriteCandles upserts candles for symbol/tf in a single transaction.
func (w *Writer) WriteCandles(symbol, tf string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(symbol, tf, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batch of defaultBatchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed; returns the number of
// candles committed and the first write error.
func (w *Writer) Run(ctx context.Context, symbol, tf string, candleCh <-chan model.Candle) (int, error) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	written := 0
	var firstErr error
	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.WriteCandles(symbol, tf, batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			written += len(batch)
			log.Printf("[sqlite] committed %d %s %s candles in %v", len(batch), symbol, tf, time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return written, firstErr

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return written, firstErr
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastTimestamp returns the last stored candle time for symbol/tf.
// Returns the zero time if no candles exist.
func (w *Writer) LastTimestamp(symbol, tf string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND tf = ?`,
		symbol, tf,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
