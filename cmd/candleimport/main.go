// cmd/candleimport loads a CSV candle export into the SQLite candle store,
// optionally writing resampled higher timeframes alongside it.
//
// Usage:
//
//	go run ./cmd/candleimport --csv=data/NAS100_M5.csv --symbol=NAS100 --tf=M5 --db=data/candles.db
//	go run ./cmd/candleimport --csv=data/NAS100_M5.csv --symbol=NAS100 --tf=M5 --resample=H1,H4
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zonetracker/internal/marketdata/csvfeed"
	"zonetracker/internal/model"
	"zonetracker/internal/resample"
	sqlitestore "zonetracker/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	csvPath := flag.String("csv", "", "CSV file to import (required)")
	symbol := flag.String("symbol", "", "Symbol the candles belong to (required)")
	tfLabel := flag.String("tf", "M5", "Timeframe of the CSV candles")
	dbPath := flag.String("db", getEnv("SQLITE_PATH", "data/candles.db"), "Path to SQLite database")
	resampleTFs := flag.String("resample", "", "Comma-separated higher timeframes to build and store as well")
	onlyNew := flag.Bool("only-new", true, "Skip candles at or before the last stored timestamp")
	flag.Parse()

	if *csvPath == "" || *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}
	sym := strings.ToUpper(*symbol)
	tf, err := model.ParseTimeframe(*tfLabel)
	if err != nil {
		log.Fatalf("[candleimport] %v", err)
	}
	targets, err := model.ParseTimeframes(*resampleTFs)
	if err != nil {
		log.Fatalf("[candleimport] %v", err)
	}

	candles, err := csvfeed.LoadFile(*csvPath)
	if err != nil {
		log.Fatalf("[candleimport] %v", err)
	}
	log.Printf("[candleimport] loaded %d candles from %s", len(candles), *csvPath)

	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[candleimport] %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	start := time.Now()
	total := 0
	n, err := importSeries(ctx, w, sym, tf, candles, *onlyNew)
	total += n
	if err != nil {
		log.Fatalf("[candleimport] %s %s: %v", sym, tf, err)
	}
	for _, target := range targets {
		if target == tf {
			continue
		}
		higher, err := resample.ToTimeframe(candles, tf, target)
		if err != nil {
			log.Fatalf("[candleimport] %v", err)
		}
		// The last bucket may still be forming; keep it so reruns overwrite it.
		n, err := importSeries(ctx, w, sym, target, higher, false)
		total += n
		if err != nil {
			log.Fatalf("[candleimport] %s %s: %v", sym, target, err)
		}
	}

	fmt.Printf("imported %d candles for %s in %v\n", total, sym, time.Since(start).Round(time.Millisecond))
}

// importSeries streams candles through the batching writer. With onlyNew,
// candles at or before the last stored timestamp are skipped.
func importSeries(ctx context.Context, w *sqlitestore.Writer, symbol, tf string, candles []model.Candle, onlyNew bool) (int, error) {
	var last time.Time
	if onlyNew {
		var err error
		if last, err = w.LastTimestamp(symbol, tf); err != nil {
			return 0, err
		}
	}

	ch := make(chan model.Candle, 1024)
	go func() {
		defer close(ch)
		for _, c := range candles {
			if !last.IsZero() && !c.TS.After(last) {
				continue
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	n, err := w.Run(ctx, symbol, tf, ch)
	log.Printf("[candleimport] %s %s: %d candles written", symbol, tf, n)
	return n, err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
