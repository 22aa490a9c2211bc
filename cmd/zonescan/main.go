// cmd/zonescan loads a candle series, detects order blocks (and optionally
// liquidity zones and structure breaks) on every configured timeframe, feeds
// the multi-timeframe tracker and prints the aggregated zones.
//
// Usage:
//
//	go run ./cmd/zonescan --symbol=NAS100 --tfs=M5,H1,H4 --base=M5 --source=sqlite
//	go run ./cmd/zonescan --source=csv --csv=data/NAS100_M5.csv --history --top=5
//	go run ./cmd/zonescan --publish --watch=1m --metrics-addr=:9090
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"zonetracker/config"
	"zonetracker/internal/logger"
	"zonetracker/internal/marketdata/csvfeed"
	"zonetracker/internal/metrics"
	"zonetracker/internal/model"
	"zonetracker/internal/mtf"
	"zonetracker/internal/pipeline"
	"zonetracker/internal/resample"
	redisstore "zonetracker/internal/store/redis"
	sqlitestore "zonetracker/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "YAML config file (default $ZONES_CONFIG)")
	symbol := flag.String("symbol", "", "Symbol to scan (overrides config)")
	tfStr := flag.String("tfs", "", "Comma-separated timeframes, e.g. M5,H1,H4 (overrides config)")
	baseTF := flag.String("base", "", "Timeframe of the loaded series (overrides config)")
	source := flag.String("source", "sqlite", "Candle source: sqlite or csv")
	csvPath := flag.String("csv", "", "CSV file when --source=csv")
	limit := flag.Int("limit", 5000, "Most recent base candles to read from SQLite (0=all)")
	history := flag.Bool("history", false, "Aggregate invalidated zones too")
	liquidity := flag.Bool("liquidity", false, "Also detect equal highs/lows")
	breaks := flag.Bool("structure", false, "Also detect breaks of structure")
	top := flag.Int("top", 10, "Aggregated zones to print")
	asJSON := flag.Bool("json", false, "Print the full result as JSON")
	publish := flag.Bool("publish", false, "Publish the snapshot to Redis")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics and /healthz on this address")
	watch := flag.Duration("watch", 0, "Rescan at this interval until interrupted (sqlite source only)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[zonescan] config: %v", err)
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *tfStr != "" {
		cfg.Timeframes = strings.Split(*tfStr, ",")
	}
	if *baseTF != "" {
		cfg.BaseTimeframe = *baseTF
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	cfg.Redis.Enabled = cfg.Redis.Enabled || *publish
	cfg.Detectors.Liquidity = cfg.Detectors.Liquidity || *liquidity
	cfg.Detectors.Structure = cfg.Detectors.Structure || *breaks
	if err := cfg.Normalize(); err != nil {
		log.Fatalf("[zonescan] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[zonescan] %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[zonescan] %v", err)
	}
	slogger := logger.New(os.Stderr, cfg.LogFormat, "zonescan", level)
	slog.SetDefault(slogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Metrics and health
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	if srv := metricsServer(cfg.MetricsAddr, health, reg); srv != nil {
		srv.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Stop(stopCtx)
		}()
	}

	// Candle source
	var reader *sqlitestore.Reader
	switch *source {
	case "sqlite":
		reader, err = sqlitestore.NewReader(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("[zonescan] sqlite open failed: %v", err)
		}
		defer reader.Close()
		health.EnableSQLite()
		health.CheckSQLite(ctx, reader.DB())
		if stored, err := reader.Timeframes(cfg.Symbol); err == nil {
			log.Printf("[zonescan] stored timeframes for %s: %v", cfg.Symbol, stored)
		}
	case "csv":
		if *csvPath == "" {
			log.Fatal("[zonescan] --csv is required with --source=csv")
		}
		if *watch > 0 {
			log.Fatal("[zonescan] --watch needs --source=sqlite")
		}
	default:
		log.Fatalf("[zonescan] unknown source %q", *source)
	}

	// Snapshot publisher
	var pub *redisstore.Publisher
	if cfg.Redis.Enabled {
		pub, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			TTL:          cfg.Redis.TTL,
			MaxFailures:  cfg.Redis.MaxFailures,
			ResetTimeout: cfg.Redis.ResetTimeout,
		})
		if err != nil {
			log.Fatalf("[zonescan] redis: %v", err)
		}
		defer pub.Close()
		b := pub.Breaker()
		logChange := b.OnStateChange
		b.OnStateChange = func(from, to redisstore.BreakerState) {
			logChange(from, to)
			m.BreakerState.Set(float64(to))
		}
		health.EnableRedis()
		health.CheckRedis(ctx, pub.Client())
	}
	if *watch > 0 {
		var db *sql.DB
		if reader != nil {
			db = reader.DB()
		}
		var rdb *goredis.Client
		if pub != nil {
			rdb = pub.Client()
		}
		health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
	}

	pcfg := pipeline.Config{
		Symbol:          cfg.Symbol,
		Timeframes:      cfg.Timeframes,
		OrderBlock:      cfg.OrderBlock,
		Liquidity:       cfg.Liquidity,
		Structure:       cfg.Structure,
		Aggregator:      cfg.Aggregator,
		Tracker:         cfg.Tracker,
		EnableLiquidity: cfg.Detectors.Liquidity,
		EnableStructure: cfg.Detectors.Structure,
	}
	if *history {
		pcfg.Eligibility = mtf.WithHistory
	}
	p, err := pipeline.New(pcfg, m, slogger)
	if err != nil {
		log.Fatalf("[zonescan] %v", err)
	}

	load := func() (map[string][]model.Candle, error) {
		if reader == nil {
			base, err := csvfeed.LoadFile(*csvPath)
			if err != nil {
				return nil, err
			}
			return buildSeries(base, cfg.BaseTimeframe, cfg.Timeframes, nil)
		}
		base, err := reader.ReadCandles(cfg.Symbol, cfg.BaseTimeframe, time.Time{}, *limit)
		if err != nil {
			return nil, err
		}
		return buildSeries(base, cfg.BaseTimeframe, cfg.Timeframes, func(tf string) ([]model.Candle, error) {
			return reader.ReadCandles(cfg.Symbol, tf, time.Time{}, 0)
		})
	}

	scan := func() {
		runCtx := logger.WithRunID(ctx, logger.NewRunID())
		series, err := load()
		if err != nil {
			log.Printf("[zonescan] load candles: %v", err)
			health.RecordRun(logger.RunID(runCtx), time.Now(), 0, err)
			return
		}
		res, err := p.Run(runCtx, series)
		if err != nil {
			log.Printf("[zonescan] scan failed: %v", err)
			health.RecordRun(logger.RunID(runCtx), time.Now(), 0, err)
			return
		}
		health.RecordRun(res.RunID, res.GeneratedAt, len(res.Aggregated), nil)
		if *asJSON {
			if err := writeJSON(os.Stdout, res); err != nil {
				log.Printf("[zonescan] write json: %v", err)
			}
		} else {
			printResult(res, *top)
		}
		if pub != nil {
			publishResult(runCtx, pub, m, res)
		}
	}

	scan()
	if *watch <= 0 {
		return
	}
	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[zonescan] shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// metricsServer returns nil when addr is empty. addr comes from the config
// file, METRICS_ADDR or --metrics-addr, in rising precedence.
func metricsServer(addr string, health *metrics.HealthStatus, reg *prometheus.Registry) *metrics.Server {
	if addr == "" {
		return nil
	}
	return metrics.NewServer(addr, health, reg)
}

func writeJSON(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// buildSeries returns one series per timeframe. Timeframes other than the base
// come from stored (when stored returns candles) or are resampled from base.
func buildSeries(base []model.Candle, baseTF string, tfs []string, stored func(tf string) ([]model.Candle, error)) (map[string][]model.Candle, error) {
	if len(base) == 0 {
		return nil, fmt.Errorf("no %s candles", baseTF)
	}
	out := make(map[string][]model.Candle, len(tfs))
	for _, tf := range tfs {
		if tf == baseTF {
			out[tf] = base
			continue
		}
		if stored != nil {
			cs, err := stored(tf)
			if err != nil {
				return nil, err
			}
			if len(cs) > 0 {
				out[tf] = cs
				continue
			}
		}
		cs, err := resample.ToTimeframe(base, baseTF, tf)
		if err != nil {
			return nil, err
		}
		out[tf] = cs
	}
	return out, nil
}

func publishResult(ctx context.Context, pub *redisstore.Publisher, m *metrics.Metrics, res *pipeline.Result) {
	snap := &redisstore.Snapshot{
		RunID:       res.RunID,
		Symbol:      res.Symbol,
		View:        res.View,
		GeneratedAt: res.GeneratedAt,
		LastClose:   res.LastClose,
		Zones:       res.Aggregated,
		AtPrice:     res.AtPrice,
		Breaks:      res.Breaks(),
	}
	start := time.Now()
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pub.Publish(pubCtx, snap); err != nil {
		m.PublishErrors.Inc()
		log.Printf("[zonescan] publish: %v", err)
		return
	}
	m.PublishDur.Observe(time.Since(start).Seconds())
}

func printResult(res *pipeline.Result, top int) {
	fmt.Printf("\n%s  run %s  view=%s  last close %.5f\n", res.Symbol, res.RunID, res.View, res.LastClose)
	fmt.Println(strings.Repeat("-", 72))
	for _, tr := range res.Timeframes {
		s := tr.OrderBlocks
		fmt.Printf("%-4s candles=%-6d zones=%-4d active=%-4d invalidated=%-4d bull=%-3d bear=%-3d avg_mit=%.2f\n",
			tr.Timeframe, tr.Candles, s.Total, s.Active, s.Invalidated, s.Bullish, s.Bearish, s.AvgMitigation)
		if tr.Liquidity != nil {
			fmt.Printf("     liquidity zones=%d active=%d expired=%d\n", tr.Liquidity.Total, tr.Liquidity.Active, tr.Liquidity.Expired)
		}
		if len(tr.Breaks) > 0 {
			last := tr.Breaks[len(tr.Breaks)-1]
			fmt.Printf("     breaks=%d last=%s @ %.5f (%s)\n", len(tr.Breaks), last.Direction, last.Price, last.BreakTime.Format(time.RFC3339))
		}
	}

	fmt.Println(strings.Repeat("-", 72))
	n := len(res.Aggregated)
	if top > 0 && n > top {
		n = top
	}
	fmt.Printf("Top %d of %d aggregated zones\n", n, len(res.Aggregated))
	for i := 0; i < n; i++ {
		printZone(i+1, &res.Aggregated[i])
	}
	if len(res.AtPrice) > 0 {
		fmt.Printf("\nZones containing %.5f\n", res.LastClose)
		for i := range res.AtPrice {
			printZone(i+1, &res.AtPrice[i])
		}
	}
}

func printZone(rank int, z *model.AggregatedZone) {
	tfs := make([]string, 0, len(z.TFCounts))
	for tf := range z.TFCounts {
		tfs = append(tfs, tf)
	}
	model.SortTimeframes(tfs)
	parts := make([]string, len(tfs))
	for i, tf := range tfs {
		parts[i] = fmt.Sprintf("%s:%d", tf, z.TFCounts[tf])
	}
	dir := string(z.Dominant())
	if dir == "" {
		dir = "mixed"
	}
	fmt.Printf("%3d. [%.5f, %.5f] score=%.2f %-7s tfs=%s active=%d invalidated=%d\n",
		rank, z.Low, z.High, z.Score, dir, strings.Join(parts, ","), z.ActiveCount, z.InvalidatedCount)
}
