package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus is the state reported on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool

	LastRunID    string
	LastRunAt    time.Time
	LastRunZones int
	LastRunErr   string

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a status with no dependencies enabled.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// EnableRedis marks Redis as a dependency that must be reachable.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

// EnableSQLite marks SQLite as a dependency that must be reachable.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.mu.Unlock()
}

// RecordRun stores the outcome of the last scan.
func (h *HealthStatus) RecordRun(runID string, at time.Time, zones int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastRunID = runID
	h.LastRunAt = at
	h.LastRunZones = zones
	h.LastRunErr = ""
	if err != nil {
		h.LastRunErr = err.Error()
	}
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the enabled dependencies every interval until ctx ends.
// Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

func (h *HealthStatus) status() (string, int) {
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	switch {
	case redisDown && sqliteDown:
		return "unhealthy", http.StatusServiceUnavailable
	case redisDown || sqliteDown || h.LastRunErr != "":
		return "degraded", http.StatusServiceUnavailable
	}
	return "healthy", http.StatusOK
}

// ServeHTTP handles /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall, code := h.status()
	body := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastRunID       string  `json:"last_run_id,omitempty"`
		LastRunAt       string  `json:"last_run_at,omitempty"`
		LastRunZones    int     `json:"last_run_zones"`
		LastRunErr      string  `json:"last_run_error,omitempty"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastRunID:       h.LastRunID,
		LastRunZones:    h.LastRunZones,
		LastRunErr:      h.LastRunErr,
	}
	if !h.LastRunAt.IsZero() {
		body.LastRunAt = h.LastRunAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds the HTTP server. A nil gatherer serves the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
