// Package redis publishes aggregated zone snapshots to Redis so that other
// processes can read the latest view by key or follow updates on a channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"zonetracker/internal/model"
)

const (
	defaultPrefix = "zones"
	defaultTTL    = 24 * time.Hour
)

// PublisherConfig configures the snapshot publisher.
type PublisherConfig struct {
	Addr         string // Redis address, e.g. "localhost:6379"
	Password     string
	DB           int
	Prefix       string        // key and channel prefix, default "zones"
	TTL          time.Duration // snapshot key expiry, default 24h
	MaxFailures  int           // consecutive errors before the breaker opens
	ResetTimeout time.Duration // breaker cooldown
}

// Snapshot is one published aggregation result.
type Snapshot struct {
	RunID       string                 `json:"run_id"`
	Symbol      string                 `json:"symbol"`
	View        string                 `json:"view"` // "active" or "history"
	GeneratedAt time.Time              `json:"generated_at"`
	LastClose   float64                `json:"last_close"`
	Zones       []model.AggregatedZone `json:"zones"`
	AtPrice     []model.AggregatedZone `json:"at_price,omitempty"`
	Breaks      []model.StructureBreak `json:"breaks,omitempty"`
}

// Encode marshals the snapshot for storage.
func (s *Snapshot) Encode() ([]byte, error) {
	if s.Symbol == "" {
		return nil, errors.New("snapshot: empty symbol")
	}
	return json.Marshal(s)
}

// DecodeSnapshot is the inverse of Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// SnapshotKey returns "{prefix}:agg:{symbol}".
func SnapshotKey(prefix, symbol string) string {
	return fmt.Sprintf("%s:agg:%s", prefixOrDefault(prefix), strings.ToUpper(symbol))
}

// Channel returns the pub/sub channel for a symbol, "{prefix}:updates:{symbol}".
func Channel(prefix, symbol string) string {
	return fmt.Sprintf("%s:updates:%s", prefixOrDefault(prefix), strings.ToUpper(symbol))
}

func prefixOrDefault(p string) string {
	if p == "" {
		return defaultPrefix
	}
	return p
}

// Publisher writes snapshots with SET+PUBLISH in one pipeline.
type Publisher struct {
	client  *goredis.Client
	prefix  string
	ttl     time.Duration
	breaker *Breaker
}

// NewPublisher connects and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = 10 * time.Second
	}

	b := NewBreaker(maxFailures, reset)
	b.OnStateChange = func(from, to BreakerState) {
		log.Printf("[redis] breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{
		client:  client,
		prefix:  prefixOrDefault(cfg.Prefix),
		ttl:     ttl,
		breaker: b,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the publisher's circuit breaker.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Publish stores the snapshot under its key and notifies subscribers.
// Returns ErrBreakerOpen without touching Redis while the breaker is open.
func (p *Publisher) Publish(ctx context.Context, snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	key := SnapshotKey(p.prefix, snap.Symbol)
	channel := Channel(p.prefix, snap.Symbol)

	return p.breaker.Do(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, key, data, p.ttl)
		pipe.Publish(ctx, channel, data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("publish %s: %w", key, err)
		}
		return nil
	})
}

// Latest reads the last published snapshot. Returns (nil, nil) if none exists.
func (p *Publisher) Latest(ctx context.Context, symbol string) (*Snapshot, error) {
	data, err := p.client.Get(ctx, SnapshotKey(p.prefix, symbol)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
