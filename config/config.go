// Package config loads zone tracker settings from YAML, applies struct-tag
// defaults, environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"zonetracker/internal/model"
	"zonetracker/internal/mtf"
	"zonetracker/internal/structure"
	"zonetracker/internal/tracker"
	"zonetracker/internal/zone"
)

// Config holds all application configuration.
type Config struct {
	Symbol        string   `yaml:"symbol" default:"NAS100" validate:"required"`
	BaseTimeframe string   `yaml:"base_timeframe" default:"M5" validate:"timeframe"`
	Timeframes    []string `yaml:"timeframes" validate:"min=1,dive,timeframe"`

	OrderBlock zone.OrderBlockParams `yaml:"order_block"`
	Liquidity  zone.LiquidityParams  `yaml:"liquidity"`
	Structure  structure.Params      `yaml:"structure"`
	Aggregator mtf.Params            `yaml:"aggregator"`
	Tracker    tracker.Config        `yaml:"tracker"`

	// Detectors toggles the optional detector families; order blocks always run.
	Detectors Detectors `yaml:"detectors"`

	Storage Storage `yaml:"storage"`
	Redis   Redis   `yaml:"redis"`

	MetricsAddr string `yaml:"metrics_addr"` // empty disables /metrics and /healthz
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=debug info warn warning error"`
	LogFormat   string `yaml:"log_format" default:"json" validate:"oneof=json text"`
}

// Detectors switches optional detectors on.
type Detectors struct {
	Liquidity bool `yaml:"liquidity"`
	Structure bool `yaml:"structure"`
}

// Storage configures the SQLite candle store.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path" default:"data/candles.db"`
}

// Redis configures the snapshot publisher.
type Redis struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	Prefix       string        `yaml:"prefix" default:"zones"`
	TTL          time.Duration `yaml:"ttl" default:"24h"`
	MaxFailures  int           `yaml:"max_failures" default:"5" validate:"min=1"`
	ResetTimeout time.Duration `yaml:"reset_timeout" default:"10s"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			name = strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		}
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
		return model.IsTimeframe(fl.Field().String())
	})
	return v
}

// Default returns a config with every default applied and no file or env input.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Timeframes = []string{"M5", "H1"}
	return cfg
}

// Load reads path (or $ZONES_CONFIG when path is empty), layers environment
// overrides on top and validates the result. With no file at all the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getEnv("ZONES_CONFIG", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Normalize upper-cases timeframe labels, drops duplicates and makes sure the
// base timeframe is scanned.
func (c *Config) Normalize() error {
	c.Symbol = strings.TrimSpace(c.Symbol)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.BaseTimeframe = strings.ToUpper(strings.TrimSpace(c.BaseTimeframe))

	tfs, err := model.ParseTimeframes(strings.Join(c.Timeframes, ","))
	if err != nil {
		return err
	}
	if c.BaseTimeframe != "" && !contains(tfs, c.BaseTimeframe) {
		tfs = append(tfs, c.BaseTimeframe)
	}
	model.SortTimeframes(tfs)
	c.Timeframes = tfs
	return nil
}

// Validate runs the struct-tag rules and each parameter block's own checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}
	for _, check := range []func() error{
		c.OrderBlock.Validate,
		c.Liquidity.Validate,
		c.Structure.Validate,
		c.Aggregator.Validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// describe flattens validator errors into one ErrInvalidParam.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", model.ErrInvalidParam, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "timeframe":
		return fmt.Sprintf("%s: unknown timeframe %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
