package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fazecat/signalpilot/Internal/handlers/risk"
	"github.com/fazecat/signalpilot/Internal/handlers/trader"
	"github.com/fazecat/signalpilot/Internal/pipeline"
	"github.com/fazecat/signalpilot/Internal/strategy/signals"
)

const (
	SourceSimulated = "simulated"
	SourceAlpaca    = "alpaca"

	BrokerPaper  = "paper"
	BrokerAlpaca = "alpaca"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Pipeline pipeline.Config `yaml:"pipeline"`
	Signals  signals.Config  `yaml:"signals"`
	Trading  trader.Config   `yaml:"trading"`
	Risk     risk.Limits     `yaml:"risk"`

	MarketData MarketDataConfig `yaml:"market_data"`
	Broker     BrokerConfig     `yaml:"broker"`
	Alpaca     AlpacaConfig     `yaml:"alpaca"`
	Storage    StorageConfig    `yaml:"storage"`
	Journal    JournalConfig    `yaml:"journal"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Events     EventsConfig     `yaml:"events"`
	API        APIConfig        `yaml:"api"`
}

type MarketDataConfig struct {
	Source            string             `yaml:"source"`
	RequestsPerSecond float64            `yaml:"requests_per_second"`
	ProbeSymbol       string             `yaml:"probe_symbol"`
	Seed              int64              `yaml:"seed"`
	Volatility        float64            `yaml:"volatility"`
	BasePrices        map[string]float64 `yaml:"base_prices"`
}

type BrokerConfig struct {
	Kind   string  `yaml:"kind"`
	Payout float64 `yaml:"payout"`
}

// secrets only come from the environment
type AlpacaConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type StorageConfig struct {
	Dir             string `yaml:"dir"`
	Session         string `yaml:"session"`
	TickChunkSize   int    `yaml:"tick_chunk_size"`
	CandleChunkSize int    `yaml:"candle_chunk_size"`
}

type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Topic   string `yaml:"topic"`
}

type EventsConfig struct {
	HistorySize int `yaml:"history_size"`
}

type APIConfig struct {
	Addr          string        `yaml:"addr"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminUser     string        `yaml:"admin_user"`
	AdminPassword string        `yaml:"-"`
	JWTSecret     string        `yaml:"-"`
}

// Default returns a config that runs offline against simulated data and a paper broker
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Pipeline:  pipeline.DefaultConfig(),
		Signals:   signals.DefaultConfig(),
		Trading:   trader.DefaultConfig(),
		Risk:      risk.DefaultLimits(),
		MarketData: MarketDataConfig{
			Source:            SourceSimulated,
			RequestsPerSecond: 3,
			ProbeSymbol:       "SPY",
			Volatility:        0.0008,
		},
		Broker: BrokerConfig{Kind: BrokerPaper, Payout: 0.8},
		Storage: StorageConfig{
			Dir:             "data",
			TickChunkSize:   1000,
			CandleChunkSize: 500,
		},
		Journal: JournalConfig{Driver: "sqlite3", DSN: "signalpilot.db"},
		Kafka:   KafkaConfig{Topic: "signalpilot_events"},
		Events:  EventsConfig{HistorySize: 1000},
		API: APIConfig{
			Addr:      ":8080",
			TokenTTL:  24 * time.Hour,
			AdminUser: "admin",
		},
	}
}

// candidate locations when no path is given
func searchPaths() []string {
	return []string{
		"config.yaml",
		filepath.Join("Internal", "utils", "config", "config.yaml"),
	}
}

// Load reads .env, the yaml file (defaults when path is empty and none is found),
// then applies environment overrides and validates the result
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	data, foundPath, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", foundPath, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolvedPath returns path, or the first search location that exists when path is empty
func ResolvedPath(path string) string {
	if path != "" {
		return path
	}
	for _, p := range searchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func readConfigFile(path string) ([]byte, string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return data, path, nil
	}
	for _, p := range searchPaths() {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, p, nil
		}
	}
	return nil, "", nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ALPACA_API_KEY"); v != "" {
		c.Alpaca.APIKey = v
	}
	if v := getenv("ALPACA_API_SECRET"); v != "" {
		c.Alpaca.APISecret = v
	}
	if v := getenv("ALPACA_BASE_URL"); v != "" {
		c.Alpaca.BaseURL = v
	}
	if v := getenv("JWT_SECRET_KEY"); v != "" {
		c.API.JWTSecret = v
	}
	if v := getenv("API_ADMIN_PASSWORD"); v != "" {
		c.API.AdminPassword = v
	}
	if v := getenv("JOURNAL_DSN"); v != "" {
		c.Journal.DSN = v
	}
	if v := getenv("JOURNAL_DRIVER"); v != "" {
		c.Journal.Driver = v
	}
	if v := getenv("KAFKA_BROKER"); v != "" {
		c.Kafka.Broker = v
		c.Kafka.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if err := c.Signals.Indicators.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("signals.indicators: %w", err))
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk: %w", err))
	}
	if c.Signals.MinCandles > c.Pipeline.CandleCount {
		errs = append(errs, fmt.Errorf("signals.min_candles (%d) exceeds pipeline.candle_count (%d)",
			c.Signals.MinCandles, c.Pipeline.CandleCount))
	}
	if c.Trading.StakeAmount <= 0 {
		errs = append(errs, errors.New("trading.stake_amount must be positive"))
	}
	if c.Trading.StakeAmount < c.Risk.MinStake || c.Trading.StakeAmount > c.Risk.MaxStake {
		errs = append(errs, fmt.Errorf("trading.stake_amount %.2f is outside risk stake bounds [%.2f, %.2f]",
			c.Trading.StakeAmount, c.Risk.MinStake, c.Risk.MaxStake))
	}
	if want := time.Duration(c.Signals.TradeDurationMinutes) * time.Minute; c.Trading.TradeDuration != want {
		errs = append(errs, fmt.Errorf("trading.trade_duration (%s) must match signals.trade_duration_minutes (%d)",
			c.Trading.TradeDuration, c.Signals.TradeDurationMinutes))
	}

	switch c.MarketData.Source {
	case SourceSimulated:
	case SourceAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("market_data.source alpaca requires ALPACA_API_KEY and ALPACA_API_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown market_data.source %q", c.MarketData.Source))
	}

	switch c.Broker.Kind {
	case BrokerPaper:
		if c.Broker.Payout <= 0 || c.Broker.Payout > 1 {
			errs = append(errs, errors.New("broker.payout must be in (0, 1]"))
		}
	case BrokerAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("broker.kind alpaca requires ALPACA_API_KEY and ALPACA_API_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker.kind %q", c.Broker.Kind))
	}

	switch c.Journal.Driver {
	case "", "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown journal.driver %q", c.Journal.Driver))
	}
	if c.Kafka.Enabled && c.Kafka.Broker == "" {
		errs = append(errs, errors.New("kafka.enabled requires kafka.broker or KAFKA_BROKER"))
	}
	return errors.Join(errs...)
}

// Clone deep-copies the slices and maps so an edited copy never aliases a live snapshot
func (c *Config) Clone() *Config {
	out := *c
	out.Pipeline.Assets = append([]string(nil), c.Pipeline.Assets...)
	out.Signals.Indicators.EMA.Periods = append([]int(nil), c.Signals.Indicators.EMA.Periods...)
	if c.MarketData.BasePrices != nil {
		out.MarketData.BasePrices = make(map[string]float64, len(c.MarketData.BasePrices))
		for k, v := range c.MarketData.BasePrices {
			out.MarketData.BasePrices[k] = v
		}
	}
	return &out
}

func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ============================================================================
// SNAPSHOT STORE
// ============================================================================

// Store holds the current immutable snapshot; readers never see a half-applied reload
type Store struct {
	path    string
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.current.Store(cfg)
	return s
}

// Get returns the live snapshot; callers must not mutate it
func (s *Store) Get() *Config {
	return s.current.Load()
}

func (s *Store) Path() string {
	return s.path
}

// OnReload registers fn to run after every successful swap
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload re-reads the config file and swaps it in; the old snapshot stays live on error
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	if err := s.Swap(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Swap validates cfg and makes it the live snapshot
func (s *Store) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)

	s.mu.Lock()
	listeners := append(([]func(*Config))(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// MaskSecret keeps the first and last two characters
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
