package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable the engine and gateway consume. It is
// loaded once at startup and injected explicitly; nothing reads it from
// ambient global state mid-operation.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Venues   VenueConfig    `yaml:"venues"`
	Sync     SyncConfig     `yaml:"sync"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type VenueConfig struct {
	// CallTimeout bounds every single venue call. A timed-out call is a
	// connectivity failure, never an ambiguous "maybe applied" state.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// RequestsPerSecond sizes the per-venue client-side limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type SyncConfig struct {
	// OrderLookback is how far behind the cursor the orders fetch reaches
	// on an account that has never synced.
	OrderLookback time.Duration `yaml:"order_lookback"`
	// Interval is how often the background scheduler sweeps every active
	// account. Zero disables the sweep.
	Interval time.Duration `yaml:"interval"`
}

type GatewayConfig struct {
	// StrictBalanceCheck makes the local available-balance guard block
	// submission. Off by default: the venue is ground truth and the local
	// figure may be stale, so we normally only warn and defer.
	StrictBalanceCheck bool `yaml:"strict_balance_check"`
}

type JobsConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffMin  time.Duration `yaml:"backoff_min"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:      "8080",
			JWTSecret: "mirror-secret-key",
		},
		Venues: VenueConfig{
			CallTimeout:       10 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Sync: SyncConfig{
			OrderLookback: 24 * time.Hour,
			Interval:      time.Minute,
		},
		Gateway: GatewayConfig{
			StrictBalanceCheck: false,
		},
		Jobs: JobsConfig{
			Workers:     4,
			QueueSize:   256,
			MaxAttempts: 5,
			BackoffMin:  500 * time.Millisecond,
			BackoffMax:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "mirror.db",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Store holds the live configuration and supports an explicit, auditable
// reload. Readers get a copy, so a reload never mutates a value already
// handed out mid-operation.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, cfg: cfg}
}

// Current returns a copy of the live configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-reads the config file and swaps the live configuration.
// Callers are expected to record the reload in the audit trail.
func (s *Store) Reload() (Config, error) {
	if s.path == "" {
		return Config{}, fmt.Errorf("no config file to reload from")
	}
	cfg, err := Load(s.path)
	if err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg, nil
}
