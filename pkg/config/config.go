package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/score"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultAPIHTTPAddress       = ":5000"
	DefaultAPIGRPCAddress       = ":5001"
	DefaultAPIMetricsAddress    = ":9464"
	DefaultCollectTimeout       = 3 * time.Second
	DefaultStreamInterval       = 2 * time.Second
	DefaultMaxConcurrency       = 64
	DefaultDashboardHTTPAddress = ":5100"
	DefaultDashboardMetrics     = ":9465"
	DefaultMode                 = ModeAggregate
	DefaultUpstreamBaseURL      = "http://localhost:5000"
	DefaultUpstreamMetricsPath  = "/metrics"
	DefaultUpstreamGRPCAddress  = "localhost:5001"
	DefaultPollInterval         = 2 * time.Second
	DefaultReconnectBackoff     = 2 * time.Second
	DefaultSendTimeout          = 5 * time.Second
	DefaultSendBuffer           = 16
	DefaultSnapshotTTL          = 30 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
)

// Dashboard modes.
const (
	ModeAggregate = "aggregate"
	ModePoll      = "poll"
	ModeStream    = "stream"
)

// Environment variables read by Load.
const (
	EnvConfig              = "SENTINELPULSE_CONFIG"
	EnvLogLevel            = "SENTINELPULSE_LOG_LEVEL"
	EnvLogFormat           = "SENTINELPULSE_LOG_FORMAT"
	EnvDashboardMode       = "SENTINELPULSE_DASHBOARD_MODE"
	EnvUpstreamBaseURL     = "SENTINELPULSE_UPSTREAM_BASE_URL"
	EnvUpstreamGRPCAddress = "SENTINELPULSE_UPSTREAM_GRPC_ADDRESS"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration for both binaries.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	// Targets are fetched in this order; Snapshot.Services follows it.
	Targets []types.Target `yaml:"targets"`

	Resilience fetch.Policy    `yaml:"resilience"`
	Scoring    score.Policy    `yaml:"scoring"`
	API        APIConfig       `yaml:"api"`
	Dashboard  DashboardConfig `yaml:"dashboard"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	// File, when set, receives logs through a rotating writer instead of
	// stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// APIConfig holds the upstream metrics service settings.
type APIConfig struct {
	HTTPAddress    string `yaml:"http_address"`
	GRPCAddress    string `yaml:"grpc_address"`
	MetricsAddress string `yaml:"metrics_address"`

	// CollectTimeout bounds one aggregator run.
	CollectTimeout time.Duration `yaml:"collect_timeout"`

	// StreamInterval is the StreamMetrics push cadence.
	StreamInterval time.Duration `yaml:"stream_interval"`

	// MaxConcurrency bounds concurrent fetches across all requests.
	MaxConcurrency int `yaml:"max_concurrency"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DashboardConfig holds the relay settings.
type DashboardConfig struct {
	HTTPAddress    string `yaml:"http_address"`
	MetricsAddress string `yaml:"metrics_address"`

	// Mode is aggregate (fetch targets directly), poll (read the api's
	// /metrics) or stream (consume the api's StreamMetrics).
	Mode string `yaml:"mode"`

	Upstream UpstreamConfig `yaml:"upstream"`

	PollInterval     time.Duration `yaml:"poll_interval"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// SendTimeout is the per-send budget of one websocket client.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// SendBuffer is the mailbox depth per client.
	SendBuffer int `yaml:"send_buffer"`

	// SnapshotTTL is how long the latest snapshot is served over REST.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`

	// FallbackSeed seeds the synthetic generator; 0 seeds from the clock.
	FallbackSeed int64 `yaml:"fallback_seed"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig locates the api from the dashboard.
type UpstreamConfig struct {
	BaseURL     string `yaml:"base_url"`
	MetricsPath string `yaml:"metrics_path"`
	GRPCAddress string `yaml:"grpc_address"`
}

// Load builds the configuration. An empty path falls back to
// SENTINELPULSE_CONFIG, and then to defaults only.
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(cfg)
	if len(cfg.Targets) == 0 {
		cfg.Targets = types.DefaultTargets()
	}
	for i := range cfg.Targets {
		if cfg.Targets[i].Kind == "" {
			cfg.Targets[i].Kind = types.KindHTTP
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// ResolvePath returns path, or SENTINELPULSE_CONFIG when path is empty.
// An empty result means "defaults only".
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(EnvConfig)
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Resilience: fetch.DefaultPolicy(),
		Scoring:    score.DefaultPolicy(),
		API: APIConfig{
			HTTPAddress:     DefaultAPIHTTPAddress,
			GRPCAddress:     DefaultAPIGRPCAddress,
			MetricsAddress:  DefaultAPIMetricsAddress,
			CollectTimeout:  DefaultCollectTimeout,
			StreamInterval:  DefaultStreamInterval,
			MaxConcurrency:  DefaultMaxConcurrency,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Dashboard: DashboardConfig{
			HTTPAddress:    DefaultDashboardHTTPAddress,
			MetricsAddress: DefaultDashboardMetrics,
			Mode:           DefaultMode,
			Upstream: UpstreamConfig{
				BaseURL:     DefaultUpstreamBaseURL,
				MetricsPath: DefaultUpstreamMetricsPath,
				GRPCAddress: DefaultUpstreamGRPCAddress,
			},
			PollInterval:     DefaultPollInterval,
			ReconnectBackoff: DefaultReconnectBackoff,
			SendTimeout:      DefaultSendTimeout,
			SendBuffer:       DefaultSendBuffer,
			SnapshotTTL:      DefaultSnapshotTTL,
			ShutdownTimeout:  DefaultShutdownTimeout,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvDashboardMode); v != "" {
		cfg.Dashboard.Mode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvUpstreamBaseURL); v != "" {
		cfg.Dashboard.Upstream.BaseURL = v
	}
	if v := os.Getenv(EnvUpstreamGRPCAddress); v != "" {
		cfg.Dashboard.Upstream.GRPCAddress = v
	}
}

// Validate checks structural constraints.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Logging),
		validation.Field(&c.Targets, validation.By(uniqueNames)),
		validation.Field(&c.Resilience, validation.By(validatePolicy)),
		validation.Field(&c.Scoring, validation.By(validateScoring)),
		validation.Field(&c.API),
		validation.Field(&c.Dashboard),
	)
}

// Validate checks the log settings.
func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.Required, validation.In("json", "text")),
		validation.Field(&l.MaxSizeMB, validation.Min(0)),
		validation.Field(&l.MaxBackups, validation.Min(0)),
		validation.Field(&l.MaxAgeDays, validation.Min(0)),
	)
}

// Validate checks the api settings.
func (a APIConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.HTTPAddress, validation.Required),
		validation.Field(&a.GRPCAddress, validation.Required),
		validation.Field(&a.CollectTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&a.StreamInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&a.MaxConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&a.ShutdownTimeout, validation.Required),
	)
}

// Validate checks the dashboard settings for the selected mode.
func (d DashboardConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.HTTPAddress, validation.Required),
		validation.Field(&d.Mode, validation.Required, validation.In(ModeAggregate, ModePoll, ModeStream)),
		validation.Field(&d.Upstream, validation.By(func(any) error {
			u := d.Upstream
			return validation.ValidateStruct(&u,
				validation.Field(&u.BaseURL, validation.When(d.Mode == ModePoll, validation.Required, is.URL)),
				validation.Field(&u.MetricsPath, validation.When(d.Mode == ModePoll, validation.Required)),
				validation.Field(&u.GRPCAddress, validation.When(d.Mode == ModeStream, validation.Required)),
			)
		})),
		validation.Field(&d.PollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&d.ReconnectBackoff, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&d.SendTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&d.SendBuffer, validation.Required, validation.Min(1)),
		validation.Field(&d.SnapshotTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&d.ShutdownTimeout, validation.Required),
	)
}

func uniqueNames(value any) error {
	targets, _ := value.([]types.Target)
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("targets[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

func validatePolicy(value any) error {
	p, _ := value.(fetch.Policy)
	return validation.ValidateStruct(&p,
		validation.Field(&p.AttemptTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.Backoff, validation.Each(validation.Min(time.Duration(0)))),
		validation.Field(&p.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&p.OpenDuration, validation.Required, validation.Min(time.Millisecond)),
	)
}

func validateScoring(value any) error {
	p, _ := value.(score.Policy)
	return validation.ValidateStruct(&p,
		validation.Field(&p.CPUDivisor, validation.Required, validation.Min(0.0)),
		validation.Field(&p.MemDivisor, validation.Required, validation.Min(0.0)),
		validation.Field(&p.CPUFloor, validation.Min(0.0), validation.Max(p.CPUCeiling)),
		validation.Field(&p.CPUCeiling, validation.Max(100.0)),
		validation.Field(&p.MemFloor, validation.Min(0.0), validation.Max(p.MemCeiling)),
		validation.Field(&p.MemCeiling, validation.Max(100.0)),
	)
}
