package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Transcript TranscriptConfig `yaml:"transcript" mapstructure:"transcript"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int    `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs int    `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
}

// IngestConfig configures an ingestion pass.
type IngestConfig struct {
	MaxConcurrentMunicipalities int    `yaml:"max_concurrent_municipalities" mapstructure:"max_concurrent_municipalities"`
	VideoIntervalMs             int    `yaml:"video_interval_ms" mapstructure:"video_interval_ms"`
	WatchURLPrefix              string `yaml:"watch_url_prefix" mapstructure:"watch_url_prefix"`
	// KeepStoredDateOnClockFallback stops undated videos from moving a
	// stored held_on to the run day.
	KeepStoredDateOnClockFallback bool `yaml:"keep_stored_date_on_clock_fallback" mapstructure:"keep_stored_date_on_clock_fallback"`
}

// ExtractConfig configures the metadata cascade.
type ExtractConfig struct {
	OEmbedEndpoint         string `yaml:"oembed_endpoint" mapstructure:"oembed_endpoint"`
	OEmbedFailureThreshold int    `yaml:"oembed_failure_threshold" mapstructure:"oembed_failure_threshold"`
	OEmbedResetTimeoutSecs int    `yaml:"oembed_reset_timeout_secs" mapstructure:"oembed_reset_timeout_secs"`
}

// TranscriptConfig configures the transcript collaborator.
type TranscriptConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Mode        string   `yaml:"mode" mapstructure:"mode"`
	Languages   []string `yaml:"languages" mapstructure:"languages"`
	Command     []string `yaml:"command" mapstructure:"command"`
	WorkDir     string   `yaml:"work_dir" mapstructure:"work_dir"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                string `yaml:"key" mapstructure:"key"`
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
	Model              string `yaml:"model" mapstructure:"model"`
	MaxTokens          int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxTranscriptChars int    `yaml:"max_transcript_chars" mapstructure:"max_transcript_chars"`
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	Backend          string `yaml:"backend" mapstructure:"backend"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseSecs  int    `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	LeaseTimeoutSecs int    `yaml:"lease_timeout_secs" mapstructure:"lease_timeout_secs"`
}

// TemporalConfig configures the Temporal queue backend.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ScheduleConfig configures the recurring ingestion schedule.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MEETINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "meetings.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_base_ms", 1000)
	v.SetDefault("ingest.max_concurrent_municipalities", 1)
	v.SetDefault("ingest.video_interval_ms", 500)
	v.SetDefault("ingest.watch_url_prefix", "https://www.youtube.com/watch?v=")
	v.SetDefault("ingest.keep_stored_date_on_clock_fallback", false)
	v.SetDefault("extract.oembed_endpoint", "https://www.youtube.com/oembed")
	v.SetDefault("extract.oembed_failure_threshold", 5)
	v.SetDefault("extract.oembed_reset_timeout_secs", 60)
	v.SetDefault("transcript.enabled", true)
	v.SetDefault("transcript.mode", "captions")
	v.SetDefault("transcript.languages", []string{"en", "en-US", "en-GB", "en-AU", "en-CA"})
	v.SetDefault("transcript.command", []string{"python3", "get_transcript.py"})
	v.SetDefault("transcript.work_dir", "tmp/transcripts")
	v.SetDefault("transcript.timeout_secs", 120)
	// Secrets have empty defaults so MEETINGS_* env vars reach Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.max_transcript_chars", 120000)
	v.SetDefault("queue.backend", "store")
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.poll_interval_secs", 5)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.backoff_base_secs", 30)
	v.SetDefault("queue.lease_timeout_secs", 1800)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "meeting-ingest")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("schedule.cron", "0 6 * * *")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the command family:
// "ingest", "worker", "serve" or "schedule".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "ingest":
		if c.Ingest.MaxConcurrentMunicipalities < 1 || c.Ingest.MaxConcurrentMunicipalities > 20 {
			errs = append(errs, "ingest.max_concurrent_municipalities must be between 1 and 20")
		}
		errs = append(errs, c.validateQueue()...)
	case "schedule":
		if strings.TrimSpace(c.Schedule.Cron) == "" {
			errs = append(errs, "schedule.cron is required")
		}
		errs = append(errs, c.validateQueue()...)
	case "worker":
		errs = append(errs, c.validateQueue()...)
		switch c.Transcript.Mode {
		case "captions", "command":
		default:
			errs = append(errs, "transcript.mode must be captions or command")
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateQueue()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateQueue() []string {
	var errs []string
	switch c.Queue.Backend {
	case "store":
		if c.Queue.Concurrency < 1 {
			errs = append(errs, "queue.concurrency must be >= 1")
		}
	case "temporal":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "none":
	default:
		errs = append(errs, "queue.backend must be store, temporal or none")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
