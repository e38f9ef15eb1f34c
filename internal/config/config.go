package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Auth      AuthConfig      `yaml:"auth"`
	Progress  ProgressConfig  `yaml:"progress"`
	Events    EventsConfig    `yaml:"events"`
	Expander  ExpanderConfig  `yaml:"expander"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9848"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	LogLevel     string        `yaml:"log_level" envconfig:"LOG_LEVEL" default:"info"`
}

// StorageConfig holds filesystem locations.
type StorageConfig struct {
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"downloads"`
	// SessionDir holds session.json and cookies.txt.
	SessionDir string `yaml:"session_dir" envconfig:"SESSION_DIR" default:".streamfetch"`
	// MinFreeBytes halts job starts when the output volume drops below it.
	MinFreeBytes int64 `yaml:"min_free_bytes" envconfig:"MIN_FREE_BYTES" default:"268435456"` // 256MB
}

// SchedulerConfig holds queue and retry configuration.
type SchedulerConfig struct {
	Concurrency   int           `yaml:"concurrency" envconfig:"SCHEDULER_CONCURRENCY" default:"2"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"SCHEDULER_MAX_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"SCHEDULER_RETRY_DELAY" default:"2s"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"SCHEDULER_MAX_RETRY_DELAY" default:"60s"`
	BackoffFactor float64       `yaml:"backoff_factor" envconfig:"SCHEDULER_BACKOFF_FACTOR" default:"2"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" envconfig:"SCHEDULER_SHUTDOWN_GRACE" default:"25s"`
	// Retention prunes finished jobs older than this from memory. Zero keeps them.
	Retention time.Duration `yaml:"retention" envconfig:"SCHEDULER_RETENTION" default:"24h"`
}

// EngineConfig holds extraction engine configuration.
type EngineConfig struct {
	Binary          string        `yaml:"binary" envconfig:"YTDLP_BINARY" default:"yt-dlp"`
	Lister          string        `yaml:"lister" envconfig:"ENGINE_LISTER" default:"ytdlp"` // ytdlp | native
	UserAgent       string        `yaml:"user_agent" envconfig:"ENGINE_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	SocketTimeout   time.Duration `yaml:"socket_timeout" envconfig:"ENGINE_SOCKET_TIMEOUT" default:"30s"`
	ListTimeout     time.Duration `yaml:"list_timeout" envconfig:"ENGINE_LIST_TIMEOUT" default:"2m"`
	MergeFormat     string        `yaml:"merge_format" envconfig:"ENGINE_MERGE_FORMAT" default:"mp4"`
	OutputTemplate  string        `yaml:"output_template" envconfig:"ENGINE_OUTPUT_TEMPLATE" default:"%(title)s [%(id)s].%(ext)s"`
	DefaultQuality  int           `yaml:"default_quality" envconfig:"ENGINE_DEFAULT_QUALITY" default:"0"`
	FragmentRetries int           `yaml:"fragment_retries" envconfig:"ENGINE_FRAGMENT_RETRIES" default:"10"`
}

// AuthConfig holds session configuration.
type AuthConfig struct {
	CookieDomains []string      `yaml:"cookie_domains" envconfig:"AUTH_COOKIE_DOMAINS" default:".youtube.com,.google.com"`
	Browser       string        `yaml:"browser" envconfig:"AUTH_BROWSER" default:"chrome"`
	LoginTimeout  time.Duration `yaml:"login_timeout" envconfig:"AUTH_LOGIN_TIMEOUT" default:"5m"`
	ProbeURL      string        `yaml:"probe_url" envconfig:"AUTH_PROBE_URL" default:"https://www.youtube.com/feed/subscriptions"`
	Passphrase    string        `yaml:"-" envconfig:"SESSION_PASSPHRASE"`
	WatchFile     string        `yaml:"watch_file" envconfig:"AUTH_WATCH_FILE"`
	// ValidateOnStart probes restored credentials before accepting jobs.
	ValidateOnStart bool `yaml:"validate_on_start" envconfig:"AUTH_VALIDATE_ON_START" default:"false"`
}

// ProgressConfig holds progress throttling configuration.
type ProgressConfig struct {
	MaxUpdatesPerSecond float64 `yaml:"max_updates_per_second" envconfig:"PROGRESS_MAX_UPDATES_PER_SECOND" default:"4"`
	// LogSamples is the per-job sample window served by the progress route. Zero disables it.
	LogSamples int `yaml:"log_samples" envconfig:"PROGRESS_LOG_SAMPLES" default:"0"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	RingBufferSize   int    `yaml:"ring_buffer_size" envconfig:"EVENTS_RING_BUFFER_SIZE" default:"1000"`
	SubscriberBuffer int    `yaml:"subscriber_buffer" envconfig:"EVENTS_SUBSCRIBER_BUFFER" default:"256"`
	SQLitePath       string `yaml:"sqlite_path" envconfig:"EVENTS_SQLITE_PATH"`
	RetentionDays    int    `yaml:"retention_days" envconfig:"EVENTS_RETENTION_DAYS" default:"30"`
}

// ExpanderConfig holds playlist expansion configuration.
type ExpanderConfig struct {
	// DedupeScope is one of active, session or history.
	DedupeScope string `yaml:"dedupe_scope" envconfig:"DEDUPE_SCOPE" default:"session"`
	// HistoryPath is the SQLite database of completed jobs, required for the history scope.
	HistoryPath string `yaml:"history_path" envconfig:"HISTORY_PATH"`
}

// Load builds the configuration from struct defaults, an optional YAML file
// and the environment. Environment variables override file values, which
// override defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Defaults
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		// Override with environment variables. envconfig would also
		// reapply defaults over file values, so only set variables are copied.
		env := &Config{}
		if err := envconfig.Process("", env); err != nil {
			return nil, fmt.Errorf("process environment: %w", err)
		}
		overlaySetEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(env).Elem())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// overlaySetEnv copies fields from src to dst whose envconfig variable is
// present in the environment.
func overlaySetEnv(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			overlaySetEnv(dst.Field(i), src.Field(i))
			continue
		}
		key := field.Tag.Get("envconfig")
		if key == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// Validate checks configuration values and clamps the concurrency bound.
func (c *Config) Validate() error {
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.Storage.SessionDir == "" {
		return fmt.Errorf("SESSION_DIR is required")
	}
	if c.Scheduler.Concurrency < 1 {
		c.Scheduler.Concurrency = 1
	}
	if c.Scheduler.Concurrency > 16 {
		c.Scheduler.Concurrency = 16
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("SCHEDULER_MAX_ATTEMPTS must be at least 1")
	}
	switch c.Engine.Lister {
	case "ytdlp", "native":
	default:
		return fmt.Errorf("ENGINE_LISTER must be ytdlp or native, got %q", c.Engine.Lister)
	}
	switch strings.ToLower(c.Expander.DedupeScope) {
	case "active", "session":
	case "history":
		if c.Expander.HistoryPath == "" {
			return fmt.Errorf("HISTORY_PATH is required when DEDUPE_SCOPE is history")
		}
	default:
		return fmt.Errorf("DEDUPE_SCOPE must be active, session or history, got %q", c.Expander.DedupeScope)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
