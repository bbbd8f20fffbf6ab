package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Scan      ScanConfig      `yaml:"scan" mapstructure:"scan"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Blocklist BlocklistConfig `yaml:"blocklist" mapstructure:"blocklist"`
	Liveness  LivenessConfig  `yaml:"liveness" mapstructure:"liveness"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScanConfig configures one bounded scan run.
type ScanConfig struct {
	// Name keys the checkpoint; deployments running several scans side by
	// side give each its own name.
	Name               string `yaml:"name" mapstructure:"name"`
	MaxItems           int    `yaml:"max_items" mapstructure:"max_items"`
	MaxPositiveDomains int    `yaml:"max_positive_domains" mapstructure:"max_positive_domains"`
	MaxRuntimeSecs     int    `yaml:"max_runtime_secs" mapstructure:"max_runtime_secs"`
	// CandidateMode is "first" (classify only the first surviving candidate
	// of an item) or "all".
	CandidateMode       string `yaml:"candidate_mode" mapstructure:"candidate_mode"`
	RecordUnknown       bool   `yaml:"record_unknown" mapstructure:"record_unknown"`
	ClassifyConcurrency int    `yaml:"classify_concurrency" mapstructure:"classify_concurrency"`
	Extractor           string `yaml:"extractor" mapstructure:"extractor"`
}

// MaxRuntime returns the runtime budget as a duration.
func (c ScanConfig) MaxRuntime() time.Duration {
	return time.Duration(c.MaxRuntimeSecs) * time.Second
}

// SourceConfig configures where shards come from.
type SourceConfig struct {
	Kind         string   `yaml:"kind" mapstructure:"kind"`
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	BaseURLs     []string `yaml:"base_urls" mapstructure:"base_urls"`
	ShardIDs     []string `yaml:"shard_ids" mapstructure:"shard_ids"`
	ShardPattern string   `yaml:"shard_pattern" mapstructure:"shard_pattern"`
	ShardCount   int      `yaml:"shard_count" mapstructure:"shard_count"`
	Format       string   `yaml:"format" mapstructure:"format"`
	IDField      string   `yaml:"id_field" mapstructure:"id_field"`
	TextFields   []string `yaml:"text_fields" mapstructure:"text_fields"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string   `yaml:"user_agent" mapstructure:"user_agent"`
}

// BlocklistConfig points at the platform blocklist.
type BlocklistConfig struct {
	Path  string   `yaml:"path" mapstructure:"path"`
	Extra []string `yaml:"extra" mapstructure:"extra"`
}

// LivenessConfig configures the signals and their precedence.
type LivenessConfig struct {
	Order               []string        `yaml:"order" mapstructure:"order"`
	VerdictCacheTTLSecs int             `yaml:"verdict_cache_ttl_secs" mapstructure:"verdict_cache_ttl_secs"`
	DNS                 DNSConfig       `yaml:"dns" mapstructure:"dns"`
	HTTP                HTTPProbeConfig `yaml:"http" mapstructure:"http"`
	Registrar           RegistrarConfig `yaml:"registrar" mapstructure:"registrar"`
	Whois               WhoisConfig     `yaml:"whois" mapstructure:"whois"`
}

// DNSConfig configures the DNS resolution signal.
type DNSConfig struct {
	Servers   []string `yaml:"servers" mapstructure:"servers"`
	TimeoutMs int      `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

// HTTPProbeConfig configures the HTTP reachability signal.
type HTTPProbeConfig struct {
	TimeoutMs                 int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	UnreachableStatuses       []int  `yaml:"unreachable_statuses" mapstructure:"unreachable_statuses"`
	ConnectFailureUnreachable bool   `yaml:"connect_failure_unreachable" mapstructure:"connect_failure_unreachable"`
	UserAgent                 string `yaml:"user_agent" mapstructure:"user_agent"`
}

// RegistrarConfig configures the registrar availability API signal.
type RegistrarConfig struct {
	BaseURL       string   `yaml:"base_url" mapstructure:"base_url"`
	APIKey        string   `yaml:"api_key" mapstructure:"api_key"`
	TimeoutMs     int      `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RatePerSec    float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	SupportedTLDs []string `yaml:"supported_tlds" mapstructure:"supported_tlds"`
}

// WhoisConfig configures the WHOIS signal.
type WhoisConfig struct {
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

// RetryConfig configures the retry policy applied to every signal call.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-signal circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// NotifyConfig configures out-of-band notifications.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// VerifyConfig configures the re-verification pass.
type VerifyConfig struct {
	Order           []string `yaml:"order" mapstructure:"order"`
	Limit           int      `yaml:"limit" mapstructure:"limit"`
	PruneRegistered bool     `yaml:"prune_registered" mapstructure:"prune_registered"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEAKSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leakscan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scan.name", "default")
	v.SetDefault("scan.max_items", 10000)
	v.SetDefault("scan.max_positive_domains", 20)
	v.SetDefault("scan.max_runtime_secs", 3000)
	v.SetDefault("scan.candidate_mode", "all")
	v.SetDefault("scan.record_unknown", false)
	v.SetDefault("scan.classify_concurrency", 4)
	v.SetDefault("scan.extractor", "text")
	v.SetDefault("source.kind", "dir")
	v.SetDefault("source.dir", "shards")
	v.SetDefault("source.format", "json")
	v.SetDefault("source.id_field", "id")
	v.SetDefault("source.text_fields", []string{"description"})
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.user_agent", "leakscan/1.0")
	v.SetDefault("liveness.order", []string{"dns", "http"})
	v.SetDefault("liveness.verdict_cache_ttl_secs", 3600)
	v.SetDefault("liveness.dns.timeout_ms", 3000)
	v.SetDefault("liveness.http.timeout_ms", 5000)
	v.SetDefault("liveness.http.unreachable_statuses", []int{404, 410, 502, 503})
	v.SetDefault("liveness.http.connect_failure_unreachable", false)
	v.SetDefault("liveness.http.user_agent", "Mozilla/5.0 (compatible; leakscan/1.0)")
	v.SetDefault("liveness.registrar.base_url", "https://api.apilayer.com/whois")
	v.SetDefault("liveness.registrar.timeout_ms", 15000)
	v.SetDefault("liveness.registrar.rate_per_sec", 1.0)
	v.SetDefault("liveness.whois.timeout_ms", 10000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("verify.order", []string{"registrar", "dns"})
	v.SetDefault("verify.limit", 50)
	v.SetDefault("verify.prune_registered", false)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the scan cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	switch c.Scan.CandidateMode {
	case "first", "all":
	default:
		return eris.Errorf("config: scan.candidate_mode must be first or all, got %q", c.Scan.CandidateMode)
	}
	if c.Scan.Name == "" {
		return eris.New("config: scan.name is required")
	}
	if len(c.Liveness.Order) == 0 {
		return eris.New("config: liveness.order must name at least one signal")
	}
	if c.Scan.MaxItems < 0 || c.Scan.MaxPositiveDomains < 0 || c.Scan.MaxRuntimeSecs < 0 {
		return eris.New("config: scan budgets must not be negative")
	}
	return nil
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
