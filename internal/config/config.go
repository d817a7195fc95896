package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the costix service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Alerts        AlertConfig         `mapstructure:"alerts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Accounts      []AccountEntry      `mapstructure:"accounts"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// SyncConfig controls the reconciliation pipeline and its scheduling shell.
type SyncConfig struct {
	AutoInterval    time.Duration `mapstructure:"auto_interval"`
	Debounce        time.Duration `mapstructure:"debounce"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	BucketWidth     string        `mapstructure:"bucket_width"`
	KeyListLimit    int           `mapstructure:"key_list_limit"`
	MaxSaveErrors   int           `mapstructure:"max_save_errors"`
}

// ProvidersConfig carries per-provider endpoint overrides, mainly for tests
// and self-hosted gateways. Admin credentials live on accounts, not here.
type ProvidersConfig struct {
	OpenAI     ProviderEndpoint `mapstructure:"openai"`
	Claude     ProviderEndpoint `mapstructure:"claude"`
	OpenRouter ProviderEndpoint `mapstructure:"openrouter"`
	Volcengine ProviderEndpoint `mapstructure:"volcengine"`
}

type ProviderEndpoint struct {
	BaseURL string `mapstructure:"base_url"`
	Version string `mapstructure:"version"`
}

type AlertConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Webhooks []string      `mapstructure:"webhooks"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

type WebhookConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// AccountEntry bootstraps a provider account at startup. Credentials and the
// enabled flag follow config on every boot; user-edited fields do not live
// here.
type AccountEntry struct {
	Platform        string `mapstructure:"platform"`
	Name            string `mapstructure:"name"`
	Tenant          string `mapstructure:"tenant"`
	AdminCredential string `mapstructure:"admin_credential"`
	Enabled         *bool  `mapstructure:"enabled"`
}

func (e AccountEntry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("COSTIX_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("costix")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("COSTIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills sane defaults.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "COSTIX_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "COSTIX_REDIS_URL")
	}
	if c.Admin.JWTSecret == "" {
		missing = append(missing, "COSTIX_ADMIN_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("invalid reporting.timezone: %w", err)
	}
	c.Reporting.Timezone = reportingTZ

	if c.Sync.AutoInterval < 0 {
		return fmt.Errorf("sync.auto_interval must be >= 0")
	}
	if c.Sync.Debounce <= 0 {
		c.Sync.Debounce = 5 * time.Minute
	}
	if c.Sync.LockTTL <= 0 {
		c.Sync.LockTTL = 10 * time.Minute
	}
	if c.Sync.ProviderTimeout <= 0 {
		c.Sync.ProviderTimeout = 60 * time.Second
	}
	if c.Sync.BucketWidth == "" {
		c.Sync.BucketWidth = "1d"
	}
	if c.Sync.BucketWidth != "1d" && c.Sync.BucketWidth != "1h" {
		return fmt.Errorf("sync.bucket_width must be 1d or 1h")
	}
	if c.Sync.KeyListLimit <= 0 {
		c.Sync.KeyListLimit = 100
	}
	if c.Sync.MaxSaveErrors <= 0 {
		c.Sync.MaxSaveErrors = 50
	}

	c.Alerts.Webhooks = normalizeStringSlice(c.Alerts.Webhooks)
	if c.Alerts.Enabled && len(c.Alerts.Webhooks) == 0 {
		return fmt.Errorf("alerts requires at least one webhook when enabled")
	}
	if c.Alerts.Webhook.Timeout <= 0 {
		c.Alerts.Webhook.Timeout = 5 * time.Second
	}
	if c.Alerts.Webhook.MaxRetries <= 0 {
		c.Alerts.Webhook.MaxRetries = 3
	}

	for i, entry := range c.Accounts {
		platform := strings.ToLower(strings.TrimSpace(entry.Platform))
		switch platform {
		case "openai", "claude", "openrouter", "volcengine":
			c.Accounts[i].Platform = platform
		default:
			return fmt.Errorf("accounts[%d].platform %q is not supported", i, entry.Platform)
		}
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("accounts[%d].name must be provided", i)
		}
		if strings.TrimSpace(entry.AdminCredential) == "" {
			return fmt.Errorf("accounts[%d].admin_credential must be provided", i)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)

	v.SetDefault("reporting.timezone", "UTC")

	v.SetDefault("sync.auto_interval", "5m")
	v.SetDefault("sync.debounce", "5m")
	v.SetDefault("sync.lock_ttl", "10m")
	v.SetDefault("sync.provider_timeout", "60s")
	v.SetDefault("sync.bucket_width", "1d")
	v.SetDefault("sync.key_list_limit", 100)
	v.SetDefault("sync.max_save_errors", 50)

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.webhook.timeout", "5s")
	v.SetDefault("alerts.webhook.max_retries", 3)

	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_otlp", false)
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
