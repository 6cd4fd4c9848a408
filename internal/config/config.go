package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ERATEESTIMATOR_DB_DSN.
const EnvPrefix = "ERATEESTIMATOR"

type Config struct {
	HTTP   HTTPConfig
	Log    LogConfig
	DB     DBConfig
	Rates  RatesConfig
	Solver SolverConfig
	Water  WaterConfig
	Cache  CacheConfig
	Alert  AlertConfig
	Email  EmailConfig
	Auth   AuthConfig
}

type HTTPConfig struct {
	Port string
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string { return ":" + c.Port }

type LogConfig struct {
	Level  string
	Format string
}

type DBConfig struct {
	Driver      string // memory, sqlite, postgres, postgrespool
	DSN         string
	AutoMigrate bool
}

type RatesConfig struct {
	Source string // embedded, file, http
	File   string // file or directory of JSON rate tables
	URL    string
	// SnapshotKey names the stored snapshot that caches remote tables.
	SnapshotKey string
	// RefreshInterval is integer seconds or a standard cron expression.
	RefreshInterval string
	Timeout         time.Duration
}

type SolverConfig struct {
	UpperBoundKWh float64
	MaxIterations int
	Tolerance     float64
	// MaxPeriodDays rejects longer billing periods up front.
	MaxPeriodDays int
}

type WaterConfig struct {
	// M3PerKWh overrides the pump profile when positive.
	M3PerKWh       float64
	PumpHeadM      float64
	PumpEfficiency float64
}

type CacheConfig struct {
	Driver        string // none, memory, redis
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type AlertConfig struct {
	WebhookURL  string
	WebhookType string
	MinFailures int
}

type EmailConfig struct {
	Provider    string // none, smtp, sendgrid
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string // none, tls, ssl
	APIKey      string
	FromAddress string
	FromName    string
	To          []string
}

type AuthConfig struct {
	// Enabled guards the admin endpoints with bearer tokens.
	Enabled bool
	// AdminTokenHash is a bcrypt hash of a bootstrap admin token.
	AdminTokenHash string
}

// NewViper returns a viper instance wired to the environment with every
// default in place. Callers may bind flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// PORT is honoured for platforms that inject it.
	_ = v.BindEnv("http.port", EnvPrefix+"_HTTP_PORT", "PORT")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.dsn", "erateestimator.db")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("rates.source", "embedded")
	v.SetDefault("rates.file", "")
	v.SetDefault("rates.url", "")
	v.SetDefault("rates.snapshot_key", "rates:remote")
	v.SetDefault("rates.refresh_interval", "3600")
	v.SetDefault("rates.timeout", "30s")
	v.SetDefault("solver.upper_bound_kwh", 20000.0)
	v.SetDefault("solver.max_iterations", 100)
	v.SetDefault("solver.tolerance", 0.01)
	v.SetDefault("solver.max_period_days", 366)
	v.SetDefault("water.m3_per_kwh", 0.0)
	v.SetDefault("water.pump_head_m", 20.0)
	v.SetDefault("water.pump_efficiency", 0.6)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.webhook_type", "")
	v.SetDefault("alert.min_failures", 1)
	v.SetDefault("email.provider", "none")
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.encryption", "tls")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_address", "")
	v.SetDefault("email.from_name", "erateestimator")
	v.SetDefault("email.to", []string{})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.admin_token_hash", "")
}

// Load reads the optional config file and builds a validated Config.
// Environment variables take precedence over the file.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{Port: v.GetString("http.port")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(v.GetString("db.driver")),
			DSN:         v.GetString("db.dsn"),
			AutoMigrate: v.GetBool("db.auto_migrate"),
		},
		Rates: RatesConfig{
			Source:          strings.ToLower(v.GetString("rates.source")),
			File:            v.GetString("rates.file"),
			URL:             v.GetString("rates.url"),
			SnapshotKey:     v.GetString("rates.snapshot_key"),
			RefreshInterval: v.GetString("rates.refresh_interval"),
			Timeout:         v.GetDuration("rates.timeout"),
		},
		Solver: SolverConfig{
			UpperBoundKWh: v.GetFloat64("solver.upper_bound_kwh"),
			MaxIterations: v.GetInt("solver.max_iterations"),
			Tolerance:     v.GetFloat64("solver.tolerance"),
			MaxPeriodDays: v.GetInt("solver.max_period_days"),
		},
		Water: WaterConfig{
			M3PerKWh:       v.GetFloat64("water.m3_per_kwh"),
			PumpHeadM:      v.GetFloat64("water.pump_head_m"),
			PumpEfficiency: v.GetFloat64("water.pump_efficiency"),
		},
		Cache: CacheConfig{
			Driver:        strings.ToLower(v.GetString("cache.driver")),
			TTL:           v.GetDuration("cache.ttl"),
			RedisAddr:     v.GetString("cache.redis_addr"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
		},
		Alert: AlertConfig{
			WebhookURL:  v.GetString("alert.webhook_url"),
			WebhookType: v.GetString("alert.webhook_type"),
			MinFailures: v.GetInt("alert.min_failures"),
		},
		Email: EmailConfig{
			Provider:    strings.ToLower(v.GetString("email.provider")),
			Host:        v.GetString("email.host"),
			Port:        v.GetInt("email.port"),
			Username:    v.GetString("email.username"),
			Password:    v.GetString("email.password"),
			Encryption:  strings.ToLower(v.GetString("email.encryption")),
			APIKey:      v.GetString("email.api_key"),
			FromAddress: v.GetString("email.from_address"),
			FromName:    v.GetString("email.from_name"),
			To:          splitList(v.GetStringSlice("email.to")),
		},
		Auth: AuthConfig{
			Enabled:        v.GetBool("auth.enabled"),
			AdminTokenHash: v.GetString("auth.admin_token_hash"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and nonsensical solver or pump values.
func (c Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "memory", "sqlite", "postgres", "postgrespool":
	default:
		errs = append(errs, fmt.Errorf("db.driver: unsupported %q", c.DB.Driver))
	}
	switch c.Rates.Source {
	case "embedded":
	case "file":
		if c.Rates.File == "" {
			errs = append(errs, errors.New("rates.file: required when rates.source=file"))
		}
	case "http":
		if c.Rates.URL == "" {
			errs = append(errs, errors.New("rates.url: required when rates.source=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("rates.source: unsupported %q", c.Rates.Source))
	}
	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unsupported %q", c.Cache.Driver))
	}
	if c.Solver.UpperBoundKWh <= 0 {
		errs = append(errs, errors.New("solver.upper_bound_kwh: must be positive"))
	}
	if c.Solver.MaxIterations <= 0 {
		errs = append(errs, errors.New("solver.max_iterations: must be positive"))
	}
	if c.Solver.Tolerance <= 0 {
		errs = append(errs, errors.New("solver.tolerance: must be positive"))
	}
	if c.Solver.MaxPeriodDays <= 0 {
		errs = append(errs, errors.New("solver.max_period_days: must be positive"))
	}
	if c.Water.M3PerKWh < 0 {
		errs = append(errs, errors.New("water.m3_per_kwh: must not be negative"))
	}
	if c.Water.M3PerKWh == 0 {
		if c.Water.PumpHeadM <= 0 {
			errs = append(errs, errors.New("water.pump_head_m: must be positive"))
		}
		if c.Water.PumpEfficiency <= 0 || c.Water.PumpEfficiency > 1 {
			errs = append(errs, errors.New("water.pump_efficiency: must be in (0, 1]"))
		}
	}
	switch c.Email.Provider {
	case "", "none", "smtp", "sendgrid":
	default:
		errs = append(errs, fmt.Errorf("email.provider: unsupported %q", c.Email.Provider))
	}
	if c.Auth.Enabled && c.DB.Driver == "memory" && c.Auth.AdminTokenHash == "" {
		errs = append(errs, errors.New("auth.admin_token_hash: required when auth is enabled on the memory driver"))
	}
	return errors.Join(errs...)
}

// splitList accepts both list values and a single comma separated string,
// which is how a list arrives from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
