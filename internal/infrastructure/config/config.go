package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Log      LogConfig
	HTTP     HTTPConfig
	JWT      JWTConfig
	Redis    RedisConfig
	Database DatabaseConfig
	BAP      BAPConfig
	Formio   FormioConfig
	Periods  PeriodsConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// JWTConfig holds settings for validating session tokens minted by the
// external identity provider.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// TTL for cached RecordType name to ID lookups
	RecordTypeTTL time.Duration
	// TTL for cached per-user combo key sets
	ComboKeyTTL time.Duration
}

// DatabaseConfig holds audit database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// BAPConfig holds connection settings for the Business Automation Platform
// (the status directory backend).
type BAPConfig struct {
	LoginURL     string
	APIVersion   string
	ClientID     string
	ClientSecret string
	User         string
	Password     string
	Timeout      time.Duration
}

// FormioConfig holds connection settings for the Formio form store.
type FormioConfig struct {
	BaseURL     string
	ProjectName string
	APIKey      string
	Timeout     time.Duration
	// Forms maps rebate year -> form type -> form path segment,
	// e.g. Forms["2023"]["frf"] = "csb-app-2023".
	Forms map[string]map[string]string
}

// PeriodsConfig maps rebate year -> form type -> submission period open.
type PeriodsConfig struct {
	Open map[string]map[string]bool
}

// rebate years and form types the portal serves
var (
	rebateYears = []string{"2022", "2023", "2024"}
	formTypes   = []string{"frf", "prf", "crf"}
)

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CSB_ prefix (e.g., CSB_BAP_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CSB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			Audience: v.GetString("jwt.audience"),
		},
		Redis: RedisConfig{
			Host:          v.GetString("redis.host"),
			Port:          v.GetInt("redis.port"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			RecordTypeTTL: v.GetDuration("redis.record_type_ttl"),
			ComboKeyTTL:   v.GetDuration("redis.combo_key_ttl"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		BAP: BAPConfig{
			LoginURL:     v.GetString("bap.login_url"),
			APIVersion:   v.GetString("bap.api_version"),
			ClientID:     v.GetString("bap.client_id"),
			ClientSecret: v.GetString("bap.client_secret"),
			User:         v.GetString("bap.user"),
			Password:     v.GetString("bap.password"),
			Timeout:      v.GetDuration("bap.timeout"),
		},
		Formio: FormioConfig{
			BaseURL:     v.GetString("formio.base_url"),
			ProjectName: v.GetString("formio.project_name"),
			APIKey:      v.GetString("formio.api_key"),
			Timeout:     v.GetDuration("formio.timeout"),
			Forms:       make(map[string]map[string]string),
		},
		Periods: PeriodsConfig{
			Open: make(map[string]map[string]bool),
		},
	}

	for _, year := range rebateYears {
		cfg.Formio.Forms[year] = make(map[string]string)
		cfg.Periods.Open[year] = make(map[string]bool)
		for _, formType := range formTypes {
			cfg.Formio.Forms[year][formType] = v.GetString(fmt.Sprintf("formio.forms.%s.%s", year, formType))
			cfg.Periods.Open[year][formType] = v.GetBool(fmt.Sprintf("periods.%s.%s", year, formType))
		}
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "csb-data-system"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "3001"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "csb-auth"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.RecordTypeTTL == 0 {
		cfg.Redis.RecordTypeTTL = 12 * time.Hour
	}
	if cfg.Redis.ComboKeyTTL == 0 {
		cfg.Redis.ComboKeyTTL = time.Minute
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "csb_audit"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.BAP.APIVersion == "" {
		cfg.BAP.APIVersion = "v58.0"
	}
	if cfg.BAP.Timeout == 0 {
		cfg.BAP.Timeout = 30 * time.Second
	}
	if cfg.Formio.Timeout == 0 {
		cfg.Formio.Timeout = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.BAP.ClientID == "" || c.BAP.ClientSecret == "" {
			return fmt.Errorf("bap.client_id and bap.client_secret are required in production")
		}
		if c.BAP.User == "" || c.BAP.Password == "" {
			return fmt.Errorf("bap.user and bap.password are required in production")
		}
		if c.Formio.BaseURL == "" {
			return fmt.Errorf("formio.base_url is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	return nil
}

// FormURL returns the full form store URL for a rebate year and form type,
// or "" when no form is configured for that combination.
func (c *FormioConfig) FormURL(rebateYear, formType string) string {
	form := c.Forms[rebateYear][formType]
	if form == "" || c.BaseURL == "" {
		return ""
	}
	base := strings.TrimSuffix(c.BaseURL, "/")
	if c.ProjectName != "" {
		return fmt.Sprintf("%s/%s/%s", base, c.ProjectName, form)
	}
	return fmt.Sprintf("%s/%s", base, form)
}

// SubmissionPeriodOpen reports whether the submission period for the given
// rebate year and form type is currently open.
func (c *PeriodsConfig) SubmissionPeriodOpen(rebateYear, formType string) bool {
	return c.Open[rebateYear][formType]
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
