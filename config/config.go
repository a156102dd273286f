/*
Package config loads server configuration.

PURPOSE:
  One Config struct for the whole server, loaded with viper from defaults,
  an optional YAML/JSON/TOML file, and LOANS_* environment variables, in
  increasing order of precedence.

ENVIRONMENT:
  Keys map to variables by upper-casing and replacing "." with "_":
    db.path                -> LOANS_DB_PATH
    auth.jwt_secret        -> LOANS_AUTH_JWT_SECRET
    scheduler.overdue_cron -> LOANS_SCHEDULER_OVERDUE_CRON
    scheduler.overdue_grace_days -> LOANS_SCHEDULER_OVERDUE_GRACE_DAYS

USAGE:
  cfg, err := config.Load("./config.yaml") // "" skips the file
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "LOANS"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	DB          DBConfig          `mapstructure:"db"`
	Log         LogConfig         `mapstructure:"log"`
	Auth        AuthConfig        `mapstructure:"auth"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Eligibility EligibilityConfig `mapstructure:"eligibility"`
	Payroll     PayrollConfig     `mapstructure:"payroll"`
	Products    ProductsConfig    `mapstructure:"products"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	OverdueCron string `mapstructure:"overdue_cron"`

	// Days after a month ends before its unpaid installments turn Overdue.
	OverdueGraceDays int `mapstructure:"overdue_grace_days"`
}

type SMTPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	From      string `mapstructure:"from"`
	QueueSize int    `mapstructure:"queue_size"`
}

type EligibilityConfig struct {
	MaxEmiRatio string `mapstructure:"max_emi_ratio"`
}

// Ratio parses MaxEmiRatio.
func (c EligibilityConfig) Ratio() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MaxEmiRatio)
}

type PayrollConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// ProductsConfig points at an optional catalogue file seeded on startup.
type ProductsConfig struct {
	CatalogueFile string `mapstructure:"catalogue_file"`
	Tenant        string `mapstructure:"tenant"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.path", "./data/loans.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "loan-engine")
	v.SetDefault("auth.audience", "loan-engine-api")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.overdue_cron", "0 2 * * *")
	v.SetDefault("scheduler.overdue_grace_days", 10)
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "loans@localhost")
	v.SetDefault("smtp.queue_size", 100)
	v.SetDefault("eligibility.max_emi_ratio", "0.5")
	v.SetDefault("payroll.concurrency", 8)
	v.SetDefault("products.catalogue_file", "")
	v.SetDefault("products.tenant", "")
}

// Load reads configuration. An empty path reads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot check by type alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	ratio, err := c.Eligibility.Ratio()
	if err != nil || !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("eligibility.max_emi_ratio %q must be in (0, 1]", c.Eligibility.MaxEmiRatio))
	}
	if c.Scheduler.OverdueGraceDays <= 0 {
		errs = append(errs, errors.New("scheduler.overdue_grace_days must be positive"))
	}
	if c.Payroll.Concurrency <= 0 {
		errs = append(errs, errors.New("payroll.concurrency must be positive"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
