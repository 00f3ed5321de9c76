package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

// Config holds all configuration for our application
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Portal   PortalConfig         `mapstructure:"portal"`
	Cache    CacheConfig          `mapstructure:"cache"`
	Schedule ScheduleConfig       `mapstructure:"schedule"`
	Timezone string               `mapstructure:"timezone"`
	Accounts []models.Credentials `mapstructure:"accounts"`
	Database DatabaseConfig       `mapstructure:"database"`
	Logging  LoggingConfig        `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	MetricsPort    int           `mapstructure:"metrics_port"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type PortalConfig struct {
	URL            string        `mapstructure:"url"`
	LoginURL       string        `mapstructure:"login_url"`
	Policy         string        `mapstructure:"policy"`
	UserAgent      string        `mapstructure:"user_agent"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	MaxAccounts    int           `mapstructure:"max_accounts"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

type DatabaseConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Name              string `mapstructure:"name"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode"`
	MaxConnections    int    `mapstructure:"max_connections"`
	ConnectionTimeout int    `mapstructure:"connection_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var mprnPattern = regexp.MustCompile(`^\d{11}$`)

// Load reads configuration from file and environment variables.
//
// "$VAR" references in the file are expanded first. Any key can then be
// overridden with an ESBMETER_ variable, e.g. ESBMETER_CACHE_TTL=10m.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	// Convert the map to YAML again
	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	// Expand environment variables
	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ESBMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewReader([]byte(expandedData))); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 50051)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.cache_size", 1000)
	v.SetDefault("server.cache_ttl", "30s")

	v.SetDefault("portal.url", auth.DefaultPortalURL)
	v.SetDefault("portal.login_url", auth.DefaultLoginURL)
	v.SetDefault("portal.policy", auth.DefaultPolicy)
	v.SetDefault("portal.user_agent", auth.DefaultUserAgent)
	v.SetDefault("portal.connect_timeout", "10s")
	v.SetDefault("portal.read_timeout", "10s")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.refresh_timeout", "2m")
	v.SetDefault("cache.max_accounts", 16)

	v.SetDefault("schedule.cron", "*/5 * * * *")
	v.SetDefault("timezone", "Europe/Dublin")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connection_timeout", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("no accounts configured")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.Username == "" || acc.Password == "" || acc.MPRN == "" {
			return fmt.Errorf("account %d: username, password and mprn are required", i)
		}
		if !mprnPattern.MatchString(acc.MPRN) {
			return fmt.Errorf("account %d: mprn must be 11 digits", i)
		}
		if seen[acc.MPRN] {
			return fmt.Errorf("account %d: duplicate mprn %s", i, acc.MPRN)
		}
		seen[acc.MPRN] = true
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxAccounts <= 0 {
		return fmt.Errorf("cache max_accounts must be positive, got %d", c.Cache.MaxAccounts)
	}
	if c.Cache.MaxAccounts < len(c.Accounts) {
		return fmt.Errorf("cache max_accounts (%d) is smaller than the number of accounts (%d)", c.Cache.MaxAccounts, len(c.Accounts))
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the time zone of the portal's read times.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AuthOptions maps the portal settings onto the authenticator.
func (c *Config) AuthOptions() auth.Options {
	return auth.Options{
		PortalURL:      c.Portal.URL,
		LoginURL:       c.Portal.LoginURL,
		Policy:         c.Portal.Policy,
		UserAgent:      c.Portal.UserAgent,
		ConnectTimeout: c.Portal.ConnectTimeout,
		ReadTimeout:    c.Portal.ReadTimeout,
	}
}

// Enabled reports whether readings should be persisted.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ConnString builds the lib/pq connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.ConnectionTimeout,
	)
}

// NewLogger builds the logrus logger described by the logging section.
func (l LoggingConfig) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch l.Format {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format: %s", l.Format)
	}
	return logger, nil
}
