package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/esbmeter/internal/auth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8080
  host: "0.0.0.0"

accounts:
  - username: "user@example.com"
    password: "secret"
    mprn: "10012345678"

cache:
  ttl: 10m

database:
  host: "localhost"
  port: 5432
  name: "testdb"
  user: "testuser"
  password: "testpass"
  ssl_mode: "disable"
  max_connections: 10
  connection_timeout: 5

logging:
  level: "debug"
  format: "json"
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, "localhost", config.Database.Host)
	assert.Equal(t, "testdb", config.Database.Name)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 10*time.Minute, config.Cache.TTL)

	require.Len(t, config.Accounts, 1)
	assert.Equal(t, "user@example.com", config.Accounts[0].Username)
	assert.Equal(t, "secret", config.Accounts[0].Password)
	assert.Equal(t, "10012345678", config.Accounts[0].MPRN)
	assert.True(t, config.Database.Enabled())
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, `
accounts:
  - username: "user@example.com"
    password: "secret"
    mprn: "10012345678"
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 50051, config.Server.Port)
	assert.Equal(t, 9090, config.Server.MetricsPort)
	assert.Equal(t, 1000, config.Server.CacheSize)
	assert.Equal(t, 30*time.Second, config.Server.CacheTTL)
	assert.Equal(t, 5*time.Minute, config.Cache.TTL)
	assert.Equal(t, 2*time.Minute, config.Cache.RefreshTimeout)
	assert.Equal(t, 16, config.Cache.MaxAccounts)
	assert.Equal(t, "*/5 * * * *", config.Schedule.Cron)
	assert.Equal(t, "Europe/Dublin", config.Timezone)
	assert.Equal(t, auth.DefaultPortalURL, config.Portal.URL)
	assert.Equal(t, 10*time.Second, config.Portal.ConnectTimeout)
	assert.False(t, config.Database.Enabled())

	opts := config.AuthOptions()
	assert.Equal(t, auth.DefaultLoginURL, opts.LoginURL)
	assert.Equal(t, auth.DefaultPolicy, opts.Policy)
	assert.Equal(t, auth.DefaultUserAgent, opts.UserAgent)

	loc, err := config.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Dublin", loc.String())
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("APP_DATABASE_HOST", "envhost")
	t.Setenv("APP_DATABASE_PORT", "5433")
	t.Setenv("ESB_PASSWORD", "from-env")

	configPath := writeConfig(t, `
accounts:
  - username: "user@example.com"
    password: $ESB_PASSWORD
    mprn: "10012345678"

database:
  host: $APP_DATABASE_HOST
  port: $APP_DATABASE_PORT
  name: "testdb"
  user: "testuser"
  password: "testpass"
  ssl_mode: "disable"
  max_connections: 10
  connection_timeout: 5
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "envhost", config.Database.Host)
	assert.Equal(t, 5433, config.Database.Port)
	assert.Equal(t, "from-env", config.Accounts[0].Password)
}

func TestLoadWithPrefixedEnv(t *testing.T) {
	t.Setenv("ESBMETER_CACHE_TTL", "90s")
	t.Setenv("ESBMETER_SERVER_PORT", "6000")

	configPath := writeConfig(t, `
accounts:
  - username: "user@example.com"
    password: "secret"
    mprn: "10012345678"
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, config.Cache.TTL)
	assert.Equal(t, 6000, config.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	account := func(mprn string) string {
		return `
  - username: "user@example.com"
    password: "secret"
    mprn: "` + mprn + `"`
	}

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no accounts",
			content: "server:\n  port: 1\n",
			wantErr: "no accounts configured",
		},
		{
			name:    "short mprn",
			content: "accounts:" + account("1234"),
			wantErr: "mprn must be 11 digits",
		},
		{
			name:    "duplicate mprn",
			content: "accounts:" + account("10012345678") + account("10012345678"),
			wantErr: "duplicate mprn",
		},
		{
			name:    "missing password",
			content: "accounts:\n  - username: \"a\"\n    mprn: \"10012345678\"\n",
			wantErr: "username, password and mprn are required",
		},
		{
			name:    "bad timezone",
			content: "timezone: Nowhere/Atlantis\naccounts:" + account("10012345678"),
			wantErr: "invalid timezone",
		},
		{
			name:    "zero ttl",
			content: "cache:\n  ttl: 0s\naccounts:" + account("10012345678"),
			wantErr: "cache ttl must be positive",
		},
		{
			name:    "cache smaller than account list",
			content: "cache:\n  max_accounts: 1\naccounts:" + account("10012345678") + account("10087654321"),
			wantErr: "cache max_accounts (1) is smaller than the number of accounts (2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "warn", Format: "text"}.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = LoggingConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)

	_, err = LoggingConfig{Level: "info", Format: "xml"}.NewLogger()
	assert.Error(t, err)
}

func TestConnString(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Name: "n",
		SSLMode: "disable", ConnectionTimeout: 5,
	}
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=n sslmode=disable connect_timeout=5",
		d.ConnString())
}
