package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, []string{"*"}, c.HTTP.AllowedOrigins)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Equal(t, "./data/ledger.db", c.Store.DSN)
	assert.True(t, c.Scheduler.Enabled)
	assert.Equal(t, time.Minute, c.Scheduler.Interval)
	assert.False(t, c.Redis.Enabled)
	assert.True(t, c.Metrics.Enabled)
	assert.Empty(t, c.Seed)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	yaml := `
http:
  addr: ":9090"
store:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger
scheduler:
  interval: 30s
seed: supply-chain
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("LEDGER_STORE_DRIVER", "memory")
	t.Setenv("LEDGER_LOG_LEVEL", "debug")

	c, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTP.Addr)
	assert.Equal(t, "memory", c.Store.Driver)
	assert.Equal(t, "postgres://ledger@localhost/ledger", c.Store.DSN)
	assert.Equal(t, 30*time.Second, c.Scheduler.Interval)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "supply-chain", c.Seed)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Store.Driver = "sqlite"
		c.Store.DSN = "x.db"
		c.Scheduler.Enabled = true
		c.Scheduler.Interval = time.Second
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, false},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, false},
		{"memory needs no dsn", func(c *Config) { c.Store.Driver = "memory"; c.Store.DSN = "" }, true},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }, false},
		{"zero interval when disabled", func(c *Config) { c.Scheduler.Enabled = false; c.Scheduler.Interval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var c Config
	c.Log.Level = "warn"
	c.Log.Format = "text"
	log := NewLogger(c)
	assert.Equal(t, logrus.WarnLevel, log.Level)
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	c.Log.Level = "shouting"
	c.Log.Format = ""
	log = NewLogger(c)
	assert.Equal(t, logrus.InfoLevel, log.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}
