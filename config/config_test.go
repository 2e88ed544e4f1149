package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	// empty values fall back to defaults for slices, bools and numbers
	for _, k := range []string{"BUSINESS_TZ", "REDIS_ADDR", "CORS_ORIGINS", "ENABLE_SCENARIOS", "LEDGER_MAX_RETRIES", "SELECTION_TTL"} {
		t.Setenv(k, "")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/stock.db")
	t.Setenv("BUSINESS_TZ_OFFSET", "+07:00")

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.SelectionTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.EnableScenarios)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("BUSINESS_TZ", "")
	t.Setenv("BUSINESS_TZ_OFFSET", "+05:30")
	t.Setenv("LEDGER_MAX_RETRIES", "5")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOCK_TTL", "10s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SELECTION_TTL", "90s")
	t.Setenv("ENABLE_SCENARIOS", "true")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.SelectionTTL)
	assert.True(t, cfg.EnableScenarios)
	assert.Equal(t, "text", cfg.Log.Format)

	loc, err := cfg.Location()
	require.NoError(t, err)
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+30*60, offset)
}

func TestFromEnv_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "x.db")
	t.Setenv("BUSINESS_TZ", "")
	t.Setenv("BUSINESS_TZ_OFFSET", "+07:00")
	t.Setenv("LEDGER_MAX_RETRIES", "many")
	t.Setenv("SELECTION_TTL", "soon")

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.SelectionTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: "8080", DBPath: "x.db", BusinessTZOffset: "+07:00", SelectionTTL: time.Minute}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero selection ttl", func(c *Config) { c.SelectionTTL = 0 }},
		{"bad offset", func(c *Config) { c.BusinessTZOffset = "Bangkok" }},
		{"unknown zone", func(c *Config) { c.BusinessTZ = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLocation_ZoneNameWinsOverOffset(t *testing.T) {
	c := &Config{BusinessTZ: "UTC", BusinessTZOffset: "+07:00"}

	loc, err := c.Location()

	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(LogConfig{Level: "debug", Format: "json"}, &buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("store_id", 1).Info("hello")
	assert.Contains(t, buf.String(), `"store_id":1`)

	buf.Reset()
	log = newLogger(LogConfig{Level: "chatty", Format: "text"}, &buf)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	log.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(LogConfig{Level: "info", Format: "json"}, &buf)

	LogError(log, "main", "main", "server shutdown", map[string]int{"open": 2}, errors.New("deadline exceeded"))

	out := buf.String()
	assert.Contains(t, out, `"module":"main"`)
	assert.Contains(t, out, `"context":"server shutdown"`)
	assert.Contains(t, out, `"msg":"deadline exceeded"`)
	assert.Contains(t, out, `"level":"error"`)
}
