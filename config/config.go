// Package config loads process configuration from the environment and an
// optional .env file, and builds the shared logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/stock-ledger/ledger"
)

type Config struct {
	Port   string
	DBPath string

	BusinessTZ       string // IANA zone name, e.g. "Asia/Bangkok"
	BusinessTZOffset string // fallback fixed offset, e.g. "+07:00"
	MaxRetries       int

	Log LogConfig

	Redis RedisConfig

	ExportDir         string
	PubSubProjectID   string
	PubSubTopic       string
	PubSubCredentials string // service account JSON; empty uses application default credentials

	CORSOrigins     []string
	SelectionTTL    time.Duration
	EnableScenarios bool
}

type LogConfig struct {
	Level        string
	Format       string // json or text
	ReportCaller bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// Load reads .env when present and then the process environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	// a missing .env is normal in production
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/stock.db"),
		BusinessTZ:       getEnv("BUSINESS_TZ", ""),
		BusinessTZOffset: getEnv("BUSINESS_TZ_OFFSET", "+07:00"),
		MaxRetries:       getEnvInt("LEDGER_MAX_RETRIES", 3),
		Log: LogConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "json"),
			ReportCaller: getEnvBool("LOG_CALLER", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("LOCK_TTL", 30*time.Second),
		},
		ExportDir:         getEnv("EXPORT_DIR", ""),
		PubSubProjectID:   getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:       getEnv("PUBSUB_TOPIC", "stock-ledger-events"),
		PubSubCredentials: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
		CORSOrigins:       getEnvSlice("CORS_ORIGINS", []string{"*"}),
		SelectionTTL:      getEnvDuration("SELECTION_TTL", 5*time.Minute),
		EnableScenarios:   getEnvBool("ENABLE_SCENARIOS", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: PORT must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: DB_PATH must not be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: LEDGER_MAX_RETRIES must not be negative")
	}
	if c.SelectionTTL <= 0 {
		return fmt.Errorf("config: SELECTION_TTL must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the business time zone. BUSINESS_TZ takes precedence
// over BUSINESS_TZ_OFFSET.
func (c *Config) Location() (*time.Location, error) {
	if c.BusinessTZ != "" {
		loc, err := time.LoadLocation(c.BusinessTZ)
		if err != nil {
			return nil, fmt.Errorf("config: BUSINESS_TZ %q: %w", c.BusinessTZ, err)
		}
		return loc, nil
	}
	loc, err := ledger.FixedZone(c.BusinessTZOffset)
	if err != nil {
		return nil, fmt.Errorf("config: BUSINESS_TZ_OFFSET %q: %w", c.BusinessTZOffset, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}
