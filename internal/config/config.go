// Package config loads runtime settings from the environment.
// A .env file, when present, is loaded by main before Load is called.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Assignment policy names accepted in SUPPORT_ASSIGNMENT_POLICY.
const (
	PolicyRoundRobin  = "round_robin"
	PolicyLeastLoaded = "least_loaded"
)

type Config struct {
	Env  string
	Addr string

	// StorageBackend is "postgres" or "memory".
	StorageBackend string
	DatabaseDSN    string

	// RedisAddr empty disables cross-node fan-out, shared presence and the shared queue.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	DevTokens bool

	TelegramBotToken string

	AssignmentPolicy string
	QueueEnabled     bool
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	MaxMessageLen    int
	DefaultLanguage  string
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getIntEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Load reads all env vars and builds the config.
func Load() (*Config, error) {
	cfg := &Config{
		Env:  strings.ToLower(getEnv("ENV", "development")),
		Addr: getEnv("SUPPORT_ADDR", ":8080"),

		StorageBackend: getEnv("SUPPORT_STORAGE_BACKEND", "postgres"),
		DatabaseDSN:    getEnv("DB_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		JWTSecret: os.Getenv("SUPPORT_JWT_SECRET"),
		DevTokens: getBoolEnv("SUPPORT_DEV_TOKENS", false),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		AssignmentPolicy: getEnv("SUPPORT_ASSIGNMENT_POLICY", PolicyLeastLoaded),
		QueueEnabled:     getBoolEnv("SUPPORT_QUEUE_ENABLED", false),
		IdleTimeout:      getDurationEnv("SUPPORT_SESSION_IDLE_TIMEOUT", DefaultIdleTimeout),
		SweepInterval:    getDurationEnv("SUPPORT_SWEEP_INTERVAL", DefaultSweepInterval),
		MaxMessageLen:    getIntEnv("SUPPORT_MAX_MESSAGE_LEN", DefaultMaxMessageLen),
		DefaultLanguage:  getEnv("SUPPORT_DEFAULT_LANGUAGE", "en"),
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_USER", "user"),
			getEnv("DB_PASSWORD", "password"),
			getEnv("DB_NAME", "supportdb"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("SUPPORT_JWT_SECRET must be set"))
	}
	switch c.StorageBackend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown SUPPORT_STORAGE_BACKEND %q", c.StorageBackend))
	}
	switch c.AssignmentPolicy {
	case PolicyRoundRobin, PolicyLeastLoaded:
	default:
		errs = append(errs, fmt.Errorf("unknown SUPPORT_ASSIGNMENT_POLICY %q", c.AssignmentPolicy))
	}
	if c.MaxMessageLen <= 0 {
		errs = append(errs, errors.New("SUPPORT_MAX_MESSAGE_LEN must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
