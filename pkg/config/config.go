// Package config loads votebridge server configuration from the environment,
// an optional .env file and an optional YAML deployment file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultWindow is the verification window applied when none is configured.
const DefaultWindow = 20 * time.Minute

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string
	DataDir   string

	DatabaseURL   string // empty selects sqlite under DataDir
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Governance     string
	Module         string
	SignMessageLib string
	ChainID        uint64
	Window         time.Duration
	Safes          []string

	RelayURL string
	RelayRPS float64

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	OTelEnabled  bool
	OTelEndpoint string

	ArchiveType     string
	ArchiveDir      string
	ArchiveBucket   string
	ArchivePrefix   string
	ArchiveRegion   string
	ArchiveEndpoint string

	// DeploymentFile is the YAML file read by LoadDeployment, if any.
	DeploymentFile string
}

// LoadEnvFile populates the process environment from a .env file. Variables
// that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load loads configuration from environment variables. Malformed durations,
// chain ids and rates load as out-of-range values so Validate reports them.
func Load() *Config {
	dataDir := env("DATA_DIR", "data")
	return &Config{
		Port:      env("PORT", "8080"),
		LogLevel:  strings.ToUpper(env("LOG_LEVEL", "INFO")),
		LogFormat: strings.ToLower(env("LOG_FORMAT", "text")),
		DataDir:   dataDir,

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisPrefix:   env("REDIS_PREFIX", "votebridge"),

		Governance:     os.Getenv("GOVERNANCE_ADDRESS"),
		Module:         os.Getenv("MODULE_ADDRESS"),
		SignMessageLib: os.Getenv("SIGN_MESSAGE_LIB"),
		ChainID:        envUint("CHAIN_ID", 1),
		Window:         envDuration("VERIFICATION_WINDOW", DefaultWindow),
		Safes:          envList("SAFES"),

		RelayURL: os.Getenv("RELAY_URL"),
		RelayRPS: envFloat("RELAY_RPS", 1),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		ArchiveType:     strings.ToLower(env("ARCHIVE_TYPE", "fs")),
		ArchiveDir:      env("ARCHIVE_DIR", filepath.Join(dataDir, "archive")),
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix:   os.Getenv("ARCHIVE_PREFIX"),
		ArchiveRegion:   os.Getenv("ARCHIVE_REGION"),
		ArchiveEndpoint: os.Getenv("ARCHIVE_ENDPOINT"),

		DeploymentFile: os.Getenv("VOTEBRIDGE_CONFIG"),
	}
}

// SQLitePath is the lite-mode database location.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "votebridge.db")
}

// LiteMode reports whether persistence runs on the embedded sqlite file.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// Validate rejects malformed addresses, durations and limits. Every problem
// is reported, not only the first.
func (c *Config) Validate() error {
	var errs []error

	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		errs = append(errs, fmt.Errorf("PORT %q is not a port number", c.Port))
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q must be DEBUG, INFO, WARN or ERROR", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}

	for name, v := range map[string]string{
		"GOVERNANCE_ADDRESS": c.Governance,
		"MODULE_ADDRESS":     c.Module,
		"SIGN_MESSAGE_LIB":   c.SignMessageLib,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		} else if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("%s %q is not an address", name, v))
		}
	}
	for _, s := range c.Safes {
		if !common.IsHexAddress(s) {
			errs = append(errs, fmt.Errorf("SAFES entry %q is not an address", s))
		}
	}

	if c.Window <= 0 {
		errs = append(errs, errors.New("VERIFICATION_WINDOW must be a positive duration"))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RelayRPS < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}

	switch c.ArchiveType {
	case "fs":
	case "s3", "gcs":
		if c.ArchiveBucket == "" {
			errs = append(errs, fmt.Errorf("ARCHIVE_BUCKET is required for %s archives", c.ArchiveType))
		}
	default:
		errs = append(errs, fmt.Errorf("ARCHIVE_TYPE %q must be fs, s3 or gcs", c.ArchiveType))
	}

	return errors.Join(errs...)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envUint(key string, fallback uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return -1
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
