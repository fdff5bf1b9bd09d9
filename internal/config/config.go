package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "compatscan.db"
	defaultMaxConcurrent     = 2
	defaultWorkDir           = "compatscan-work"
	defaultMaxFileBytes      = 512 * 1024
	defaultHeartbeatInterval = 15 * time.Second
	defaultCompatCacheSize   = 1024

	// DisabledDBPath turns off durable persistence; jobs then live in memory only.
	DisabledDBPath = "none"

	envConfigFile        = "COMPATSCAN_CONFIG"
	envListenAddr        = "COMPATSCAN_LISTEN_ADDR"
	envDBPath            = "COMPATSCAN_DB_PATH"
	envLogLevel          = "COMPATSCAN_LOG_LEVEL"
	envMaxConcurrent     = "COMPATSCAN_MAX_CONCURRENT"
	envJobTimeout        = "COMPATSCAN_JOB_TIMEOUT"
	envWorkDir           = "COMPATSCAN_WORK_DIR"
	envMaxFileBytes      = "COMPATSCAN_MAX_FILE_BYTES"
	envExtensions        = "COMPATSCAN_EXTENSIONS"
	envExclude           = "COMPATSCAN_EXCLUDE"
	envAllowedRoots      = "COMPATSCAN_ALLOWED_LOCAL_ROOTS"
	envHeartbeatInterval = "COMPATSCAN_HEARTBEAT_INTERVAL"
	envCompatCacheSize   = "COMPATSCAN_COMPAT_CACHE_SIZE"
	envCompatDataDir     = "COMPATSCAN_COMPAT_DATA_DIR"
	envBrowsers          = "COMPATSCAN_BROWSERS"
)

// Config holds application configuration loaded from an optional YAML file
// and environment variables. Environment variables win over the file.
type Config struct {
	ListenAddr        string
	DBPath            string
	LogLevel          slog.Level
	MaxConcurrent     int
	JobTimeout        time.Duration
	WorkDir           string
	MaxFileBytes      int64
	Extensions        []string
	Exclude           []string
	AllowedLocalRoots []string
	HeartbeatInterval time.Duration
	CompatCacheSize   int
	CompatDataDir     string
	Browsers          []string
}

// fileConfig mirrors Config in the YAML file layout.
type fileConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	DBPath            string   `yaml:"db_path"`
	LogLevel          string   `yaml:"log_level"`
	MaxConcurrent     string   `yaml:"max_concurrent"`
	JobTimeout        string   `yaml:"job_timeout"`
	WorkDir           string   `yaml:"work_dir"`
	MaxFileBytes      int64    `yaml:"max_file_bytes"`
	Extensions        []string `yaml:"extensions"`
	Exclude           []string `yaml:"exclude"`
	AllowedLocalRoots []string `yaml:"allowed_local_roots"`
	HeartbeatInterval string   `yaml:"heartbeat_interval"`
	CompatCacheSize   int      `yaml:"compat_cache_size"`
	CompatDataDir     string   `yaml:"compat_data_dir"`
	Browsers          []string `yaml:"browsers"`
}

// Load reads configuration with sensible defaults. A config file named by
// COMPATSCAN_CONFIG that cannot be read or parsed is reported as an error;
// individual malformed values fall back to their defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		MaxConcurrent:     defaultMaxConcurrent,
		WorkDir:           defaultWorkDir,
		MaxFileBytes:      defaultMaxFileBytes,
		HeartbeatInterval: defaultHeartbeatInterval,
		CompatCacheSize:   defaultCompatCacheSize,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.MaxConcurrent != "" {
		c.MaxConcurrent = parseMaxConcurrent(fc.MaxConcurrent)
	}
	if fc.JobTimeout != "" {
		c.JobTimeout = parseDuration(fc.JobTimeout, 0)
	}
	if fc.WorkDir != "" {
		c.WorkDir = fc.WorkDir
	}
	if fc.MaxFileBytes > 0 {
		c.MaxFileBytes = fc.MaxFileBytes
	}
	if len(fc.Extensions) > 0 {
		c.Extensions = fc.Extensions
	}
	if len(fc.Exclude) > 0 {
		c.Exclude = fc.Exclude
	}
	if len(fc.AllowedLocalRoots) > 0 {
		c.AllowedLocalRoots = fc.AllowedLocalRoots
	}
	if fc.HeartbeatInterval != "" {
		c.HeartbeatInterval = parseDuration(fc.HeartbeatInterval, defaultHeartbeatInterval)
	}
	if fc.CompatCacheSize > 0 {
		c.CompatCacheSize = fc.CompatCacheSize
	}
	if fc.CompatDataDir != "" {
		c.CompatDataDir = fc.CompatDataDir
	}
	if len(fc.Browsers) > 0 {
		c.Browsers = fc.Browsers
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envMaxConcurrent); v != "" {
		c.MaxConcurrent = parseMaxConcurrent(v)
	}
	if v := os.Getenv(envJobTimeout); v != "" {
		c.JobTimeout = parseDuration(v, 0)
	}
	if v := os.Getenv(envWorkDir); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv(envMaxFileBytes); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.MaxFileBytes = n
		}
	}
	if v := splitCSV(os.Getenv(envExtensions)); len(v) > 0 {
		c.Extensions = v
	}
	if v := splitCSV(os.Getenv(envExclude)); len(v) > 0 {
		c.Exclude = v
	}
	if v := splitCSV(os.Getenv(envAllowedRoots)); len(v) > 0 {
		c.AllowedLocalRoots = v
	}
	if v := os.Getenv(envHeartbeatInterval); v != "" {
		c.HeartbeatInterval = parseDuration(v, defaultHeartbeatInterval)
	}
	if v := os.Getenv(envCompatCacheSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CompatCacheSize = n
		}
	}
	if v := os.Getenv(envCompatDataDir); v != "" {
		c.CompatDataDir = v
	}
	if v := splitCSV(os.Getenv(envBrowsers)); len(v) > 0 {
		c.Browsers = v
	}
}

// PersistenceEnabled reports whether a durable job store should be opened.
func (c Config) PersistenceEnabled() bool {
	return c.DBPath != "" && c.DBPath != DisabledDBPath
}

// parseMaxConcurrent returns the configured concurrency ceiling, silently
// correcting anything that is not a positive integer to the default.
func parseMaxConcurrent(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return defaultMaxConcurrent
	}
	return n
}

// parseDuration accepts Go duration strings ("90s") or bare seconds ("90").
func parseDuration(s string, fallback time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
