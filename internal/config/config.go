package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	GitHub    GitHubConfig
	Sync      SyncConfig
	configDir string // Internal: Directory where config was loaded from
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error, none
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// GitHubConfig configures the GitHub Issues provider
type GitHubConfig struct {
	Token             string        // Personal access token
	APIURL            string        // API base URL, anything but api.github.com is treated as Enterprise
	RequestTimeout    time.Duration // Per-request timeout
	RequestsPerMinute int           // Client-side rate limit
	Burst             int           // Rate limiter burst
	MaxRetries        int           // Retries for transport errors and 5xx responses
	LabelPrefix       string        // Prefix for labels tether owns, e.g. "tether:"
}

// SyncConfig configures the sync engine
type SyncConfig struct {
	DefaultStrategy  string        // last_write_wins, local_wins, remote_wins or manual
	DefaultDirection string        // bidirectional, push or pull, used when linking
	FieldMapFile     string        // Optional YAML file overriding label tables
	LockDir          string        // Directory holding per provider/project lock files
	LockTimeout      time.Duration // How long push/pull/sync wait for the lock
}

// New returns a new empty Config
func New() *Config {
	return &Config{
		Database: DatabaseConfig{},
		Logging:  LoggingConfig{},
		GitHub:   GitHubConfig{},
		Sync:     SyncConfig{},
	}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateGitHub(); err != nil {
		return fmt.Errorf("GitHub config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if err := checkDirectoryWritable(dir); err != nil {
		return fmt.Errorf("database directory: %w", err)
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateGitHub() error {
	// The token is optional at load time; commands that talk to GitHub check it.
	if c.GitHub.APIURL == "" {
		return fmt.Errorf("API URL cannot be empty")
	}

	if c.GitHub.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	if c.GitHub.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive")
	}

	if c.GitHub.Burst <= 0 {
		c.GitHub.Burst = 1
	}

	if c.GitHub.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if strings.ContainsAny(c.GitHub.LabelPrefix, " \t,") {
		return fmt.Errorf("label prefix %q cannot contain spaces or commas", c.GitHub.LabelPrefix)
	}

	return nil
}

func (c *Config) validateSync() error {
	switch c.Sync.DefaultStrategy {
	case "last_write_wins", "local_wins", "remote_wins", "manual":
	default:
		return fmt.Errorf("invalid default strategy: %s", c.Sync.DefaultStrategy)
	}

	switch c.Sync.DefaultDirection {
	case "bidirectional", "push", "pull":
	default:
		return fmt.Errorf("invalid default direction: %s", c.Sync.DefaultDirection)
	}

	if c.Sync.FieldMapFile != "" {
		if _, err := os.Stat(c.Sync.FieldMapFile); err != nil {
			return fmt.Errorf("field map file: %w", err)
		}
	}

	if c.Sync.LockDir == "" {
		return fmt.Errorf("lock directory cannot be empty")
	}

	if c.Sync.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}

	return nil
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getTimeFormat converts a named time format to its actual format string
func getTimeFormat(name string) string {
	switch name {
	case "RFC3339":
		return time.RFC3339
	case "RFC3339Nano":
		return time.RFC3339Nano
	case "RFC1123":
		return time.RFC1123
	case "Kitchen":
		return time.Kitchen
	case "DateTime":
		return "2006-01-02 15:04:05"
	case "Date":
		return "2006-01-02"
	default:
		return name
	}
}

// checkDirectoryWritable tests if a directory is writable
func checkDirectoryWritable(dir string) error {
	testFile := filepath.Join(dir, fmt.Sprintf("test_write_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}

	f.Close()
	os.Remove(testFile)

	return nil
}
