package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultConfigDir returns ~/.tether
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".tether"), nil
}

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// TETHER_ENV_FILE points at a custom .env file
	if envFilePath := getEnvString("TETHER_ENV_FILE", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		// Then try current directory as fallback
		_ = godotenv.Load()
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("TETHER_DB_PATH", filepath.Join(configDir, "tether.db")),
		BusyTimeout:     getEnvInt("TETHER_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("TETHER_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("TETHER_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("TETHER_DB_CACHE_SIZE", -16000),
		ForeignKeys:     getEnvBool("TETHER_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("TETHER_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("TETHER_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("TETHER_LOG_LEVEL", "info"),
		Format:     getEnvString("TETHER_LOG_FORMAT", "text"),
		Output:     getEnvString("TETHER_LOG_OUTPUT", filepath.Join(configDir, "tether.log")),
		AddSource:  getEnvBool("TETHER_LOG_ADD_SOURCE", true),
		TimeFormat: getTimeFormat(getEnvString("TETHER_LOG_TIME_FORMAT", "RFC3339")),
	}

	cfg.GitHub = GitHubConfig{
		Token:             getEnvString("TETHER_GITHUB_TOKEN", os.Getenv("GITHUB_TOKEN")),
		APIURL:            getEnvString("TETHER_GITHUB_API_URL", "https://api.github.com"),
		RequestTimeout:    getEnvDuration("TETHER_GITHUB_REQUEST_TIMEOUT", 30*time.Second),
		RequestsPerMinute: getEnvInt("TETHER_GITHUB_REQUESTS_PER_MINUTE", 60),
		Burst:             getEnvInt("TETHER_GITHUB_BURST", 5),
		MaxRetries:        getEnvInt("TETHER_GITHUB_MAX_RETRIES", 3),
		LabelPrefix:       getEnvString("TETHER_GITHUB_LABEL_PREFIX", "tether:"),
	}

	cfg.Sync = SyncConfig{
		DefaultStrategy:  getEnvString("TETHER_SYNC_STRATEGY", "last_write_wins"),
		DefaultDirection: getEnvString("TETHER_SYNC_DIRECTION", "bidirectional"),
		FieldMapFile:     getEnvString("TETHER_SYNC_FIELD_MAP_FILE", ""),
		LockDir:          getEnvString("TETHER_SYNC_LOCK_DIR", filepath.Join(configDir, "locks")),
		LockTimeout:      getEnvDuration("TETHER_SYNC_LOCK_TIMEOUT", 10*time.Second),
	}

	return cfg, cfg.Validate()
}
