package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tildaslashalef/tether/internal/loggy"
)

// SettingsService provides operations for managing application settings.
// It also serves as the pull cursor store.
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *sql.DB, config *Config, logger *loggy.Logger) *SettingsService {
	return NewSettingsServiceWithRepo(NewSQLSettingsRepository(db, logger), config, logger)
}

// NewSettingsServiceWithRepo creates a settings service over an existing repository
func NewSettingsServiceWithRepo(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// GetSetting retrieves a setting by key
func (s *SettingsService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repo.GetSetting(ctx, key)
}

// GetSettings retrieves multiple settings by prefix
func (s *SettingsService) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	return s.repo.GetSettings(ctx, prefix)
}

// SetSetting sets a setting value
func (s *SettingsService) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

// DeleteSetting deletes a setting
func (s *SettingsService) DeleteSetting(ctx context.Context, key string) error {
	return s.repo.DeleteSetting(ctx, key)
}

// GetRepository returns the underlying repository
func (s *SettingsService) GetRepository() SettingsRepository {
	return s.repo
}

// LoadGitHubToken fills an empty GitHub token in the config from the database
func (s *SettingsService) LoadGitHubToken(ctx context.Context) error {
	if s.config == nil || s.config.GitHub.Token != "" {
		return nil
	}

	token, err := s.repo.GetSetting(ctx, SettingGitHubToken)
	if err != nil {
		return fmt.Errorf("loading GitHub token: %w", err)
	}
	s.config.GitHub.Token = token
	return nil
}

// SetGitHubToken stores the GitHub token obfuscated
func (s *SettingsService) SetGitHubToken(ctx context.Context, token string) error {
	if s.config != nil {
		s.config.GitHub.Token = token
	}
	return s.repo.SetSetting(ctx, SettingGitHubToken, token)
}

// CursorKey returns the settings key holding the pull cursor for provider/project
func CursorKey(provider, project string) string {
	return SettingCursorRoot + provider + "." + project
}

// GetCursor returns the time of the last completed pull, zero when none
func (s *SettingsService) GetCursor(ctx context.Context, provider, project string) (time.Time, error) {
	value, err := s.repo.GetSetting(ctx, CursorKey(provider, project))
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, nil
	}

	cursor, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		s.logger.Warn("Ignoring unparseable pull cursor", "provider", provider, "project", project, "value", value)
		return time.Time{}, nil
	}
	return cursor, nil
}

// SetCursor stores the pull cursor for provider/project
func (s *SettingsService) SetCursor(ctx context.Context, provider, project string, cursor time.Time) error {
	return s.repo.SetSetting(ctx, CursorKey(provider, project), cursor.UTC().Format(time.RFC3339Nano))
}

// ResetCursor forgets the pull cursor so the next pull lists everything
func (s *SettingsService) ResetCursor(ctx context.Context, provider, project string) error {
	return s.repo.DeleteSetting(ctx, CursorKey(provider, project))
}
