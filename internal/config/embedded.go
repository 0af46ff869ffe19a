package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tildaslashalef/tether/internal/loggy"
)

//go:embed env.sample fieldmap.sample.yaml
var configFS embed.FS

// SetupConfigDirectory ensures the config directory exists and holds the sample files
func SetupConfigDirectory(configDir string, backupExisting bool) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	if err := ExtractEmbeddedFile("env.sample", filepath.Join(configDir, ".env"), backupExisting); err != nil {
		loggy.Warn("Failed to extract sample env file", "error", err)
	}

	// The field map sample is reference only; it never overwrites a real override file.
	if err := ExtractEmbeddedFile("fieldmap.sample.yaml", filepath.Join(configDir, "fieldmap.sample.yaml"), false); err != nil {
		loggy.Warn("Failed to extract sample field map", "error", err)
	}

	return nil
}

// ExtractEmbeddedFile extracts an embedded file to the target path if it doesn't exist
// If backupExisting is true and the file exists, it will be backed up before overwriting
func ExtractEmbeddedFile(embeddedPath, targetPath string, backupExisting bool) error {
	if _, err := os.Stat(targetPath); err == nil {
		if !backupExisting {
			return nil
		}

		backupPath := fmt.Sprintf("%s.%s.bak", targetPath, time.Now().Format("2006-01-02"))
		existingData, err := os.ReadFile(targetPath)
		if err != nil {
			return fmt.Errorf("failed to read existing file for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, existingData, 0600); err != nil {
			return fmt.Errorf("failed to write backup file: %w", err)
		}
		loggy.Info("Created backup of existing file", "original", targetPath, "backup", backupPath)
	}

	fileData, err := configFS.ReadFile(embeddedPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}

	// .env may hold a token
	if err := os.WriteFile(targetPath, fileData, 0600); err != nil {
		return err
	}

	loggy.Info("Extracted embedded file", "source", embeddedPath, "target", targetPath)
	return nil
}

// ListEmbeddedFiles lists all embedded config files
func ListEmbeddedFiles() []string {
	var files []string

	err := fs.WalkDir(configFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		loggy.Error("Failed to list embedded files", "error", err)
	}

	return files
}
