package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMapOverride replaces parts of a provider's label tables.
// Nil maps and pointers leave the provider default in place.
type FieldMapOverride struct {
	LabelPrefix         *string           `yaml:"labelPrefix"`
	Priorities          map[int]string    `yaml:"priorities"`
	TaskTypes           map[string]string `yaml:"taskTypes"`
	Statuses            map[string]string `yaml:"statuses"`
	DisableStatusLabels bool              `yaml:"disableStatusLabels"`
	DefaultPriority     int               `yaml:"defaultPriority"`
	DefaultTaskType     string            `yaml:"defaultTaskType"`
}

// FieldMapFile is the decoded override file, keyed by provider name
type FieldMapFile map[string]FieldMapOverride

// LoadFieldMapFile reads a YAML field map override file.
// An empty path yields an empty, usable FieldMapFile.
func LoadFieldMapFile(path string) (FieldMapFile, error) {
	if path == "" {
		return FieldMapFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading field map file: %w", err)
	}

	return ParseFieldMap(data)
}

// ParseFieldMap decodes and validates YAML field map overrides
func ParseFieldMap(data []byte) (FieldMapFile, error) {
	var file FieldMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing field map: %w", err)
	}
	if file == nil {
		file = FieldMapFile{}
	}

	for provider, override := range file {
		if err := override.Validate(); err != nil {
			return nil, fmt.Errorf("field map for %s: %w", provider, err)
		}
	}

	return file, nil
}

// For returns the override for provider, if any
func (f FieldMapFile) For(provider string) (FieldMapOverride, bool) {
	override, ok := f[provider]
	return override, ok
}

// Validate rejects tables that cannot round-trip
func (o FieldMapOverride) Validate() error {
	if err := uniqueValues("priorities", o.Priorities); err != nil {
		return err
	}
	if err := uniqueValues("taskTypes", o.TaskTypes); err != nil {
		return err
	}
	if err := uniqueValues("statuses", o.Statuses); err != nil {
		return err
	}

	for level := range o.Priorities {
		if level < 1 || level > 5 {
			return fmt.Errorf("priority %d out of range 1-5", level)
		}
	}

	if o.DefaultPriority != 0 && (o.DefaultPriority < 1 || o.DefaultPriority > 5) {
		return fmt.Errorf("default priority %d out of range 1-5", o.DefaultPriority)
	}

	return nil
}

func uniqueValues[K comparable](name string, m map[K]string) error {
	seen := make(map[string]K, len(m))
	for k, v := range m {
		if v == "" {
			return fmt.Errorf("%s: empty label for %v", name, k)
		}
		if other, ok := seen[v]; ok {
			return fmt.Errorf("%s: label %q used for both %v and %v", name, v, other, k)
		}
		seen[v] = k
	}
	return nil
}
