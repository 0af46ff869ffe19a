package github

import (
	"fmt"
	"maps"

	"github.com/tildaslashalef/tether/internal/config"
	"github.com/tildaslashalef/tether/internal/element"
	"github.com/tildaslashalef/tether/internal/sync"
)

// DefaultLabelPrefix marks the labels tether owns on GitHub issues
const DefaultLabelPrefix = "tether:"

// DefaultFieldMap returns the GitHub label vocabulary. GitHub issues only know
// open and closed, so every other status travels as a status label.
func DefaultFieldMap(prefix string) *sync.FieldMapConfig {
	cfg := &sync.FieldMapConfig{
		PriorityLabels: map[int]string{
			element.PriorityCritical: "critical",
			element.PriorityHigh:     "high",
			element.PriorityMedium:   "medium",
			element.PriorityLow:      "low",
			element.PriorityMinimal:  "minimal",
		},
		TaskTypeLabels: map[string]string{
			element.CategoryBug:     "bug",
			element.CategoryFeature: "feature",
			element.CategoryTask:    "task",
			element.CategoryChore:   "chore",
		},
		StatusLabels: map[element.Status]string{
			element.StatusInProgress: "in-progress",
			element.StatusBlocked:    "blocked",
			element.StatusDeferred:   "deferred",
			element.StatusReview:     "review",
			element.StatusTombstone:  "tombstone",
		},
		SyncLabelPrefix: prefix,
		DefaultPriority: element.PriorityMedium,
		DefaultTaskType: element.CategoryTask,
	}
	bindStates(cfg)
	return cfg
}

// bindStates installs the open/closed conversions. They read cfg's status
// labels at call time, so later overrides apply to them too.
func bindStates(cfg *sync.FieldMapConfig) {
	cfg.StatusToState = func(s element.Status) sync.ExternalState {
		if s.IsTerminal() {
			return sync.StateClosed
		}
		return sync.StateOpen
	}
	cfg.StateToStatus = func(state sync.ExternalState, labels []string) element.Status {
		parsed := sync.ParseExternalLabels(labels, cfg)
		if state == sync.StateClosed {
			if parsed.Status != nil && parsed.Status.IsTerminal() {
				return *parsed.Status
			}
			return element.StatusClosed
		}
		if parsed.Status != nil && !parsed.Status.IsTerminal() {
			return *parsed.Status
		}
		return element.StatusOpen
	}
}

// FieldMapFromConfig builds the GitHub vocabulary from the configured prefix
// and the optional per-provider override file
func FieldMapFromConfig(cfg *config.Config, overrides config.FieldMapFile) (*sync.FieldMapConfig, error) {
	prefix := cfg.GitHub.LabelPrefix
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	fieldMap := DefaultFieldMap(prefix)

	if override, ok := overrides.For(Provider); ok {
		if err := applyOverride(fieldMap, override); err != nil {
			return nil, err
		}
	}

	if err := fieldMap.Validate(); err != nil {
		return nil, err
	}
	return fieldMap, nil
}

func applyOverride(fieldMap *sync.FieldMapConfig, o config.FieldMapOverride) error {
	if o.LabelPrefix != nil {
		fieldMap.SyncLabelPrefix = *o.LabelPrefix
	}
	if o.Priorities != nil {
		fieldMap.PriorityLabels = maps.Clone(o.Priorities)
	}
	if o.TaskTypes != nil {
		fieldMap.TaskTypeLabels = maps.Clone(o.TaskTypes)
	}
	if o.Statuses != nil {
		statuses := make(map[element.Status]string, len(o.Statuses))
		for name, label := range o.Statuses {
			status := element.Status(name)
			if !status.Valid() {
				return fmt.Errorf("field map for %s: unknown status %q", Provider, name)
			}
			statuses[status] = label
		}
		fieldMap.StatusLabels = statuses
	}
	if o.DisableStatusLabels {
		fieldMap.StatusLabels = nil
	}
	if o.DefaultPriority != 0 {
		fieldMap.DefaultPriority = o.DefaultPriority
	}
	if o.DefaultTaskType != "" {
		fieldMap.DefaultTaskType = o.DefaultTaskType
	}
	return nil
}
