// Package sync keeps local elements and external provider items in step.
//
// It detects which side changed since the last successful sync using content
// hashes, resolves conflicting edits with a configurable strategy, and maps
// structured local fields onto a provider's flat label vocabulary.
package sync

import (
	"fmt"
	"strings"
	"time"
)

// SyncErrorType represents the type of error that occurred during sync
type SyncErrorType string

const (
	// SyncErrorTypeNetwork represents a network error
	SyncErrorTypeNetwork SyncErrorType = "network"
	// SyncErrorTypeAuth represents an authentication error
	SyncErrorTypeAuth SyncErrorType = "auth"
	// SyncErrorTypeRateLimit represents a provider rate limit
	SyncErrorTypeRateLimit SyncErrorType = "rate_limit"
	// SyncErrorTypeServer represents a server error
	SyncErrorTypeServer SyncErrorType = "server"
	// SyncErrorTypeClient represents a client error
	SyncErrorTypeClient SyncErrorType = "client"
	// SyncErrorTypeUnknown represents an unknown error
	SyncErrorTypeUnknown SyncErrorType = "unknown"
)

// Operation names the engine entry point that produced a log row
type Operation string

const (
	OperationPush    Operation = "push"
	OperationPull    Operation = "pull"
	OperationSync    Operation = "sync"
	OperationResolve Operation = "resolve"
)

// Action is what happened to one element in a pass
type Action string

const (
	ActionPushed    Action = "pushed"
	ActionPulled    Action = "pulled"
	ActionCreated   Action = "created"
	ActionResolved  Action = "resolved"
	ActionConflict  Action = "conflict"
	ActionUnchanged Action = "unchanged"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// Outcome records the result for one element
type Outcome struct {
	ElementID  string
	ExternalID string
	Provider   string
	Project    string
	Action     Action
	Reason     string
	Winner     Winner
	Fields     []string
	Simplified bool
	Err        error
}

// ElementError is a non-fatal per-element failure
type ElementError struct {
	ElementID  string
	ExternalID string
	Provider   string
	Type       SyncErrorType
	Err        error
}

func (e ElementError) Error() string {
	id := e.ElementID
	if id == "" {
		id = e.Provider + "#" + e.ExternalID
	}
	return fmt.Sprintf("%s: %v", id, e.Err)
}

func (e ElementError) Unwrap() error {
	return e.Err
}

// Result summarises a push, pull or sync run
type Result struct {
	RunID           string
	Operation       Operation
	DryRun          bool
	Pushed          int
	Pulled          int
	Created         int
	Conflicts       int
	Skipped         int
	Failed          int
	Simplified      int
	Outcomes        []Outcome
	ManualConflicts []*ConflictInfo
	Errors          []ElementError
	Duration        time.Duration
}

func (r *Result) record(o Outcome) {
	switch o.Action {
	case ActionPushed:
		r.Pushed++
	case ActionPulled:
		r.Pulled++
	case ActionCreated:
		r.Created++
	case ActionResolved, ActionConflict:
		r.Conflicts++
	case ActionUnchanged, ActionSkipped:
		r.Skipped++
	case ActionFailed:
		r.Failed++
		r.Errors = append(r.Errors, ElementError{
			ElementID:  o.ElementID,
			ExternalID: o.ExternalID,
			Provider:   o.Provider,
			Type:       ClassifyError(o.Err),
			Err:        o.Err,
		})
	}
	if o.Simplified {
		r.Simplified++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Summary is a one-line description of the counts
func (r *Result) Summary() string {
	parts := []string{
		fmt.Sprintf("%d pushed", r.Pushed),
		fmt.Sprintf("%d pulled", r.Pulled),
	}
	if r.Created > 0 {
		parts = append(parts, fmt.Sprintf("%d created", r.Created))
	}
	parts = append(parts, fmt.Sprintf("%d conflicts", r.Conflicts), fmt.Sprintf("%d skipped", r.Skipped))
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Simplified > 0 {
		parts = append(parts, fmt.Sprintf("%d simplified", r.Simplified))
	}
	s := strings.Join(parts, ", ")
	if r.DryRun {
		s += " (dry run)"
	}
	return s
}

// SyncLog is one persisted outcome row
type SyncLog struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	Operation    Operation     `json:"operation"`
	Provider     string        `json:"provider"`
	Project      string        `json:"project"`
	ElementID    string        `json:"element_id"`
	ExternalID   string        `json:"external_id"`
	Outcome      Action        `json:"outcome"`
	Success      bool          `json:"success"`
	ErrorType    SyncErrorType `json:"error_type,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry
func NewSyncLog(runID string, op Operation, provider, project, elementID string, startedAt time.Time) *SyncLog {
	return &SyncLog{
		RunID:       runID,
		Operation:   op,
		Provider:    provider,
		Project:     project,
		ElementID:   elementID,
		StartedAt:   startedAt,
		CompletedAt: startedAt,
	}
}

// MarkSuccessful marks the sync log as successful
func (l *SyncLog) MarkSuccessful(outcome Action, completedAt time.Time) {
	l.Success = true
	l.Outcome = outcome
	l.CompletedAt = completedAt
}

// MarkFailed marks the sync log as failed
func (l *SyncLog) MarkFailed(errorType SyncErrorType, errorMessage string, completedAt time.Time) {
	l.Success = false
	l.Outcome = ActionFailed
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = completedAt
}
