// Package element stores tether's local work items: tasks and documents
package element

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Type distinguishes tasks from documents
type Type string

const (
	TypeTask     Type = "task"
	TypeDocument Type = "document"
)

// Status is the workflow status of an element
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDeferred   Status = "deferred"
	StatusReview     Status = "review"
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone"
)

// Statuses lists every status in workflow order
var Statuses = []Status{
	StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred, StatusReview, StatusClosed, StatusTombstone,
}

// IsTerminal reports whether no further work is expected
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusTombstone
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Priorities run from 1 (critical) to 5 (minimal)
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 4
	PriorityMinimal  = 5
)

// Categories (task types)
const (
	CategoryBug     = "bug"
	CategoryFeature = "feature"
	CategoryTask    = "task"
	CategoryChore   = "chore"
)

// ConflictTag marks an element with an unresolved manual sync conflict.
// Adding or removing it is bookkeeping, not a content change.
const ConflictTag = "sync-conflict"

// Element is a local task or document
type Element struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Status    Status         `json:"status"`
	Priority  int            `json:"priority"`
	Category  string         `json:"category"`
	Assignees []string       `json:"assignees,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasTag reports whether the element carries tag
func (e *Element) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Clone returns a deep copy; metadata is copied through JSON
func (e *Element) Clone() *Element {
	c := *e
	c.Assignees = slices.Clone(e.Assignees)
	c.Tags = slices.Clone(e.Tags)
	c.Metadata = cloneMetadata(e.Metadata)
	return &c
}

// Validate checks the fields the database relies on
func (e *Element) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if e.Type != TypeTask && e.Type != TypeDocument {
		return fmt.Errorf("invalid element type: %q", e.Type)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid status: %q", e.Status)
	}
	if e.Priority < PriorityCritical || e.Priority > PriorityMinimal {
		return fmt.Errorf("priority %d out of range 1-5", e.Priority)
	}
	return nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}

// Patch describes a partial update. Nil fields are left unchanged.
// Tags and Assignees replace the whole list when non-nil; an empty
// non-nil slice clears it. Metadata keys are merged and a nil value
// deletes the key.
type Patch struct {
	Type      *Type
	Title     *string
	Body      *string
	Status    *Status
	Priority  *int
	Category  *string
	Assignees []string
	Tags      []string
	Metadata  map[string]any
}

// IsEmpty reports whether the patch changes nothing
func (p Patch) IsEmpty() bool {
	return p.Type == nil && p.Title == nil && p.Body == nil && p.Status == nil &&
		p.Priority == nil && p.Category == nil && p.Assignees == nil && p.Tags == nil &&
		len(p.Metadata) == 0
}

// TouchesContent reports whether the patch changes anything besides metadata.
// Metadata-only writes (sync bookkeeping) do not advance UpdatedAt.
func (p Patch) TouchesContent() bool {
	return p.Type != nil || p.Title != nil || p.Body != nil || p.Status != nil ||
		p.Priority != nil || p.Category != nil || p.Assignees != nil || p.Tags != nil
}

// ContentChanged reports whether after differs from before in anything a
// user edits. Metadata and ConflictTag are ignored.
func ContentChanged(before, after *Element) bool {
	return before.Type != after.Type ||
		before.Title != after.Title ||
		before.Body != after.Body ||
		before.Status != after.Status ||
		before.Priority != after.Priority ||
		before.Category != after.Category ||
		!slices.Equal(before.Assignees, after.Assignees) ||
		!slices.Equal(withoutConflictTag(before.Tags), withoutConflictTag(after.Tags))
}

func withoutConflictTag(tags []string) []string {
	return slices.DeleteFunc(slices.Clone(tags), func(t string) bool { return t == ConflictTag })
}

// Apply writes the patch onto e in place
func (p Patch) Apply(e *Element) {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Body != nil {
		e.Body = *p.Body
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Assignees != nil {
		e.Assignees = slices.Clone(p.Assignees)
	}
	if p.Tags != nil {
		e.Tags = slices.Clone(p.Tags)
	}
	if len(p.Metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			if v == nil {
				delete(e.Metadata, k)
				continue
			}
			e.Metadata[k] = v
		}
	}
}

// Merge folds other into p; fields set in other win
func (p Patch) Merge(other Patch) Patch {
	if other.Type != nil {
		p.Type = other.Type
	}
	if other.Title != nil {
		p.Title = other.Title
	}
	if other.Body != nil {
		p.Body = other.Body
	}
	if other.Status != nil {
		p.Status = other.Status
	}
	if other.Priority != nil {
		p.Priority = other.Priority
	}
	if other.Category != nil {
		p.Category = other.Category
	}
	if other.Assignees != nil {
		p.Assignees = other.Assignees
	}
	if other.Tags != nil {
		p.Tags = other.Tags
	}
	if len(other.Metadata) > 0 {
		merged := make(map[string]any, len(p.Metadata)+len(other.Metadata))
		for k, v := range p.Metadata {
			merged[k] = v
		}
		for k, v := range other.Metadata {
			merged[k] = v
		}
		p.Metadata = merged
	}
	return p
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	IDs             []string
	Type            Type
	Statuses        []Status
	Linked          *bool  // true: only linked elements, false: only unlinked
	Provider        string // linked to this provider
	Project         string // linked to this project
	Tag             string
	IncludeTerminal bool // closed and tombstoned elements are excluded unless set
	Limit           int
}

// Ptr returns a pointer to v, handy for building patches
func Ptr[T any](v T) *T {
	return &v
}
