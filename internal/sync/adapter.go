package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"
)

var (
	// ErrItemNotFound is returned by adapters when the external item does not exist
	ErrItemNotFound = errors.New("external item not found")

	// ErrAdapterNotFound is returned when no adapter is registered for a provider
	ErrAdapterNotFound = errors.New("no adapter registered for provider")
)

// ExternalState is the coarse open/closed state every provider supports
type ExternalState string

const (
	StateOpen   ExternalState = "open"
	StateClosed ExternalState = "closed"
)

// ExternalItem is one provider item as seen during a single sync pass
type ExternalItem struct {
	ExternalID string
	URL        string
	Provider   string
	Project    string
	Title      string
	Body       string
	State      ExternalState
	Labels     []string
	Assignees  []string
	UpdatedAt  time.Time
}

// ExternalItemInput is the full representation sent when creating an item
type ExternalItemInput struct {
	Title     string
	Body      string
	State     ExternalState
	Labels    []string
	Assignees []string
}

// ExternalItemPatch is a partial update. Nil fields are left unchanged;
// Labels and Assignees replace the whole list when non-nil.
type ExternalItemPatch struct {
	Title     *string
	Body      *string
	State     *ExternalState
	Labels    []string
	Assignees []string
}

// IsEmpty reports whether the patch changes nothing
func (p ExternalItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil && p.State == nil && p.Labels == nil && p.Assignees == nil
}

// PatchFromInput turns a full representation into a patch that overwrites every field
func PatchFromInput(in ExternalItemInput) ExternalItemPatch {
	labels := in.Labels
	if labels == nil {
		labels = []string{}
	}
	assignees := in.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return ExternalItemPatch{
		Title:     &in.Title,
		Body:      &in.Body,
		State:     &in.State,
		Labels:    labels,
		Assignees: assignees,
	}
}

// Adapter is implemented by each external provider
type Adapter interface {
	// Provider returns the provider name used in sync state, e.g. "github"
	Provider() string

	// GetItem fetches a single item, ErrItemNotFound when it does not exist
	GetItem(ctx context.Context, project, externalID string) (*ExternalItem, error)

	// ListItemsSince lists items updated at or after since; a zero since lists everything
	ListItemsSince(ctx context.Context, project string, since time.Time) ([]*ExternalItem, error)

	// CreateItem creates a new item and returns it as stored by the provider
	CreateItem(ctx context.Context, project string, input ExternalItemInput) (*ExternalItem, error)

	// UpdateItem applies patch and returns the item as stored by the provider
	UpdateItem(ctx context.Context, project, externalID string, patch ExternalItemPatch) (*ExternalItem, error)

	// FieldMapConfig returns the provider's label vocabulary, built once and never mutated
	FieldMapConfig() *FieldMapConfig
}

// Registry holds adapters keyed by provider name
type Registry struct {
	mu       gosync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its provider
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for provider
func (r *Registry) Get(provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, provider)
	}
	return a, nil
}

// CheckUserTags rejects tags that a registered provider would strip as its
// own sync labels on the next pull
func (r *Registry) CheckUserTags(tags []string) error {
	for _, name := range r.Providers() {
		a, err := r.Get(name)
		if err != nil {
			continue
		}
		cfg := a.FieldMapConfig()
		if cfg == nil {
			continue
		}
		for _, t := range tags {
			if cfg.IsSyncLabel(t) {
				return fmt.Errorf("%w: %q (%s owns %q labels)", ErrReservedTag, t, name, cfg.SyncLabelPrefix)
			}
		}
	}
	return nil
}

// Providers lists registered provider names in sorted order
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
