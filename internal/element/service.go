package element

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/ulid"
)

// CreateInput holds the user-supplied fields of a new element
type CreateInput struct {
	Type      Type
	Title     string
	Body      string
	Status    Status
	Priority  int
	Category  string
	Assignees []string
	Tags      []string
	Metadata  map[string]any
}

// Service provides element operations on top of a Repository
type Service struct {
	repo   Repository
	logger *loggy.Logger
}

// NewService creates a new element service
func NewService(repo Repository, logger *loggy.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Repository returns the underlying repository
func (s *Service) Repository() Repository {
	return s.repo
}

// Create builds, validates and stores a new element, filling defaults
func (s *Service) Create(ctx context.Context, input CreateInput) (*Element, error) {
	e := &Element{
		ID:        ulid.ElementID(),
		Type:      input.Type,
		Title:     strings.TrimSpace(input.Title),
		Body:      input.Body,
		Status:    input.Status,
		Priority:  input.Priority,
		Category:  input.Category,
		Assignees: input.Assignees,
		Tags:      NormalizeTags(input.Tags),
		Metadata:  input.Metadata,
	}

	if e.Type == "" {
		e.Type = TypeTask
	}
	if e.Status == "" {
		e.Status = StatusOpen
	}
	if e.Priority == 0 {
		e.Priority = PriorityMedium
	}
	if e.Category == "" {
		e.Category = CategoryTask
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid element: %w", err)
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("creating element: %w", err)
	}

	s.logger.Info("Element created", "id", e.ID, "title", e.Title)
	return e, nil
}

// Get retrieves an element by id
func (s *Service) Get(ctx context.Context, id string) (*Element, error) {
	return s.repo.Get(ctx, id)
}

// Update validates and applies a patch
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Element, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("invalid status: %q", *patch.Status)
	}
	if patch.Priority != nil && (*patch.Priority < PriorityCritical || *patch.Priority > PriorityMinimal) {
		return nil, fmt.Errorf("priority %d out of range 1-5", *patch.Priority)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}
	if patch.Tags != nil {
		patch.Tags = NormalizeTags(patch.Tags)
	}

	return s.repo.Update(ctx, id, patch)
}

// List returns elements matching filter
func (s *Service) List(ctx context.Context, filter Filter) ([]*Element, error) {
	return s.repo.List(ctx, filter)
}

// Delete removes an element
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Element deleted", "id", id)
	return nil
}

// NormalizeTags trims tags and drops blanks and duplicates, keeping first-seen order
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
