package element

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/tether/internal/loggy"
)

// ExternalSyncKey is the metadata key holding an element's link to an external item
const ExternalSyncKey = "_externalSync"

var (
	// ErrElementNotFound is returned when an element does not exist
	ErrElementNotFound = errors.New("element not found")
)

// Repository defines the persistence operations for elements
type Repository interface {
	Create(ctx context.Context, e *Element) error
	Get(ctx context.Context, id string) (*Element, error)
	Update(ctx context.Context, id string, patch Patch) (*Element, error)
	List(ctx context.Context, filter Filter) ([]*Element, error)
	Delete(ctx context.Context, id string) error
}

var elementColumns = []string{
	"id", "type", "title", "body", "status", "priority", "category",
	"assignees", "tags", "metadata", "created_at", "updated_at",
}

// SQLRepository implements Repository on SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLRepository creates a new element SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new element
func (r *SQLRepository) Create(ctx context.Context, e *Element) error {
	if e.ID == "" {
		return fmt.Errorf("element id cannot be empty")
	}

	now := r.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}

	assignees, tags, metadata, err := encodeJSONColumns(e)
	if err != nil {
		return err
	}

	query, args, err := r.builder.
		Insert("elements").
		Columns(elementColumns...).
		Values(e.ID, e.Type, e.Title, e.Body, e.Status, e.Priority, e.Category,
			assignees, tags, metadata, e.CreatedAt, e.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create element query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create element query: %w", err)
	}

	r.logger.Debug("Created element", "id", e.ID, "type", e.Type)
	return nil
}

// Get retrieves an element by id
func (r *SQLRepository) Get(ctx context.Context, id string) (*Element, error) {
	query, args, err := r.builder.
		Select(elementColumns...).
		From("elements").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get element query: %w", err)
	}

	e, err := scanElement(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrElementNotFound
		}
		return nil, fmt.Errorf("executing get element query: %w", err)
	}

	return e, nil
}

// Update applies patch to the stored element and returns the result.
// UpdatedAt only advances when the patch changes content; metadata
// writes and ConflictTag toggles leave it alone.
func (r *SQLRepository) Update(ctx context.Context, id string, patch Patch) (*Element, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return e, nil
	}

	before := e.Clone()
	patch.Apply(e)
	if patch.TouchesContent() && ContentChanged(before, e) {
		e.UpdatedAt = r.now()
	}

	assignees, tags, metadata, err := encodeJSONColumns(e)
	if err != nil {
		return nil, err
	}

	query, args, err := r.builder.
		Update("elements").
		SetMap(map[string]any{
			"type":       e.Type,
			"title":      e.Title,
			"body":       e.Body,
			"status":     e.Status,
			"priority":   e.Priority,
			"category":   e.Category,
			"assignees":  assignees,
			"tags":       tags,
			"metadata":   metadata,
			"updated_at": e.UpdatedAt,
		}).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update element query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("executing update element query: %w", err)
	}

	return e, nil
}

// List returns elements matching filter, oldest first
func (r *SQLRepository) List(ctx context.Context, filter Filter) ([]*Element, error) {
	q := r.builder.
		Select(elementColumns...).
		From("elements").
		OrderBy("id")

	if len(filter.IDs) > 0 {
		q = q.Where(sq.Eq{"id": filter.IDs})
	}
	if filter.Type != "" {
		q = q.Where(sq.Eq{"type": filter.Type})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": filter.Statuses})
	} else if !filter.IncludeTerminal {
		q = q.Where(sq.NotEq{"status": []Status{StatusClosed, StatusTombstone}})
	}
	if filter.Linked != nil {
		if *filter.Linked {
			q = q.Where(sq.Expr("json_extract(metadata, '$." + ExternalSyncKey + "') IS NOT NULL"))
		} else {
			q = q.Where(sq.Expr("json_extract(metadata, '$." + ExternalSyncKey + "') IS NULL"))
		}
	}
	if filter.Provider != "" {
		q = q.Where(sq.Expr("json_extract(metadata, '$."+ExternalSyncKey+".provider') = ?", filter.Provider))
	}
	if filter.Project != "" {
		q = q.Where(sq.Expr("json_extract(metadata, '$."+ExternalSyncKey+".project') = ?", filter.Project))
	}
	if filter.Tag != "" {
		q = q.Where(sq.Expr("EXISTS (SELECT 1 FROM json_each(elements.tags) WHERE json_each.value = ?)", filter.Tag))
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list elements query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list elements query: %w", err)
	}
	defer rows.Close()

	var elements []*Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning element row: %w", err)
		}
		elements = append(elements, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating element rows: %w", err)
	}

	return elements, nil
}

// Delete removes an element
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("elements").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete element query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing delete element query: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrElementNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(row rowScanner) (*Element, error) {
	var (
		e                         Element
		assignees, tags, metadata string
	)

	err := row.Scan(
		&e.ID,
		&e.Type,
		&e.Title,
		&e.Body,
		&e.Status,
		&e.Priority,
		&e.Category,
		&assignees,
		&tags,
		&metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSONColumn(assignees, &e.Assignees); err != nil {
		return nil, fmt.Errorf("decoding assignees for %s: %w", e.ID, err)
	}
	if err := decodeJSONColumn(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags for %s: %w", e.ID, err)
	}
	if err := decodeJSONColumn(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", e.ID, err)
	}

	return &e, nil
}

func decodeJSONColumn(raw string, dst any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func encodeJSONColumns(e *Element) (assignees, tags, metadata string, err error) {
	assignees, err = encodeJSON(e.Assignees, "[]")
	if err != nil {
		return "", "", "", fmt.Errorf("encoding assignees: %w", err)
	}
	tags, err = encodeJSON(e.Tags, "[]")
	if err != nil {
		return "", "", "", fmt.Errorf("encoding tags: %w", err)
	}
	metadata, err = encodeJSON(e.Metadata, "{}")
	if err != nil {
		return "", "", "", fmt.Errorf("encoding metadata: %w", err)
	}
	return assignees, tags, metadata, nil
}

func encodeJSON[T any](v T, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
