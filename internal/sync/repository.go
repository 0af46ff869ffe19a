package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/ulid"
)

// LogRepository stores per-element sync outcomes
type LogRepository interface {
	// CreateSyncLog creates a new sync log
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs retrieves sync logs, newest first, with optional filtering
	GetSyncLogs(ctx context.Context, filter LogFilter) ([]*SyncLog, error)

	// GetLatestSyncLog retrieves the latest sync log for an element, nil when there is none
	GetLatestSyncLog(ctx context.Context, elementID string) (*SyncLog, error)

	// GetFailedElements lists elements whose most recent log entry is a failure
	GetFailedElements(ctx context.Context, provider string, limit int) ([]string, error)
}

// LogFilter narrows GetSyncLogs. Zero values match everything.
type LogFilter struct {
	RunID     string
	ElementID string
	Provider  string
	Project   string
	Operation Operation
	Limit     int
	Offset    int
}

var syncLogColumns = []string{
	"id", "run_id", "operation", "provider", "project", "element_id", "external_id",
	"outcome", "success", "error_type", "error_message", "started_at", "completed_at",
}

// SQLRepository implements LogRepository using a SQL database
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// CreateSyncLog creates a new sync log
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncLogID()
	}

	query, args, err := r.builder.
		Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(log.ID, log.RunID, log.Operation, log.Provider, log.Project, log.ElementID, log.ExternalID,
			log.Outcome, log.Success, log.ErrorType, log.ErrorMessage, log.StartedAt, log.CompletedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	return nil
}

// GetSyncLogs retrieves sync logs with optional filtering
func (r *SQLRepository) GetSyncLogs(ctx context.Context, filter LogFilter) ([]*SyncLog, error) {
	q := r.builder.
		Select(syncLogColumns...).
		From("sync_logs").
		OrderBy("completed_at DESC", "id DESC")

	if filter.RunID != "" {
		q = q.Where(sq.Eq{"run_id": filter.RunID})
	}
	if filter.ElementID != "" {
		q = q.Where(sq.Eq{"element_id": filter.ElementID})
	}
	if filter.Provider != "" {
		q = q.Where(sq.Eq{"provider": filter.Provider})
	}
	if filter.Project != "" {
		q = q.Where(sq.Eq{"project": filter.Project})
	}
	if filter.Operation != "" {
		q = q.Where(sq.Eq{"operation": filter.Operation})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// GetLatestSyncLog retrieves the latest sync log for an element
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, elementID string) (*SyncLog, error) {
	query, args, err := r.builder.
		Select(syncLogColumns...).
		From("sync_logs").
		Where(sq.Eq{"element_id": elementID}).
		OrderBy("completed_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get latest sync log query: %w", err)
	}

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get latest sync log query: %w", err)
	}

	return log, nil
}

// GetFailedElements lists elements whose latest log entry failed
func (r *SQLRepository) GetFailedElements(ctx context.Context, provider string, limit int) ([]string, error) {
	latest := r.builder.
		Select("element_id", "MAX(completed_at) AS completed_at").
		From("sync_logs").
		Where(sq.NotEq{"element_id": ""}).
		GroupBy("element_id")
	if provider != "" {
		latest = latest.Where(sq.Eq{"provider": provider})
	}

	q := r.builder.
		Select("DISTINCT l.element_id").
		FromSelect(latest, "latest").
		Join("sync_logs l ON l.element_id = latest.element_id AND l.completed_at = latest.completed_at").
		Where(sq.Eq{"l.success": false}).
		OrderBy("l.element_id")
	if provider != "" {
		q = q.Where(sq.Eq{"l.provider": provider})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get failed elements query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get failed elements query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning element ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failed element rows: %w", err)
	}

	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var log SyncLog
	err := row.Scan(
		&log.ID,
		&log.RunID,
		&log.Operation,
		&log.Provider,
		&log.Project,
		&log.ElementID,
		&log.ExternalID,
		&log.Outcome,
		&log.Success,
		&log.ErrorType,
		&log.ErrorMessage,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &log, nil
}
