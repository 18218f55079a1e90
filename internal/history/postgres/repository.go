package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duckrelay/duckrelay/internal/history"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Insert(ctx context.Context, record history.Record) error {
	query := `
INSERT INTO relay_request (trace_id, user_id, message, classified, mode, sql_text, row_count, duration_ms, error_text)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		record.TraceID,
		record.UserID,
		record.Message,
		record.Classified,
		string(record.Mode),
		record.SQL,
		record.RowCount,
		record.Duration.Milliseconds(),
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("insert relay request: %w", err)
	}
	return nil
}

func (r *Repository) ListRecent(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT trace_id, user_id, message, classified, mode, sql_text, row_count, duration_ms, error_text, created_at
FROM relay_request
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list relay requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]history.Record, 0)
	for rows.Next() {
		var record history.Record
		var mode string
		var durationMs int64
		if err := rows.Scan(
			&record.TraceID,
			&record.UserID,
			&record.Message,
			&record.Classified,
			&mode,
			&record.SQL,
			&record.RowCount,
			&durationMs,
			&record.Error,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan relay request row: %w", err)
		}
		record.Mode = history.Mode(mode)
		record.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relay request rows: %w", err)
	}
	return records, nil
}

func (r *Repository) GetByTraceID(ctx context.Context, traceID string) (history.Record, error) {
	query := `
SELECT trace_id, user_id, message, classified, mode, sql_text, row_count, duration_ms, error_text, created_at
FROM relay_request
WHERE trace_id = $1`

	var record history.Record
	var mode string
	var durationMs int64
	if err := r.db.QueryRowContext(ctx, query, traceID).Scan(
		&record.TraceID,
		&record.UserID,
		&record.Message,
		&record.Classified,
		&mode,
		&record.SQL,
		&record.RowCount,
		&durationMs,
		&record.Error,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Record{}, history.ErrNotFound
		}
		return history.Record{}, fmt.Errorf("get relay request: %w", err)
	}
	record.Mode = history.Mode(mode)
	record.Duration = time.Duration(durationMs) * time.Millisecond
	return record, nil
}
