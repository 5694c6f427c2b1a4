package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
	"stockkeeper/internal/storage"
)

type OutboxRepository struct {
	q querier
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{q: db}
}

func (r *OutboxRepository) Insert(ctx context.Context, e *domain.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, published, published_at, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, string(e.Payload),
		e.Published, nullTime(e.PublishedAt), e.Attempts, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting outbox event: %w", translate(err))
	}
	return nil
}

func (r *OutboxRepository) FindUnpublished(ctx context.Context, after storage.OutboxCursor, limit int) ([]domain.OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, published, published_at, attempts, created_at
		FROM outbox_events
		WHERE published = 0
	`
	var args []any
	if !after.IsZero() {
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unpublished events: %w", translate(err))
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var (
			e           domain.OutboxEvent
			payload     string
			publishedAt sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload,
			&e.Published, &publishedAt, &e.Attempts, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		e.PublishedAt = timePtr(publishedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.touch(ctx, id, `UPDATE outbox_events SET published = 1, published_at = ? WHERE id = ?`, at, id)
}

func (r *OutboxRepository) IncrementAttempts(ctx context.Context, id string) error {
	return r.touch(ctx, id, `UPDATE outbox_events SET attempts = attempts + 1 WHERE id = ?`, id)
}

func (r *OutboxRepository) touch(ctx context.Context, id, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating outbox event: %w", translate(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("outbox event %s not found", id))
	}
	return nil
}
