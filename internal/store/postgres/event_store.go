package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Rows are keyed by
// (topic, key) so replays converge.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append upserts one event into the log.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s/%s: %w", ev.Topic, ev.Key, err)
	}

	const query = `
		INSERT INTO events (topic, key, id, payload, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic, key) DO UPDATE SET
			id      = EXCLUDED.id,
			payload = EXCLUDED.payload,
			ts      = EXCLUDED.ts`

	if _, err := s.pool.Exec(ctx, query, ev.Topic, ev.Key, ev.ID, payload, ev.Timestamp); err != nil {
		return fmt.Errorf("postgres: append event %s/%s: %w", ev.Topic, ev.Key, err)
	}
	return nil
}

// ListByTopic returns events for a topic, newest first. Payloads come back as
// json.RawMessage.
func (s *EventStore) ListByTopic(ctx context.Context, topic string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT topic, key, id, payload, ts FROM events WHERE topic = $1`
	args := []any{topic}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", topic, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload json.RawMessage
		if err := rows.Scan(&ev.Topic, &ev.Key, &ev.ID, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", topic, err)
	}
	return events, nil
}
