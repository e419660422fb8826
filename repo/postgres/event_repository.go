package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amelia-dev/amelia/events"
)

// EventRepository implements repo.EventRepository against the
// `workflow_events` table (spec.md §6). Sequence assignment happens inside
// a single statement (a window-function-free `INSERT ... SELECT
// COALESCE(MAX(sequence), 0) + 1`) so a retry on a unique-violation is the
// only concurrency handling Append needs, matching spec.md §4.2's "retries
// on sequence collision under concurrent writers" note.
type EventRepository struct {
	db *pgxpool.Pool
}

const maxAppendRetries = 5

// Append assigns the next sequence number for event.WorkflowID and inserts
// the row, retrying on a sequence collision (spec.md §4.2).
func (r *EventRepository) Append(ctx context.Context, event events.Event) error {
	var err error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		_, err = r.db.Exec(ctx, `
			INSERT INTO workflow_events (workflow_id, sequence, event_id, timestamp, event_type, agent, message, data)
			SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7
			FROM workflow_events WHERE workflow_id = $1`,
			event.WorkflowID, event.EventID, event.Timestamp, string(event.EventType),
			event.Agent, event.Message, nullableJSON(event.Data))
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("postgres: append event: %w", err)
		}
	}
	return fmt.Errorf("postgres: append event: exhausted %d sequence-collision retries: %w", maxAppendRetries, err)
}

// GetRecent returns the most recent limit events for workflowID, ordered by
// sequence ascending (oldest of the recent batch first).
func (r *EventRepository) GetRecent(ctx context.Context, workflowID string, limit int) ([]events.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT workflow_id, sequence, event_id, timestamp, event_type, agent, message, data
		FROM (
			SELECT * FROM workflow_events WHERE workflow_id = $1 ORDER BY sequence DESC LIMIT $2
		) recent
		ORDER BY sequence ASC`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetSince returns persisted events with sequence > afterSequence, used for
// WebSocket replay-on-subscribe backfill (spec.md §4.5).
func (r *EventRepository) GetSince(ctx context.Context, workflowID string, afterSequence int64) ([]events.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT workflow_id, sequence, event_id, timestamp, event_type, agent, message, data
		FROM workflow_events WHERE workflow_id = $1 AND sequence > $2
		ORDER BY sequence ASC`, workflowID, afterSequence)
	if err != nil {
		return nil, fmt.Errorf("postgres: get events since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetMaxSequence returns the highest sequence persisted for workflowID, or 0
// if none exist.
func (r *EventRepository) GetMaxSequence(ctx context.Context, workflowID string) (int64, error) {
	var max int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM workflow_events WHERE workflow_id = $1`, workflowID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: get max sequence: %w", err)
	}
	return max, nil
}

func scanEvents(rows rowsIterator) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var (
			e    events.Event
			data []byte
		)
		if err := rows.Scan(&e.WorkflowID, &e.Sequence, &e.EventID, &e.Timestamp, (*string)(&e.EventType), &e.Agent, &e.Message, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(data) > 0 {
			e.Data = data
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return out, nil
}

// rowsIterator is the slice of pgx.Rows that scanEvents needs.
type rowsIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
