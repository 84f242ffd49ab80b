package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LevGuard/internal/event"
)

// EventLogWriter writes risk events to Postgres using multi-row batch
// inserts. Writes are idempotent on sequence so a crashed worker can
// safely replay its last batch.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in risk_log.events.
type EventRow struct {
	Sequence  int64
	EventID   string
	EventType string
	TokenID   int64
	Owner     string
	Payload   []byte
	Timestamp time.Time
}

// RowFromEnvelope converts a core envelope into its storage row.
func RowFromEnvelope(env *event.Envelope) EventRow {
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.Type.String(),
		TokenID:   int64(env.TokenID),
		Owner:     env.Owner.String(),
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO risk_log.events
		(sequence, event_id, event_type, token_id, owner, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*7)

	for i, e := range events {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.TokenID,
			e.Owner, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadEventsFrom loads events from a given sequence, for replay after
// restoring a snapshot.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, token_id, owner, payload, timestamp
		FROM risk_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.TokenID,
			&e.Owner, &e.Payload, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, or 0
// when the log is empty.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM risk_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
