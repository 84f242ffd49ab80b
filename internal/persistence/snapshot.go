package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"LevGuard/internal/core"

	"github.com/google/uuid"
)

// SnapshotManager stores and loads core state snapshots. On warm
// restart the service loads the latest verified snapshot and replays
// the event log from its sequence forward instead of rebuilding from
// scratch.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists a snapshot. Unverified until the replay check passes.
func (sm *SnapshotManager) Save(ctx context.Context, snap core.StateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO risk_log.snapshots
			(snapshot_id, sequence, data, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, int32(1), len(data), snap.CreatedAt)
	return err
}

// LoadLatest loads the most recent verified snapshot, or nil on a cold
// start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*core.StateSnapshot, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM risk_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := core.ValidateSnapshot(snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as consistent after the integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE risk_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}
