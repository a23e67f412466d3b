package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// StateRepository persists the opaque per-device counter blob keyed by the
// owning rule node and device.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Find fetches a device's counter blob, or nil when nothing was persisted.
func (r *StateRepository) Find(ctx context.Context, nodeID, deviceID string) ([]byte, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	if nodeID == "" || deviceID == "" {
		return nil, errors.New("state repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT state
FROM alarm_rule_states
WHERE node_id = $1 AND device_id = $2`, nodeID, deviceID)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return blob, nil
}

// Save upserts a device's counter blob.
func (r *StateRepository) Save(ctx context.Context, nodeID, deviceID string, blob []byte) error {
	if r == nil || r.db == nil {
		return errors.New("state repo: nil db")
	}
	if nodeID == "" || deviceID == "" {
		return errors.New("state repo: invalid key")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alarm_rule_states (node_id, device_id, state, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (node_id, device_id)
DO UPDATE SET
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at`,
		nodeID, deviceID, blob, time.Now().UTC())
	return err
}

// Remove deletes a device's counter blob.
func (r *StateRepository) Remove(ctx context.Context, nodeID, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM alarm_rule_states
WHERE node_id = $1 AND device_id = $2`, nodeID, deviceID)
	return err
}
