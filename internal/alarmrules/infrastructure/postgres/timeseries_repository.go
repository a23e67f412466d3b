package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	application "devicehub/internal/alarmrules/application"
)

// TimeSeriesRepository reads and writes the latest telemetry sample per key.
type TimeSeriesRepository struct {
	db *sql.DB
}

// NewTimeSeriesRepository constructs a repository.
func NewTimeSeriesRepository(db *sql.DB) *TimeSeriesRepository {
	return &TimeSeriesRepository{db: db}
}

// FindLatest fetches the latest stored sample for each listed key.
func (r *TimeSeriesRepository) FindLatest(ctx context.Context, tenantID, deviceID string, keys []string) ([]application.KVEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ts repo: nil db")
	}
	if tenantID == "" || deviceID == "" {
		return nil, errors.New("ts repo: invalid query")
	}
	if len(keys) == 0 {
		return nil, nil
	}
	encodedKeys, err := json.Marshal(keys)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT key, ts, value
FROM ts_kv_latest
WHERE tenant_id = $1 AND device_id = $2
	AND key IN (SELECT jsonb_array_elements_text($3::jsonb))`, tenantID, deviceID, encodedKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []application.KVEntry
	for rows.Next() {
		entry, err := scanKV(rows)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			result = append(result, *entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveLatest upserts the latest sample for one key, keeping the stored row
// when it is newer than the incoming one.
func (r *TimeSeriesRepository) SaveLatest(ctx context.Context, tenantID, deviceID string, entry application.KVEntry) error {
	if r == nil || r.db == nil {
		return errors.New("ts repo: nil db")
	}
	value, err := entry.Value.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO ts_kv_latest (tenant_id, device_id, key, ts, value)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, device_id, key)
DO UPDATE SET
	ts = EXCLUDED.ts,
	value = EXCLUDED.value
WHERE ts_kv_latest.ts <= EXCLUDED.ts`,
		tenantID, deviceID, entry.Key, entry.Ts, value)
	return err
}
