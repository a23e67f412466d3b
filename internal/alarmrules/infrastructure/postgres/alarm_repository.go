package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	rules "devicehub/internal/alarmrules/domain"
)

// AlarmRepository is a Postgres repository for alarms.
type AlarmRepository struct {
	db *sql.DB
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// Create inserts a new alarm.
func (r *AlarmRepository) Create(ctx context.Context, alarm *rules.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	if alarm.ID == "" || alarm.TenantID == "" || alarm.DeviceID == "" || alarm.Type == "" {
		return errors.New("alarm repo: missing fields")
	}
	details, err := encodeDetails(alarm.Details)
	if err != nil {
		return err
	}
	propagateTo, err := encodeStrings(alarm.PropagateTo)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alarms (
	id, tenant_id, device_id, type, severity, status,
	start_ts, end_ts, ack_ts, clear_ts, details, propagate, propagate_to
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12, $13
)`,
		alarm.ID,
		alarm.TenantID,
		alarm.DeviceID,
		alarm.Type,
		string(alarm.Severity),
		alarm.Status,
		alarm.StartTs,
		nullableTs(alarm.EndTs),
		nullableTs(alarm.AckTs),
		nullableTs(alarm.ClearTs),
		details,
		alarm.Propagate,
		propagateTo,
	)
	return err
}

// Update rewrites the mutable fields of an existing alarm.
func (r *AlarmRepository) Update(ctx context.Context, alarm *rules.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if alarm == nil || alarm.ID == "" {
		return errors.New("alarm repo: nil alarm")
	}
	details, err := encodeDetails(alarm.Details)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE alarms
SET severity = $1, status = $2, start_ts = $3, end_ts = $4, details = $5
WHERE tenant_id = $6 AND id = $7`,
		string(alarm.Severity),
		alarm.Status,
		alarm.StartTs,
		nullableTs(alarm.EndTs),
		details,
		alarm.TenantID,
		alarm.ID,
	)
	return err
}

// FindActiveByOriginatorAndType returns the single non-cleared alarm of the
// given type for a device, or nil.
func (r *AlarmRepository) FindActiveByOriginatorAndType(ctx context.Context, tenantID, deviceID, alarmType string) (*rules.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if tenantID == "" || deviceID == "" || alarmType == "" {
		return nil, errors.New("alarm repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, device_id, type, severity, status,
	start_ts, end_ts, ack_ts, clear_ts, details, propagate, propagate_to
FROM alarms
WHERE tenant_id = $1 AND device_id = $2 AND type = $3 AND status <> $4
ORDER BY start_ts DESC
LIMIT 1`, tenantID, deviceID, alarmType, rules.StatusCleared)
	return scanAlarm(row)
}

// Clear end-dates the alarm. It reports false when the alarm was already
// cleared by someone else.
func (r *AlarmRepository) Clear(ctx context.Context, tenantID, alarmID string, ts int64, details map[string]string) (*rules.Alarm, bool, error) {
	if r == nil || r.db == nil {
		return nil, false, errors.New("alarm repo: nil db")
	}
	encoded, err := encodeDetails(details)
	if err != nil {
		return nil, false, err
	}
	query := `
UPDATE alarms
SET status = $1, end_ts = $2, clear_ts = $3`
	args := []any{rules.StatusCleared, ts, ts}
	if details != nil {
		query += ", details = $4 WHERE tenant_id = $5 AND id = $6 AND status <> $7"
		args = append(args, encoded, tenantID, alarmID, rules.StatusCleared)
	} else {
		query += " WHERE tenant_id = $4 AND id = $5 AND status <> $6"
		args = append(args, tenantID, alarmID, rules.StatusCleared)
	}
	query += `
RETURNING id, tenant_id, device_id, type, severity, status,
	start_ts, end_ts, ack_ts, clear_ts, details, propagate, propagate_to`

	row := r.db.QueryRowContext(ctx, query, args...)
	alarm, err := scanAlarm(row)
	if err != nil {
		return nil, false, err
	}
	if alarm == nil {
		existing, err := r.GetByID(ctx, tenantID, alarmID)
		return existing, false, err
	}
	return alarm, true, nil
}

// GetByID fetches an alarm by id.
func (r *AlarmRepository) GetByID(ctx context.Context, tenantID, id string) (*rules.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, device_id, type, severity, status,
	start_ts, end_ts, ack_ts, clear_ts, details, propagate, propagate_to
FROM alarms
WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanAlarm(row)
}

// MarkAcknowledged marks an alarm as acknowledged, keeping cleared alarms
// untouched.
func (r *AlarmRepository) MarkAcknowledged(ctx context.Context, tenantID, id string, ts int64) (*rules.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
UPDATE alarms
SET status = $1, ack_ts = $2
WHERE tenant_id = $3 AND id = $4 AND status = $5
RETURNING id, tenant_id, device_id, type, severity, status,
	start_ts, end_ts, ack_ts, clear_ts, details, propagate, propagate_to`,
		rules.StatusAcknowledged, ts, tenantID, id, rules.StatusActive)
	return scanAlarm(row)
}

// ListByDeviceAndTime lists alarms for a device within a start-time window,
// newest first. Empty status matches every status; deviceID may be empty to
// list tenant-wide.
func (r *AlarmRepository) ListByDeviceAndTime(ctx context.Context, tenantID, deviceID, status string, from, to int64, limit int) ([]rules.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("alarm repo: invalid query")
	}
	query := `
SELECT id, tenant_id, device_id, type, severity, status,
	start_ts, end_ts, ack_ts, clear_ts, details, propagate, propagate_to
FROM alarms
WHERE tenant_id = $1 AND start_ts >= $2 AND start_ts < $3`
	args := []any{tenantID, from, to}
	if deviceID != "" {
		args = append(args, deviceID)
		query += " AND device_id = $4"
	}
	if status != "" {
		args = append(args, status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY start_ts DESC"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alarmScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row alarmScanner) (*rules.Alarm, error) {
	var alarm rules.Alarm
	var severity string
	var endTs, ackTs, clearTs sql.NullInt64
	var details []byte
	var propagateTo []byte
	if err := row.Scan(
		&alarm.ID,
		&alarm.TenantID,
		&alarm.DeviceID,
		&alarm.Type,
		&severity,
		&alarm.Status,
		&alarm.StartTs,
		&endTs,
		&ackTs,
		&clearTs,
		&details,
		&alarm.Propagate,
		&propagateTo,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alarm.Severity = rules.Severity(severity)
	alarm.EndTs = endTs.Int64
	alarm.AckTs = ackTs.Int64
	alarm.ClearTs = clearTs.Int64
	if len(propagateTo) > 0 {
		if err := json.Unmarshal(propagateTo, &alarm.PropagateTo); err != nil {
			return nil, err
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &alarm.Details); err != nil {
			return nil, err
		}
	}
	return &alarm, nil
}

func encodeDetails(details map[string]string) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	return json.Marshal(details)
}

func nullableTs(value int64) sql.NullInt64 {
	if value == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value, Valid: true}
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}
