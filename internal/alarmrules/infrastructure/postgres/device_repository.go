package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	rules "devicehub/internal/alarmrules/domain"
)

// DeviceRepository resolves devices and their profiles. Profile alarm
// definitions are stored as one JSON document per profile.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// FindDeviceByID fetches a device by id, or nil.
func (r *DeviceRepository) FindDeviceByID(ctx context.Context, tenantID, deviceID string) (*rules.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if tenantID == "" || deviceID == "" {
		return nil, errors.New("device repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, customer_id, profile_id, name, type, label, created_time
FROM devices
WHERE tenant_id = $1 AND id = $2`, tenantID, deviceID)

	var device rules.Device
	var customerID, label sql.NullString
	if err := row.Scan(
		&device.ID,
		&device.TenantID,
		&customerID,
		&device.ProfileID,
		&device.Name,
		&device.Type,
		&label,
		&device.CreatedTime,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.CustomerID = customerID.String
	device.Label = label.String
	return &device, nil
}

// FindProfileByID fetches a device profile including its alarm definitions,
// or nil.
func (r *DeviceRepository) FindProfileByID(ctx context.Context, tenantID, profileID string) (*rules.DeviceProfile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if tenantID == "" || profileID == "" {
		return nil, errors.New("device repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, name, alarms
FROM device_profiles
WHERE tenant_id = $1 AND id = $2`, tenantID, profileID)

	var profile rules.DeviceProfile
	var alarms []byte
	if err := row.Scan(
		&profile.ID,
		&profile.TenantID,
		&profile.Name,
		&alarms,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(alarms) > 0 {
		if err := json.Unmarshal(alarms, &profile.Alarms); err != nil {
			return nil, err
		}
	}
	return &profile, nil
}

// SaveProfile upserts a profile with its alarm definitions.
func (r *DeviceRepository) SaveProfile(ctx context.Context, profile *rules.DeviceProfile) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if profile == nil || profile.ID == "" || profile.TenantID == "" {
		return errors.New("device repo: invalid profile")
	}
	alarms, err := json.Marshal(profile.Alarms)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO device_profiles (id, tenant_id, name, alarms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	alarms = EXCLUDED.alarms`,
		profile.ID,
		profile.TenantID,
		profile.Name,
		alarms,
	)
	return err
}
