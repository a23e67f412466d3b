package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	application "devicehub/internal/alarmrules/application"
	rules "devicehub/internal/alarmrules/domain"
)

// AttributeRepository reads and writes entity attributes. Values are stored
// as plain JSON literals.
type AttributeRepository struct {
	db *sql.DB
}

// NewAttributeRepository constructs a repository.
func NewAttributeRepository(db *sql.DB) *AttributeRepository {
	return &AttributeRepository{db: db}
}

// Find fetches one attribute, or nil.
func (r *AttributeRepository) Find(ctx context.Context, tenantID, entityID, scope, key string) (*application.KVEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("attribute repo: nil db")
	}
	if tenantID == "" || entityID == "" || scope == "" || key == "" {
		return nil, errors.New("attribute repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT key, ts, value
FROM attributes_kv
WHERE tenant_id = $1 AND entity_id = $2 AND scope = $3 AND key = $4`, tenantID, entityID, scope, key)

	entry, err := scanKV(row)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// FindAll fetches the listed attributes present in one scope.
func (r *AttributeRepository) FindAll(ctx context.Context, tenantID, entityID, scope string, keys []string) ([]application.KVEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("attribute repo: nil db")
	}
	if tenantID == "" || entityID == "" || scope == "" {
		return nil, errors.New("attribute repo: invalid query")
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
FROM attributes_kv
WHERE tenant_id = $1 AND entity_id = $2 AND scope = $3
	AND key IN (SELECT jsonb_array_elements_text($4::jsonb))`, tenantID, entityID, scope, encodedKeys)
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

// Upsert stores one attribute.
func (r *AttributeRepository) Upsert(ctx context.Context, tenantID, entityID, scope string, entry application.KVEntry) error {
	if r == nil || r.db == nil {
		return errors.New("attribute repo: nil db")
	}
	value, err := entry.Value.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO attributes_kv (tenant_id, entity_id, scope, key, ts, value)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, entity_id, scope, key)
DO UPDATE SET
	ts = EXCLUDED.ts,
	value = EXCLUDED.value`,
		tenantID, entityID, scope, entry.Key, entry.Ts, value)
	return err
}

// Delete removes the listed attributes from one scope.
func (r *AttributeRepository) Delete(ctx context.Context, tenantID, entityID, scope string, keys []string) error {
	if r == nil || r.db == nil {
		return errors.New("attribute repo: nil db")
	}
	if len(keys) == 0 {
		return nil
	}
	encodedKeys, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
DELETE FROM attributes_kv
WHERE tenant_id = $1 AND entity_id = $2 AND scope = $3
	AND key IN (SELECT jsonb_array_elements_text($4::jsonb))`, tenantID, entityID, scope, encodedKeys)
	return err
}

type kvScanner interface {
	Scan(dest ...any) error
}

func scanKV(row kvScanner) (*application.KVEntry, error) {
	var entry application.KVEntry
	var value []byte
	if err := row.Scan(&entry.Key, &entry.Ts, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var decoded rules.EntityKeyValue
	if err := decoded.UnmarshalJSON(value); err != nil {
		return nil, err
	}
	entry.Value = decoded
	return &entry, nil
}
