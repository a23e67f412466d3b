package application

import rules "devicehub/internal/alarmrules/domain"

// DataSnapshot caches the latest known value per condition key for one
// device, restricted to the keys the device's profile can reference. It is
// mutated only by the single-threaded processing path of its device.
type DataSnapshot struct {
	ts     int64
	keys   map[rules.ConditionKey]struct{}
	values map[rules.ConditionKey]snapshotValue
}

type snapshotValue struct {
	ts    int64
	value rules.EntityKeyValue
}

// NewDataSnapshot builds a snapshot restricted to the given key set.
func NewDataSnapshot(keys map[rules.ConditionKey]struct{}) *DataSnapshot {
	restricted := make(map[rules.ConditionKey]struct{}, len(keys))
	for key := range keys {
		restricted[key] = struct{}{}
	}
	return &DataSnapshot{
		keys:   restricted,
		values: make(map[rules.ConditionKey]snapshotValue),
	}
}

// Ts returns the snapshot's current logical timestamp.
func (s *DataSnapshot) Ts() int64 { return s.ts }

// SetTs advances the snapshot's logical timestamp.
func (s *DataSnapshot) SetTs(ts int64) { s.ts = ts }

// Merge stores a value and reports whether it constitutes a change: the
// timestamp advances, or the stored value differs. The same value at the same
// timestamp is not a change, which makes redelivered updates no-ops.
func (s *DataSnapshot) Merge(key rules.ConditionKey, ts int64, value rules.EntityKeyValue) bool {
	if _, relevant := s.keys[key]; !relevant {
		return false
	}
	previous, exists := s.values[key]
	s.values[key] = snapshotValue{ts: ts, value: value}
	if !exists {
		return true
	}
	return previous.ts != ts || !previous.value.Equal(value)
}

// Value returns the latest value for a key, reporting false when absent.
func (s *DataSnapshot) Value(key rules.ConditionKey) (rules.EntityKeyValue, bool) {
	stored, ok := s.values[key]
	return stored.value, ok
}

// Remove drops a key, typically after an attribute delete.
func (s *DataSnapshot) Remove(key rules.ConditionKey) {
	delete(s.values, key)
}

// ExtendKeys widens the restriction set after a profile update introduced new
// dependencies. It returns the keys that were not tracked before and are not
// yet cached.
func (s *DataSnapshot) ExtendKeys(keys map[rules.ConditionKey]struct{}) []rules.ConditionKey {
	var added []rules.ConditionKey
	for key := range keys {
		if _, tracked := s.keys[key]; tracked {
			continue
		}
		s.keys[key] = struct{}{}
		if _, cached := s.values[key]; !cached {
			added = append(added, key)
		}
	}
	return added
}

// Values renders the snapshot as plain strings, used for ${key} placeholder
// substitution in alarm details.
func (s *DataSnapshot) Values() map[string]string {
	result := make(map[string]string, len(s.values))
	for key, stored := range s.values {
		if str, ok := stored.value.StrValue(); ok {
			result[key.Key] = str
		}
	}
	return result
}

// SnapshotUpdate is the set of keys of one type that changed as a result of
// one inbound update.
type SnapshotUpdate struct {
	KeyType rules.ConditionKeyType
	Keys    map[rules.ConditionKey]struct{}
}

// NewSnapshotUpdate builds an update for a key type.
func NewSnapshotUpdate(keyType rules.ConditionKeyType) *SnapshotUpdate {
	return &SnapshotUpdate{KeyType: keyType, Keys: make(map[rules.ConditionKey]struct{})}
}

// Add records a changed key.
func (u *SnapshotUpdate) Add(key rules.ConditionKey) { u.Keys[key] = struct{}{} }

// HasUpdate reports whether any key changed.
func (u *SnapshotUpdate) HasUpdate() bool { return u != nil && len(u.Keys) > 0 }

// Intersects reports whether any changed key is in the given dependency set.
func (u *SnapshotUpdate) Intersects(keys map[rules.ConditionKey]struct{}) bool {
	if u == nil {
		return false
	}
	for key := range u.Keys {
		if _, ok := keys[key]; ok {
			return true
		}
	}
	return false
}
