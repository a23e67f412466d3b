package rules

import "encoding/json"

// PersistedRuleState holds the crash-recoverable counters of one rule:
// consecutive event count for REPEATING specs, and accumulated duration with
// the timestamp of the last true sample for DURATION specs.
type PersistedRuleState struct {
	EventCount  int64 `json:"eventCount"`
	LastEventTs int64 `json:"lastEventTs"`
	Duration    int64 `json:"duration"`
}

// IsZero reports whether all counters are at rest.
func (s PersistedRuleState) IsZero() bool {
	return s.EventCount == 0 && s.LastEventTs == 0 && s.Duration == 0
}

// PersistedAlarmState holds the counters of one alarm definition: one rule
// state per create severity plus the clear rule state.
type PersistedAlarmState struct {
	CreateRuleStates map[Severity]*PersistedRuleState `json:"createRuleStates"`
	ClearRuleState   *PersistedRuleState              `json:"clearRuleState,omitempty"`
}

// NewPersistedAlarmState returns an empty alarm state.
func NewPersistedAlarmState() *PersistedAlarmState {
	return &PersistedAlarmState{CreateRuleStates: make(map[Severity]*PersistedRuleState)}
}

// PersistedDeviceState is the unit persisted per device: alarm states keyed
// by alarm definition id. It is serialized as an opaque blob by the state
// store.
type PersistedDeviceState struct {
	AlarmStates map[string]*PersistedAlarmState `json:"alarmStates"`
}

// NewPersistedDeviceState returns an empty device state.
func NewPersistedDeviceState() *PersistedDeviceState {
	return &PersistedDeviceState{AlarmStates: make(map[string]*PersistedAlarmState)}
}

// DecodeDeviceState restores a device state from its serialized form.
func DecodeDeviceState(blob []byte) (*PersistedDeviceState, error) {
	state := NewPersistedDeviceState()
	if len(blob) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(blob, state); err != nil {
		return nil, err
	}
	if state.AlarmStates == nil {
		state.AlarmStates = make(map[string]*PersistedAlarmState)
	}
	return state, nil
}

// Encode serializes the device state for the state store.
func (s *PersistedDeviceState) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// AlarmState returns the alarm state for an alarm definition, creating an
// empty one on first use.
func (s *PersistedDeviceState) AlarmState(alarmID string) *PersistedAlarmState {
	if s.AlarmStates == nil {
		s.AlarmStates = make(map[string]*PersistedAlarmState)
	}
	state, ok := s.AlarmStates[alarmID]
	if !ok {
		state = NewPersistedAlarmState()
		s.AlarmStates[alarmID] = state
	}
	if state.CreateRuleStates == nil {
		state.CreateRuleStates = make(map[Severity]*PersistedRuleState)
	}
	return state
}
