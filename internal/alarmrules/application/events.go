package application

import rules "devicehub/internal/alarmrules/domain"

// Event is the closed union of inbound events consumed per device. The
// ingestion layer has already decoded wire formats into typed values; the
// engine never parses raw payloads.
type Event interface {
	isEvent()
}

// TelemetryPoint is one telemetry sample.
type TelemetryPoint struct {
	Ts    int64
	Key   string
	Value rules.EntityKeyValue
}

// TelemetryEvent carries posted telemetry or a time-series-updated
// notification. Points may span multiple timestamps; the engine groups them
// and processes each distinct timestamp in ascending order.
type TelemetryEvent struct {
	Points []TelemetryPoint
	Meta   EventMeta
}

func (TelemetryEvent) isEvent() {}

// AttributesEvent carries posted or updated attributes of one scope.
type AttributesEvent struct {
	Scope   string
	Entries []KVEntry
	Meta    EventMeta
}

func (AttributesEvent) isEvent() {}

// AttributesDeletedEvent removes attributes of one scope. Rules depending on
// the removed keys are still re-evaluated so that conditions over now-absent
// data can clear.
type AttributesDeletedEvent struct {
	Scope string
	Keys  []string
	Meta  EventMeta
}

func (AttributesDeletedEvent) isEvent() {}

// ActivityEvent is a device activity or inactivity notification. Without an
// explicit scope its entries are treated as telemetry.
type ActivityEvent struct {
	Scope   string
	Ts      int64
	Entries []KVEntry
	Meta    EventMeta
}

func (ActivityEvent) isEvent() {}

// AlarmClearedEvent reconciles an externally cleared alarm without
// re-running rule evaluation.
type AlarmClearedEvent struct {
	Alarm rules.Alarm
}

func (AlarmClearedEvent) isEvent() {}

// AlarmAckedEvent reconciles an externally acknowledged alarm.
type AlarmAckedEvent struct {
	Alarm rules.Alarm
}

func (AlarmAckedEvent) isEvent() {}

// AlarmDeletedEvent drops the alarm state tracking a deleted alarm.
type AlarmDeletedEvent struct {
	Alarm rules.Alarm
}

func (AlarmDeletedEvent) isEvent() {}

// ProfileUpdatedEvent rebuilds the rule index after a device profile change.
type ProfileUpdatedEvent struct {
	Profile *rules.DeviceProfile
}

func (ProfileUpdatedEvent) isEvent() {}

// DeviceReassignedEvent invalidates the cached customer, and optionally moves
// the device to another profile.
type DeviceReassignedEvent struct {
	NewProfileID string
}

func (DeviceReassignedEvent) isEvent() {}
