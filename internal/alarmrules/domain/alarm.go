package rules

// Alarm statuses.
const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusCleared      = "cleared"
)

// Lifecycle relation types emitted to downstream routing. Exactly one is
// attached to every lifecycle event.
const (
	RelationAlarmCreated         = "Alarm Created"
	RelationAlarmUpdated         = "Alarm Updated"
	RelationAlarmSeverityUpdated = "Alarm Severity Updated"
	RelationAlarmCleared         = "Alarm Cleared"
)

// Severity ranks alarm rules from most to least severe.
type Severity string

const (
	SeverityCritical      Severity = "CRITICAL"
	SeverityMajor         Severity = "MAJOR"
	SeverityMinor         Severity = "MINOR"
	SeverityWarning       Severity = "WARNING"
	SeverityIndeterminate Severity = "INDETERMINATE"
)

// Severities lists all severities from most to least severe. Create rules are
// evaluated in this order; the first TRUE short-circuits the rest.
var Severities = []Severity{
	SeverityCritical,
	SeverityMajor,
	SeverityMinor,
	SeverityWarning,
	SeverityIndeterminate,
}

// Rank returns the severity ordinal, 0 being most severe. Unknown severities
// rank below every known one.
func (s Severity) Rank() int {
	for i, severity := range Severities {
		if severity == s {
			return i
		}
	}
	return len(Severities)
}

// MoreSevereOrEqual reports whether s ranks at or above other. An existing
// alarm is never silently downgraded to a less severe rule.
func (s Severity) MoreSevereOrEqual(other Severity) bool {
	return s.Rank() <= other.Rank()
}

// Alarm is one alarm instance raised from a rule evaluation. Timestamps are
// epoch milliseconds, matching the telemetry clock.
type Alarm struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	DeviceID    string            `json:"device_id"`
	Type        string            `json:"type"`
	Severity    Severity          `json:"severity"`
	Status      string            `json:"status"`
	StartTs     int64             `json:"start_ts"`
	EndTs       int64             `json:"end_ts,omitempty"`
	AckTs       int64             `json:"ack_ts,omitempty"`
	ClearTs     int64             `json:"clear_ts,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	Propagate   bool              `json:"propagate"`
	PropagateTo []string          `json:"propagate_to,omitempty"`
}
