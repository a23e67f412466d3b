package rules

import (
	"encoding/json"
	"errors"
)

// AlarmRule pairs a condition with an optional schedule and a details
// template. The template may reference snapshot keys as ${key} placeholders.
type AlarmRule struct {
	Condition AlarmCondition `json:"condition"`
	Schedule  Schedule       `json:"-"`
	Details   string         `json:"alarmDetails,omitempty"`
}

// UnmarshalJSON decodes the rule including the schedule union.
func (r *AlarmRule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Condition AlarmCondition  `json:"condition"`
		Schedule  json.RawMessage `json:"schedule"`
		Details   string          `json:"alarmDetails,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Condition = raw.Condition
	r.Details = raw.Details
	r.Schedule = nil
	if len(raw.Schedule) > 0 && string(raw.Schedule) != "null" {
		schedule, err := ParseSchedule(raw.Schedule)
		if err != nil {
			return err
		}
		r.Schedule = schedule
	}
	return nil
}

// MarshalJSON encodes the rule including the schedule union.
func (r AlarmRule) MarshalJSON() ([]byte, error) {
	var schedule json.RawMessage
	if r.Schedule != nil {
		raw, err := marshalSchedule(r.Schedule)
		if err != nil {
			return nil, err
		}
		schedule = raw
	}
	return json.Marshal(struct {
		Condition AlarmCondition  `json:"condition"`
		Schedule  json.RawMessage `json:"schedule,omitempty"`
		Details   string          `json:"alarmDetails,omitempty"`
	}{r.Condition, schedule, r.Details})
}

// ProfileAlarm is one alarm definition on a device profile: ordered create
// rules per severity and an optional clear rule.
type ProfileAlarm struct {
	ID                     string                  `json:"id"`
	AlarmType              string                  `json:"alarmType"`
	CreateRules            map[Severity]*AlarmRule `json:"createRules"`
	ClearRule              *AlarmRule              `json:"clearRule,omitempty"`
	Propagate              bool                    `json:"propagate"`
	PropagateRelationTypes []string                `json:"propagateRelationTypes,omitempty"`
}

// Validate checks definition invariants.
func (a ProfileAlarm) Validate() error {
	if a.ID == "" {
		return errors.New("profile alarm: empty id")
	}
	if a.AlarmType == "" {
		return errors.New("profile alarm: empty alarm type")
	}
	if len(a.CreateRules) == 0 {
		return errors.New("profile alarm: no create rules")
	}
	for severity := range a.CreateRules {
		if severity.Rank() >= len(Severities) {
			return errors.New("profile alarm: unknown severity")
		}
	}
	return nil
}

// DeviceProfile carries the alarm definitions evaluated for every device
// assigned to it.
type DeviceProfile struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenantId"`
	Name     string         `json:"name"`
	Alarms   []ProfileAlarm `json:"alarms,omitempty"`
}

// Device is the directory view of a device: enough to resolve entity fields
// and the owning customer.
type Device struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	CustomerID  string `json:"customerId,omitempty"`
	ProfileID   string `json:"profileId"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Label       string `json:"label,omitempty"`
	CreatedTime int64  `json:"createdTime"`
}
