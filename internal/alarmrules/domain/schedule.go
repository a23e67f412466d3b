package rules

import (
	"encoding/json"
	"fmt"
)

// ScheduleType tags the Schedule variant.
type ScheduleType string

const (
	ScheduleAnyTime      ScheduleType = "ANY_TIME"
	ScheduleSpecificTime ScheduleType = "SPECIFIC_TIME"
	ScheduleCustom       ScheduleType = "CUSTOM"
)

// Schedule is the closed union of time windows during which a rule is
// eligible to fire. A schedule may itself be dynamic: the referenced
// attribute holds a JSON document parsed with ParseSchedule.
type Schedule interface {
	ScheduleType() ScheduleType
	DynamicSource() *DynamicValue
}

// AnyTimeSchedule keeps the rule always eligible.
type AnyTimeSchedule struct {
	Dynamic *DynamicValue `json:"dynamicValue,omitempty"`
}

// ScheduleType implements Schedule.
func (AnyTimeSchedule) ScheduleType() ScheduleType { return ScheduleAnyTime }

// DynamicSource implements Schedule.
func (s AnyTimeSchedule) DynamicSource() *DynamicValue { return s.Dynamic }

// SpecificTimeSchedule restricts eligibility to one daily window on a set of
// weekdays. StartsOn/EndsOn are milliseconds since local midnight; a window
// with StartsOn > EndsOn wraps past midnight.
type SpecificTimeSchedule struct {
	Timezone   string        `json:"timezone"`
	DaysOfWeek []int         `json:"daysOfWeek"`
	StartsOn   int64         `json:"startsOn"`
	EndsOn     int64         `json:"endsOn"`
	Dynamic    *DynamicValue `json:"dynamicValue,omitempty"`
}

// ScheduleType implements Schedule.
func (SpecificTimeSchedule) ScheduleType() ScheduleType { return ScheduleSpecificTime }

// DynamicSource implements Schedule.
func (s SpecificTimeSchedule) DynamicSource() *DynamicValue { return s.Dynamic }

// CustomScheduleItem configures one weekday of a CUSTOM schedule.
type CustomScheduleItem struct {
	Enabled   bool  `json:"enabled"`
	DayOfWeek int   `json:"dayOfWeek"`
	StartsOn  int64 `json:"startsOn"`
	EndsOn    int64 `json:"endsOn"`
}

// CustomTimeSchedule configures a window per weekday.
type CustomTimeSchedule struct {
	Timezone string               `json:"timezone"`
	Items    []CustomScheduleItem `json:"items"`
	Dynamic  *DynamicValue        `json:"dynamicValue,omitempty"`
}

// ScheduleType implements Schedule.
func (CustomTimeSchedule) ScheduleType() ScheduleType { return ScheduleCustom }

// DynamicSource implements Schedule.
func (s CustomTimeSchedule) DynamicSource() *DynamicValue { return s.Dynamic }

// ParseSchedule decodes one schedule from its JSON form using the "type"
// discriminator.
func ParseSchedule(data []byte) (Schedule, error) {
	var envelope struct {
		Type ScheduleType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case ScheduleAnyTime:
		var s AnyTimeSchedule
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case ScheduleSpecificTime:
		var s SpecificTimeSchedule
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case ScheduleCustom:
		var s CustomTimeSchedule
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported schedule type %q", envelope.Type)}
	}
}

func marshalSchedule(s Schedule) (json.RawMessage, error) {
	switch typed := s.(type) {
	case AnyTimeSchedule:
		return json.Marshal(struct {
			Type ScheduleType `json:"type"`
			AnyTimeSchedule
		}{ScheduleAnyTime, typed})
	case SpecificTimeSchedule:
		return json.Marshal(struct {
			Type ScheduleType `json:"type"`
			SpecificTimeSchedule
		}{ScheduleSpecificTime, typed})
	case CustomTimeSchedule:
		return json.Marshal(struct {
			Type ScheduleType `json:"type"`
			CustomTimeSchedule
		}{ScheduleCustom, typed})
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported schedule %T", s)}
	}
}
