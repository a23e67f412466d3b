package rules

import (
	"encoding/json"
	"fmt"
)

// ConditionFilter binds a condition key to a typed predicate. Filters inside
// one condition are combined with an implicit AND. For CONSTANT keys Value
// holds the literal, parsed per ValueType at evaluation time.
type ConditionFilter struct {
	Key       ConditionKey       `json:"key"`
	ValueType ValueType          `json:"valueType"`
	Value     string             `json:"value,omitempty"`
	Predicate KeyFilterPredicate `json:"-"`
}

// UnmarshalJSON decodes the filter including its predicate union.
func (f *ConditionFilter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key       ConditionKey    `json:"key"`
		ValueType ValueType       `json:"valueType"`
		Value     string          `json:"value,omitempty"`
		Predicate json.RawMessage `json:"predicate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Key = raw.Key
	f.ValueType = raw.ValueType
	f.Value = raw.Value
	if len(raw.Predicate) > 0 {
		predicate, err := ParsePredicate(raw.Predicate)
		if err != nil {
			return err
		}
		f.Predicate = predicate
	}
	return nil
}

// MarshalJSON encodes the filter including its predicate union.
func (f ConditionFilter) MarshalJSON() ([]byte, error) {
	var predicate json.RawMessage
	if f.Predicate != nil {
		raw, err := marshalPredicate(f.Predicate)
		if err != nil {
			return nil, err
		}
		predicate = raw
	}
	return json.Marshal(struct {
		Key       ConditionKey    `json:"key"`
		ValueType ValueType       `json:"valueType"`
		Value     string          `json:"value,omitempty"`
		Predicate json.RawMessage `json:"predicate,omitempty"`
	}{f.Key, f.ValueType, f.Value, predicate})
}

// ConditionSpecType tags the ConditionSpec variant.
type ConditionSpecType string

const (
	SpecSimple    ConditionSpecType = "SIMPLE"
	SpecDuration  ConditionSpecType = "DURATION"
	SpecRepeating ConditionSpecType = "REPEATING"
)

// ConditionSpec is the closed union of temporal condition variants.
type ConditionSpec interface {
	SpecType() ConditionSpecType
}

// SimpleConditionSpec fires as soon as the condition holds.
type SimpleConditionSpec struct{}

// SpecType implements ConditionSpec.
func (SimpleConditionSpec) SpecType() ConditionSpecType { return SpecSimple }

// TimeUnit scales a duration threshold to milliseconds.
type TimeUnit string

const (
	UnitMilliseconds TimeUnit = "MILLISECONDS"
	UnitSeconds      TimeUnit = "SECONDS"
	UnitMinutes      TimeUnit = "MINUTES"
	UnitHours        TimeUnit = "HOURS"
	UnitDays         TimeUnit = "DAYS"
)

// Millis converts a threshold in this unit to milliseconds. An unknown unit
// falls back to milliseconds.
func (u TimeUnit) Millis(value int64) int64 {
	switch u {
	case UnitSeconds:
		return value * 1000
	case UnitMinutes:
		return value * 60 * 1000
	case UnitHours:
		return value * 60 * 60 * 1000
	case UnitDays:
		return value * 24 * 60 * 60 * 1000
	default:
		return value
	}
}

// DurationConditionSpec fires once the condition has held for longer than the
// threshold. The threshold may be dynamic.
type DurationConditionSpec struct {
	Unit      TimeUnit       `json:"unit"`
	Predicate Operand[int64] `json:"predicate"`
}

// SpecType implements ConditionSpec.
func (DurationConditionSpec) SpecType() ConditionSpecType { return SpecDuration }

// RepeatingConditionSpec fires once the condition has held for at least the
// configured number of consecutive evaluations. The count may be dynamic.
type RepeatingConditionSpec struct {
	Predicate Operand[int64] `json:"predicate"`
}

// SpecType implements ConditionSpec.
func (RepeatingConditionSpec) SpecType() ConditionSpecType { return SpecRepeating }

// AlarmCondition is an ordered filter list plus the temporal spec variant.
// A nil Spec means SIMPLE.
type AlarmCondition struct {
	Filters []ConditionFilter `json:"condition"`
	Spec    ConditionSpec     `json:"-"`
}

// UnmarshalJSON decodes the condition including the ConditionSpec union.
func (c *AlarmCondition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Filters []ConditionFilter `json:"condition"`
		Spec    json.RawMessage   `json:"spec"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Filters = raw.Filters
	c.Spec = SimpleConditionSpec{}
	if len(raw.Spec) == 0 || string(raw.Spec) == "null" {
		return nil
	}
	var envelope struct {
		Type ConditionSpecType `json:"type"`
	}
	if err := json.Unmarshal(raw.Spec, &envelope); err != nil {
		return err
	}
	switch envelope.Type {
	case SpecSimple, "":
		c.Spec = SimpleConditionSpec{}
	case SpecDuration:
		var spec DurationConditionSpec
		if err := json.Unmarshal(raw.Spec, &spec); err != nil {
			return err
		}
		c.Spec = spec
	case SpecRepeating:
		var spec RepeatingConditionSpec
		if err := json.Unmarshal(raw.Spec, &spec); err != nil {
			return err
		}
		c.Spec = spec
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported condition spec %q", envelope.Type)}
	}
	return nil
}

// MarshalJSON encodes the condition including the ConditionSpec union.
func (c AlarmCondition) MarshalJSON() ([]byte, error) {
	var spec any
	switch typed := c.Spec.(type) {
	case nil, SimpleConditionSpec:
		spec = struct {
			Type ConditionSpecType `json:"type"`
		}{SpecSimple}
	case DurationConditionSpec:
		spec = struct {
			Type ConditionSpecType `json:"type"`
			DurationConditionSpec
		}{SpecDuration, typed}
	case RepeatingConditionSpec:
		spec = struct {
			Type ConditionSpecType `json:"type"`
			RepeatingConditionSpec
		}{SpecRepeating, typed}
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported condition spec %T", c.Spec)}
	}
	return json.Marshal(struct {
		Filters []ConditionFilter `json:"condition"`
		Spec    any               `json:"spec"`
	}{c.Filters, spec})
}
