package rules

import (
	"encoding/json"
	"fmt"
)

// ValueSourceType names the scope a dynamic operand is resolved from.
type ValueSourceType string

const (
	SourceCurrentDevice   ValueSourceType = "CURRENT_DEVICE"
	SourceCurrentCustomer ValueSourceType = "CURRENT_CUSTOMER"
	SourceCurrentTenant   ValueSourceType = "CURRENT_TENANT"
)

// DynamicValue points an operand at a server-scope attribute resolved at
// evaluation time. Inherit widens the lookup to the next outer scope when the
// attribute is absent.
type DynamicValue struct {
	SourceType      ValueSourceType `json:"sourceType"`
	SourceAttribute string          `json:"sourceAttribute"`
	Inherit         bool            `json:"inherit"`
}

// Operand is a predicate right-hand side: a static default plus an optional
// dynamic attribute reference that takes precedence when resolvable.
type Operand[T any] struct {
	DefaultValue T             `json:"defaultValue"`
	DynamicValue *DynamicValue `json:"dynamicValue,omitempty"`
}

// PredicateType tags the KeyFilterPredicate variant.
type PredicateType string

const (
	PredicateString  PredicateType = "STRING"
	PredicateNumeric PredicateType = "NUMERIC"
	PredicateBoolean PredicateType = "BOOLEAN"
	PredicateComplex PredicateType = "COMPLEX"
)

// KeyFilterPredicate is the closed predicate union: STRING, NUMERIC, BOOLEAN
// or COMPLEX (AND/OR over children).
type KeyFilterPredicate interface {
	PredicateType() PredicateType
}

// StringOperation enumerates string predicate operations.
type StringOperation string

const (
	StringEqual       StringOperation = "EQUAL"
	StringNotEqual    StringOperation = "NOT_EQUAL"
	StringContains    StringOperation = "CONTAINS"
	StringNotContains StringOperation = "NOT_CONTAINS"
	StringStartsWith  StringOperation = "STARTS_WITH"
	StringEndsWith    StringOperation = "ENDS_WITH"
	StringIn          StringOperation = "IN"
	StringNotIn       StringOperation = "NOT_IN"
)

// NumericOperation enumerates numeric predicate operations.
type NumericOperation string

const (
	NumericEqual          NumericOperation = "EQUAL"
	NumericNotEqual       NumericOperation = "NOT_EQUAL"
	NumericGreater        NumericOperation = "GREATER"
	NumericGreaterOrEqual NumericOperation = "GREATER_OR_EQUAL"
	NumericLess           NumericOperation = "LESS"
	NumericLessOrEqual    NumericOperation = "LESS_OR_EQUAL"
)

// BooleanOperation enumerates boolean predicate operations.
type BooleanOperation string

const (
	BooleanEqual    BooleanOperation = "EQUAL"
	BooleanNotEqual BooleanOperation = "NOT_EQUAL"
)

// ComplexOperation combines child predicates.
type ComplexOperation string

const (
	ComplexAnd ComplexOperation = "AND"
	ComplexOr  ComplexOperation = "OR"
)

// StringPredicate compares the filter value against a string operand.
type StringPredicate struct {
	Operation  StringOperation `json:"operation"`
	Value      Operand[string] `json:"value"`
	IgnoreCase bool            `json:"ignoreCase"`
}

// PredicateType implements KeyFilterPredicate.
func (StringPredicate) PredicateType() PredicateType { return PredicateString }

// NumericPredicate compares the filter value against a numeric operand.
type NumericPredicate struct {
	Operation NumericOperation `json:"operation"`
	Value     Operand[float64] `json:"value"`
}

// PredicateType implements KeyFilterPredicate.
func (NumericPredicate) PredicateType() PredicateType { return PredicateNumeric }

// BooleanPredicate compares the filter value against a boolean operand.
type BooleanPredicate struct {
	Operation BooleanOperation `json:"operation"`
	Value     Operand[bool]    `json:"value"`
}

// PredicateType implements KeyFilterPredicate.
func (BooleanPredicate) PredicateType() PredicateType { return PredicateBoolean }

// ComplexPredicate combines child predicates with AND/OR.
type ComplexPredicate struct {
	Operation  ComplexOperation     `json:"operation"`
	Predicates []KeyFilterPredicate `json:"predicates"`
}

// PredicateType implements KeyFilterPredicate.
func (ComplexPredicate) PredicateType() PredicateType { return PredicateComplex }

// MarshalJSON adds the type discriminator expected by ParsePredicate.
func (p ComplexPredicate) MarshalJSON() ([]byte, error) {
	children := make([]json.RawMessage, 0, len(p.Predicates))
	for _, child := range p.Predicates {
		raw, err := marshalPredicate(child)
		if err != nil {
			return nil, err
		}
		children = append(children, raw)
	}
	return json.Marshal(struct {
		Type       PredicateType     `json:"type"`
		Operation  ComplexOperation  `json:"operation"`
		Predicates []json.RawMessage `json:"predicates"`
	}{PredicateComplex, p.Operation, children})
}

type predicateEnvelope struct {
	Type PredicateType `json:"type"`
}

// ParsePredicate decodes one predicate from its JSON form using the "type"
// discriminator.
func ParsePredicate(data []byte) (KeyFilterPredicate, error) {
	var envelope predicateEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case PredicateString:
		var p struct {
			Operation  StringOperation `json:"operation"`
			Value      Operand[string] `json:"value"`
			IgnoreCase bool            `json:"ignoreCase"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return StringPredicate{Operation: p.Operation, Value: p.Value, IgnoreCase: p.IgnoreCase}, nil
	case PredicateNumeric:
		var p struct {
			Operation NumericOperation `json:"operation"`
			Value     Operand[float64] `json:"value"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return NumericPredicate{Operation: p.Operation, Value: p.Value}, nil
	case PredicateBoolean:
		var p struct {
			Operation BooleanOperation `json:"operation"`
			Value     Operand[bool]    `json:"value"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return BooleanPredicate{Operation: p.Operation, Value: p.Value}, nil
	case PredicateComplex:
		var p struct {
			Operation  ComplexOperation  `json:"operation"`
			Predicates []json.RawMessage `json:"predicates"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		children := make([]KeyFilterPredicate, 0, len(p.Predicates))
		for _, raw := range p.Predicates {
			child, err := ParsePredicate(raw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return ComplexPredicate{Operation: p.Operation, Predicates: children}, nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported predicate type %q", envelope.Type)}
	}
}

func marshalPredicate(p KeyFilterPredicate) (json.RawMessage, error) {
	switch typed := p.(type) {
	case StringPredicate:
		return json.Marshal(struct {
			Type PredicateType `json:"type"`
			StringPredicate
		}{PredicateString, typed})
	case NumericPredicate:
		return json.Marshal(struct {
			Type PredicateType `json:"type"`
			NumericPredicate
		}{PredicateNumeric, typed})
	case BooleanPredicate:
		return json.Marshal(struct {
			Type PredicateType `json:"type"`
			BooleanPredicate
		}{PredicateBoolean, typed})
	case ComplexPredicate:
		return typed.MarshalJSON()
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported predicate %T", p)}
	}
}
