package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// DataType identifies the variant stored inside an EntityKeyValue.
type DataType string

const (
	TypeLong    DataType = "LONG"
	TypeDouble  DataType = "DOUBLE"
	TypeBoolean DataType = "BOOLEAN"
	TypeString  DataType = "STRING"
	TypeJSON    DataType = "JSON"
)

// EntityKeyValue is a typed value used uniformly across snapshot storage and
// predicate evaluation. Exactly one variant is set at a time.
type EntityKeyValue struct {
	kind DataType
	lng  int64
	dbl  float64
	bl   bool
	str  string
}

// FromLong builds a LONG value.
func FromLong(v int64) EntityKeyValue { return EntityKeyValue{kind: TypeLong, lng: v} }

// FromDouble builds a DOUBLE value.
func FromDouble(v float64) EntityKeyValue { return EntityKeyValue{kind: TypeDouble, dbl: v} }

// FromBool builds a BOOLEAN value.
func FromBool(v bool) EntityKeyValue { return EntityKeyValue{kind: TypeBoolean, bl: v} }

// FromString builds a STRING value.
func FromString(v string) EntityKeyValue { return EntityKeyValue{kind: TypeString, str: v} }

// FromJSON builds a JSON value holding the raw document text.
func FromJSON(v string) EntityKeyValue { return EntityKeyValue{kind: TypeJSON, str: v} }

// Kind returns the variant tag.
func (v EntityKeyValue) Kind() DataType { return v.kind }

// IsZero reports whether the value was never set.
func (v EntityKeyValue) IsZero() bool { return v.kind == "" }

// Equal reports whether two values hold the same variant and payload.
func (v EntityKeyValue) Equal(other EntityKeyValue) bool { return v == other }

// StrValue coerces the value to a string. Every variant has a string form.
func (v EntityKeyValue) StrValue() (string, bool) {
	switch v.kind {
	case TypeLong:
		return strconv.FormatInt(v.lng, 10), true
	case TypeDouble:
		return strconv.FormatFloat(v.dbl, 'f', -1, 64), true
	case TypeBoolean:
		return strconv.FormatBool(v.bl), true
	case TypeString, TypeJSON:
		return v.str, true
	default:
		return "", false
	}
}

// DblValue coerces the value to a float64. LONG widens, BOOLEAN maps to 0/1,
// STRING and JSON are parsed; a non-parseable value reports false.
func (v EntityKeyValue) DblValue() (float64, bool) {
	switch v.kind {
	case TypeLong:
		return float64(v.lng), true
	case TypeDouble:
		return v.dbl, true
	case TypeBoolean:
		if v.bl {
			return 1, true
		}
		return 0, true
	case TypeString, TypeJSON:
		parsed, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// BoolValue coerces the value to a bool. Numeric values above zero map to true.
func (v EntityKeyValue) BoolValue() (bool, bool) {
	switch v.kind {
	case TypeLong:
		return v.lng > 0, true
	case TypeDouble:
		return v.dbl > 0, true
	case TypeBoolean:
		return v.bl, true
	case TypeString, TypeJSON:
		parsed, err := strconv.ParseBool(v.str)
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// LngValue coerces the value to an int64. DOUBLE truncates, BOOLEAN maps to
// 0/1, STRING and JSON are parsed.
func (v EntityKeyValue) LngValue() (int64, bool) {
	switch v.kind {
	case TypeLong:
		return v.lng, true
	case TypeDouble:
		return int64(v.dbl), true
	case TypeBoolean:
		if v.bl {
			return 1, true
		}
		return 0, true
	case TypeString, TypeJSON:
		parsed, err := strconv.ParseInt(v.str, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// MarshalJSON renders the value as the plain JSON literal it holds.
func (v EntityKeyValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case TypeLong:
		return []byte(strconv.FormatInt(v.lng, 10)), nil
	case TypeDouble:
		return []byte(strconv.FormatFloat(v.dbl, 'f', -1, 64)), nil
	case TypeBoolean:
		return []byte(strconv.FormatBool(v.bl)), nil
	case TypeString:
		return json.Marshal(v.str)
	case TypeJSON:
		if json.Valid([]byte(v.str)) {
			return []byte(v.str), nil
		}
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON maps a JSON literal onto a variant: integral numbers to LONG,
// other numbers to DOUBLE, booleans and strings to their variants, and
// objects or arrays to JSON.
func (v *EntityKeyValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = EntityKeyValue{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FromString(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = FromBool(b)
		return nil
	case '{', '[':
		if !json.Valid(data) {
			return errors.New("rules: malformed json value")
		}
		*v = FromJSON(string(data))
		return nil
	default:
		if lng, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*v = FromLong(lng)
			return nil
		}
		dbl, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return err
		}
		*v = FromDouble(dbl)
		return nil
	}
}

// JSONValue returns the raw JSON document for JSON values.
func (v EntityKeyValue) JSONValue() (string, bool) {
	if v.kind != TypeJSON {
		return "", false
	}
	return v.str, true
}
