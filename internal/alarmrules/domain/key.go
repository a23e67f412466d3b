package rules

// ConditionKeyType identifies the data source a condition key reads from.
type ConditionKeyType string

const (
	KeyTypeAttribute   ConditionKeyType = "ATTRIBUTE"
	KeyTypeTimeSeries  ConditionKeyType = "TIME_SERIES"
	KeyTypeEntityField ConditionKeyType = "ENTITY_FIELD"
	KeyTypeConstant    ConditionKeyType = "CONSTANT"
)

// ConditionKey identifies a data source for a condition filter: an attribute
// name, a time-series key, an entity field, or a constant. It is comparable
// and used as a map key throughout the engine.
type ConditionKey struct {
	Type ConditionKeyType `json:"type"`
	Key  string           `json:"key"`
}

// AttributeKey builds an ATTRIBUTE condition key.
func AttributeKey(key string) ConditionKey {
	return ConditionKey{Type: KeyTypeAttribute, Key: key}
}

// TimeSeriesKey builds a TIME_SERIES condition key.
func TimeSeriesKey(key string) ConditionKey {
	return ConditionKey{Type: KeyTypeTimeSeries, Key: key}
}

// Entity field names resolvable through the entity directory.
const (
	FieldName        = "name"
	FieldType        = "type"
	FieldLabel       = "label"
	FieldCreatedTime = "createdTime"
)

// ValueType declares how a filter's operands are compared.
type ValueType string

const (
	ValueTypeString  ValueType = "STRING"
	ValueTypeNumeric ValueType = "NUMERIC"
	ValueTypeBoolean ValueType = "BOOLEAN"
)
