package application

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	rules "devicehub/internal/alarmrules/domain"
)

// EvalResult is the outcome of one rule evaluation.
type EvalResult int

const (
	// ResultFalse: the condition does not hold.
	ResultFalse EvalResult = iota
	// ResultNotYetTrue: the condition holds but the temporal threshold has
	// not been reached.
	ResultNotYetTrue
	// ResultTrue: the rule fires.
	ResultTrue
)

// RuleState is the interpreter and temporal-counter state machine for one
// (severity, rule) pair. Counters mutate only while the rule is actively
// evaluated; Clear resets them to zero.
type RuleState struct {
	severity rules.Severity
	rule     *rules.AlarmRule
	keys     map[rules.ConditionKey]struct{}
	state    *rules.PersistedRuleState
	resolver *DynamicValueResolver
	clock    Clock
	dirty    bool
}

// NewRuleState wires a rule to its dependency keys and persisted counters.
// A nil persisted state starts from zero.
func NewRuleState(severity rules.Severity, rule *rules.AlarmRule, keys map[rules.ConditionKey]struct{}, state *rules.PersistedRuleState, resolver *DynamicValueResolver, clock Clock) *RuleState {
	if state == nil {
		state = &rules.PersistedRuleState{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &RuleState{
		severity: severity,
		rule:     rule,
		keys:     keys,
		state:    state,
		resolver: resolver,
		clock:    clock,
	}
}

// Severity returns the severity this rule creates alarms with.
func (s *RuleState) Severity() rules.Severity { return s.severity }

// Persisted exposes the counter state shared with the parent device state.
func (s *RuleState) Persisted() *rules.PersistedRuleState { return s.state }

// Matches reports whether the update touches any dependency key of this rule.
// Attribute-only updates are ignored by rules that reference time-series keys
// until fresh telemetry arrives.
func (s *RuleState) Matches(update *SnapshotUpdate) bool {
	if !update.HasUpdate() {
		return false
	}
	if update.KeyType == rules.KeyTypeAttribute {
		for key := range s.keys {
			if key.Type == rules.KeyTypeTimeSeries {
				return false
			}
		}
	}
	return update.Intersects(s.keys)
}

// ConsumeDirty reports and resets the counter-mutation flag.
func (s *RuleState) ConsumeDirty() bool {
	if s.dirty {
		s.dirty = false
		return true
	}
	return false
}

// Clear zeroes the counters.
func (s *RuleState) Clear() {
	if !s.state.IsZero() {
		s.state.EventCount = 0
		s.state.LastEventTs = 0
		s.state.Duration = 0
		s.dirty = true
	}
}

// Eval evaluates the rule against the snapshot's current sample.
func (s *RuleState) Eval(ctx context.Context, snapshot *DataSnapshot) (EvalResult, error) {
	active, err := s.isActive(ctx, snapshot, snapshot.Ts())
	if err != nil {
		return ResultFalse, err
	}
	switch spec := s.spec().(type) {
	case rules.SimpleConditionSpec:
		if !active {
			return ResultFalse, nil
		}
		holds, err := s.evalCondition(ctx, snapshot)
		if err != nil {
			return ResultFalse, err
		}
		if holds {
			return ResultTrue, nil
		}
		return ResultFalse, nil
	case rules.DurationConditionSpec:
		return s.evalDuration(ctx, snapshot, active)
	case rules.RepeatingConditionSpec:
		return s.evalRepeating(ctx, snapshot, active)
	default:
		return ResultFalse, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported condition spec %T", spec)}
	}
}

// EvalAt is the harvest-time evaluation at a wall-clock timestamp with no new
// sample. Only DURATION specs can fire here: a tracked true-streak is
// projected against the threshold. SIMPLE and REPEATING specs deliberately
// never fire from a pure timer tick.
func (s *RuleState) EvalAt(ctx context.Context, ts int64, snapshot *DataSnapshot) (EvalResult, error) {
	switch s.spec().(type) {
	case rules.SimpleConditionSpec, rules.RepeatingConditionSpec:
		return ResultNotYetTrue, nil
	case rules.DurationConditionSpec:
		requiredMs, err := s.requiredDurationMs(ctx, snapshot)
		if err != nil {
			return ResultFalse, err
		}
		if requiredMs <= 0 || s.state.LastEventTs <= 0 || ts <= s.state.LastEventTs {
			return ResultFalse, nil
		}
		active, err := s.isActive(ctx, snapshot, ts)
		if err != nil {
			return ResultFalse, err
		}
		if !active {
			return ResultFalse, nil
		}
		duration := s.state.Duration + (ts - s.state.LastEventTs)
		if duration > requiredMs {
			return ResultTrue, nil
		}
		return ResultNotYetTrue, nil
	default:
		return ResultFalse, nil
	}
}

func (s *RuleState) spec() rules.ConditionSpec {
	if s.rule.Condition.Spec == nil {
		return rules.SimpleConditionSpec{}
	}
	return s.rule.Condition.Spec
}

func (s *RuleState) evalRepeating(ctx context.Context, snapshot *DataSnapshot, active bool) (EvalResult, error) {
	holds := false
	if active {
		var err error
		holds, err = s.evalCondition(ctx, snapshot)
		if err != nil {
			return ResultFalse, err
		}
	}
	if !holds {
		return ResultFalse, nil
	}
	s.state.EventCount++
	s.dirty = true
	required, err := s.requiredRepeats(ctx, snapshot)
	if err != nil {
		return ResultFalse, err
	}
	if s.state.EventCount >= required {
		return ResultTrue, nil
	}
	return ResultNotYetTrue, nil
}

func (s *RuleState) evalDuration(ctx context.Context, snapshot *DataSnapshot, active bool) (EvalResult, error) {
	holds := false
	if active {
		var err error
		holds, err = s.evalCondition(ctx, snapshot)
		if err != nil {
			return ResultFalse, err
		}
	}
	if !holds {
		return ResultFalse, nil
	}
	ts := snapshot.Ts()
	if s.state.LastEventTs > 0 {
		if ts > s.state.LastEventTs {
			s.state.Duration += ts - s.state.LastEventTs
			s.state.LastEventTs = ts
			s.dirty = true
		}
	} else {
		s.state.LastEventTs = ts
		s.state.Duration = 0
		s.dirty = true
	}
	requiredMs, err := s.requiredDurationMs(ctx, snapshot)
	if err != nil {
		return ResultFalse, err
	}
	if s.state.Duration > requiredMs {
		return ResultTrue, nil
	}
	return ResultNotYetTrue, nil
}

func (s *RuleState) requiredRepeats(ctx context.Context, snapshot *DataSnapshot) (int64, error) {
	spec, ok := s.spec().(rules.RepeatingConditionSpec)
	if !ok {
		return 0, nil
	}
	return s.resolveThreshold(ctx, snapshot, spec.Predicate)
}

func (s *RuleState) requiredDurationMs(ctx context.Context, snapshot *DataSnapshot) (int64, error) {
	spec, ok := s.spec().(rules.DurationConditionSpec)
	if !ok {
		return 0, nil
	}
	value, err := s.resolveThreshold(ctx, snapshot, spec.Predicate)
	if err != nil {
		return 0, err
	}
	return spec.Unit.Millis(value), nil
}

// resolveThreshold resolves a possibly-dynamic numeric threshold. A dynamic
// attribute that is present but not coercible to a number is a
// ValueResolutionError, not a silent false.
func (s *RuleState) resolveThreshold(ctx context.Context, snapshot *DataSnapshot, operand rules.Operand[int64]) (int64, error) {
	if operand.DynamicValue == nil {
		return operand.DefaultValue, nil
	}
	value, err := s.resolver.Resolve(ctx, snapshot, operand.DynamicValue)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return operand.DefaultValue, nil
	}
	resolved, ok := value.LngValue()
	if !ok {
		str, _ := value.StrValue()
		return 0, &rules.ValueResolutionError{Attribute: operand.DynamicValue.SourceAttribute, Value: str}
	}
	return resolved, nil
}

// isActive evaluates the rule's schedule at the given timestamp. A zero
// timestamp falls back to the wall clock.
func (s *RuleState) isActive(ctx context.Context, snapshot *DataSnapshot, ts int64) (bool, error) {
	if ts == 0 {
		ts = s.clock.Now().UnixMilli()
	}
	if s.rule.Schedule == nil {
		return true, nil
	}
	schedule, err := s.schedule(ctx, snapshot)
	if err != nil {
		return false, err
	}
	switch typed := schedule.(type) {
	case rules.AnyTimeSchedule:
		return true, nil
	case rules.SpecificTimeSchedule:
		return isActiveSpecific(typed, ts), nil
	case rules.CustomTimeSchedule:
		return isActiveCustom(typed, ts), nil
	default:
		return false, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported schedule %T", schedule)}
	}
}

// schedule resolves the effective schedule, preferring a dynamic override
// when its attribute holds a parseable schedule document.
func (s *RuleState) schedule(ctx context.Context, snapshot *DataSnapshot) (rules.Schedule, error) {
	static := s.rule.Schedule
	dynamic := static.DynamicSource()
	if dynamic == nil {
		return static, nil
	}
	value, err := s.resolver.Resolve(ctx, snapshot, dynamic)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return static, nil
	}
	doc, ok := value.JSONValue()
	if !ok {
		doc, ok = value.StrValue()
		if !ok {
			return static, nil
		}
	}
	parsed, err := rules.ParseSchedule([]byte(doc))
	if err != nil {
		// Not a schedule document; keep the static schedule.
		return static, nil
	}
	return parsed, nil
}

func isActiveSpecific(schedule rules.SpecificTimeSchedule, ts int64) bool {
	loc := loadLocation(schedule.Timezone)
	local := time.UnixMilli(ts).In(loc)
	if len(schedule.DaysOfWeek) != 7 {
		if !containsDay(schedule.DaysOfWeek, isoWeekday(local)) {
			return false
		}
	}
	return inWindow(local, schedule.StartsOn, schedule.EndsOn)
}

func isActiveCustom(schedule rules.CustomTimeSchedule, ts int64) bool {
	loc := loadLocation(schedule.Timezone)
	local := time.UnixMilli(ts).In(loc)
	day := isoWeekday(local)
	for _, item := range schedule.Items {
		if item.DayOfWeek != day {
			continue
		}
		if !item.Enabled {
			return false
		}
		return inWindow(local, item.StartsOn, item.EndsOn)
	}
	return false
}

// inWindow checks [startsOn, endsOn) against milliseconds since local
// midnight. A window with startsOn > endsOn wraps past midnight. A zero
// endsOn means end of day.
func inWindow(local time.Time, startsOn, endsOn int64) bool {
	if endsOn == 0 {
		endsOn = 24 * 60 * 60 * 1000
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	ms := local.Sub(midnight).Milliseconds()
	if startsOn <= endsOn {
		return startsOn <= ms && ms < endsOn
	}
	return ms > startsOn || (0 < ms && ms < endsOn)
}

func isoWeekday(t time.Time) int {
	day := int(t.Weekday())
	if day == 0 {
		return 7
	}
	return day
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// evalCondition ANDs every filter of the condition. A missing left-hand value
// makes the condition false, not an error.
func (s *RuleState) evalCondition(ctx context.Context, snapshot *DataSnapshot) (bool, error) {
	for _, filter := range s.rule.Condition.Filters {
		holds, err := s.evalFilter(ctx, snapshot, filter)
		if err != nil {
			return false, err
		}
		if !holds {
			return false, nil
		}
	}
	return true, nil
}

func (s *RuleState) evalFilter(ctx context.Context, snapshot *DataSnapshot, filter rules.ConditionFilter) (bool, error) {
	left, ok := s.leftValue(snapshot, filter)
	if !ok {
		return false, nil
	}
	return s.evalPredicate(ctx, snapshot, filter.Predicate, left)
}

// leftValue resolves the filter's left-hand operand: a snapshot lookup, or
// the literal of a CONSTANT key parsed per the declared value type.
func (s *RuleState) leftValue(snapshot *DataSnapshot, filter rules.ConditionFilter) (rules.EntityKeyValue, bool) {
	if filter.Key.Type == rules.KeyTypeConstant {
		return parseLiteral(filter.Value, filter.ValueType)
	}
	return snapshot.Value(filter.Key)
}

func parseLiteral(literal string, valueType rules.ValueType) (rules.EntityKeyValue, bool) {
	switch valueType {
	case rules.ValueTypeNumeric:
		parsed, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return rules.EntityKeyValue{}, false
		}
		return rules.FromDouble(parsed), true
	case rules.ValueTypeBoolean:
		parsed, err := strconv.ParseBool(literal)
		if err != nil {
			return rules.EntityKeyValue{}, false
		}
		return rules.FromBool(parsed), true
	default:
		return rules.FromString(literal), true
	}
}

func (s *RuleState) evalPredicate(ctx context.Context, snapshot *DataSnapshot, predicate rules.KeyFilterPredicate, left rules.EntityKeyValue) (bool, error) {
	switch typed := predicate.(type) {
	case rules.StringPredicate:
		return s.evalStringPredicate(ctx, snapshot, typed, left)
	case rules.NumericPredicate:
		return s.evalNumericPredicate(ctx, snapshot, typed, left)
	case rules.BooleanPredicate:
		return s.evalBooleanPredicate(ctx, snapshot, typed, left)
	case rules.ComplexPredicate:
		return s.evalComplexPredicate(ctx, snapshot, typed, left)
	default:
		return false, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported predicate %T", predicate)}
	}
}

func (s *RuleState) evalComplexPredicate(ctx context.Context, snapshot *DataSnapshot, predicate rules.ComplexPredicate, left rules.EntityKeyValue) (bool, error) {
	switch predicate.Operation {
	case rules.ComplexAnd:
		for _, child := range predicate.Predicates {
			holds, err := s.evalPredicate(ctx, snapshot, child, left)
			if err != nil {
				return false, err
			}
			if !holds {
				return false, nil
			}
		}
		return true, nil
	case rules.ComplexOr:
		for _, child := range predicate.Predicates {
			holds, err := s.evalPredicate(ctx, snapshot, child, left)
			if err != nil {
				return false, err
			}
			if holds {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported complex operation %q", predicate.Operation)}
	}
}

func (s *RuleState) evalStringPredicate(ctx context.Context, snapshot *DataSnapshot, predicate rules.StringPredicate, left rules.EntityKeyValue) (bool, error) {
	leftStr, ok := left.StrValue()
	if !ok {
		return false, nil
	}
	rightStr, ok, err := s.resolveString(ctx, snapshot, predicate.Value)
	if err != nil || !ok {
		return false, err
	}
	if predicate.IgnoreCase {
		leftStr = strings.ToLower(leftStr)
		rightStr = strings.ToLower(rightStr)
	}
	switch predicate.Operation {
	case rules.StringEqual:
		return leftStr == rightStr, nil
	case rules.StringNotEqual:
		return leftStr != rightStr, nil
	case rules.StringContains:
		return strings.Contains(leftStr, rightStr), nil
	case rules.StringNotContains:
		return !strings.Contains(leftStr, rightStr), nil
	case rules.StringStartsWith:
		return strings.HasPrefix(leftStr, rightStr), nil
	case rules.StringEndsWith:
		return strings.HasSuffix(leftStr, rightStr), nil
	case rules.StringIn:
		return containsString(splitList(rightStr), leftStr), nil
	case rules.StringNotIn:
		return !containsString(splitList(rightStr), leftStr), nil
	default:
		return false, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported string operation %q", predicate.Operation)}
	}
}

func (s *RuleState) evalNumericPredicate(ctx context.Context, snapshot *DataSnapshot, predicate rules.NumericPredicate, left rules.EntityKeyValue) (bool, error) {
	leftNum, ok := left.DblValue()
	if !ok {
		return false, nil
	}
	rightNum, ok, err := s.resolveNumeric(ctx, snapshot, predicate.Value)
	if err != nil || !ok {
		return false, err
	}
	switch predicate.Operation {
	case rules.NumericEqual:
		return leftNum == rightNum, nil
	case rules.NumericNotEqual:
		return leftNum != rightNum, nil
	case rules.NumericGreater:
		return leftNum > rightNum, nil
	case rules.NumericGreaterOrEqual:
		return leftNum >= rightNum, nil
	case rules.NumericLess:
		return leftNum < rightNum, nil
	case rules.NumericLessOrEqual:
		return leftNum <= rightNum, nil
	default:
		return false, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported numeric operation %q", predicate.Operation)}
	}
}

func (s *RuleState) evalBooleanPredicate(ctx context.Context, snapshot *DataSnapshot, predicate rules.BooleanPredicate, left rules.EntityKeyValue) (bool, error) {
	leftBool, ok := left.BoolValue()
	if !ok {
		return false, nil
	}
	rightBool, ok, err := s.resolveBool(ctx, snapshot, predicate.Value)
	if err != nil || !ok {
		return false, err
	}
	switch predicate.Operation {
	case rules.BooleanEqual:
		return leftBool == rightBool, nil
	case rules.BooleanNotEqual:
		return leftBool != rightBool, nil
	default:
		return false, &rules.ConfigurationError{Reason: fmt.Sprintf("unsupported boolean operation %q", predicate.Operation)}
	}
}

func (s *RuleState) resolveString(ctx context.Context, snapshot *DataSnapshot, operand rules.Operand[string]) (string, bool, error) {
	if operand.DynamicValue != nil {
		value, err := s.resolver.Resolve(ctx, snapshot, operand.DynamicValue)
		if err != nil {
			return "", false, err
		}
		if value != nil {
			str, ok := value.StrValue()
			return str, ok, nil
		}
	}
	return operand.DefaultValue, true, nil
}

func (s *RuleState) resolveNumeric(ctx context.Context, snapshot *DataSnapshot, operand rules.Operand[float64]) (float64, bool, error) {
	if operand.DynamicValue != nil {
		value, err := s.resolver.Resolve(ctx, snapshot, operand.DynamicValue)
		if err != nil {
			return 0, false, err
		}
		if value != nil {
			num, ok := value.DblValue()
			return num, ok, nil
		}
	}
	return operand.DefaultValue, true, nil
}

func (s *RuleState) resolveBool(ctx context.Context, snapshot *DataSnapshot, operand rules.Operand[bool]) (bool, bool, error) {
	if operand.DynamicValue != nil {
		value, err := s.resolver.Resolve(ctx, snapshot, operand.DynamicValue)
		if err != nil {
			return false, false, err
		}
		if value != nil {
			b, ok := value.BoolValue()
			return b, ok, nil
		}
	}
	return operand.DefaultValue, true, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		result = append(result, strings.TrimSpace(part))
	}
	return result
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
