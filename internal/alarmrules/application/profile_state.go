package application

import rules "devicehub/internal/alarmrules/domain"

// ruleKey addresses one rule inside a profile: a create severity or the
// clear rule of one alarm definition.
type ruleKey struct {
	alarmID  string
	severity rules.Severity
	clear    bool
}

// ProfileState precomputes, from a profile's alarm definitions, the condition
// keys each rule depends on, including keys reachable through dynamic
// thresholds, dynamic schedules and nested predicate trees. Incoming updates
// are per key; this index keeps unaffected rules from being re-evaluated.
// The whole state is rebuilt when the owning profile changes.
type ProfileState struct {
	profile    *rules.DeviceProfile
	entityKeys map[rules.ConditionKey]struct{}
	ruleKeys   map[ruleKey]map[rules.ConditionKey]struct{}
}

// NewProfileState indexes a device profile.
func NewProfileState(profile *rules.DeviceProfile) *ProfileState {
	state := &ProfileState{
		profile:    profile,
		entityKeys: make(map[rules.ConditionKey]struct{}),
		ruleKeys:   make(map[ruleKey]map[rules.ConditionKey]struct{}),
	}
	for _, alarm := range profile.Alarms {
		for _, severity := range rules.Severities {
			rule, ok := alarm.CreateRules[severity]
			if !ok || rule == nil {
				continue
			}
			state.indexRule(ruleKey{alarmID: alarm.ID, severity: severity}, rule)
		}
		if alarm.ClearRule != nil {
			state.indexRule(ruleKey{alarmID: alarm.ID, clear: true}, alarm.ClearRule)
		}
	}
	return state
}

// Profile returns the indexed profile.
func (s *ProfileState) Profile() *rules.DeviceProfile { return s.profile }

// EntityKeys returns the union of every rule's dependency keys.
func (s *ProfileState) EntityKeys() map[rules.ConditionKey]struct{} { return s.entityKeys }

// CreateRuleKeys returns the dependency keys of one create rule.
func (s *ProfileState) CreateRuleKeys(alarmID string, severity rules.Severity) map[rules.ConditionKey]struct{} {
	return s.ruleKeys[ruleKey{alarmID: alarmID, severity: severity}]
}

// ClearRuleKeys returns the dependency keys of one clear rule.
func (s *ProfileState) ClearRuleKeys(alarmID string) map[rules.ConditionKey]struct{} {
	return s.ruleKeys[ruleKey{alarmID: alarmID, clear: true}]
}

func (s *ProfileState) indexRule(id ruleKey, rule *rules.AlarmRule) {
	keys := make(map[rules.ConditionKey]struct{})
	for _, filter := range rule.Condition.Filters {
		if filter.Key.Type != rules.KeyTypeConstant {
			keys[filter.Key] = struct{}{}
		}
		collectPredicateKeys(filter.Predicate, keys)
	}
	switch spec := rule.Condition.Spec.(type) {
	case rules.DurationConditionSpec:
		collectDynamicKey(spec.Predicate.DynamicValue, keys)
	case rules.RepeatingConditionSpec:
		collectDynamicKey(spec.Predicate.DynamicValue, keys)
	}
	if rule.Schedule != nil {
		collectDynamicKey(rule.Schedule.DynamicSource(), keys)
	}
	s.ruleKeys[id] = keys
	for key := range keys {
		s.entityKeys[key] = struct{}{}
	}
}

func collectPredicateKeys(predicate rules.KeyFilterPredicate, keys map[rules.ConditionKey]struct{}) {
	switch typed := predicate.(type) {
	case rules.StringPredicate:
		collectDynamicKey(typed.Value.DynamicValue, keys)
	case rules.NumericPredicate:
		collectDynamicKey(typed.Value.DynamicValue, keys)
	case rules.BooleanPredicate:
		collectDynamicKey(typed.Value.DynamicValue, keys)
	case rules.ComplexPredicate:
		for _, child := range typed.Predicates {
			collectPredicateKeys(child, keys)
		}
	}
}

func collectDynamicKey(dynamic *rules.DynamicValue, keys map[rules.ConditionKey]struct{}) {
	if dynamic == nil || dynamic.SourceAttribute == "" {
		return
	}
	keys[rules.AttributeKey(dynamic.SourceAttribute)] = struct{}{}
}
