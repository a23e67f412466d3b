package application

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	rules "devicehub/internal/alarmrules/domain"
)

// AlarmState orchestrates severity-ordered create-rule evaluation and
// clear-rule evaluation for one (device, alarm definition) pair, and talks to
// the alarm store. At most one non-cleared alarm exists per pair.
type AlarmState struct {
	tenantID string
	deviceID string
	alarmDef *rules.ProfileAlarm

	createStates []*RuleState
	clearState   *RuleState

	currentAlarm *rules.Alarm
	fetched      bool

	persisted *rules.PersistedAlarmState
	resolver  *DynamicValueResolver
	collab    Collaborators
	notifier  Notifier
	clock     Clock
}

// NewAlarmState binds an alarm definition to its dependency index and the
// persisted counters shared with the parent device state.
func NewAlarmState(tenantID, deviceID string, alarmDef *rules.ProfileAlarm, profile *ProfileState, persisted *rules.PersistedAlarmState, resolver *DynamicValueResolver, collab Collaborators, notifier Notifier, clock Clock) *AlarmState {
	if persisted == nil {
		persisted = rules.NewPersistedAlarmState()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	state := &AlarmState{
		tenantID:  tenantID,
		deviceID:  deviceID,
		persisted: persisted,
		resolver:  resolver,
		collab:    collab,
		notifier:  notifier,
		clock:     clock,
	}
	state.bindDefinition(alarmDef, profile)
	return state
}

// bindDefinition (re)builds the rule states, keeping persisted counters for
// severities that survive a definition change.
func (s *AlarmState) bindDefinition(alarmDef *rules.ProfileAlarm, profile *ProfileState) {
	s.alarmDef = alarmDef
	s.createStates = s.createStates[:0]
	for _, severity := range rules.Severities {
		rule, ok := alarmDef.CreateRules[severity]
		if !ok || rule == nil {
			continue
		}
		counters, ok := s.persisted.CreateRuleStates[severity]
		if !ok {
			counters = &rules.PersistedRuleState{}
			s.persisted.CreateRuleStates[severity] = counters
		}
		keys := profile.CreateRuleKeys(alarmDef.ID, severity)
		s.createStates = append(s.createStates, NewRuleState(severity, rule, keys, counters, s.resolver, s.clock))
	}
	s.clearState = nil
	if alarmDef.ClearRule != nil {
		if s.persisted.ClearRuleState == nil {
			s.persisted.ClearRuleState = &rules.PersistedRuleState{}
		}
		keys := profile.ClearRuleKeys(alarmDef.ID)
		s.clearState = NewRuleState("", alarmDef.ClearRule, keys, s.persisted.ClearRuleState, s.resolver, s.clock)
	}
}

// UpdateDefinition swaps in a changed alarm definition after a profile
// update.
func (s *AlarmState) UpdateDefinition(alarmDef *rules.ProfileAlarm, profile *ProfileState) {
	s.bindDefinition(alarmDef, profile)
}

// AlarmDefinitionID returns the owning alarm definition id.
func (s *AlarmState) AlarmDefinitionID() string { return s.alarmDef.ID }

// CurrentAlarm returns the tracked active alarm, if any.
func (s *AlarmState) CurrentAlarm() *rules.Alarm { return s.currentAlarm }

// relevant reports whether the update can influence any rule of this alarm
// definition. An irrelevant update skips the alarm store lookup entirely.
func (s *AlarmState) relevant(update *SnapshotUpdate) bool {
	if update == nil {
		return true
	}
	for _, ruleState := range s.createStates {
		if ruleState.Matches(update) {
			return true
		}
	}
	return s.clearState != nil && s.clearState.Matches(update)
}

// ProcessUpdate runs one evaluation pass triggered by a snapshot update. It
// reports whether any persisted counter changed.
func (s *AlarmState) ProcessUpdate(ctx context.Context, snapshot *DataSnapshot, update *SnapshotUpdate, meta EventMeta) (bool, error) {
	if !s.relevant(update) {
		return false, nil
	}
	return s.process(ctx, snapshot, update, meta, func(ruleState *RuleState) (EvalResult, error) {
		return ruleState.Eval(ctx, snapshot)
	})
}

// ProcessHarvest runs the data-independent evaluation pass at a wall-clock
// timestamp. Only DURATION rules can fire here.
func (s *AlarmState) ProcessHarvest(ctx context.Context, ts int64, snapshot *DataSnapshot) (bool, error) {
	return s.process(ctx, snapshot, nil, nil, func(ruleState *RuleState) (EvalResult, error) {
		return ruleState.EvalAt(ctx, ts, snapshot)
	})
}

func (s *AlarmState) process(ctx context.Context, snapshot *DataSnapshot, update *SnapshotUpdate, meta EventMeta, eval func(*RuleState) (EvalResult, error)) (bool, error) {
	if err := s.ensureCurrentAlarm(ctx); err != nil {
		return false, err
	}

	stateChanged := false
	var fired *RuleState
	for _, ruleState := range s.createStates {
		if update != nil && !ruleState.Matches(update) {
			continue
		}
		result, err := eval(ruleState)
		stateChanged = ruleState.ConsumeDirty() || stateChanged
		if err != nil {
			return stateChanged, err
		}
		if result == ResultTrue {
			fired = ruleState
			break
		}
	}

	if fired != nil {
		if err := s.applyCreateResult(ctx, fired, snapshot, meta); err != nil {
			return stateChanged, err
		}
		if s.clearState != nil {
			s.clearState.Clear()
			stateChanged = s.clearState.ConsumeDirty() || stateChanged
		}
		return stateChanged, nil
	}

	if s.currentAlarm != nil && s.clearState != nil && (update == nil || s.clearState.Matches(update)) {
		result, err := eval(s.clearState)
		stateChanged = s.clearState.ConsumeDirty() || stateChanged
		if err != nil {
			return stateChanged, err
		}
		if result == ResultTrue {
			if err := s.clearAlarm(ctx, snapshot, meta); err != nil {
				return stateChanged, err
			}
			for _, ruleState := range s.createStates {
				ruleState.Clear()
				stateChanged = ruleState.ConsumeDirty() || stateChanged
			}
		}
	}
	return stateChanged, nil
}

func (s *AlarmState) ensureCurrentAlarm(ctx context.Context) error {
	if s.fetched {
		return nil
	}
	alarm, err := s.collab.Alarms.FindActiveByOriginatorAndType(ctx, s.tenantID, s.deviceID, s.alarmDef.AlarmType)
	if err != nil {
		return err
	}
	s.currentAlarm = alarm
	s.fetched = true
	return nil
}

func (s *AlarmState) applyCreateResult(ctx context.Context, fired *RuleState, snapshot *DataSnapshot, meta EventMeta) error {
	details := renderDetails(fired.rule.Details, snapshot)
	ts := s.sampleTs(snapshot)

	if s.currentAlarm == nil {
		alarm := &rules.Alarm{
			ID:          uuid.NewString(),
			TenantID:    s.tenantID,
			DeviceID:    s.deviceID,
			Type:        s.alarmDef.AlarmType,
			Severity:    fired.Severity(),
			Status:      rules.StatusActive,
			StartTs:     ts,
			EndTs:       ts,
			Details:     details,
			Propagate:   s.alarmDef.Propagate,
			PropagateTo: s.alarmDef.PropagateRelationTypes,
		}
		if err := s.collab.Alarms.Create(ctx, alarm); err != nil {
			return err
		}
		s.currentAlarm = alarm
		s.notify(ctx, rules.RelationAlarmCreated, *alarm, meta)
		return nil
	}

	// Never silently downgrade an active alarm.
	if !fired.Severity().MoreSevereOrEqual(s.currentAlarm.Severity) {
		return nil
	}
	relation := rules.RelationAlarmUpdated
	if fired.Severity() != s.currentAlarm.Severity {
		relation = rules.RelationAlarmSeverityUpdated
	}
	s.currentAlarm.Severity = fired.Severity()
	s.currentAlarm.Details = details
	s.currentAlarm.EndTs = ts
	if err := s.collab.Alarms.Update(ctx, s.currentAlarm); err != nil {
		return err
	}
	s.notify(ctx, relation, *s.currentAlarm, meta)
	return nil
}

func (s *AlarmState) clearAlarm(ctx context.Context, snapshot *DataSnapshot, meta EventMeta) error {
	details := s.currentAlarm.Details
	if s.alarmDef.ClearRule != nil && s.alarmDef.ClearRule.Details != "" {
		details = renderDetails(s.alarmDef.ClearRule.Details, snapshot)
	}
	ts := s.clock.Now().UnixMilli()
	cleared, ok, err := s.collab.Alarms.Clear(ctx, s.tenantID, s.currentAlarm.ID, ts, details)
	if err != nil {
		return err
	}
	if ok && cleared != nil {
		s.notify(ctx, rules.RelationAlarmCleared, *cleared, meta)
	}
	s.currentAlarm = nil
	return nil
}

// sampleTs picks the alarm timestamp: the snapshot's sample time, or "now"
// when the sample time is unset or ahead of the wall clock.
func (s *AlarmState) sampleTs(snapshot *DataSnapshot) int64 {
	now := s.clock.Now().UnixMilli()
	ts := snapshot.Ts()
	if ts == 0 || ts > now {
		return now
	}
	return ts
}

// ReconcileCleared applies an externally-cleared notification without
// re-running rule evaluation.
func (s *AlarmState) ReconcileCleared(alarm rules.Alarm) bool {
	if s.currentAlarm == nil || s.currentAlarm.ID != alarm.ID {
		return false
	}
	s.currentAlarm = nil
	changed := false
	for _, ruleState := range s.createStates {
		ruleState.Clear()
		changed = ruleState.ConsumeDirty() || changed
	}
	return changed
}

// ReconcileDeleted applies an external alarm deletion. The definition keeps
// evaluating; only the tracked alarm and its counters are dropped.
func (s *AlarmState) ReconcileDeleted(alarmID string) bool {
	if !s.TracksAlarm(alarmID) {
		return false
	}
	s.currentAlarm = nil
	changed := false
	for _, ruleState := range s.createStates {
		ruleState.Clear()
		changed = ruleState.ConsumeDirty() || changed
	}
	if s.clearState != nil {
		s.clearState.Clear()
		changed = s.clearState.ConsumeDirty() || changed
	}
	return changed
}

// ReconcileAcked applies an externally-acknowledged notification.
func (s *AlarmState) ReconcileAcked(alarm rules.Alarm) {
	if s.currentAlarm == nil || s.currentAlarm.ID != alarm.ID {
		return
	}
	s.currentAlarm.Status = rules.StatusAcknowledged
	s.currentAlarm.AckTs = alarm.AckTs
}

// TracksAlarm reports whether this state currently tracks the given alarm.
func (s *AlarmState) TracksAlarm(alarmID string) bool {
	return s.currentAlarm != nil && s.currentAlarm.ID == alarmID
}

func (s *AlarmState) notify(ctx context.Context, relation string, alarm rules.Alarm, meta EventMeta) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, LifecycleEvent{RelationType: relation, Alarm: alarm, Meta: meta})
}

var detailsPlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// renderDetails substitutes ${key} placeholders with current snapshot values.
// Unknown keys render as empty strings.
func renderDetails(template string, snapshot *DataSnapshot) map[string]string {
	if template == "" {
		return nil
	}
	values := snapshot.Values()
	rendered := detailsPlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		key := detailsPlaceholder.FindStringSubmatch(match)[1]
		return values[key]
	})
	return map[string]string{"message": rendered}
}
