package application

import (
	"context"
	"fmt"
	"log"
	"sort"

	rules "devicehub/internal/alarmrules/domain"
	"devicehub/internal/observability/metrics"
)

// DeviceState routes inbound events for one device into snapshot merges and
// alarm-state evaluations, and drives crash-recoverable persistence and
// periodic harvesting. The surrounding routing layer delivers updates for one
// device strictly one at a time, so DeviceState needs no locking of its own.
type DeviceState struct {
	tenantID string
	deviceID string
	nodeID   string

	profile     *ProfileState
	snapshot    *DataSnapshot
	alarmStates map[string]*AlarmState
	persisted   *rules.PersistedDeviceState

	resolver *DynamicValueResolver
	collab   Collaborators
	notifier Notifier
	clock    Clock
	logger   *log.Logger
}

// NewDeviceState builds the state for one device, recovering counters from a
// previously persisted blob when present.
func NewDeviceState(tenantID, deviceID, nodeID string, profile *ProfileState, persisted *rules.PersistedDeviceState, collab Collaborators, notifier Notifier, clock Clock, logger *log.Logger) *DeviceState {
	if persisted == nil {
		persisted = rules.NewPersistedDeviceState()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	state := &DeviceState{
		tenantID:    tenantID,
		deviceID:    deviceID,
		nodeID:      nodeID,
		profile:     profile,
		alarmStates: make(map[string]*AlarmState),
		persisted:   persisted,
		resolver:    NewDynamicValueResolver(tenantID, deviceID, collab),
		collab:      collab,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
	}
	for i := range profile.Profile().Alarms {
		alarmDef := &profile.Profile().Alarms[i]
		state.alarmStates[alarmDef.ID] = NewAlarmState(tenantID, deviceID, alarmDef, profile, persisted.AlarmState(alarmDef.ID), state.resolver, collab, notifier, clock)
	}
	return state
}

// DeviceID returns the owning device id.
func (d *DeviceState) DeviceID() string { return d.deviceID }

// ProcessEvent dispatches one inbound event and persists the counter blob
// when any rule state changed.
func (d *DeviceState) ProcessEvent(ctx context.Context, event Event) error {
	if err := d.ensureSnapshot(ctx); err != nil {
		return err
	}
	var stateChanged bool
	var err error
	switch typed := event.(type) {
	case TelemetryEvent:
		stateChanged, err = d.processTelemetry(ctx, typed.Points, typed.Meta)
	case AttributesEvent:
		stateChanged, err = d.processAttributes(ctx, typed.Entries, typed.Meta)
	case ActivityEvent:
		if typed.Scope == "" {
			points := make([]TelemetryPoint, 0, len(typed.Entries))
			for _, entry := range typed.Entries {
				ts := entry.Ts
				if ts == 0 {
					ts = typed.Ts
				}
				points = append(points, TelemetryPoint{Ts: ts, Key: entry.Key, Value: entry.Value})
			}
			stateChanged, err = d.processTelemetry(ctx, points, typed.Meta)
		} else {
			stateChanged, err = d.processAttributes(ctx, typed.Entries, typed.Meta)
		}
	case AttributesDeletedEvent:
		stateChanged, err = d.processAttributesDeleted(ctx, typed.Keys, typed.Meta)
	case AlarmClearedEvent:
		for _, alarmState := range d.alarmStates {
			stateChanged = alarmState.ReconcileCleared(typed.Alarm) || stateChanged
		}
	case AlarmAckedEvent:
		for _, alarmState := range d.alarmStates {
			alarmState.ReconcileAcked(typed.Alarm)
		}
	case AlarmDeletedEvent:
		for _, alarmState := range d.alarmStates {
			stateChanged = alarmState.ReconcileDeleted(typed.Alarm.ID) || stateChanged
		}
	case DeviceReassignedEvent:
		d.resolver.ResetCustomer()
	default:
		return fmt.Errorf("alarm engine: unsupported event %T", event)
	}
	if err != nil {
		return err
	}
	if stateChanged {
		return d.persist(ctx)
	}
	return nil
}

// Harvest re-runs duration-type evaluation at a wall-clock timestamp, with no
// new input.
func (d *DeviceState) Harvest(ctx context.Context, ts int64) error {
	if err := d.ensureSnapshot(ctx); err != nil {
		return err
	}
	stateChanged := false
	for _, alarmState := range d.alarmStates {
		changed, err := alarmState.ProcessHarvest(ctx, ts, d.snapshot)
		stateChanged = changed || stateChanged
		if err != nil {
			return err
		}
	}
	if stateChanged {
		return d.persist(ctx)
	}
	return nil
}

func (d *DeviceState) processTelemetry(ctx context.Context, points []TelemetryPoint, meta EventMeta) (bool, error) {
	grouped := make(map[int64][]TelemetryPoint)
	for _, point := range points {
		grouped[point.Ts] = append(grouped[point.Ts], point)
	}
	timestamps := make([]int64, 0, len(grouped))
	for ts := range grouped {
		timestamps = append(timestamps, ts)
	}
	// Distinct timestamps are processed in ascending order, each as its own
	// evaluation pass.
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	stateChanged := false
	for _, ts := range timestamps {
		update := NewSnapshotUpdate(rules.KeyTypeTimeSeries)
		for _, point := range grouped[ts] {
			key := rules.TimeSeriesKey(point.Key)
			if d.snapshot.Merge(key, ts, point.Value) {
				update.Add(key)
				metrics.IncSnapshotMerge(metrics.MergeChanged)
			} else {
				metrics.IncSnapshotMerge(metrics.MergeUnchanged)
			}
		}
		d.snapshot.SetTs(ts)
		if !update.HasUpdate() {
			continue
		}
		changed, err := d.invokeAlarmStates(ctx, update, meta)
		stateChanged = changed || stateChanged
		if err != nil {
			return stateChanged, err
		}
	}
	return stateChanged, nil
}

func (d *DeviceState) processAttributes(ctx context.Context, entries []KVEntry, meta EventMeta) (bool, error) {
	if len(entries) == 0 {
		return false, nil
	}
	var newTs int64
	update := NewSnapshotUpdate(rules.KeyTypeAttribute)
	for _, entry := range entries {
		if entry.Ts > newTs {
			newTs = entry.Ts
		}
		key := rules.AttributeKey(entry.Key)
		if d.snapshot.Merge(key, entry.Ts, entry.Value) {
			update.Add(key)
			metrics.IncSnapshotMerge(metrics.MergeChanged)
		} else {
			metrics.IncSnapshotMerge(metrics.MergeUnchanged)
		}
	}
	d.snapshot.SetTs(newTs)
	if !update.HasUpdate() {
		return false, nil
	}
	return d.invokeAlarmStates(ctx, update, meta)
}

func (d *DeviceState) processAttributesDeleted(ctx context.Context, keys []string, meta EventMeta) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	// Removed keys still trigger evaluation so that conditions depending on
	// now-absent data can clear.
	update := NewSnapshotUpdate(rules.KeyTypeAttribute)
	for _, key := range keys {
		conditionKey := rules.AttributeKey(key)
		d.snapshot.Remove(conditionKey)
		update.Add(conditionKey)
	}
	return d.invokeAlarmStates(ctx, update, meta)
}

func (d *DeviceState) invokeAlarmStates(ctx context.Context, update *SnapshotUpdate, meta EventMeta) (bool, error) {
	stateChanged := false
	for _, alarmState := range d.alarmStates {
		changed, err := alarmState.ProcessUpdate(ctx, d.snapshot, update, meta)
		stateChanged = changed || stateChanged
		if err != nil {
			return stateChanged, err
		}
	}
	return stateChanged, nil
}

// ReconcileProfile rebuilds the alarm-state map after a profile change:
// removed definitions are dropped, surviving ones rebound, new ones created
// with fresh counters. Newly referenced keys are fetched into the snapshot.
func (d *DeviceState) ReconcileProfile(ctx context.Context, profile *ProfileState) error {
	d.profile = profile
	if d.snapshot != nil {
		added := d.snapshot.ExtendKeys(profile.EntityKeys())
		if len(added) > 0 {
			keySet := make(map[rules.ConditionKey]struct{}, len(added))
			for _, key := range added {
				keySet[key] = struct{}{}
			}
			if err := d.fetchKeys(ctx, keySet, d.snapshot); err != nil {
				return err
			}
		}
	}

	current := make(map[string]*rules.ProfileAlarm, len(profile.Profile().Alarms))
	for i := range profile.Profile().Alarms {
		alarmDef := &profile.Profile().Alarms[i]
		current[alarmDef.ID] = alarmDef
	}
	for id := range d.alarmStates {
		if _, ok := current[id]; !ok {
			delete(d.alarmStates, id)
			delete(d.persisted.AlarmStates, id)
		}
	}
	for id, alarmDef := range current {
		if existing, ok := d.alarmStates[id]; ok {
			existing.UpdateDefinition(alarmDef, profile)
			continue
		}
		d.alarmStates[id] = NewAlarmState(d.tenantID, d.deviceID, alarmDef, profile, d.persisted.AlarmState(id), d.resolver, d.collab, d.notifier, d.clock)
	}
	return nil
}

func (d *DeviceState) ensureSnapshot(ctx context.Context) error {
	if d.snapshot != nil {
		return nil
	}
	snapshot := NewDataSnapshot(d.profile.EntityKeys())
	if err := d.fetchKeys(ctx, d.profile.EntityKeys(), snapshot); err != nil {
		return err
	}
	d.snapshot = snapshot
	return nil
}

// fetchKeys loads the latest stored values for the given keys into the
// snapshot: latest telemetry, attributes of every scope, and entity fields
// from the directory.
func (d *DeviceState) fetchKeys(ctx context.Context, keys map[rules.ConditionKey]struct{}, snapshot *DataSnapshot) error {
	var attributeKeys, tsKeys []string
	var device *rules.Device
	for key := range keys {
		switch key.Type {
		case rules.KeyTypeAttribute:
			attributeKeys = append(attributeKeys, key.Key)
		case rules.KeyTypeTimeSeries:
			tsKeys = append(tsKeys, key.Key)
		case rules.KeyTypeEntityField:
			if device == nil {
				found, err := d.collab.Directory.FindDeviceByID(ctx, d.tenantID, d.deviceID)
				if err != nil {
					return err
				}
				device = found
			}
			if device == nil {
				continue
			}
			switch key.Key {
			case rules.FieldName:
				snapshot.Merge(key, device.CreatedTime, rules.FromString(device.Name))
			case rules.FieldType:
				snapshot.Merge(key, device.CreatedTime, rules.FromString(device.Type))
			case rules.FieldLabel:
				snapshot.Merge(key, device.CreatedTime, rules.FromString(device.Label))
			case rules.FieldCreatedTime:
				snapshot.Merge(key, device.CreatedTime, rules.FromLong(device.CreatedTime))
			}
		}
	}

	if len(tsKeys) > 0 {
		entries, err := d.collab.TimeSeries.FindLatest(ctx, d.tenantID, d.deviceID, tsKeys)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			snapshot.Merge(rules.TimeSeriesKey(entry.Key), entry.Ts, entry.Value)
		}
	}
	if len(attributeKeys) > 0 {
		for _, scope := range []string{ScopeClient, ScopeShared, ScopeServer} {
			entries, err := d.collab.Attributes.FindAll(ctx, d.tenantID, d.deviceID, scope, attributeKeys)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				snapshot.Merge(rules.AttributeKey(entry.Key), entry.Ts, entry.Value)
			}
		}
	}
	return nil
}

func (d *DeviceState) persist(ctx context.Context) error {
	blob, err := d.persisted.Encode()
	if err != nil {
		return err
	}
	if err := d.collab.States.Save(ctx, d.nodeID, d.deviceID, blob); err != nil {
		return err
	}
	if d.logger != nil {
		d.logger.Printf("persisted alarm state: device=%s bytes=%d", d.deviceID, len(blob))
	}
	return nil
}
