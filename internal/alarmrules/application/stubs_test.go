package application

import (
	"context"
	"sync"
	"time"

	rules "devicehub/internal/alarmrules/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// memAlarmStore keeps alarms in memory, one active alarm per (device, type).
type memAlarmStore struct {
	mu     sync.Mutex
	alarms map[string]*rules.Alarm
	// creates and updates count store writes for assertions.
	creates int
	updates int
}

func newMemAlarmStore() *memAlarmStore {
	return &memAlarmStore{alarms: make(map[string]*rules.Alarm)}
}

func (s *memAlarmStore) FindActiveByOriginatorAndType(_ context.Context, tenantID, deviceID, alarmType string) (*rules.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alarm := range s.alarms {
		if alarm.TenantID == tenantID && alarm.DeviceID == deviceID && alarm.Type == alarmType && alarm.Status != rules.StatusCleared {
			copied := *alarm
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memAlarmStore) Create(_ context.Context, alarm *rules.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alarm
	s.alarms[alarm.ID] = &copied
	s.creates++
	return nil
}

func (s *memAlarmStore) Update(_ context.Context, alarm *rules.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alarm
	s.alarms[alarm.ID] = &copied
	s.updates++
	return nil
}

func (s *memAlarmStore) Clear(_ context.Context, tenantID, alarmID string, ts int64, details map[string]string) (*rules.Alarm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.alarms[alarmID]
	if !ok || alarm.TenantID != tenantID {
		return nil, false, nil
	}
	if alarm.Status == rules.StatusCleared {
		copied := *alarm
		return &copied, false, nil
	}
	alarm.Status = rules.StatusCleared
	alarm.ClearTs = ts
	alarm.EndTs = ts
	if details != nil {
		alarm.Details = details
	}
	copied := *alarm
	return &copied, true, nil
}

func (s *memAlarmStore) get(alarmID string) *rules.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.alarms[alarmID]
	if !ok {
		return nil
	}
	copied := *alarm
	return &copied
}

func (s *memAlarmStore) activeByType(deviceID, alarmType string) *rules.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alarm := range s.alarms {
		if alarm.DeviceID == deviceID && alarm.Type == alarmType && alarm.Status != rules.StatusCleared {
			copied := *alarm
			return &copied
		}
	}
	return nil
}

func (s *memAlarmStore) active(deviceID string) *rules.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alarm := range s.alarms {
		if alarm.DeviceID == deviceID && alarm.Status != rules.StatusCleared {
			copied := *alarm
			return &copied
		}
	}
	return nil
}

type attrKey struct {
	entityID string
	scope    string
	key      string
}

type memAttributeStore struct {
	mu      sync.Mutex
	entries map[attrKey]KVEntry
}

func newMemAttributeStore() *memAttributeStore {
	return &memAttributeStore{entries: make(map[attrKey]KVEntry)}
}

func (s *memAttributeStore) put(entityID, scope, key string, ts int64, value rules.EntityKeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[attrKey{entityID: entityID, scope: scope, key: key}] = KVEntry{Key: key, Ts: ts, Value: value}
}

func (s *memAttributeStore) Find(_ context.Context, _, entityID, scope, key string) (*KVEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[attrKey{entityID: entityID, scope: scope, key: key}]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *memAttributeStore) FindAll(_ context.Context, _, entityID, scope string, keys []string) ([]KVEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []KVEntry
	for _, key := range keys {
		if entry, ok := s.entries[attrKey{entityID: entityID, scope: scope, key: key}]; ok {
			result = append(result, entry)
		}
	}
	return result, nil
}

type memTimeSeriesStore struct {
	mu      sync.Mutex
	entries map[string]KVEntry
}

func newMemTimeSeriesStore() *memTimeSeriesStore {
	return &memTimeSeriesStore{entries: make(map[string]KVEntry)}
}

func (s *memTimeSeriesStore) put(key string, ts int64, value rules.EntityKeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = KVEntry{Key: key, Ts: ts, Value: value}
}

func (s *memTimeSeriesStore) FindLatest(_ context.Context, _, _ string, keys []string) ([]KVEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []KVEntry
	for _, key := range keys {
		if entry, ok := s.entries[key]; ok {
			result = append(result, entry)
		}
	}
	return result, nil
}

type memDirectory struct {
	mu       sync.Mutex
	devices  map[string]*rules.Device
	profiles map[string]*rules.DeviceProfile
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		devices:  make(map[string]*rules.Device),
		profiles: make(map[string]*rules.DeviceProfile),
	}
}

func (d *memDirectory) putDevice(device *rules.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[device.ID] = device
}

func (d *memDirectory) putProfile(profile *rules.DeviceProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.ID] = profile
}

func (d *memDirectory) FindDeviceByID(_ context.Context, tenantID, deviceID string) (*rules.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	device, ok := d.devices[deviceID]
	if !ok || device.TenantID != tenantID {
		return nil, nil
	}
	return device, nil
}

func (d *memDirectory) FindProfileByID(_ context.Context, tenantID, profileID string) (*rules.DeviceProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	profile, ok := d.profiles[profileID]
	if !ok || profile.TenantID != tenantID {
		return nil, nil
	}
	return profile, nil
}

type memStateStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{blobs: make(map[string][]byte)}
}

func (s *memStateStore) Find(_ context.Context, nodeID, deviceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[nodeID+"/"+deviceID], nil
}

func (s *memStateStore) Save(_ context.Context, nodeID, deviceID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[nodeID+"/"+deviceID] = blob
	s.saves++
	return nil
}

func (s *memStateStore) Remove(_ context.Context, nodeID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, nodeID+"/"+deviceID)
	return nil
}

func (s *memStateStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event LifecycleEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func (n *recordingNotifier) relations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]string, 0, len(n.events))
	for _, event := range n.events {
		result = append(result, event.RelationType)
	}
	return result
}

func (n *recordingNotifier) last() *LifecycleEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return nil
	}
	event := n.events[len(n.events)-1]
	return &event
}

type testEnv struct {
	alarms     *memAlarmStore
	attributes *memAttributeStore
	timeSeries *memTimeSeriesStore
	directory  *memDirectory
	states     *memStateStore
	notifier   *recordingNotifier
	clock      *fakeClock
}

func newTestEnv() *testEnv {
	return &testEnv{
		alarms:     newMemAlarmStore(),
		attributes: newMemAttributeStore(),
		timeSeries: newMemTimeSeriesStore(),
		directory:  newMemDirectory(),
		states:     newMemStateStore(),
		notifier:   &recordingNotifier{},
		clock:      &fakeClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
	}
}

func (e *testEnv) collaborators() Collaborators {
	return Collaborators{
		Alarms:     e.alarms,
		Attributes: e.attributes,
		TimeSeries: e.timeSeries,
		Directory:  e.directory,
		States:     e.states,
	}
}
