package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	rules "devicehub/internal/alarmrules/domain"
	"devicehub/internal/observability/metrics"
)

// Engine is the entry point of rule evaluation: it owns the per-device states,
// routes inbound events to them, caches indexed profiles, and runs the
// periodic harvest pass. Per-device processing is serialized by a per-entry
// mutex; distinct devices evaluate concurrently.
type Engine struct {
	nodeID   string
	collab   Collaborators
	notifier Notifier
	clock    Clock
	logger   *log.Logger

	devices     sync.Map // device id -> *deviceEntry
	deviceCount atomic.Int64

	profilesMu sync.RWMutex
	profiles   map[string]*ProfileState
}

type deviceEntry struct {
	mu        sync.Mutex
	state     *DeviceState
	profileID string
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithNotifier routes lifecycle events to the given notifier.
func WithNotifier(notifier Notifier) EngineOption {
	return func(e *Engine) { e.notifier = notifier }
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine validates the collaborators and builds an engine for one rule
// node.
func NewEngine(nodeID string, collab Collaborators, logger *log.Logger, opts ...EngineOption) (*Engine, error) {
	if nodeID == "" {
		return nil, errors.New("alarm engine: empty node id")
	}
	if err := collab.Validate(); err != nil {
		return nil, err
	}
	engine := &Engine{
		nodeID:   nodeID,
		collab:   collab,
		clock:    SystemClock{},
		logger:   logger,
		profiles: make(map[string]*ProfileState),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// ProcessEvent routes one device-scoped event through that device's state.
func (e *Engine) ProcessEvent(ctx context.Context, tenantID, deviceID string, event Event) error {
	if event == nil {
		return errors.New("alarm engine: nil event")
	}
	if updated, ok := event.(ProfileUpdatedEvent); ok {
		return e.ProfileUpdated(ctx, updated.Profile)
	}
	started := e.clock.Now()

	entry, err := e.entry(ctx, tenantID, deviceID)
	if err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(started))
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if reassigned, ok := event.(DeviceReassignedEvent); ok {
		if err := e.reassign(ctx, tenantID, entry, reassigned.NewProfileID); err != nil {
			metrics.ObserveEvaluation(metrics.ResultError, time.Since(started))
			return err
		}
	}
	err = entry.state.ProcessEvent(ctx, event)
	if err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(started))
		return err
	}
	metrics.ObserveEvaluation(metrics.ResultSuccess, time.Since(started))
	return nil
}

// Harvest re-evaluates duration-type rules on every tracked device at the
// current wall-clock time. Per-device failures are logged and skipped so one
// broken device does not starve the rest.
func (e *Engine) Harvest(ctx context.Context) error {
	started := e.clock.Now()
	ts := started.UnixMilli()
	var firstErr error
	e.devices.Range(func(key, value any) bool {
		entry := value.(*deviceEntry)
		entry.mu.Lock()
		err := entry.state.Harvest(ctx, ts)
		entry.mu.Unlock()
		if err != nil {
			if e.logger != nil {
				e.logger.Printf("harvest failed: device=%v err=%v", key, err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		metrics.ObserveHarvest(metrics.ResultError, time.Since(started))
		return err
	}
	if firstErr != nil {
		metrics.ObserveHarvest(metrics.ResultError, time.Since(started))
		return firstErr
	}
	metrics.ObserveHarvest(metrics.ResultSuccess, time.Since(started))
	return nil
}

// ProfileUpdated re-indexes a profile and reconciles every tracked device
// assigned to it.
func (e *Engine) ProfileUpdated(ctx context.Context, profile *rules.DeviceProfile) error {
	if profile == nil {
		return errors.New("alarm engine: nil profile")
	}
	state := NewProfileState(profile)
	e.profilesMu.Lock()
	e.profiles[profile.ID] = state
	e.profilesMu.Unlock()

	var firstErr error
	e.devices.Range(func(key, value any) bool {
		entry := value.(*deviceEntry)
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.profileID != profile.ID {
			return true
		}
		if err := entry.state.ReconcileProfile(ctx, state); err != nil {
			if e.logger != nil {
				e.logger.Printf("profile reconcile failed: device=%v err=%v", key, err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return true
	})
	return firstErr
}

// RemoveDevice drops a device's in-memory and persisted rule state. Used when
// the device is deleted.
func (e *Engine) RemoveDevice(ctx context.Context, deviceID string) error {
	e.EvictDevice(deviceID)
	return e.collab.States.Remove(ctx, e.nodeID, deviceID)
}

// EvictDevice drops a device's in-memory state but keeps the persisted counter
// blob, so the owning node after a partition rebalance can recover it.
func (e *Engine) EvictDevice(deviceID string) {
	if _, loaded := e.devices.LoadAndDelete(deviceID); loaded {
		metrics.SetTrackedDevices(int(e.deviceCount.Add(-1)))
	}
}

// TrackedDevices reports how many devices currently hold in-memory state.
func (e *Engine) TrackedDevices() int { return int(e.deviceCount.Load()) }

func (e *Engine) entry(ctx context.Context, tenantID, deviceID string) (*deviceEntry, error) {
	if cached, ok := e.devices.Load(deviceID); ok {
		return cached.(*deviceEntry), nil
	}

	device, err := e.collab.Directory.FindDeviceByID(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, rules.ErrNotFound
	}
	profile, err := e.profileState(ctx, tenantID, device.ProfileID)
	if err != nil {
		return nil, err
	}
	blob, err := e.collab.States.Find(ctx, e.nodeID, deviceID)
	if err != nil {
		return nil, err
	}
	persisted, err := rules.DecodeDeviceState(blob)
	if err != nil {
		// A corrupt blob must not wedge the device forever.
		if e.logger != nil {
			e.logger.Printf("discarding unreadable rule state: device=%s err=%v", deviceID, err)
		}
		persisted = rules.NewPersistedDeviceState()
	}

	entry := &deviceEntry{
		state:     NewDeviceState(tenantID, deviceID, e.nodeID, profile, persisted, e.collab, e.notifier, e.clock, e.logger),
		profileID: device.ProfileID,
	}
	actual, loaded := e.devices.LoadOrStore(deviceID, entry)
	if !loaded {
		metrics.SetTrackedDevices(int(e.deviceCount.Add(1)))
	}
	return actual.(*deviceEntry), nil
}

func (e *Engine) reassign(ctx context.Context, tenantID string, entry *deviceEntry, newProfileID string) error {
	if newProfileID == "" || newProfileID == entry.profileID {
		return nil
	}
	profile, err := e.profileState(ctx, tenantID, newProfileID)
	if err != nil {
		return err
	}
	if err := entry.state.ReconcileProfile(ctx, profile); err != nil {
		return err
	}
	entry.profileID = newProfileID
	return nil
}

func (e *Engine) profileState(ctx context.Context, tenantID, profileID string) (*ProfileState, error) {
	e.profilesMu.RLock()
	cached, ok := e.profiles[profileID]
	e.profilesMu.RUnlock()
	if ok {
		return cached, nil
	}

	profile, err := e.collab.Directory.FindProfileByID(ctx, tenantID, profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, rules.ErrNotFound
	}
	for i := range profile.Alarms {
		if err := profile.Alarms[i].Validate(); err != nil {
			return nil, err
		}
	}
	state := NewProfileState(profile)

	e.profilesMu.Lock()
	e.profiles[profileID] = state
	e.profilesMu.Unlock()
	return state, nil
}
