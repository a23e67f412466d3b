package application

import (
	"context"
	"errors"
	"time"

	rules "devicehub/internal/alarmrules/domain"
)

// AttributeScope names where an attribute update originated.
const (
	ScopeClient = "CLIENT_SCOPE"
	ScopeShared = "SHARED_SCOPE"
	ScopeServer = "SERVER_SCOPE"
)

// KVEntry is one stored key-value sample with its timestamp in epoch
// milliseconds.
type KVEntry struct {
	Key   string
	Ts    int64
	Value rules.EntityKeyValue
}

// AlarmStore persists alarms. A failure propagates to the caller; retry
// policy belongs to the surrounding framework.
type AlarmStore interface {
	// FindActiveByOriginatorAndType returns the single non-cleared alarm of
	// the given type for a device, or nil.
	FindActiveByOriginatorAndType(ctx context.Context, tenantID, deviceID, alarmType string) (*rules.Alarm, error)
	Create(ctx context.Context, alarm *rules.Alarm) error
	Update(ctx context.Context, alarm *rules.Alarm) error
	// Clear end-dates the alarm. It reports false when the alarm was already
	// cleared by someone else.
	Clear(ctx context.Context, tenantID, alarmID string, ts int64, details map[string]string) (*rules.Alarm, bool, error)
}

// AttributeStore reads entity attributes by scope.
type AttributeStore interface {
	Find(ctx context.Context, tenantID, entityID, scope, key string) (*KVEntry, error)
	FindAll(ctx context.Context, tenantID, entityID, scope string, keys []string) ([]KVEntry, error)
}

// TimeSeriesStore reads the latest stored telemetry samples.
type TimeSeriesStore interface {
	FindLatest(ctx context.Context, tenantID, deviceID string, keys []string) ([]KVEntry, error)
}

// EntityDirectory resolves devices and profiles.
type EntityDirectory interface {
	FindDeviceByID(ctx context.Context, tenantID, deviceID string) (*rules.Device, error)
	FindProfileByID(ctx context.Context, tenantID, profileID string) (*rules.DeviceProfile, error)
}

// StateStore persists the per-device counter blob keyed by the owning rule
// node and device.
type StateStore interface {
	Find(ctx context.Context, nodeID, deviceID string) ([]byte, error)
	Save(ctx context.Context, nodeID, deviceID string, blob []byte) error
	Remove(ctx context.Context, nodeID, deviceID string) error
}

// Collaborators bundles every external dependency of the engine. It is
// injected once at construction; nothing inside the engine reaches for
// ambient singletons.
type Collaborators struct {
	Alarms     AlarmStore
	Attributes AttributeStore
	TimeSeries TimeSeriesStore
	Directory  EntityDirectory
	States     StateStore
}

// Validate checks that every collaborator is present.
func (c Collaborators) Validate() error {
	if c.Alarms == nil {
		return errors.New("alarm engine: nil alarm store")
	}
	if c.Attributes == nil {
		return errors.New("alarm engine: nil attribute store")
	}
	if c.TimeSeries == nil {
		return errors.New("alarm engine: nil time series store")
	}
	if c.Directory == nil {
		return errors.New("alarm engine: nil entity directory")
	}
	if c.States == nil {
		return errors.New("alarm engine: nil state store")
	}
	return nil
}

// EventMeta carries opaque metadata of the inbound event, echoed on emitted
// lifecycle events.
type EventMeta map[string]string

// LifecycleEvent is the engine's only output: one alarm lifecycle transition
// tagged with exactly one relation type.
type LifecycleEvent struct {
	RelationType string      `json:"relation_type"`
	Alarm        rules.Alarm `json:"alarm"`
	Meta         EventMeta   `json:"meta,omitempty"`
}

// Notifier receives lifecycle events for downstream routing.
type Notifier interface {
	Notify(ctx context.Context, event LifecycleEvent)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
