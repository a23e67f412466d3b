package application

import (
	"context"
	"errors"
	"testing"
	"time"

	rules "devicehub/internal/alarmrules/domain"
)

func newTestEngine(t *testing.T, env *testEnv) *Engine {
	t.Helper()
	engine, err := NewEngine("node-1", env.collaborators(), nil, WithNotifier(env.notifier), WithClock(env.clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func seedDevice(env *testEnv, alarms ...rules.ProfileAlarm) {
	env.directory.putProfile(&rules.DeviceProfile{
		ID:       "profile-1",
		TenantID: "tenant-1",
		Name:     "Thermostat",
		Alarms:   alarms,
	})
	env.directory.putDevice(&rules.Device{
		ID:        "device-1",
		TenantID:  "tenant-1",
		ProfileID: "profile-1",
		Name:      "boiler-west",
		Type:      "thermostat",
	})
}

func TestEngineValidatesCollaborators(t *testing.T) {
	env := newTestEnv()
	if _, err := NewEngine("", env.collaborators(), nil); err == nil {
		t.Fatal("empty node id must be rejected")
	}
	if _, err := NewEngine("node-1", Collaborators{}, nil); err == nil {
		t.Fatal("missing collaborators must be rejected")
	}
}

func TestEngineUnknownDevice(t *testing.T) {
	env := newTestEnv()
	engine := newTestEngine(t, env)

	err := engine.ProcessEvent(context.Background(), "tenant-1", "ghost", telemetry(1000, "temperature", 42))
	if !errors.Is(err, rules.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if engine.TrackedDevices() != 0 {
		t.Fatalf("failed lookup must not track a device, got %d", engine.TrackedDevices())
	}
}

func TestEngineTracksDevicesAndEvaluates(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, temperatureAlarmDef())
	engine := newTestEngine(t, env)
	ctx := context.Background()

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 42)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if engine.TrackedDevices() != 1 {
		t.Fatalf("expected 1 tracked device, got %d", engine.TrackedDevices())
	}
	if env.alarms.active("device-1") == nil {
		t.Fatal("expected an alarm")
	}
}

func TestEngineSurvivesCorruptStateBlob(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, temperatureAlarmDef())
	env.states.Save(context.Background(), "node-1", "device-1", []byte("not json"))
	engine := newTestEngine(t, env)

	if err := engine.ProcessEvent(context.Background(), "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 42)); err != nil {
		t.Fatalf("corrupt blob must not wedge the device: %v", err)
	}
	if env.alarms.active("device-1") == nil {
		t.Fatal("expected evaluation to run from a fresh state")
	}
}

func TestEngineHarvest(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, durationAlarmDef(10))
	engine := newTestEngine(t, env)
	ctx := context.Background()

	base := env.clock.Now().UnixMilli()
	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(base, "temperature", 42)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if env.alarms.active("device-1") != nil {
		t.Fatal("streak start must not fire")
	}

	env.clock.Add(11 * time.Second)
	if err := engine.Harvest(ctx); err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if env.alarms.active("device-1") == nil {
		t.Fatal("harvest must fire the overdue duration rule")
	}
}

func TestEngineProfileUpdated(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, temperatureAlarmDef())
	engine := newTestEngine(t, env)
	ctx := context.Background()

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 20)); err != nil {
		t.Fatalf("process event: %v", err)
	}

	// Drop the threshold so the same reading now breaches.
	updated := &rules.DeviceProfile{
		ID:       "profile-1",
		TenantID: "tenant-1",
		Name:     "Thermostat",
		Alarms: []rules.ProfileAlarm{{
			ID:        "alarm-def-1",
			AlarmType: "High Temperature",
			CreateRules: map[rules.Severity]*rules.AlarmRule{
				rules.SeverityWarning: {
					Condition: rules.AlarmCondition{
						Filters: []rules.ConditionFilter{numericFilter(rules.NumericGreater, 10)},
						Spec:    rules.SimpleConditionSpec{},
					},
				},
			},
		}},
	}
	if err := engine.ProfileUpdated(ctx, updated); err != nil {
		t.Fatalf("profile updated: %v", err)
	}

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_060_000, "temperature", 20)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if env.alarms.active("device-1") == nil {
		t.Fatal("lowered threshold must fire after the profile update")
	}
}

func TestEngineDeviceReassigned(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, temperatureAlarmDef())
	env.directory.putProfile(&rules.DeviceProfile{
		ID:       "profile-2",
		TenantID: "tenant-1",
		Name:     "Freezer",
		Alarms: []rules.ProfileAlarm{{
			ID:        "alarm-def-9",
			AlarmType: "Too Warm",
			CreateRules: map[rules.Severity]*rules.AlarmRule{
				rules.SeverityCritical: {
					Condition: rules.AlarmCondition{
						Filters: []rules.ConditionFilter{numericFilter(rules.NumericGreater, 0)},
						Spec:    rules.SimpleConditionSpec{},
					},
				},
			},
		}},
	})
	engine := newTestEngine(t, env)
	ctx := context.Background()

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 5)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if env.alarms.active("device-1") != nil {
		t.Fatal("5 degrees must not breach the thermostat profile")
	}

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", DeviceReassignedEvent{NewProfileID: "profile-2"}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_060_000, "temperature", 5)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if env.alarms.activeByType("device-1", "Too Warm") == nil {
		t.Fatal("freezer profile must evaluate after reassignment")
	}
}

func TestEngineRemoveDevice(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, durationAlarmDef(60))
	engine := newTestEngine(t, env)
	ctx := context.Background()

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 42)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if engine.TrackedDevices() != 1 {
		t.Fatalf("expected 1 tracked device, got %d", engine.TrackedDevices())
	}
	blob, _ := env.states.Find(ctx, "node-1", "device-1")
	if len(blob) == 0 {
		t.Fatal("expected a persisted blob before removal")
	}

	if err := engine.RemoveDevice(ctx, "device-1"); err != nil {
		t.Fatalf("remove device: %v", err)
	}
	if engine.TrackedDevices() != 0 {
		t.Fatalf("expected 0 tracked devices, got %d", engine.TrackedDevices())
	}
	blob, _ = env.states.Find(ctx, "node-1", "device-1")
	if len(blob) != 0 {
		t.Fatal("persisted blob must be removed with the device")
	}
}

func TestEngineEvictDeviceKeepsPersistedState(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, durationAlarmDef(60))
	engine := newTestEngine(t, env)
	ctx := context.Background()

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 42)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if engine.TrackedDevices() != 1 {
		t.Fatalf("expected 1 tracked device, got %d", engine.TrackedDevices())
	}

	engine.EvictDevice("device-1")
	if engine.TrackedDevices() != 0 {
		t.Fatalf("expected 0 tracked devices, got %d", engine.TrackedDevices())
	}
	blob, _ := env.states.Find(ctx, "node-1", "device-1")
	if len(blob) == 0 {
		t.Fatal("eviction must keep the persisted counter blob")
	}

	// The next event re-tracks the device and recovers the streak: the
	// original sample plus the elapsed interval fires the duration rule.
	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_060_001, "temperature", 42)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if env.alarms.active("device-1") == nil {
		t.Fatal("recovered counters must fire across the eviction")
	}
}

func TestEngineRoutesProfileUpdatedEvent(t *testing.T) {
	env := newTestEnv()
	seedDevice(env, temperatureAlarmDef())
	engine := newTestEngine(t, env)
	ctx := context.Background()

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_000_000, "temperature", 20)); err != nil {
		t.Fatalf("process event: %v", err)
	}

	updated := &rules.DeviceProfile{
		ID:       "profile-1",
		TenantID: "tenant-1",
		Name:     "Thermostat",
		Alarms: []rules.ProfileAlarm{{
			ID:        "alarm-def-1",
			AlarmType: "High Temperature",
			CreateRules: map[rules.Severity]*rules.AlarmRule{
				rules.SeverityWarning: {
					Condition: rules.AlarmCondition{
						Filters: []rules.ConditionFilter{numericFilter(rules.NumericGreater, 10)},
						Spec:    rules.SimpleConditionSpec{},
					},
				},
			},
		}},
	}
	if err := engine.ProcessEvent(ctx, "tenant-1", "", ProfileUpdatedEvent{Profile: updated}); err != nil {
		t.Fatalf("profile updated event: %v", err)
	}

	if err := engine.ProcessEvent(ctx, "tenant-1", "device-1", telemetry(1_700_000_060_000, "temperature", 20)); err != nil {
		t.Fatalf("process event: %v", err)
	}
	if env.alarms.active("device-1") == nil {
		t.Fatal("lowered threshold must fire after the routed profile event")
	}
}
