package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	application "devicehub/internal/alarmrules/application"
	rules "devicehub/internal/alarmrules/domain"
)

const gatewayProfile = `{
  "id": "profile-1",
  "tenantId": "tenant-1",
  "name": "Thermostat",
  "alarms": [
    {
      "id": "alarm-def-1",
      "alarmType": "High Temperature",
      "createRules": {
        "CRITICAL": {
          "condition": {
            "condition": [
              {
                "key": {"type": "TIME_SERIES", "key": "temperature"},
                "valueType": "NUMERIC",
                "predicate": {"type": "NUMERIC", "operation": "GREATER", "value": {"defaultValue": 50}}
              }
            ]
          }
        }
      }
    }
  ]
}`

type recordingAlarmStore struct {
	mu      sync.Mutex
	created []rules.Alarm
}

func (s *recordingAlarmStore) FindActiveByOriginatorAndType(context.Context, string, string, string) (*rules.Alarm, error) {
	return nil, nil
}

func (s *recordingAlarmStore) Create(_ context.Context, alarm *rules.Alarm) error {
	s.mu.Lock()
	s.created = append(s.created, *alarm)
	s.mu.Unlock()
	return nil
}

func (s *recordingAlarmStore) Update(context.Context, *rules.Alarm) error { return nil }

func (s *recordingAlarmStore) Clear(context.Context, string, string, int64, map[string]string) (*rules.Alarm, bool, error) {
	return nil, false, nil
}

func (s *recordingAlarmStore) creates() []rules.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rules.Alarm(nil), s.created...)
}

type emptyAttributeStore struct{}

func (emptyAttributeStore) Find(context.Context, string, string, string, string) (*application.KVEntry, error) {
	return nil, nil
}

func (emptyAttributeStore) FindAll(context.Context, string, string, string, []string) ([]application.KVEntry, error) {
	return nil, nil
}

type emptyTimeSeriesStore struct{}

func (emptyTimeSeriesStore) FindLatest(context.Context, string, string, []string) ([]application.KVEntry, error) {
	return nil, nil
}

type seededDirectory struct {
	device  *rules.Device
	profile *rules.DeviceProfile
}

func (d seededDirectory) FindDeviceByID(_ context.Context, tenantID, deviceID string) (*rules.Device, error) {
	if d.device != nil && d.device.TenantID == tenantID && d.device.ID == deviceID {
		copied := *d.device
		return &copied, nil
	}
	return nil, nil
}

func (d seededDirectory) FindProfileByID(_ context.Context, tenantID, profileID string) (*rules.DeviceProfile, error) {
	if d.profile != nil && d.profile.TenantID == tenantID && d.profile.ID == profileID {
		copied := *d.profile
		return &copied, nil
	}
	return nil, nil
}

type memStateStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	removes int
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
	s.blobs[nodeID+"/"+deviceID] = append([]byte(nil), blob...)
	s.mu.Unlock()
	return nil
}

func (s *memStateStore) Remove(_ context.Context, nodeID, deviceID string) error {
	s.mu.Lock()
	delete(s.blobs, nodeID+"/"+deviceID)
	s.removes++
	s.mu.Unlock()
	return nil
}

func (s *memStateStore) removeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removes
}

type ingestFixture struct {
	handler *Handler
	engine  *application.Engine
	alarms  *recordingAlarmStore
	states  *memStateStore
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	var profile rules.DeviceProfile
	if err := json.Unmarshal([]byte(gatewayProfile), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	alarms := &recordingAlarmStore{}
	states := newMemStateStore()
	engine, err := application.NewEngine("node-test", application.Collaborators{
		Alarms:     alarms,
		Attributes: emptyAttributeStore{},
		TimeSeries: emptyTimeSeriesStore{},
		Directory: seededDirectory{
			device:  &rules.Device{ID: "device-1", TenantID: "tenant-1", ProfileID: "profile-1", Name: "boiler-west"},
			profile: &profile,
		},
		States: states,
	}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := NewHandler(nil, nil, engine, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &ingestFixture{handler: handler, engine: engine, alarms: alarms, states: states}
}

func (f *ingestFixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(body))
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestIngestTelemetryFiresAlarm(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","eventType":"telemetry","ts":1000,"values":{"temperature":60}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var ack map[string]bool
	if err := json.Unmarshal(resp.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !ack["accepted"] {
		t.Fatalf("expected accepted response, got %s", resp.Body.String())
	}

	created := f.alarms.creates()
	if len(created) != 1 {
		t.Fatalf("expected one alarm, got %d", len(created))
	}
	if created[0].Type != "High Temperature" || created[0].Severity != rules.SeverityCritical {
		t.Fatalf("unexpected alarm: %+v", created[0])
	}
}

func TestIngestTelemetryBatchPoints(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","points":[{"ts":1000,"values":{"temperature":20}},{"ts":2000,"values":{"temperature":70}}]}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if created := f.alarms.creates(); len(created) != 1 {
		t.Fatalf("expected one alarm from the batch, got %d", len(created))
	}
}

func TestIngestBelowThresholdCreatesNothing(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","ts":1000,"values":{"temperature":20}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if created := f.alarms.creates(); len(created) != 0 {
		t.Fatalf("expected no alarms, got %+v", created)
	}
}

func TestIngestRejectsInvalidJSON(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{not json`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestIngestRequiresIdentity(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"deviceId":"device-1","ts":1000,"values":{"temperature":60}}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestIngestRejectsUnknownEventType(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","eventType":"mystery","ts":1000,"values":{"temperature":60}}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestIngestUnknownDevice(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"ghost","ts":1000,"values":{"temperature":60}}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	f := newIngestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingest", nil)
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestIngestAttributesEvent(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","eventType":"attributes","scope":"SHARED_SCOPE","ts":1000,"values":{"mode":"manual"}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	// The only rule watches telemetry, so an attribute update fires nothing.
	if created := f.alarms.creates(); len(created) != 0 {
		t.Fatalf("expected no alarms, got %+v", created)
	}
}

func TestIngestDeviceDeleted(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","ts":1000,"values":{"temperature":60}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("seed telemetry: expected 200, got %d", resp.Code)
	}
	if f.engine.TrackedDevices() != 1 {
		t.Fatalf("expected one tracked device, got %d", f.engine.TrackedDevices())
	}

	resp = f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","eventType":"deviceDeleted"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if f.engine.TrackedDevices() != 0 {
		t.Fatalf("expected zero tracked devices, got %d", f.engine.TrackedDevices())
	}
}

func TestIngestPartitionChangeEvictsWithoutErasingState(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","ts":1000,"values":{"temperature":20}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("seed telemetry: expected 200, got %d", resp.Code)
	}
	if f.engine.TrackedDevices() != 1 {
		t.Fatalf("expected one tracked device, got %d", f.engine.TrackedDevices())
	}

	resp = f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","eventType":"partitionChanged"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if f.engine.TrackedDevices() != 0 {
		t.Fatalf("expected zero tracked devices, got %d", f.engine.TrackedDevices())
	}
	// Unlike a deletion, a partition move must not erase persisted counters.
	if f.states.removeCount() != 0 {
		t.Fatalf("partition move must not remove persisted state, got %d removes", f.states.removeCount())
	}

	resp = f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","eventType":"deviceDeleted"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if f.states.removeCount() != 1 {
		t.Fatalf("deletion must remove persisted state, got %d removes", f.states.removeCount())
	}
}

func TestIngestProfileUpdated(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","ts":1000,"values":{"temperature":40}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("seed telemetry: expected 200, got %d", resp.Code)
	}
	if created := f.alarms.creates(); len(created) != 0 {
		t.Fatalf("40 must not breach the seeded threshold, got %+v", created)
	}

	// Lower the threshold through the gateway event; no deviceId needed.
	update := `{"tenantId":"tenant-1","eventType":"profileUpdated","profile":{
	  "id": "profile-1",
	  "name": "Thermostat",
	  "alarms": [
	    {
	      "id": "alarm-def-1",
	      "alarmType": "High Temperature",
	      "createRules": {
	        "WARNING": {
	          "condition": {
	            "condition": [
	              {
	                "key": {"type": "TIME_SERIES", "key": "temperature"},
	                "valueType": "NUMERIC",
	                "predicate": {"type": "NUMERIC", "operation": "GREATER", "value": {"defaultValue": 30}}
	              }
	            ]
	          }
	        }
	      }
	    }
	  ]
	}}`
	resp = f.post(t, update)
	if resp.Code != http.StatusOK {
		t.Fatalf("profile update: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = f.post(t, `{"tenantId":"tenant-1","deviceId":"device-1","ts":2000,"values":{"temperature":40}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	created := f.alarms.creates()
	if len(created) != 1 || created[0].Severity != rules.SeverityWarning {
		t.Fatalf("expected a WARNING alarm under the lowered threshold, got %+v", created)
	}
}

func TestIngestProfileUpdatedRejectsInvalid(t *testing.T) {
	f := newIngestFixture(t)

	resp := f.post(t, `{"tenantId":"tenant-1","eventType":"profileUpdated"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing profile: expected 400, got %d", resp.Code)
	}

	resp = f.post(t, `{"tenantId":"tenant-1","eventType":"profileUpdated","profile":{"id":"profile-1","alarms":[{"id":"alarm-def-1","createRules":{}}]}}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("invalid definition: expected 400, got %d", resp.Code)
	}
}
