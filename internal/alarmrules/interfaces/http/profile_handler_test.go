package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	rules "devicehub/internal/alarmrules/domain"
)

type memProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*rules.DeviceProfile
}

func newMemProfileStore() *memProfileStore {
	return &memProfileStore{profiles: make(map[string]*rules.DeviceProfile)}
}

func (s *memProfileStore) FindProfileByID(_ context.Context, tenantID, profileID string) (*rules.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[profileID]
	if !ok || profile.TenantID != tenantID {
		return nil, nil
	}
	copied := *profile
	return &copied, nil
}

func (s *memProfileStore) SaveProfile(_ context.Context, profile *rules.DeviceProfile) error {
	s.mu.Lock()
	copied := *profile
	s.profiles[profile.ID] = &copied
	s.mu.Unlock()
	return nil
}

const thermostatProfileJSON = `{
  "id": "profile-1",
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

func TestProfileSaveAndGet(t *testing.T) {
	store := newMemProfileStore()
	handler, err := NewProfileHandler(store, testEngine(t))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/profiles", strings.NewReader(thermostatProfileJSON)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	stored, err := store.FindProfileByID(context.Background(), "tenant-1", "profile-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored == nil || stored.TenantID != "tenant-1" {
		t.Fatalf("profile not stored under the caller's tenant: %+v", stored)
	}

	req = authed(httptest.NewRequest(http.MethodGet, "/api/v1/profiles/profile-1", nil))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.Code)
	}
	var fetched rules.DeviceProfile
	if err := json.Unmarshal(resp.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Name != "Thermostat" || len(fetched.Alarms) != 1 {
		t.Fatalf("unexpected profile: %+v", fetched)
	}
}

func TestProfileSaveRejectsInvalidDefinition(t *testing.T) {
	handler, err := NewProfileHandler(newMemProfileStore(), testEngine(t))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	// Missing alarmType fails definition validation.
	body := `{"id":"profile-1","name":"Broken","alarms":[{"id":"alarm-def-1","createRules":{}}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/profiles", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestProfileSaveRequiresID(t *testing.T) {
	handler, err := NewProfileHandler(newMemProfileStore(), testEngine(t))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/profiles", strings.NewReader(`{"name":"NoID"}`)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestProfileGetUnknown(t *testing.T) {
	handler, err := NewProfileHandler(newMemProfileStore(), testEngine(t))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/profiles/ghost", nil))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestProfileRequiresTenant(t *testing.T) {
	handler, err := NewProfileHandler(newMemProfileStore(), testEngine(t))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles/profile-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
