package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	application "devicehub/internal/alarmrules/application"
	rules "devicehub/internal/alarmrules/domain"
	"devicehub/internal/auth"
)

// ProfileStore persists device profiles with their alarm definitions.
type ProfileStore interface {
	FindProfileByID(ctx context.Context, tenantID, profileID string) (*rules.DeviceProfile, error)
	SaveProfile(ctx context.Context, profile *rules.DeviceProfile) error
}

// ProfileHandler serves device profile endpoints. Saving a profile re-indexes
// it in the engine and reconciles every tracked device assigned to it.
type ProfileHandler struct {
	store  ProfileStore
	engine *application.Engine
}

// NewProfileHandler constructs a profile handler.
func NewProfileHandler(store ProfileStore, engine *application.Engine) (*ProfileHandler, error) {
	if store == nil {
		return nil, errors.New("profile handler: nil store")
	}
	if engine == nil {
		return nil, errors.New("profile handler: nil engine")
	}
	return &ProfileHandler{store: store, engine: engine}, nil
}

// ServeHTTP handles /api/v1/profiles and /api/v1/profiles/{id}.
func (h *ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/profiles" && r.Method == http.MethodPost:
		h.handleSave(w, r, tenantID)
	case strings.HasPrefix(r.URL.Path, "/api/v1/profiles/") && r.Method == http.MethodGet:
		h.handleGet(w, r, tenantID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ProfileHandler) handleSave(w http.ResponseWriter, r *http.Request, tenantID string) {
	var profile rules.DeviceProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "invalid profile payload", http.StatusBadRequest)
		return
	}
	profile.TenantID = tenantID
	if profile.ID == "" {
		http.Error(w, "profile id is required", http.StatusBadRequest)
		return
	}
	for i := range profile.Alarms {
		if err := profile.Alarms[i].Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.store.SaveProfile(r.Context(), &profile); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.engine.ProfileUpdated(r.Context(), &profile); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(profile)
}

func (h *ProfileHandler) handleGet(w http.ResponseWriter, r *http.Request, tenantID string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/profiles/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	profile, err := h.store.FindProfileByID(r.Context(), tenantID, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if profile == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(profile)
}
