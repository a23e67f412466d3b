package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	application "devicehub/internal/alarmrules/application"
	rules "devicehub/internal/alarmrules/domain"
	"devicehub/internal/auth"
)

const timeLayout = time.RFC3339

// AlarmDirectory provides alarm queries and manual transitions.
type AlarmDirectory interface {
	ListByDeviceAndTime(ctx context.Context, tenantID, deviceID, status string, from, to int64, limit int) ([]rules.Alarm, error)
	GetByID(ctx context.Context, tenantID, id string) (*rules.Alarm, error)
	MarkAcknowledged(ctx context.Context, tenantID, id string, ts int64) (*rules.Alarm, error)
	Clear(ctx context.Context, tenantID, alarmID string, ts int64, details map[string]string) (*rules.Alarm, bool, error)
}

// Handler provides alarm HTTP endpoints. Manual acks and clears are fed back
// into the engine so rule counters stay consistent with the store.
type Handler struct {
	alarms        AlarmDirectory
	engine        *application.Engine
	notifier      application.Notifier
	deviceChecker auth.DeviceTenantChecker
}

// NewHandler constructs a handler.
func NewHandler(alarms AlarmDirectory, engine *application.Engine, notifier application.Notifier, deviceChecker auth.DeviceTenantChecker) (*Handler, error) {
	if alarms == nil {
		return nil, errors.New("alarms handler: nil directory")
	}
	if engine == nil {
		return nil, errors.New("alarms handler: nil engine")
	}
	return &Handler{alarms: alarms, engine: engine, notifier: notifier, deviceChecker: deviceChecker}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleAction(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	status := r.URL.Query().Get("status")

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if deviceID != "" {
		if err := ensureDeviceTenant(r, h.deviceChecker, tenantID, deviceID); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	list, err := h.alarms.ListByDeviceAndTime(r.Context(), tenantID, deviceID, status, from.UnixMilli(), to.UnixMilli(), 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []rules.Alarm{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var (
		alarm *rules.Alarm
		err   error
	)
	switch action {
	case "ack":
		alarm, err = h.ackAlarm(r.Context(), tenantID, id)
	case "clear":
		alarm, err = h.clearAlarm(r.Context(), tenantID, id)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}

func (h *Handler) ackAlarm(ctx context.Context, tenantID, id string) (*rules.Alarm, error) {
	alarm, err := h.alarms.MarkAcknowledged(ctx, tenantID, id, time.Now().UTC().UnixMilli())
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		existing, err := h.alarms.GetByID(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, rules.ErrNotFound
		}
		// Already acknowledged or cleared; report the stored row.
		return existing, nil
	}
	if err := h.engine.ProcessEvent(ctx, tenantID, alarm.DeviceID, application.AlarmAckedEvent{Alarm: *alarm}); err != nil && !errors.Is(err, rules.ErrNotFound) {
		return nil, err
	}
	h.notify(ctx, rules.RelationAlarmUpdated, *alarm)
	return alarm, nil
}

func (h *Handler) clearAlarm(ctx context.Context, tenantID, id string) (*rules.Alarm, error) {
	alarm, cleared, err := h.alarms.Clear(ctx, tenantID, id, time.Now().UTC().UnixMilli(), nil)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, rules.ErrNotFound
	}
	if !cleared {
		return alarm, nil
	}
	if err := h.engine.ProcessEvent(ctx, tenantID, alarm.DeviceID, application.AlarmClearedEvent{Alarm: *alarm}); err != nil && !errors.Is(err, rules.ErrNotFound) {
		return nil, err
	}
	h.notify(ctx, rules.RelationAlarmCleared, *alarm)
	return alarm, nil
}

func (h *Handler) notify(ctx context.Context, relation string, alarm rules.Alarm) {
	if h.notifier == nil {
		return
	}
	h.notifier.Notify(ctx, application.LifecycleEvent{RelationType: relation, Alarm: alarm})
}

func ensureDeviceTenant(r *http.Request, checker auth.DeviceTenantChecker, tenantID, deviceID string) error {
	if checker == nil || tenantID == "" || deviceID == "" {
		return nil
	}
	return checker.EnsureDeviceTenant(r.Context(), tenantID, deviceID)
}

func respondTenantError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "tenant check failed", http.StatusInternalServerError)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
