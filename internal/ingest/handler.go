package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	application "devicehub/internal/alarmrules/application"
	rules "devicehub/internal/alarmrules/domain"
	alarmrepo "devicehub/internal/alarmrules/infrastructure/postgres"
	"devicehub/internal/observability/metrics"
)

// Handler ingests device gateway events: telemetry, attribute updates and
// deletes, activity events, and device lifecycle notices. Samples are written
// to the latest-value stores before rule evaluation so recovery reads see
// them.
type Handler struct {
	attributes *alarmrepo.AttributeRepository
	timeseries *alarmrepo.TimeSeriesRepository
	engine     *application.Engine
	logger     *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(attributes *alarmrepo.AttributeRepository, timeseries *alarmrepo.TimeSeriesRepository, engine *application.Engine, logger *log.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("ingest: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{attributes: attributes, timeseries: timeseries, engine: engine, logger: logger}, nil
}

// ServeHTTP ingests one event envelope.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.ResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("ingest: read body error: %v", err)
		result = metrics.ResultError
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req envelope
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("ingest: decode error: %v", err)
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || (req.DeviceID == "" && req.EventType != eventProfileUpdated) {
		result = metrics.ResultError
		metrics.IncIngestError("invalid_payload")
		http.Error(w, "missing tenantId/deviceId", http.StatusBadRequest)
		return
	}

	event, err := h.buildEvent(r.Context(), req)
	if err != nil {
		h.logger.Printf("ingest: invalid payload: %v", err)
		result = metrics.ResultError
		metrics.IncIngestError("invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if req.EventType == eventDeviceDeleted {
		if err := h.engine.RemoveDevice(r.Context(), req.DeviceID); err != nil {
			h.logger.Printf("ingest: remove device error: %v", err)
			result = metrics.ResultError
			metrics.IncIngestError("remove_error")
			http.Error(w, "remove error", http.StatusInternalServerError)
			return
		}
		writeAccepted(w)
		return
	}
	if req.EventType == eventPartitionChanged {
		// The device left this node's partition; its persisted counters stay
		// behind for the new owner.
		h.engine.EvictDevice(req.DeviceID)
		writeAccepted(w)
		return
	}

	if err := h.engine.ProcessEvent(r.Context(), req.TenantID, req.DeviceID, event); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			result = metrics.ResultError
			metrics.IncIngestError("unknown_device")
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		h.logger.Printf("ingest: process error: %v", err)
		result = metrics.ResultError
		metrics.IncIngestError("process_error")
		http.Error(w, "process error", http.StatusInternalServerError)
		return
	}
	writeAccepted(w)
}

const (
	eventTelemetry         = "telemetry"
	eventAttributes        = "attributes"
	eventAttributesDeleted = "attributesDeleted"
	eventActivity          = "activity"
	eventDeviceReassigned  = "deviceReassigned"
	eventDeviceDeleted     = "deviceDeleted"
	eventProfileUpdated    = "profileUpdated"
	eventPartitionChanged  = "partitionChanged"
)

type envelope struct {
	TenantID     string                          `json:"tenantId"`
	DeviceID     string                          `json:"deviceId"`
	EventType    string                          `json:"eventType"`
	Scope        string                          `json:"scope"`
	Ts           int64                           `json:"ts"`
	Values       map[string]rules.EntityKeyValue `json:"values"`
	Points       []point                         `json:"points"`
	Keys         []string                        `json:"keys"`
	NewProfileID string                          `json:"newProfileId"`
	Profile      *rules.DeviceProfile            `json:"profile"`
	Meta         map[string]string               `json:"meta"`
}

type point struct {
	Ts     int64                           `json:"ts"`
	Values map[string]rules.EntityKeyValue `json:"values"`
}

func (h *Handler) buildEvent(ctx context.Context, req envelope) (application.Event, error) {
	switch req.EventType {
	case eventTelemetry, "":
		points, err := h.telemetryPoints(ctx, req)
		if err != nil {
			return nil, err
		}
		return application.TelemetryEvent{Points: points, Meta: req.Meta}, nil
	case eventAttributes:
		entries, err := h.attributeEntries(ctx, req)
		if err != nil {
			return nil, err
		}
		return application.AttributesEvent{Scope: req.Scope, Entries: entries, Meta: req.Meta}, nil
	case eventAttributesDeleted:
		if len(req.Keys) == 0 {
			return nil, errors.New("no keys")
		}
		if h.attributes != nil && req.Scope != "" {
			if err := h.attributes.Delete(ctx, req.TenantID, req.DeviceID, req.Scope, req.Keys); err != nil {
				return nil, err
			}
		}
		return application.AttributesDeletedEvent{Scope: req.Scope, Keys: req.Keys, Meta: req.Meta}, nil
	case eventActivity:
		entries := make([]application.KVEntry, 0, len(req.Values))
		for key, value := range req.Values {
			entries = append(entries, application.KVEntry{Key: key, Ts: req.Ts, Value: value})
		}
		return application.ActivityEvent{Scope: req.Scope, Ts: req.Ts, Entries: entries, Meta: req.Meta}, nil
	case eventDeviceReassigned:
		if req.NewProfileID == "" {
			return nil, errors.New("missing newProfileId")
		}
		return application.DeviceReassignedEvent{NewProfileID: req.NewProfileID}, nil
	case eventProfileUpdated:
		if req.Profile == nil || req.Profile.ID == "" {
			return nil, errors.New("missing profile")
		}
		req.Profile.TenantID = req.TenantID
		for i := range req.Profile.Alarms {
			if err := req.Profile.Alarms[i].Validate(); err != nil {
				return nil, err
			}
		}
		return application.ProfileUpdatedEvent{Profile: req.Profile}, nil
	case eventDeviceDeleted, eventPartitionChanged:
		return nil, nil
	default:
		return nil, errors.New("unknown event type: " + req.EventType)
	}
}

func (h *Handler) telemetryPoints(ctx context.Context, req envelope) ([]application.TelemetryPoint, error) {
	pts := req.Points
	if len(pts) == 0 && len(req.Values) > 0 {
		pts = []point{{Ts: req.Ts, Values: req.Values}}
	}
	if len(pts) == 0 {
		return nil, errors.New("no telemetry points")
	}
	var out []application.TelemetryPoint
	for _, pt := range pts {
		if len(pt.Values) == 0 {
			return nil, errors.New("empty values")
		}
		ts := pt.Ts
		if ts == 0 {
			ts = time.Now().UTC().UnixMilli()
		}
		for key, value := range pt.Values {
			out = append(out, application.TelemetryPoint{Ts: ts, Key: key, Value: value})
			if h.timeseries != nil {
				entry := application.KVEntry{Key: key, Ts: ts, Value: value}
				if err := h.timeseries.SaveLatest(ctx, req.TenantID, req.DeviceID, entry); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func (h *Handler) attributeEntries(ctx context.Context, req envelope) ([]application.KVEntry, error) {
	if len(req.Values) == 0 {
		return nil, errors.New("empty values")
	}
	if req.Scope == "" {
		return nil, errors.New("missing scope")
	}
	ts := req.Ts
	if ts == 0 {
		ts = time.Now().UTC().UnixMilli()
	}
	entries := make([]application.KVEntry, 0, len(req.Values))
	for key, value := range req.Values {
		entry := application.KVEntry{Key: key, Ts: ts, Value: value}
		entries = append(entries, entry)
		if h.attributes != nil {
			if err := h.attributes.Upsert(ctx, req.TenantID, req.DeviceID, req.Scope, entry); err != nil {
				return nil, err
			}
		}
	}
	return entries, nil
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true})
}
