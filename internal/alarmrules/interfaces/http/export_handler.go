package http

import (
	"net/http"
	"strings"
	"time"

	interfaces "devicehub/internal/alarmrules/interfaces"
	"devicehub/internal/auth"
	"devicehub/internal/observability/metrics"
)

// ExportHandler serves alarm history downloads.
type ExportHandler struct {
	alarms        AlarmDirectory
	deviceChecker auth.DeviceTenantChecker
}

// NewExportHandler constructs an export handler.
func NewExportHandler(alarms AlarmDirectory, deviceChecker auth.DeviceTenantChecker) *ExportHandler {
	return &ExportHandler{alarms: alarms, deviceChecker: deviceChecker}
}

// ServeHTTP handles GET /api/v1/exports/alarms.{xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.alarms == nil {
		http.Error(w, "export not ready", http.StatusServiceUnavailable)
		return
	}
	format := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/alarms.")
	if format != "xlsx" && format != "pdf" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	started := time.Now()

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
	deviceID := r.URL.Query().Get("device_id")
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
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "xlsx":
		payload, err = interfaces.BuildAlarmsXLSX(tenantID, from, to, list)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		payload, err = interfaces.BuildAlarmsPDF(tenantID, from, to, list)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="alarms.`+format+`"`)
	_, _ = w.Write(payload)
}
