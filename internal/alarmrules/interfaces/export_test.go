package interfaces

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	rules "devicehub/internal/alarmrules/domain"
)

func exportAlarms() []rules.Alarm {
	return []rules.Alarm{
		{
			ID:       "alarm-1",
			TenantID: "tenant-1",
			DeviceID: "device-1",
			Type:     "High Temperature",
			Severity: rules.SeverityCritical,
			Status:   rules.StatusCleared,
			StartTs:  1764600000000,
			ClearTs:  1764603600000,
			Details:  map[string]string{"message": "Temperature 61 exceeds threshold"},
		},
		{
			ID:       "alarm-2",
			TenantID: "tenant-1",
			DeviceID: "device-2",
			Type:     "High Humidity",
			Severity: rules.SeverityWarning,
			Status:   rules.StatusActive,
			StartTs:  1764607200000,
		},
	}
}

func TestBuildAlarmsPDF(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	out, err := BuildAlarmsPDF("tenant-1", from, to, exportAlarms())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("empty pdf output")
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("output is not a pdf, starts with %q", out[:4])
	}
}

func TestBuildAlarmsPDFEmpty(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	out, err := BuildAlarmsPDF("tenant-1", from, to, nil)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("empty pdf output")
	}
}

func TestBuildAlarmsXLSX(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	out, err := BuildAlarmsXLSX("tenant-1", from, to, exportAlarms())
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	tenant, err := f.GetCellValue("summary", "B3")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if tenant != "tenant-1" {
		t.Fatalf("expected tenant-1 in summary, got %q", tenant)
	}
	device, err := f.GetCellValue("alarms", "A2")
	if err != nil {
		t.Fatalf("read alarms sheet: %v", err)
	}
	if device != "device-1" {
		t.Fatalf("expected device-1 in first row, got %q", device)
	}
	message, err := f.GetCellValue("alarms", "H2")
	if err != nil {
		t.Fatalf("read message cell: %v", err)
	}
	if message != "Temperature 61 exceeds threshold" {
		t.Fatalf("unexpected message cell: %q", message)
	}
}
