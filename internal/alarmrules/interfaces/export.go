package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	rules "devicehub/internal/alarmrules/domain"
)

func formatTs(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.UnixMilli(ts).UTC().Format(time.RFC3339)
}

// BuildAlarmsPDF renders an alarm history report.
func BuildAlarmsPDF(tenantID string, from, to time.Time, alarms []rules.Alarm) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Tenant: %s", tenantID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", from.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", to.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alarms: %d", len(alarms)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Started", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Cleared", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alarm := range alarms {
		pdf.CellFormat(45, 6, alarm.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, alarm.Type, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, string(alarm.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, alarm.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, formatTs(alarm.StartTs), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, formatTs(alarm.ClearTs), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlarmsXLSX renders an alarm history workbook.
func BuildAlarmsXLSX(tenantID string, from, to time.Time, alarms []rules.Alarm) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alarmsSheet := "alarms"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alarmsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Alarm History")
	_ = f.SetCellValue(summarySheet, "A3", "Tenant")
	_ = f.SetCellValue(summarySheet, "B3", tenantID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", from.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", to.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Alarms")
	_ = f.SetCellValue(summarySheet, "B6", len(alarms))

	headers := []string{"Device", "Type", "Severity", "Status", "Started", "Acked", "Cleared", "Message"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(alarmsSheet, cell, header)
	}
	for i, alarm := range alarms {
		row := i + 2
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("A%d", row), alarm.DeviceID)
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("B%d", row), alarm.Type)
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("C%d", row), string(alarm.Severity))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("D%d", row), alarm.Status)
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("E%d", row), formatTs(alarm.StartTs))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("F%d", row), formatTs(alarm.AckTs))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("G%d", row), formatTs(alarm.ClearTs))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("H%d", row), alarm.Details["message"])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
