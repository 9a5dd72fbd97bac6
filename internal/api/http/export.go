package apihttp

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"energy-monitor/internal/audit"
	"energy-monitor/internal/auth"
	"energy-monitor/internal/monitoring/application"
	monitoring "energy-monitor/internal/monitoring/domain"
)

// BuildConsumptionCSV renders one device-day of hourly totals as CSV.
func BuildConsumptionCSV(deviceID string, day time.Time, rows []monitoring.HourlyConsumption) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{"device_id", "hour_start", "total_consumption", "alerted"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.DeviceID,
			row.HourStart.UTC().Format(time.RFC3339),
			strconv.FormatFloat(row.TotalConsumption, 'f', -1, 64),
			strconv.FormatBool(row.Alerted),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildConsumptionXLSX renders one device-day of hourly totals as XLSX.
func BuildConsumptionXLSX(deviceID string, day time.Time, rows []monitoring.HourlyConsumption) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	hoursSheet := "hours"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(hoursSheet)

	var total float64
	alerted := 0
	for _, row := range rows {
		total += row.TotalConsumption
		if row.Alerted {
			alerted++
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Hourly Consumption Report")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", deviceID)
	_ = f.SetCellValue(summarySheet, "A4", "Day")
	_ = f.SetCellValue(summarySheet, "B4", day.UTC().Format(dateLayout))
	_ = f.SetCellValue(summarySheet, "A5", "Hours Recorded")
	_ = f.SetCellValue(summarySheet, "B5", len(rows))
	_ = f.SetCellValue(summarySheet, "A6", "Total (kWh)")
	_ = f.SetCellValue(summarySheet, "B6", total)
	_ = f.SetCellValue(summarySheet, "A7", "Alerted Hours")
	_ = f.SetCellValue(summarySheet, "B7", alerted)

	_ = f.SetCellValue(hoursSheet, "A1", "Hour")
	_ = f.SetCellValue(hoursSheet, "B1", "Total (kWh)")
	_ = f.SetCellValue(hoursSheet, "C1", "Alerted")
	for i, row := range rows {
		line := i + 2
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("A%d", line), row.HourStart.UTC().Format("15:04"))
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("B%d", line), row.TotalConsumption)
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("C%d", line), row.Alerted)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildConsumptionPDF renders one device-day of hourly totals as PDF.
func BuildConsumptionPDF(deviceID string, day time.Time, rows []monitoring.HourlyConsumption) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Hourly Consumption Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", deviceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Day: %s", day.UTC().Format(dateLayout)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Hour", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Total (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Alerted", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	var total float64
	for _, row := range rows {
		total += row.TotalConsumption
		pdf.CellFormat(40, 6, row.HourStart.UTC().Format("15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.3f", row.TotalConsumption), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, strconv.FormatBool(row.Alerted), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Total", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, fmt.Sprintf("%.3f", total), "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, "", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportHandler handles GET /monitoring/devices/{deviceId}/consumption/export.{format}.
type ExportHandler struct {
	history *application.ConsumptionHistory
	owners  auth.DeviceOwnerChecker
	auditor audit.Logger
	logger  *log.Logger
}

// NewExportHandler constructs an ExportHandler. The audit logger is optional.
func NewExportHandler(history *application.ConsumptionHistory, owners auth.DeviceOwnerChecker, auditor audit.Logger, logger *log.Logger) (*ExportHandler, error) {
	if history == nil {
		return nil, errors.New("export handler: nil history service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{history: history, owners: owners, auditor: auditor, logger: logger}, nil
}

// ServeHTTP streams the rendered report.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	vars := mux.Vars(r)
	deviceID := vars["deviceId"]
	format := vars["format"]
	if deviceID == "" {
		http.Error(w, "deviceId is required", http.StatusBadRequest)
		return
	}
	day, err := parseDateQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ensureDeviceOwner(r, h.owners, deviceID); err != nil {
		respondOwnerError(w, err)
		return
	}

	rows, err := h.history.ListDay(r.Context(), deviceID, day)
	if err != nil {
		h.logger.Printf("export handler: list failed device=%s: %v", deviceID, err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "csv":
		contentType = "text/csv; charset=utf-8"
		payload, err = BuildConsumptionCSV(deviceID, day, rows)
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		payload, err = BuildConsumptionXLSX(deviceID, day, rows)
	case "pdf":
		contentType = "application/pdf"
		payload, err = BuildConsumptionPDF(deviceID, day, rows)
	default:
		http.Error(w, "format must be csv, xlsx or pdf", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Printf("export handler: render %s failed device=%s: %v", format, deviceID, err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}

	h.recordAudit(r, deviceID, format, day, len(rows))

	filename := fmt.Sprintf("consumption-%s-%s.%s", deviceID, day.UTC().Format(dateLayout), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *ExportHandler) recordAudit(r *http.Request, deviceID, format string, day time.Time, rowCount int) {
	if h.auditor == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"day":    day.UTC().Format(dateLayout),
		"format": format,
		"rows":   rowCount,
	})
	entry := audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "consumption.export",
		ResourceType: "device",
		ResourceID:   deviceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if err := h.auditor.Log(r.Context(), entry); err != nil {
		h.logger.Printf("export handler: audit log failed device=%s: %v", deviceID, err)
	}
}
