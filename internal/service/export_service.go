package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	"github.com/opsmon-dev/cmo-ops-api/pkg/export"
	"github.com/opsmon-dev/cmo-ops-api/pkg/storage"
)

type exportReviewSource interface {
	List(ctx context.Context, filter models.ReviewFilter) ([]models.Review, int, error)
}

type exportDetectionSource interface {
	List(ctx context.Context, filter models.DetectionFilter) ([]models.Detection, int, error)
}

type exportHandoffSource interface {
	List(ctx context.Context, filter models.HandoffNoteFilter) ([]models.HandoffNote, int, error)
}

type exportMaintenanceSource interface {
	List(ctx context.Context, filter models.MaintenanceFilter) ([]models.MaintenanceActivity, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	reviews     exportReviewSource
	detections  exportDetectionSource
	handoffs    exportHandoffSource
	maintenance exportMaintenanceSource
	storage     fileStorage
	csv         csvRenderer
	pdf         pdfRenderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	cfg         ExportConfig
}

// ExportServiceParams groups constructor dependencies.
type ExportServiceParams struct {
	Reviews     exportReviewSource
	Detections  exportDetectionSource
	Handoffs    exportHandoffSource
	Maintenance exportMaintenanceSource
	Storage     fileStorage
	Signer      *storage.SignedURLSigner
	Config      ExportConfig
	Logger      *zap.Logger
	CSV         csvRenderer
	PDF         pdfRenderer
}

// NewExportService constructs an ExportService.
func NewExportService(params ExportServiceParams) *ExportService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	csv := params.CSV
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	pdf := params.PDF
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reviews:     params.Reviews,
		detections:  params.Detections,
		handoffs:    params.Handoffs,
		maintenance: params.Maintenance,
		storage:     params.Storage,
		csv:         csv,
		pdf:         pdf,
		signer:      params.Signer,
		logger:      logger,
		cfg:         cfg,
	}
}

const exportPageSize = 100

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	areaPart := sanitizeFilename(deref(job.Params.Area))
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), areaPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeReviews:
		return s.buildReviewDataset(ctx, job.Params)
	case models.ReportTypeDetections:
		return s.buildDetectionDataset(ctx, job.Params)
	case models.ReportTypeHandoffs:
		return s.buildHandoffDataset(ctx, job.Params)
	case models.ReportTypeMaintenance:
		return s.buildMaintenanceDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildReviewDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter := models.ReviewFilter{
			Area:     deref(params.Area),
			DateFrom: params.DateFrom,
			DateTo:   params.DateTo,
			Page:     page,
			PageSize: exportPageSize,
		}
		rows, total, err := s.reviews.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"ID":          row.ID,
				"Title":       row.Title,
				"Area":        row.Area,
				"Shift":       string(row.Shift),
				"Reviewed At": row.ReviewedAt.UTC().Format(time.RFC3339),
				"Operator":    row.OperatorID,
				"Outcome":     string(row.Outcome),
				"Notes":       row.Notes,
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}
	dataset := export.Dataset{
		Headers: []string{"ID", "Title", "Area", "Shift", "Reviewed At", "Operator", "Outcome", "Notes"},
		Rows:    dataRows,
	}
	return dataset, "Operator Reviews", nil
}

func (s *ExportService) buildDetectionDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter := models.DetectionFilter{
			DateFrom: params.DateFrom,
			DateTo:   params.DateTo,
			Page:     page,
			PageSize: exportPageSize,
		}
		rows, total, err := s.detections.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"ID":          row.ID,
				"Source":      string(row.Source),
				"Severity":    string(row.Severity),
				"Status":      string(row.Status),
				"Detected At": row.DetectedAt.UTC().Format(time.RFC3339),
				"Location":    row.Location,
				"Description": row.Description,
				"Resolved At": formatReportTime(row.ResolvedAt),
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}
	dataset := export.Dataset{
		Headers: []string{"ID", "Source", "Severity", "Status", "Detected At", "Location", "Description", "Resolved At"},
		Rows:    dataRows,
	}
	return dataset, "Incident Detections", nil
}

func (s *ExportService) buildHandoffDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		rows, total, err := s.handoffs.List(ctx, models.HandoffNoteFilter{Page: page, PageSize: exportPageSize})
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"ID":           row.ID,
				"Description":  row.Description,
				"Type":         string(row.Type),
				"Priority":     string(row.Priority),
				"Status":       string(row.Status),
				"Created At":   row.CreatedAt.UTC().Format(time.RFC3339),
				"Finalized At": formatReportTime(row.FinalizedAt),
				"Finalized By": derefOr(row.FinalizedBy, ""),
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}
	dataset := export.Dataset{
		Headers: []string{"ID", "Description", "Type", "Priority", "Status", "Created At", "Finalized At", "Finalized By"},
		Rows:    dataRows,
	}
	return dataset, "Shift Handoff Notes", nil
}

func (s *ExportService) buildMaintenanceDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	dataRows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter := models.MaintenanceFilter{
			DateFrom: params.DateFrom,
			DateTo:   params.DateTo,
			Page:     page,
			PageSize: exportPageSize,
		}
		rows, total, err := s.maintenance.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			dataRows = append(dataRows, map[string]string{
				"ID":            row.ID,
				"Title":         row.Title,
				"Equipment":     row.Equipment,
				"Scheduled For": row.ScheduledFor.UTC().Format(time.RFC3339),
				"Status":        string(row.Status),
				"Technician":    derefOr(row.TechnicianID, ""),
				"Notes":         row.Notes,
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
	}
	dataset := export.Dataset{
		Headers: []string{"ID", "Title", "Equipment", "Scheduled For", "Status", "Technician", "Notes"},
		Rows:    dataRows,
	}
	return dataset, "Maintenance Activities", nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func derefOr(ptr *string, fallback string) string {
	if ptr == nil {
		return fallback
	}
	return *ptr
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
