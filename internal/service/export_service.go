package service

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
	"github.com/noah-isme/staff-portal-api/pkg/export"
)

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService turns read receipts into CSV or PDF downloads.
type ExportService struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{logger: logger, now: time.Now}
}

// ReadReceipts renders one row per targeted user with their read time.
func (s *ExportService) ReadReceipts(announcement *models.Announcement, receipts []models.ReadReceipt, format export.Format) (*ExportFile, error) {
	generatedAt := s.now().UTC()
	dataset := export.Dataset{
		Title:       "Read receipts: " + announcement.Title,
		Headers:     []string{"Name", "Email", "Department", "Status", "Read at"},
		Rows:        make([][]string, 0, len(receipts)),
		GeneratedAt: generatedAt,
	}
	read := 0
	for _, r := range receipts {
		status, readAt := "Unread", ""
		if r.ReadAt != nil {
			status, readAt = "Read", r.ReadAt.UTC().Format(time.RFC3339)
			read++
		}
		dataset.Rows = append(dataset.Rows, []string{r.FullName, r.Email, deref(r.DepartmentName), status, readAt})
	}

	payload, err := export.Render(format, dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render read receipts")
	}
	s.logger.Debug("read receipts exported",
		zap.String("announcement_id", announcement.ID),
		zap.String("format", string(format)),
		zap.Int("targeted", len(receipts)),
		zap.Int("read", read),
	)
	return &ExportFile{
		Filename:    fmt.Sprintf("read_receipts_%s_%s.%s", sanitizeFilename(announcement.Title), generatedAt.Format("20060102_150405"), format),
		ContentType: format.ContentType(),
		Data:        payload,
	}, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "\"", "", "'", "")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 60 {
		return result[:60]
	}
	return result
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
