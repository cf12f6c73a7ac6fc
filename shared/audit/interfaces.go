package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"careplus/internal/database"
)

// HistorySource provides alert history rows for export and cleanup.
type HistorySource interface {
	// ListAlertHistory returns alert rows created at or after since.
	ListAlertHistory(ctx context.Context, since time.Time) ([]database.AlertRecord, error)

	// DeleteAlertHistoryBefore deletes rows older than the duration and
	// returns the number of rows removed.
	DeleteAlertHistoryBefore(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DocumentSender delivers a generated report to the caregiver.
type DocumentSender interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// GenerateFilename creates a filename like "alerts_January_2026.xlsx".
func GenerateFilename(t time.Time) string {
	return fmt.Sprintf("alerts_%s_%d.xlsx", t.Month().String(), t.Year())
}

// GenerateFilenameForPreviousMonth creates the filename for the month
// that just ended.
func GenerateFilenameForPreviousMonth(now time.Time) string {
	return GenerateFilename(now.AddDate(0, -1, 0))
}
