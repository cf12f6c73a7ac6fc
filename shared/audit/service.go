// Package audit exports monthly alert-history reports and prunes old
// rows from the history table.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the audit service.
type Config struct {
	// ExportPath is the directory xlsx reports are written to.
	ExportPath string

	// RetentionDays is how many days of history to keep after export.
	// Default: 62 days.
	RetentionDays int

	// ExportOnStart if true, runs an export immediately on Start.
	ExportOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ExportPath:    "data/reports",
		RetentionDays: 62,
	}
}

// Service writes an alert-history workbook on the first of every month
// and deletes rows past the retention window.
type Service struct {
	config  *Config
	source  HistorySource
	sender  DocumentSender // optional
	logger  *zerolog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates the audit service. sender may be nil; reports are
// then only written to disk.
func NewService(config *Config, source HistorySource, sender DocumentSender, logger *zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 62
	}
	if config.ExportPath == "" {
		config.ExportPath = "data/reports"
	}

	return &Service{
		config: config,
		source: source,
		sender: sender,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the monthly export scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		go s.RunExportAndCleanup()
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().Int("retention_days", s.config.RetentionDays).
		Str("export_path", s.config.ExportPath).Msg("Audit service started")
}

// Stop gracefully stops the audit service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("Audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	nextRun := nextFirstOfMonth(time.Now())
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.logger.Info().Time("next_run", nextRun).Msg("Next audit export scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()

			nextRun = nextFirstOfMonth(time.Now())
			timer.Reset(time.Until(nextRun))
			s.logger.Info().Time("next_run", nextRun).Msg("Next audit export scheduled")
		}
	}
}

// nextFirstOfMonth returns 00:01 on the first day of the month after now.
func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// RunExportAndCleanup performs the export and cleanup immediately.
func (s *Service) RunExportAndCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.exportHistory(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Alert history export failed")
	}

	if err := s.cleanupOldRows(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Alert history cleanup failed")
	}
}

func (s *Service) exportHistory(ctx context.Context) error {
	now := time.Now()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)

	records, err := s.source.ListAlertHistory(ctx, since)
	if err != nil {
		return fmt.Errorf("list alert history: %w", err)
	}
	if len(records) == 0 {
		s.logger.Info().Msg("No alert history to export")
		return nil
	}

	workbook := NewHistoryWorkbook()
	defer workbook.Close()

	if err := workbook.Fill(records); err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}

	filename := GenerateFilenameForPreviousMonth(now)

	if err := os.MkdirAll(s.config.ExportPath, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(s.config.ExportPath, filename)
	if err := workbook.SaveToFile(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	s.logger.Info().Str("path", path).Int("rows", len(records)).Msg("Alert history exported")

	if s.sender != nil {
		var buf bytes.Buffer
		if err := workbook.Write(&buf); err != nil {
			return fmt.Errorf("encode workbook: %w", err)
		}
		caption := fmt.Sprintf("Monthly reminder report, %d alert events", len(records))
		if err := s.sender.SendDocument(ctx, filename, &buf, caption); err != nil {
			return fmt.Errorf("send report: %w", err)
		}
		s.logger.Info().Str("filename", filename).Msg("Alert history report sent")
	}
	return nil
}

func (s *Service) cleanupOldRows(ctx context.Context) error {
	retention := time.Duration(s.config.RetentionDays) * 24 * time.Hour
	deleted, err := s.source.DeleteAlertHistoryBefore(ctx, retention)
	if err != nil {
		return fmt.Errorf("delete old history: %w", err)
	}

	s.logger.Info().Int64("deleted", deleted).Int("retention_days", s.config.RetentionDays).
		Msg("Old alert history pruned")
	return nil
}

// ExportNow triggers an immediate export, used by tests and manual runs.
func (s *Service) ExportNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return s.exportHistory(ctx)
}
