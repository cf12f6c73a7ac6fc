package audit

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"careplus/internal/database"
)

var historyColumns = []string{"ID", "User", "Reminder ID", "Type", "Title", "Action", "Recorded At"}

// HistoryWorkbook renders alert history rows into an xlsx workbook with
// one detail sheet and a per-action summary sheet.
type HistoryWorkbook struct {
	file *excelize.File
}

func NewHistoryWorkbook() *HistoryWorkbook {
	return &HistoryWorkbook{file: excelize.NewFile()}
}

// Fill writes the records into the workbook, replacing any prior content.
func (w *HistoryWorkbook) Fill(records []database.AlertRecord) error {
	w.file.SetSheetName("Sheet1", "Alert History")

	if err := w.writeHeader("Alert History", historyColumns); err != nil {
		return err
	}
	for i, rec := range records {
		row := []interface{}{
			rec.ID,
			rec.Principal,
			rec.ReminderID,
			rec.ReminderType,
			rec.Title,
			rec.Action,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := w.writeRow("Alert History", i+2, row); err != nil {
			return err
		}
	}

	if _, err := w.file.NewSheet("Summary"); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	if err := w.writeHeader("Summary", []string{"Action", "Count"}); err != nil {
		return err
	}

	counts := map[string]int{}
	var order []string
	for _, rec := range records {
		if _, seen := counts[rec.Action]; !seen {
			order = append(order, rec.Action)
		}
		counts[rec.Action]++
	}
	for i, action := range order {
		if err := w.writeRow("Summary", i+2, []interface{}{action, counts[action]}); err != nil {
			return err
		}
	}
	return nil
}

func (w *HistoryWorkbook) writeHeader(sheet string, columns []string) error {
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = w.file.SetCellStyle(sheet, startCell, endCell, style)
	}
	return nil
}

func (w *HistoryWorkbook) writeRow(sheet string, rowNum int, row []interface{}) error {
	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(sheet, cell, val); err != nil {
			return err
		}
	}
	return nil
}

// Write streams the workbook to wr.
func (w *HistoryWorkbook) Write(wr io.Writer) error {
	return w.file.Write(wr)
}

// SaveToFile writes the workbook to disk.
func (w *HistoryWorkbook) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

// Close releases workbook resources.
func (w *HistoryWorkbook) Close() error {
	return w.file.Close()
}
