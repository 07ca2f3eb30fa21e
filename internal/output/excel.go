// internal/output/excel.go
package output

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/valpere/ScrapeMend/internal/utils"
	"github.com/xuri/excelize/v2"
)

// DefaultExcelMaxCellLength is the most characters Excel accepts in one cell.
const DefaultExcelMaxCellLength = 32767

// ExcelConfig configures XLSX output.
type ExcelConfig struct {
	SheetName     string         `yaml:"sheet_name" json:"sheet_name"`
	AutoFilter    bool           `yaml:"auto_filter" json:"auto_filter"`
	FreezePane    bool           `yaml:"freeze_pane" json:"freeze_pane"`
	MaxCellLength int            `yaml:"max_cell_length" json:"max_cell_length"`
	ColumnWidths  map[string]int `yaml:"column_widths" json:"column_widths"`
}

// ExcelWriter writes records to a single worksheet with a bold header row.
// The workbook is serialized on Close.
type ExcelWriter struct {
	w       io.Writer
	config  ExcelConfig
	columns []string
	records []map[string]interface{}
	logger  utils.Logger
	closed  bool
}

// NewExcelWriter creates an XLSX writer.
func NewExcelWriter(w io.Writer, columns []string, config ExcelConfig, logger utils.Logger) *ExcelWriter {
	if config.SheetName == "" {
		config.SheetName = "Results"
	}
	if config.MaxCellLength <= 0 || config.MaxCellLength > DefaultExcelMaxCellLength {
		config.MaxCellLength = DefaultExcelMaxCellLength
	}
	return &ExcelWriter{
		w:       w,
		config:  config,
		columns: columns,
		logger:  utils.OrNop(logger).WithField("component", "excel"),
	}
}

// Write buffers records until Close.
func (w *ExcelWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return ErrWriterClosed
	}
	w.records = append(w.records, records...)
	return nil
}

// Close builds the workbook and writes it out.
func (w *ExcelWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	f := excelize.NewFile()
	defer f.Close()

	sheet := w.config.SheetName
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	cols := mergeColumns(append([]string(nil), w.columns...), w.records)
	if err := w.writeHeader(f, sheet, cols); err != nil {
		return err
	}

	truncated := 0
	for i, r := range w.records {
		row := i + 2
		for j, c := range cols {
			cell, err := excelize.CoordinatesToCellName(j+1, row)
			if err != nil {
				return err
			}
			value, cut := w.cellValue(r[c])
			if cut {
				truncated++
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set %s: %w", cell, err)
			}
		}
	}
	if truncated > 0 {
		w.logger.Warnf("truncated %d cells to %d characters", truncated, w.config.MaxCellLength)
	}

	if err := w.format(f, sheet, cols); err != nil {
		return err
	}
	if err := f.Write(w.w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (w *ExcelWriter) writeHeader(f *excelize.File, sheet string, cols []string) error {
	if len(cols) == 0 {
		return nil
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	for j, c := range cols {
		cell, err := excelize.CoordinatesToCellName(j+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, c); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

// cellValue keeps numbers and booleans typed and renders everything else as
// text no longer than MaxCellLength.
func (w *ExcelWriter) cellValue(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case int, int64, float64, bool:
		return t, false
	}
	s := cellString(v)
	if utf8.RuneCountInString(s) <= w.config.MaxCellLength {
		return s, false
	}
	return string([]rune(s)[:w.config.MaxCellLength]), true
}

func (w *ExcelWriter) format(f *excelize.File, sheet string, cols []string) error {
	if len(cols) == 0 {
		return nil
	}
	for j, c := range cols {
		name, err := excelize.ColumnNumberToName(j + 1)
		if err != nil {
			return err
		}
		width := 15.0
		if cw, ok := w.config.ColumnWidths[c]; ok && cw > 0 {
			width = float64(cw)
		}
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return err
		}
	}

	if w.config.AutoFilter {
		last, err := excelize.CoordinatesToCellName(len(cols), len(w.records)+1)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return fmt.Errorf("failed to add auto filter: %w", err)
		}
	}
	if w.config.FreezePane {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("failed to freeze header: %w", err)
		}
	}
	return nil
}
