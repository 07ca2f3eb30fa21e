// internal/output/csv.go
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"
)

// CSVWriter writes records as CSV with a header row. The header is fixed by
// the first Write: the given columns, then any other keys found in sorted
// order. Keys first seen in later batches are dropped.
type CSVWriter struct {
	writer  *csv.Writer
	columns []string
	started bool
	closed  bool
}

// NewCSVWriter creates a CSV writer. delimiter defaults to a comma.
func NewCSVWriter(w io.Writer, columns []string, delimiter string) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if delimiter != "" {
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) || r == '"' || r == '\r' || r == '\n' {
			return nil, fmt.Errorf("invalid CSV delimiter %q", delimiter)
		}
		cw.Comma = r
	}
	return &CSVWriter{writer: cw, columns: append([]string(nil), columns...)}, nil
}

// Write writes records, emitting the header on the first call.
func (w *CSVWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return ErrWriterClosed
	}
	if !w.started {
		w.columns = mergeColumns(w.columns, records)
		if err := w.writer.Write(w.columns); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		w.started = true
	}

	row := make([]string, len(w.columns))
	for _, r := range records {
		for i, c := range w.columns {
			row[i] = cellString(r[c])
		}
		if err := w.writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes the writer. An export with no records still gets a header
// when columns were given.
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}
	if !w.started && len(w.columns) > 0 {
		if err := w.Write(nil); err != nil {
			return err
		}
	}
	w.closed = true
	w.writer.Flush()
	return w.writer.Error()
}
