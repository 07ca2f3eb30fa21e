// internal/output/json.go
package output

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSONWriter writes records as a single JSON array. Object keys follow the
// column order.
type JSONWriter struct {
	w       io.Writer
	indent  string
	columns []string
	records []map[string]interface{}
	closed  bool
}

// NewJSONWriter creates a JSON writer. A nil columns slice orders keys
// alphabetically.
func NewJSONWriter(w io.Writer, columns []string, indent string) *JSONWriter {
	return &JSONWriter{w: w, indent: indent, columns: columns}
}

// Write buffers records until Close.
func (w *JSONWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return ErrWriterClosed
	}
	w.records = append(w.records, records...)
	return nil
}

// Close encodes the buffered records.
func (w *JSONWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	cols := mergeColumns(append([]string(nil), w.columns...), w.records)
	rows := make([]orderedRecord, len(w.records))
	for i, r := range w.records {
		rows[i] = orderedRecord{columns: cols, values: r}
	}

	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	if w.indent != "" {
		enc.SetIndent("", w.indent)
	}
	return enc.Encode(rows)
}

type orderedRecord struct {
	columns []string
	values  map[string]interface{}
}

func (r orderedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, c := range r.columns {
		v, ok := r.values[c]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
