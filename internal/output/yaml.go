// internal/output/yaml.go
package output

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes records as a YAML sequence of mappings whose keys follow
// the column order.
type YAMLWriter struct {
	w       io.Writer
	indent  int
	columns []string
	records []map[string]interface{}
	closed  bool
}

// NewYAMLWriter creates a YAML writer. indent defaults to 2.
func NewYAMLWriter(w io.Writer, columns []string, indent int) *YAMLWriter {
	if indent <= 0 {
		indent = 2
	}
	return &YAMLWriter{w: w, indent: indent, columns: columns}
}

// Write buffers records until Close.
func (w *YAMLWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return ErrWriterClosed
	}
	w.records = append(w.records, records...)
	return nil
}

// Close encodes the buffered records.
func (w *YAMLWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	cols := mergeColumns(append([]string(nil), w.columns...), w.records)
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range w.records {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, c := range cols {
			v, ok := r[c]
			if !ok {
				continue
			}
			var val yaml.Node
			if err := val.Encode(v); err != nil {
				return fmt.Errorf("failed to encode %q: %w", c, err)
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c}, &val)
		}
		seq.Content = append(seq.Content, m)
	}

	enc := yaml.NewEncoder(w.w)
	enc.SetIndent(w.indent)
	if err := enc.Encode(seq); err != nil {
		return fmt.Errorf("failed to write YAML: %w", err)
	}
	return enc.Close()
}
