// internal/output/types.go
package output

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Format names an export format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatYAML  Format = "yaml"
	FormatExcel Format = "xlsx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrWriterClosed      = errors.New("output writer is closed")
)

// SupportedFormats lists the formats in the order they are documented.
func SupportedFormats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatYAML, FormatExcel}
}

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "xlsx", "excel":
		return FormatExcel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DetectFormat infers the format from a file name's extension.
func DetectFormat(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, path)
	}
	return ParseFormat(ext)
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Config selects where and how records are exported.
type Config struct {
	Format    Format `yaml:"format" json:"format"`
	File      string `yaml:"file" json:"file"`
	Indent    string `yaml:"indent,omitempty" json:"indent,omitempty"`
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	SheetName string `yaml:"sheet_name,omitempty" json:"sheet_name,omitempty"`
}

// Writer exports records. Records are buffered until Close for formats that
// need every row before writing.
type Writer interface {
	Write(records []map[string]interface{}) error
	Close() error
}

// Records is a flattened export: rows plus their column order.
type Records struct {
	Columns []string
	Rows    []map[string]interface{}
}

// mergeColumns appends to cols, in sorted order, any keys in records that
// are not yet present.
func mergeColumns(cols []string, records []map[string]interface{}) []string {
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	var extra []string
	for _, r := range records {
		for k := range r {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

// cellString renders a value for tabular formats. Lists are joined with "; ".
func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, "; ")
	case []interface{}:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = cellString(p)
		}
		return strings.Join(parts, "; ")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
