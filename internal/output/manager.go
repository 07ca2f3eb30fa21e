// internal/output/manager.go
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/valpere/ScrapeMend/internal/utils"
)

var ErrNoFile = errors.New("output file is not configured")

// Manager writes flattened records in the configured format.
type Manager struct {
	config Config
	excel  ExcelConfig
	logger utils.Logger
}

// NewManager creates a manager. An empty format is inferred from the file
// extension, falling back to JSON.
func NewManager(cfg Config, logger utils.Logger) (*Manager, error) {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
		if cfg.File != "" && filepath.Ext(cfg.File) != "" {
			f, err := DetectFormat(cfg.File)
			if err != nil {
				return nil, err
			}
			cfg.Format = f
		}
	} else {
		f, err := ParseFormat(string(cfg.Format))
		if err != nil {
			return nil, err
		}
		cfg.Format = f
	}
	if cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &Manager{
		config: cfg,
		excel:  ExcelConfig{SheetName: cfg.SheetName, AutoFilter: true, FreezePane: true},
		logger: utils.OrNop(logger).WithField("component", "output"),
	}, nil
}

// Format returns the resolved output format.
func (m *Manager) Format() Format {
	return m.config.Format
}

// NewWriter returns a writer for the configured format on top of w.
func (m *Manager) NewWriter(w io.Writer, columns []string) (Writer, error) {
	switch m.config.Format {
	case FormatJSON:
		return NewJSONWriter(w, columns, m.config.Indent), nil
	case FormatCSV:
		return NewCSVWriter(w, columns, m.config.Delimiter)
	case FormatYAML:
		return NewYAMLWriter(w, columns, len(m.config.Indent)), nil
	case FormatExcel:
		return NewExcelWriter(w, columns, m.excel, m.logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, m.config.Format)
}

// WriteTo writes records to w.
func (m *Manager) WriteTo(w io.Writer, records Records) error {
	writer, err := m.NewWriter(w, records.Columns)
	if err != nil {
		return err
	}
	if err := writer.Write(records.Rows); err != nil {
		writer.Close()
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to write records")
	}
	if err := writer.Close(); err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to write records")
	}
	return nil
}

// Export writes records to the configured file. The file is written to a
// temporary name in the same directory and renamed into place.
func (m *Manager) Export(records Records) error {
	if m.config.File == "" {
		return ErrNoFile
	}
	dir := filepath.Dir(m.config.File)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to create output directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.config.File)+".*")
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to create output file")
	}
	defer os.Remove(tmp.Name())

	if err := m.WriteTo(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to close output file")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to set output file mode")
	}
	if err := os.Rename(tmp.Name(), m.config.File); err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to move output file into place")
	}

	m.logger.WithFields(map[string]interface{}{
		"file":    m.config.File,
		"format":  string(m.config.Format),
		"records": len(records.Rows),
	}).Info("results exported")
	return nil
}
