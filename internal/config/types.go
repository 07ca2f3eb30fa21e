// internal/config/types.go
package config

import (
	"time"

	"github.com/valpere/ScrapeMend/internal/analyzer"
	"github.com/valpere/ScrapeMend/internal/browser"
	"github.com/valpere/ScrapeMend/internal/collector"
	"github.com/valpere/ScrapeMend/internal/delivery"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/output"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

// Config is the top-level ScrapeMend configuration file.
type Config struct {
	Resolver  ResolverConfig     `yaml:"resolver" json:"resolver"`
	Template  organizer.Template `yaml:"template" json:"template"`
	Collector collector.Config   `yaml:"collector" json:"collector"`
	Analyzer  analyzer.Limits    `yaml:"analyzer,omitempty" json:"analyzer,omitempty"`
	Storage   storage.Config     `yaml:"storage" json:"storage"`
	Delivery  delivery.Config    `yaml:"delivery" json:"delivery"`
	Browser   *browser.Config    `yaml:"browser,omitempty" json:"browser,omitempty"`
	Output    output.Config      `yaml:"output" json:"output"`
	Telemetry telemetry.Config   `yaml:"telemetry" json:"telemetry"`
	Log       utils.LoggerConfig `yaml:"log" json:"log"`
}

// ResolverConfig configures address resolution and the healing memory.
// UseFallback and Learn are pointers so an explicit false survives defaults.
type ResolverConfig struct {
	MaxRetries       int           `yaml:"max_retries" json:"max_retries"`
	ConfidenceFloor  string        `yaml:"confidence_floor" json:"confidence_floor"`
	UseFallback      *bool         `yaml:"use_fallback,omitempty" json:"use_fallback,omitempty"`
	Learn            *bool         `yaml:"learn,omitempty" json:"learn,omitempty"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	HistoryCapacity  int           `yaml:"history_capacity" json:"history_capacity"`
	MaxSnapshotBytes int           `yaml:"max_snapshot_bytes" json:"max_snapshot_bytes"`
	StorageKey       string        `yaml:"storage_key,omitempty" json:"storage_key,omitempty"`
}

// Default storage location for the file driver.
const DefaultStoragePath = ".scrapemend"

func boolPtr(b bool) *bool {
	return &b
}
