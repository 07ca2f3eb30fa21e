// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valpere/ScrapeMend/internal/browser"
	"github.com/valpere/ScrapeMend/internal/collector"
	"github.com/valpere/ScrapeMend/internal/delivery"
	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/output"
	"github.com/valpere/ScrapeMend/internal/pipeline"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. ${VAR} references are
// expanded from the environment before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}

	return LoadFromBytes(data)
}

// Default returns a configuration with every default applied and no template.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// SaveToFile saves configuration to a YAML file
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	if err := SaveToWriter(config, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveToWriter validates config and writes it as YAML.
func SaveToWriter(config *Config, writer io.Writer) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if writer == nil {
		return fmt.Errorf("writer cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}
	return enc.Close()
}

// ResolverOptions converts the resolver section into per-call options.
func (c *Config) ResolverOptions() (healer.Options, error) {
	opts := healer.DefaultOptions()
	if c.Resolver.MaxRetries > 0 {
		opts.MaxRetries = c.Resolver.MaxRetries
	}
	if c.Resolver.ConfidenceFloor != "" {
		floor, err := healer.ParseTier(c.Resolver.ConfidenceFloor)
		if err != nil {
			return opts, err
		}
		opts.Floor = floor
	}
	if c.Resolver.UseFallback != nil {
		opts.UseFallback = *c.Resolver.UseFallback
	}
	if c.Resolver.Learn != nil {
		opts.Learn = *c.Resolver.Learn
	}
	if c.Resolver.RetryBackoff > 0 {
		opts.Backoff = c.Resolver.RetryBackoff
	}
	return opts, nil
}

// HealerConfig builds the resolver configuration, including its default
// options.
func (c *Config) HealerConfig() (healer.Config, error) {
	opts, err := c.ResolverOptions()
	if err != nil {
		return healer.Config{}, err
	}
	hc := healer.DefaultConfig()
	hc.Defaults = opts
	if c.Resolver.HistoryCapacity > 0 {
		hc.HistoryCapacity = c.Resolver.HistoryCapacity
	}
	if c.Resolver.MaxSnapshotBytes > 0 {
		hc.MaxSnapshotBytes = c.Resolver.MaxSnapshotBytes
	}
	if c.Resolver.StorageKey != "" {
		hc.StorageKey = c.Resolver.StorageKey
	}
	return hc, nil
}

// BrowserConfig returns the browser section or its defaults.
func (c *Config) BrowserConfig() browser.Config {
	if c.Browser == nil {
		return browser.DefaultConfig()
	}
	return *c.Browser
}

// GenerateTemplate returns a starter configuration. Known kinds are basic,
// ecommerce, news and feed; anything else yields basic.
func GenerateTemplate(kind string) Config {
	var config Config
	switch strings.ToLower(kind) {
	case "ecommerce":
		config.Template = organizer.Template{
			Name: "product",
			Fields: []organizer.FieldRequest{
				{Name: "title", Address: "h1.product-title", Transform: pipeline.TransformList{{Type: "trim"}}},
				{Name: "price", Address: ".price", Transform: pipeline.TransformList{{Type: "clean_price"}}},
				{Name: "image", Address: ".product-gallery img", Attribute: "src"},
				{Name: "features", Address: ".features li", List: true},
			},
		}
	case "news":
		config.Template = organizer.Template{
			Name: "article",
			Fields: []organizer.FieldRequest{
				{Name: "headline", Address: "article h1"},
				{Name: "author", Address: ".byline .author"},
				{Name: "published", Address: "time", Attribute: "datetime"},
				{Name: "body", Address: "article .content p", List: true},
			},
		}
	case "feed":
		config.Template = organizer.Template{
			Name:          "feed",
			Container:     ".feed-item",
			IdentityField: "link",
			Fields: []organizer.FieldRequest{
				{Name: "title", Address: ".title"},
				{Name: "link", Address: "a", Attribute: "href"},
				{Name: "summary", Address: ".summary"},
			},
		}
		config.Collector = collector.DefaultConfig()
		config.Output = output.Config{Format: output.FormatCSV, File: "feed.csv"}
	default:
		config.Template = organizer.Template{
			Name: "basic",
			Fields: []organizer.FieldRequest{
				{Name: "title", Address: "h1", Transform: pipeline.TransformList{{Type: "trim"}}},
				{Name: "description", Address: "meta[name=description]", Attribute: "content"},
			},
		}
	}
	applyDefaults(&config)
	return config
}

// applyDefaults applies default values to the configuration
func applyDefaults(config *Config) {
	r := &config.Resolver
	ropts := healer.DefaultOptions()
	if r.MaxRetries == 0 {
		r.MaxRetries = ropts.MaxRetries
	}
	if r.ConfidenceFloor == "" {
		r.ConfidenceFloor = ropts.Floor.String()
	}
	if r.UseFallback == nil {
		r.UseFallback = boolPtr(ropts.UseFallback)
	}
	if r.Learn == nil {
		r.Learn = boolPtr(ropts.Learn)
	}
	if r.RetryBackoff == 0 {
		r.RetryBackoff = ropts.Backoff
	}
	if r.HistoryCapacity == 0 {
		r.HistoryCapacity = healer.DefaultHistoryCapacity
	}
	if r.MaxSnapshotBytes == 0 {
		r.MaxSnapshotBytes = healer.DefaultMaxSnapshotBytes
	}

	cdef := collector.DefaultConfig()
	c := &config.Collector
	if c.MaxScrollCount == 0 {
		c.MaxScrollCount = cdef.MaxScrollCount
	}
	if c.MaxNoNewDataCount == 0 {
		c.MaxNoNewDataCount = cdef.MaxNoNewDataCount
	}
	if c.MaxConsecutiveFailedScrolls == 0 {
		c.MaxConsecutiveFailedScrolls = cdef.MaxConsecutiveFailedScrolls
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = cdef.SettleDelay
	}
	if c.BottomTolerance == 0 {
		c.BottomTolerance = cdef.BottomTolerance
	}
	if c.StableFingerprintIterations == 0 {
		c.StableFingerprintIterations = cdef.StableFingerprintIterations
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = cdef.EventBuffer
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = storage.DriverFile
	}
	if config.Storage.Driver == storage.DriverFile && config.Storage.Path == "" {
		config.Storage.Path = DefaultStoragePath
	}
	if config.Storage.Timeout == 0 {
		config.Storage.Timeout = 10 * time.Second
	}

	ddef := delivery.DefaultConfig()
	d := &config.Delivery
	if d.Source == "" {
		d.Source = ddef.Source
	}
	if d.Timeout == 0 {
		d.Timeout = ddef.Timeout
	}
	if d.RateLimit == 0 {
		d.RateLimit = ddef.RateLimit
	}
	if d.Burst == 0 {
		d.Burst = ddef.Burst
	}
	if d.Language == "" {
		d.Language = ddef.Language
	}
	if d.Retry.MaxRetries == 0 && d.Retry.BaseDelay == 0 {
		d.Retry = ddef.Retry
	}
	if d.Breaker.MaxFailures == 0 {
		d.Breaker = ddef.Breaker
	}

	if config.Browser != nil {
		bdef := browser.DefaultConfig()
		b := config.Browser
		if b.Timeout == 0 {
			b.Timeout = bdef.Timeout
		}
		if b.ViewportWidth == 0 {
			b.ViewportWidth = bdef.ViewportWidth
		}
		if b.ViewportHeight == 0 {
			b.ViewportHeight = bdef.ViewportHeight
		}
		if b.ScrollStep == 0 {
			b.ScrollStep = bdef.ScrollStep
		}
	}

	if config.Output.Format == "" {
		config.Output.Format = output.FormatJSON
	}

	tdef := telemetry.DefaultConfig()
	t := &config.Telemetry
	if t.Window == 0 {
		t.Window = tdef.Window
	}
	if t.AlertSuccessRate == 0 {
		t.AlertSuccessRate = tdef.AlertSuccessRate
	}
	if t.AlertMinSamples == 0 {
		t.AlertMinSamples = tdef.AlertMinSamples
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}
