// pkg/api/api.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/valpere/ScrapeMend/internal/analyzer"
	"github.com/valpere/ScrapeMend/internal/classifier"
	"github.com/valpere/ScrapeMend/internal/collector"
	"github.com/valpere/ScrapeMend/internal/config"
	"github.com/valpere/ScrapeMend/internal/delivery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/output"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

// Re-export types from internal packages for public API
type (
	Config       = config.Config
	Document     = dom.Document
	Page         = dom.Page
	FieldRequest = organizer.FieldRequest
	Template     = organizer.Template
	Result       = organizer.Result
	Item         = organizer.Item
	Analysis     = analyzer.Analysis
	Viewport     = collector.Viewport
	Event        = collector.Event
	Summary      = collector.Summary
	Response     = delivery.Response
	Snapshot     = healer.Snapshot
	MemoryStats  = healer.Stats
	Stats        = telemetry.Stats
)

var ErrNoTemplate = errors.New("configuration has no template fields")

// Client bundles the resolver, organizer, analyzer, collector and delivery
// client built from one configuration. It is safe for concurrent use except
// that only one collection session may run at a time.
type Client struct {
	config    *config.Config
	logger    utils.Logger
	recorder  *telemetry.Recorder
	store     storage.Store
	ownsStore bool
	resolver  *healer.Resolver
	organizer *organizer.Organizer
	analyzer  *analyzer.Analyzer
	collector *collector.Collector
	delivery  *delivery.Client
	startedAt time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger replaces the logger built from the log section.
func WithLogger(l utils.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStore replaces the store opened from the storage section. The caller
// keeps ownership.
func WithStore(s storage.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithRecorder shares a telemetry recorder between clients.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New builds a client. A nil cfg uses the defaults.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{config: cfg, startedAt: time.Now()}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		l, err := utils.NewLoggerWithConfig(cfg.Log)
		if err != nil {
			return nil, utils.WrapError(err, utils.ErrCodeInvalidConfig, "failed to build logger")
		}
		c.logger = l
	}
	if c.recorder == nil {
		c.recorder = telemetry.NewRecorder(cfg.Telemetry, c.logger)
	}
	if c.store == nil {
		s, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, utils.WrapError(err, utils.ErrCodeStorageFailed, "failed to open storage")
		}
		c.store = s
		c.ownsStore = true
	}

	hc, err := cfg.HealerConfig()
	if err != nil {
		c.Close()
		return nil, utils.WrapError(err, utils.ErrCodeInvalidConfig, "invalid resolver configuration")
	}
	c.resolver = healer.NewResolver(hc, c.store, c.recorder, c.logger)
	c.organizer = organizer.New(c.resolver, hc.Defaults, c.recorder, c.logger)
	c.analyzer = analyzer.New(classifier.New(), cfg.Analyzer, c.recorder, c.logger)
	c.collector = collector.New(c.organizer, cfg.Collector, c.recorder, c.logger)
	c.delivery = delivery.NewClient(cfg.Delivery, c.recorder, c.logger)

	return c, nil
}

// ParseHTML parses a rendered document.
func ParseHTML(r io.Reader) (*dom.Page, error) {
	return dom.NewPageFromReader(r)
}

// Config returns the client's configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Extract resolves every field of the configured template against doc.
func (c *Client) Extract(ctx context.Context, doc dom.Document) (*organizer.Result, error) {
	if len(c.config.Template.Fields) == 0 {
		return nil, ErrNoTemplate
	}
	return c.organizer.Extract(ctx, doc, c.config.Template.Fields)
}

// ExtractFields resolves ad hoc requests against doc.
func (c *Client) ExtractFields(ctx context.Context, doc dom.Document, requests []organizer.FieldRequest) (*organizer.Result, error) {
	return c.organizer.Extract(ctx, doc, requests)
}

// ExtractRows extracts one item per template row.
func (c *Client) ExtractRows(ctx context.Context, doc dom.Document) ([]organizer.Item, error) {
	if len(c.config.Template.Fields) == 0 {
		return nil, ErrNoTemplate
	}
	return c.organizer.ExtractRows(ctx, doc, c.config.Template)
}

// Analyze describes doc without a template.
func (c *Client) Analyze(doc dom.Document) *analyzer.Analysis {
	return c.analyzer.Analyze(doc)
}

// Collect runs an incremental collection over vp with the configured
// template. emit may be nil.
func (c *Client) Collect(ctx context.Context, vp collector.Viewport, emit func(collector.Event)) (*collector.Summary, error) {
	if len(c.config.Template.Fields) == 0 {
		return nil, ErrNoTemplate
	}
	return c.collector.Run(ctx, vp, c.config.Template, emit)
}

// StartCollect runs a collection in the background.
func (c *Client) StartCollect(ctx context.Context, vp collector.Viewport) (<-chan collector.Event, error) {
	if len(c.config.Template.Fields) == 0 {
		return nil, ErrNoTemplate
	}
	return c.collector.Start(ctx, vp, c.config.Template)
}

// StopCollect asks a running collection to finish.
func (c *Client) StopCollect() {
	c.collector.Stop()
}

// Deliver sends data to the configured endpoint with the client's telemetry
// as statistics.
func (c *Client) Deliver(ctx context.Context, data interface{}) (*delivery.Response, error) {
	env := c.delivery.NewEnvelope(c.startedAt, c.recorder.AllStats(), data)
	return c.delivery.Send(ctx, env)
}

// DeliveryState reports the endpoint's circuit breaker state ("closed",
// "open" or "half_open").
func (c *Client) DeliveryState() string {
	return c.delivery.Breaker().String()
}

// Export writes results to the configured output file, or to w when no
// file is configured.
func (c *Client) Export(w io.Writer, data interface{}) error {
	records, err := output.Flatten(data)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeOutputFailed, "failed to flatten results")
	}
	m, err := output.NewManager(c.config.Output, c.logger)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeInvalidConfig, "invalid output configuration")
	}
	if c.config.Output.File == "" {
		if w == nil {
			return output.ErrNoFile
		}
		return m.WriteTo(w, records)
	}
	return m.Export(records)
}

// Memory returns a copy of the healing memory.
func (c *Client) Memory() healer.Snapshot {
	return c.resolver.Snapshot()
}

// MemoryStats summarizes the healing memory.
func (c *Client) MemoryStats() healer.Stats {
	return c.resolver.Stats()
}

// Forget drops what the resolver remembers about address.
func (c *Client) Forget(ctx context.Context, address string) bool {
	return c.resolver.Forget(ctx, address)
}

// ResetMemory clears the healing memory.
func (c *Client) ResetMemory(ctx context.Context) {
	c.resolver.Reset(ctx)
}

// Telemetry returns the client's recorder.
func (c *Client) Telemetry() *telemetry.Recorder {
	return c.recorder
}

// Close releases the store when the client opened it.
func (c *Client) Close() error {
	var errs []error
	if c.ownsStore && c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return errors.Join(errs...)
}
