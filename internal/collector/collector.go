// Package collector runs incremental collection over documents that load
// more content as they are scrolled. Each session is an explicit state
// machine: extract, emit the delta, check stop conditions, scroll, settle.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

var (
	ErrSessionActive = errors.New("a collection session is already active")
	ErrNilViewport   = errors.New("viewport cannot be nil")
)

// ScrollMetrics describe the scroll position of a viewport, in pixels.
type ScrollMetrics struct {
	Position       float64 `json:"position"`
	ViewportHeight float64 `json:"viewport_height"`
	ContentHeight  float64 `json:"content_height"`
}

// AtBottom reports whether the view is within tolerance of the content end.
func (m ScrollMetrics) AtBottom(tolerance float64) bool {
	return m.Position+m.ViewportHeight >= m.ContentHeight-tolerance
}

// Viewport is a live document that can be read and scrolled.
type Viewport interface {
	Snapshot(ctx context.Context) (*dom.Page, error)
	Metrics(ctx context.Context) (ScrollMetrics, error)
	ScrollMore(ctx context.Context) error
}

// Config holds the stop thresholds and pacing of a session.
type Config struct {
	MaxScrollCount              int           `yaml:"max_scroll_count" json:"max_scroll_count"`
	MaxNoNewDataCount           int           `yaml:"max_no_new_data_count" json:"max_no_new_data_count"`
	MaxConsecutiveFailedScrolls int           `yaml:"max_consecutive_failed_scrolls" json:"max_consecutive_failed_scrolls"`
	SettleDelay                 time.Duration `yaml:"settle_delay" json:"settle_delay"`
	BottomTolerance             float64       `yaml:"bottom_tolerance" json:"bottom_tolerance"`
	StableFingerprintIterations int           `yaml:"stable_fingerprint_iterations" json:"stable_fingerprint_iterations"`
	EventBuffer                 int           `yaml:"event_buffer" json:"event_buffer"`
}

// DefaultConfig returns conservative thresholds.
func DefaultConfig() Config {
	return Config{
		MaxScrollCount:              50,
		MaxNoNewDataCount:           5,
		MaxConsecutiveFailedScrolls: 3,
		SettleDelay:                 1500 * time.Millisecond,
		BottomTolerance:             100,
		StableFingerprintIterations: 3,
		EventBuffer:                 16,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxScrollCount <= 0 {
		c.MaxScrollCount = def.MaxScrollCount
	}
	if c.MaxNoNewDataCount <= 0 {
		c.MaxNoNewDataCount = def.MaxNoNewDataCount
	}
	if c.MaxConsecutiveFailedScrolls <= 0 {
		c.MaxConsecutiveFailedScrolls = def.MaxConsecutiveFailedScrolls
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.BottomTolerance < 0 {
		c.BottomTolerance = 0
	}
	if c.StableFingerprintIterations <= 0 {
		c.StableFingerprintIterations = def.StableFingerprintIterations
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// State is the session state.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateConverged  State = "converged"
	StateAborted    State = "aborted"
)

// StopReason names the condition that ended a session.
type StopReason string

const (
	ReasonMaxScrolls        StopReason = "max_scrolls"
	ReasonNoNewDataAtBottom StopReason = "no_new_data_at_bottom"
	ReasonFailedScrolls     StopReason = "failed_scrolls"
	ReasonStaticExtent      StopReason = "static_extent"
	ReasonStableFingerprint StopReason = "stable_fingerprint"
	ReasonCancelled         StopReason = "cancelled"
	ReasonViewportError     StopReason = "viewport_error"
)

// EventType distinguishes per-iteration deltas from the final event.
type EventType string

const (
	EventDelta EventType = "delta"
	EventFinal EventType = "final"
)

// Event is emitted after every iteration and once at the end of a session.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id"`
	Iteration int              `json:"iteration"`
	State     State            `json:"state"`
	Reason    StopReason       `json:"reason,omitempty"`
	NewItems  []organizer.Item `json:"new_items,omitempty"`
	AllItems  []organizer.Item `json:"all_items,omitempty"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID   string           `json:"session_id"`
	State       State            `json:"state"`
	Reason      StopReason       `json:"reason"`
	Iterations  int              `json:"iterations"`
	ScrollCount int              `json:"scroll_count"`
	ItemCount   int              `json:"item_count"`
	Duration    time.Duration    `json:"duration"`
	Error       string           `json:"error,omitempty"`
	Items       []organizer.Item `json:"items,omitempty"`
}

// Collector runs one session at a time.
type Collector struct {
	organizer *organizer.Organizer
	config    Config
	recorder  *telemetry.Recorder
	logger    utils.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a collector extracting items through org.
func New(org *organizer.Organizer, config Config, recorder *telemetry.Recorder, logger utils.Logger) *Collector {
	return &Collector{
		organizer: org,
		config:    config.withDefaults(),
		recorder:  recorder,
		logger:    utils.OrNop(logger).WithField("component", "collector"),
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Active reports whether a session is running.
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stop asks the running session, if any, to abort after its current step.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Collector) acquire(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil, ErrSessionActive
	}
	ctx, cancel := context.WithCancel(ctx)
	c.active = true
	c.cancel = cancel
	return ctx, nil
}

func (c *Collector) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.active = false
	c.cancel = nil
}

// Run collects synchronously until a stop condition trips or ctx is
// cancelled. emit, which may be nil, receives every event including the
// final one. A viewport failure aborts the session and is returned along
// with the partial summary.
func (c *Collector) Run(ctx context.Context, vp Viewport, tmpl organizer.Template, emit func(Event)) (*Summary, error) {
	if err := c.check(vp, tmpl); err != nil {
		return nil, err
	}
	ctx, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release()
	return c.run(ctx, vp, tmpl, emit)
}

// Start runs a session in a goroutine. The returned channel carries every
// event and is closed after the final one. Once the session is stopped,
// events that do not fit the buffer are dropped.
func (c *Collector) Start(ctx context.Context, vp Viewport, tmpl organizer.Template) (<-chan Event, error) {
	if err := c.check(vp, tmpl); err != nil {
		return nil, err
	}
	ctx, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	events := make(chan Event, c.config.EventBuffer)
	go func() {
		defer close(events)
		defer c.release()
		_, _ = c.run(ctx, vp, tmpl, func(e Event) { send(ctx, events, e) })
	}()
	return events, nil
}

// send delivers e unless the buffer is full and the session is over; a
// consumer that stops reading cannot keep the session alive.
func send(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
		return
	default:
	}
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

func (c *Collector) check(vp Viewport, tmpl organizer.Template) error {
	if vp == nil {
		return ErrNilViewport
	}
	return tmpl.Validate()
}

// session is the mutable state of one run.
type session struct {
	id          string
	iteration   int
	scrollCount int
	noNew       int
	failed      int
	stable      int
	fingerprint int
	prev        *ScrollMetrics
	seen        map[string]bool
	items       []organizer.Item
}

func (c *Collector) run(ctx context.Context, vp Viewport, tmpl organizer.Template, emit func(Event)) (*Summary, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	s := &session{id: uuid.NewString(), seen: make(map[string]bool), fingerprint: -1}
	started := c.now()
	log := c.logger.WithFields(map[string]interface{}{"session": s.id, "template": tmpl.Name})
	op := c.recorder.Begin(telemetry.KindCollect, tmpl.Name)

	finish := func(state State, reason StopReason, cause error) (*Summary, error) {
		sum := &Summary{
			SessionID:   s.id,
			State:       state,
			Reason:      reason,
			Iterations:  s.iteration,
			ScrollCount: s.scrollCount,
			ItemCount:   len(s.items),
			Duration:    c.now().Sub(started),
			Items:       s.items,
		}
		if cause != nil {
			sum.Error = cause.Error()
		}
		emit(Event{
			Type:      EventFinal,
			SessionID: s.id,
			Iteration: s.iteration,
			State:     state,
			Reason:    reason,
			AllItems:  s.items,
		})
		op.End(state == StateConverged, cause)
		log.WithFields(map[string]interface{}{
			"state":      string(state),
			"reason":     string(reason),
			"iterations": s.iteration,
			"items":      len(s.items),
		}).Info("collection finished")
		return sum, cause
	}

	for {
		if ctx.Err() != nil {
			return finish(StateAborted, ReasonCancelled, nil)
		}
		s.iteration++

		page, err := vp.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateAborted, ReasonCancelled, nil)
			}
			return finish(StateAborted, ReasonViewportError, fmt.Errorf("snapshot: %w", err))
		}

		fresh, err := c.collect(ctx, page, tmpl, s)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateAborted, ReasonCancelled, nil)
			}
			return finish(StateAborted, ReasonViewportError, err)
		}
		emit(Event{
			Type:      EventDelta,
			SessionID: s.id,
			Iteration: s.iteration,
			State:     StateCollecting,
			NewItems:  fresh,
		})
		c.recorder.RecordItems(len(fresh))

		if len(fresh) == 0 {
			s.noNew++
		} else {
			s.noNew = 0
		}
		if fp := page.Len(); fp == s.fingerprint {
			s.stable++
		} else {
			s.fingerprint = fp
			s.stable = 0
		}

		m, err := vp.Metrics(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateAborted, ReasonCancelled, nil)
			}
			return finish(StateAborted, ReasonViewportError, fmt.Errorf("metrics: %w", err))
		}

		log.WithFields(map[string]interface{}{
			"iteration": s.iteration,
			"new":       len(fresh),
			"total":     len(s.items),
			"no_new":    s.noNew,
			"position":  m.Position,
			"extent":    m.ContentHeight,
		}).Debug("collection iteration")

		if reason, stop := c.shouldStop(s, m); stop {
			return finish(StateConverged, reason, nil)
		}
		s.prev = &m

		if err := vp.ScrollMore(ctx); err != nil {
			if ctx.Err() != nil {
				return finish(StateAborted, ReasonCancelled, nil)
			}
			log.Warnf("scroll failed: %v", err)
		}
		s.scrollCount++

		if err := c.sleep(ctx, c.config.SettleDelay); err != nil {
			return finish(StateAborted, ReasonCancelled, nil)
		}

		after, err := vp.Metrics(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateAborted, ReasonCancelled, nil)
			}
			return finish(StateAborted, ReasonViewportError, fmt.Errorf("metrics: %w", err))
		}
		if after.Position == m.Position {
			s.failed++
		} else {
			s.failed = 0
		}
	}
}

// collect extracts the page's items and keeps the ones not seen before. A
// template whose addresses match nothing yet yields no items rather than an
// error, since content may still be loading.
func (c *Collector) collect(ctx context.Context, page *dom.Page, tmpl organizer.Template, s *session) ([]organizer.Item, error) {
	items, err := c.organizer.ExtractRows(ctx, page, tmpl)
	if err != nil {
		var rerr *healer.ResolutionError
		if errors.As(err, &rerr) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	var fresh []organizer.Item
	for _, item := range items {
		if s.seen[item.Key] {
			continue
		}
		s.seen[item.Key] = true
		fresh = append(fresh, item)
	}
	s.items = append(s.items, fresh...)
	return fresh, nil
}

// shouldStop evaluates the stop conditions in order.
func (c *Collector) shouldStop(s *session, m ScrollMetrics) (StopReason, bool) {
	cfg := c.config
	switch {
	case s.iteration >= cfg.MaxScrollCount:
		return ReasonMaxScrolls, true
	case s.noNew >= cfg.MaxNoNewDataCount && m.AtBottom(cfg.BottomTolerance):
		return ReasonNoNewDataAtBottom, true
	case s.failed >= cfg.MaxConsecutiveFailedScrolls:
		return ReasonFailedScrolls, true
	case s.prev != nil && s.prev.ContentHeight == m.ContentHeight && s.prev.Position == m.Position && s.noNew > 2:
		return ReasonStaticExtent, true
	case s.stable >= cfg.StableFingerprintIterations && s.noNew > 3:
		return ReasonStableFingerprint, true
	}
	return "", false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
