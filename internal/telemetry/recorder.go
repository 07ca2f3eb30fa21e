// Package telemetry times extraction, healing, collection and delivery
// operations, keeps rolling success statistics per operation kind and raises
// alerts when a kind's success rate degrades.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valpere/ScrapeMend/internal/utils"
)

// Kind groups operations for statistics.
type Kind string

const (
	KindExtract Kind = "extract"
	KindResolve Kind = "resolve"
	KindHeal    Kind = "heal"
	KindCollect Kind = "collect"
	KindDeliver Kind = "deliver"
	KindAnalyze Kind = "analyze"
)

// Config tunes the rolling window and alerting.
type Config struct {
	Window           int           `yaml:"window" json:"window"`
	AlertSuccessRate float64       `yaml:"alert_success_rate" json:"alert_success_rate"`
	AlertMinSamples  int           `yaml:"alert_min_samples" json:"alert_min_samples"`
	Metrics          MetricsConfig `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{Window: 100, AlertSuccessRate: 0.8, AlertMinSamples: 10}
}

// Sample is one finished operation.
type Sample struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// Stats summarizes the rolling window of one kind.
type Stats struct {
	Kind         Kind          `json:"kind"`
	Count        int           `json:"count"`
	Total        int64         `json:"total"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Alerting     bool          `json:"alerting"`
}

// Alert is raised when a kind's windowed success rate falls below the
// configured threshold.
type Alert struct {
	Kind        Kind      `json:"kind"`
	SuccessRate float64   `json:"success_rate"`
	Samples     int       `json:"samples"`
	Threshold   float64   `json:"threshold"`
	At          time.Time `json:"at"`
}

type window struct {
	samples []Sample
	next    int
	full    bool
	total   int64
	alert   bool
	lastErr string
}

func (w *window) add(s Sample) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.total++
	if s.Error != "" {
		w.lastErr = s.Error
	}
}

func (w *window) each(fn func(Sample)) {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	for i := 0; i < n; i++ {
		fn(w.samples[i])
	}
}

// Recorder is safe for concurrent use. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	mu      sync.Mutex
	config  Config
	windows map[Kind]*window
	metrics *Metrics
	logger  utils.Logger
	onAlert []func(Alert)
	now     func() time.Time
}

// NewRecorder creates a recorder; zero config fields take defaults.
func NewRecorder(config Config, logger utils.Logger) *Recorder {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.AlertSuccessRate <= 0 {
		config.AlertSuccessRate = def.AlertSuccessRate
	}
	if config.AlertMinSamples <= 0 {
		config.AlertMinSamples = def.AlertMinSamples
	}
	return &Recorder{
		config:  config,
		windows: make(map[Kind]*window),
		metrics: NewMetrics(config.Metrics),
		logger:  utils.OrNop(logger),
		now:     time.Now,
	}
}

// OnAlert registers a callback invoked, outside the recorder lock, whenever an
// alert fires.
func (r *Recorder) OnAlert(fn func(Alert)) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.onAlert = append(r.onAlert, fn)
	r.mu.Unlock()
}

// Operation is an in-flight timed operation.
type Operation struct {
	ID    string
	Kind  Kind
	Name  string
	Start time.Time

	rec  *Recorder
	once sync.Once
}

// Begin starts timing an operation.
func (r *Recorder) Begin(kind Kind, name string) *Operation {
	if r == nil {
		return nil
	}
	r.metrics.begin(kind)
	return &Operation{
		ID:    uuid.NewString(),
		Kind:  kind,
		Name:  name,
		Start: r.now(),
		rec:   r,
	}
}

// End finishes the operation. Only the first call has an effect.
func (o *Operation) End(success bool, err error) {
	if o == nil {
		return
	}
	o.once.Do(func() {
		s := Sample{
			ID:      o.ID,
			Kind:    o.Kind,
			Name:    o.Name,
			Start:   o.Start,
			End:     o.rec.now(),
			Success: success,
		}
		s.Duration = s.End.Sub(s.Start)
		if err != nil {
			s.Error = err.Error()
		}
		o.rec.record(s)
	})
}

func (r *Recorder) record(s Sample) {
	r.metrics.end(s.Kind, s.Success, s.Duration)

	r.mu.Lock()
	w, ok := r.windows[s.Kind]
	if !ok {
		w = &window{samples: make([]Sample, r.config.Window)}
		r.windows[s.Kind] = w
	}
	w.add(s)
	stats := r.statsLocked(s.Kind, w)

	var fired *Alert
	switch {
	case stats.Count >= r.config.AlertMinSamples && stats.SuccessRate < r.config.AlertSuccessRate:
		if !w.alert {
			w.alert = true
			fired = &Alert{
				Kind:        s.Kind,
				SuccessRate: stats.SuccessRate,
				Samples:     stats.Count,
				Threshold:   r.config.AlertSuccessRate,
				At:          s.End,
			}
		}
	case stats.SuccessRate >= r.config.AlertSuccessRate:
		w.alert = false
	}
	callbacks := append([]func(Alert){}, r.onAlert...)
	r.mu.Unlock()

	if fired == nil {
		return
	}
	r.metrics.alertsTotal.WithLabelValues(string(fired.Kind)).Inc()
	r.logger.WithFields(map[string]interface{}{
		"kind":         fired.Kind,
		"success_rate": fired.SuccessRate,
		"samples":      fired.Samples,
		"threshold":    fired.Threshold,
	}).Warn("success rate below threshold")
	for _, fn := range callbacks {
		fn(*fired)
	}
}

// Stats returns the rolling statistics for kind.
func (r *Recorder) Stats(kind Kind) Stats {
	if r == nil {
		return Stats{Kind: kind}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[kind]
	if !ok {
		return Stats{Kind: kind}
	}
	return r.statsLocked(kind, w)
}

// AllStats returns statistics for every kind seen so far.
func (r *Recorder) AllStats() map[Kind]Stats {
	out := make(map[Kind]Stats)
	if r == nil {
		return out
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, w := range r.windows {
		out[kind] = r.statsLocked(kind, w)
	}
	return out
}

func (r *Recorder) statsLocked(kind Kind, w *window) Stats {
	st := Stats{Kind: kind, Total: w.total, LastError: w.lastErr, Alerting: w.alert}
	var sum time.Duration
	w.each(func(s Sample) {
		st.Count++
		sum += s.Duration
		if s.Success {
			st.Successes++
		} else {
			st.Failures++
		}
	})
	if st.Count > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Count)
		st.MeanDuration = sum / time.Duration(st.Count)
	}
	return st
}

// RecordStrategy counts a successful resolution by strategy name.
func (r *Recorder) RecordStrategy(strategy string) {
	if r == nil {
		return
	}
	r.metrics.healStrategy.WithLabelValues(strategy).Inc()
}

// RecordItems counts items emitted by a collection session.
func (r *Recorder) RecordItems(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.metrics.collectorItems.Add(float64(n))
}

// Metrics returns the Prometheus collectors backing r.
func (r *Recorder) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// Handler serves the recorder's metrics in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return r.metrics.Handler()
}
