// Package healer resolves addresses against a document and, when an address
// stops matching, heals it with a fixed sequence of recovery strategies backed
// by a bounded memory of earlier successful resolutions.
package healer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

// DefaultStorageKey is where the memory snapshot is persisted.
const DefaultStorageKey = "scrapemend.memory"

// DefaultMaxSnapshotBytes is the largest snapshot the resolver will persist.
const DefaultMaxSnapshotBytes = 2 << 20

// Config configures a Resolver.
type Config struct {
	HistoryCapacity  int
	MaxSnapshotBytes int
	StorageKey       string
	StorageTimeout   time.Duration
	Defaults         Options
}

// DefaultConfig returns the defaults applied to zero fields.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity:  DefaultHistoryCapacity,
		MaxSnapshotBytes: DefaultMaxSnapshotBytes,
		StorageKey:       DefaultStorageKey,
		StorageTimeout:   5 * time.Second,
		Defaults:         DefaultOptions(),
	}
}

// Stats describes the resolver's memory and its successes by strategy.
type Stats struct {
	HistorySize  int              `json:"history_size"`
	LearnedCount int              `json:"learned_count"`
	Successes    map[string]int64 `json:"successes"`
	Failures     int64            `json:"failures"`
}

// Resolver is safe for concurrent use. Memory writes and persistence are
// serialized.
type Resolver struct {
	config   Config
	store    storage.Store
	recorder *telemetry.Recorder
	logger   utils.Logger

	mu        sync.Mutex
	memory    *Memory
	successes map[Strategy]int64
	failures  int64

	persistMu sync.Mutex
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewResolver builds a resolver and loads any memory snapshot from store.
// store, recorder and logger may be nil.
func NewResolver(config Config, store storage.Store, recorder *telemetry.Recorder, logger utils.Logger) *Resolver {
	def := DefaultConfig()
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = def.HistoryCapacity
	}
	if config.MaxSnapshotBytes <= 0 {
		config.MaxSnapshotBytes = def.MaxSnapshotBytes
	}
	if config.StorageKey == "" {
		config.StorageKey = def.StorageKey
	}
	if config.StorageTimeout <= 0 {
		config.StorageTimeout = def.StorageTimeout
	}
	if config.Defaults == (Options{}) {
		config.Defaults = def.Defaults
	}

	r := &Resolver{
		config:    config,
		store:     store,
		recorder:  recorder,
		logger:    utils.OrNop(logger).WithField("component", "healer"),
		memory:    NewMemory(config.HistoryCapacity),
		successes: make(map[Strategy]int64),
		sleep:     sleepContext,
		now:       time.Now,
	}
	r.load()
	return r
}

// Defaults returns the options used when callers have no preference.
func (r *Resolver) Defaults() Options {
	return r.config.Defaults
}

// Resolve finds one node for address.
func (r *Resolver) Resolve(ctx context.Context, doc dom.Document, address string, opts Options) (*ResolvedNode, error) {
	return r.resolve(ctx, doc, address, opts, false)
}

// ResolveAll finds every node for address. Healed addresses that identify a
// single element return that element alone.
func (r *Resolver) ResolveAll(ctx context.Context, doc dom.Document, address string, opts Options) (*ResolvedNode, error) {
	return r.resolve(ctx, doc, address, opts, true)
}

func (r *Resolver) resolve(ctx context.Context, doc dom.Document, address string, opts Options, all bool) (node *ResolvedNode, err error) {
	if doc == nil {
		return nil, &ResolutionError{Address: address, LastErr: ErrNilDocument}
	}
	if address == "" {
		return nil, &ResolutionError{Address: address, LastErr: ErrEmptyAddress}
	}
	opts = opts.normalized()

	op := r.recorder.Begin(telemetry.KindResolve, address)
	defer func() { op.End(err == nil, err) }()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		sel, qerr := doc.Query(address)
		if qerr == nil && sel.Length() > 0 {
			if !all {
				sel = sel.First()
			}
			node = &ResolvedNode{
				Selection:  sel,
				Requested:  address,
				Address:    address,
				Confidence: 1,
				Strategy:   StrategyDirect,
				Attempts:   attempt,
			}
			r.commit(ctx, node, opts)
			return node, nil
		}
		lastErr = qerr
		if lastErr == nil {
			lastErr = ErrNoMatch
		}
		r.logger.WithFields(map[string]interface{}{
			"address": address,
			"attempt": attempt,
		}).Debugf("direct query missed: %v", lastErr)

		if opts.UseFallback {
			hop := r.recorder.Begin(telemetry.KindHeal, address)
			c, strategy, ok := r.heal(doc, address, opts)
			hop.End(ok, nil)
			if ok {
				sel := c.sel
				if !all {
					sel = sel.First()
				}
				node = &ResolvedNode{
					Selection:  sel,
					Requested:  address,
					Address:    c.address,
					Confidence: c.confidence,
					Strategy:   strategy,
					Attempts:   attempt,
				}
				r.logger.WithFields(map[string]interface{}{
					"address":    address,
					"healed":     c.address,
					"strategy":   strategy.String(),
					"confidence": c.confidence,
				}).Info("address healed")
				r.commit(ctx, node, opts)
				return node, nil
			}
		}

		if attempt < opts.MaxRetries {
			if serr := r.sleep(ctx, opts.Backoff*time.Duration(attempt)); serr != nil {
				lastErr = serr
				r.recordFailure()
				return nil, &ResolutionError{Address: address, Attempts: attempt, LastErr: lastErr}
			}
		}
	}

	r.recordFailure()
	return nil, &ResolutionError{Address: address, Attempts: opts.MaxRetries, LastErr: lastErr}
}

// Heal runs the history check, learned mappings and the healing strategies
// once, without a direct query.
func (r *Resolver) Heal(doc dom.Document, address string, opts Options) (*ResolvedNode, bool) {
	if doc == nil || address == "" {
		return nil, false
	}
	c, strategy, ok := r.heal(doc, address, opts)
	if !ok {
		return nil, false
	}
	return &ResolvedNode{
		Selection:  c.sel.First(),
		Requested:  address,
		Address:    c.address,
		Confidence: c.confidence,
		Strategy:   strategy,
		Attempts:   1,
	}, true
}

func (r *Resolver) heal(doc dom.Document, address string, opts Options) (candidate, Strategy, bool) {
	r.mu.Lock()
	record, hasRecord := r.memory.Get(address)
	learned, hasLearned := r.memory.Learned(address)
	history := make(map[string]HistoryRecord, r.memory.Len())
	for _, key := range r.memory.Keys() {
		rec, _ := r.memory.Get(key)
		history[key] = rec
	}
	r.mu.Unlock()

	a := &attempt{doc: doc, address: address, history: history, floor: opts.floor()}
	if hasRecord {
		a.record = &record
		if record.Address != address && record.Confidence >= a.floor {
			if sel, ok := a.probe(record.Address); ok {
				return candidate{sel: sel, address: record.Address, confidence: record.Confidence}, StrategyHistory, true
			}
		}
	}
	if hasLearned && learned.Confidence >= a.floor {
		if sel, ok := a.probe(learned.NewAddress); ok {
			return candidate{sel: sel, address: learned.NewAddress, confidence: learned.Confidence}, StrategyLearned, true
		}
	}

	for _, strategy := range healingOrder {
		if c, ok := strategy.try(a); ok {
			return c, strategy, true
		}
	}
	return candidate{}, 0, false
}

// commit records history and learned mappings for a successful resolution
// and persists the memory.
func (r *Resolver) commit(ctx context.Context, node *ResolvedNode, opts Options) {
	rec := r.snapshot(node)

	r.mu.Lock()
	r.memory.Put(rec)
	if opts.Learn && node.Strategy.Healed() && node.Address != node.Requested {
		r.memory.Learn(node.Requested, LearnedMapping{
			NewAddress: node.Address,
			Confidence: node.Confidence,
			Timestamp:  rec.Timestamp,
		})
	}
	r.successes[node.Strategy]++
	r.mu.Unlock()

	r.recorder.RecordStrategy(node.Strategy.String())
	r.persist(ctx)
}

func (r *Resolver) snapshot(node *ResolvedNode) HistoryRecord {
	first := node.Selection.First()
	rec := HistoryRecord{
		Key:          node.Requested,
		Address:      node.Address,
		Text:         dom.Truncate(dom.Text(first), MaxCapturedText),
		SiblingIndex: dom.SiblingIndex(first),
		TagName:      dom.TagName(first),
		Attributes:   dom.Attributes(first),
		ChildCount:   first.Children().Length(),
		Confidence:   node.Confidence,
		Timestamp:    r.now(),
	}
	if parent := first.Parent(); parent.Length() > 0 && goquery.NodeName(parent) != "#document" {
		rec.ParentAddress = dom.AddressOf(parent)
	}
	return rec
}

func (r *Resolver) recordFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

// persist writes the memory snapshot. Failures are logged and ignored; the
// in-memory state stays authoritative.
func (r *Resolver) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	data, err := r.memory.MarshalSnapshot(r.config.MaxSnapshotBytes)
	r.mu.Unlock()
	if err != nil {
		r.logger.Warnf("memory not persisted: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.StorageTimeout)
	defer cancel()
	if err := r.store.Set(ctx, r.config.StorageKey, data); err != nil {
		r.logger.Warn(utils.WrapError(err, utils.ErrCodeStorageFailed, "failed to persist memory").Error())
	}
}

func (r *Resolver) load() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.StorageTimeout)
	defer cancel()

	data, err := r.store.Get(ctx, r.config.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn(utils.WrapError(err, utils.ErrCodeStorageFailed, "failed to load memory").Error())
		return
	}
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		r.logger.Warnf("ignoring stored memory: %v", err)
		return
	}

	r.mu.Lock()
	r.memory.Restore(snap)
	size, learned := r.memory.Len(), r.memory.LearnedCount()
	r.mu.Unlock()
	r.logger.Debugf("loaded memory: %d records, %d learned mappings", size, learned)
}

// Record returns the history record stored for address.
func (r *Resolver) Record(address string) (HistoryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memory.Get(address)
}

// Learned returns the learned mapping stored for address.
func (r *Resolver) Learned(address string) (LearnedMapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memory.Learned(address)
}

// Snapshot returns a copy of the resolver memory.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memory.Snapshot()
}

// Stats reports memory size and per-strategy success counts.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{
		HistorySize:  r.memory.Len(),
		LearnedCount: r.memory.LearnedCount(),
		Successes:    make(map[string]int64, len(r.successes)),
		Failures:     r.failures,
	}
	for s, n := range r.successes {
		st.Successes[s.String()] = n
	}
	return st
}

// Forget removes what the resolver remembers about address.
func (r *Resolver) Forget(ctx context.Context, address string) bool {
	r.mu.Lock()
	removed := r.memory.Forget(address)
	r.mu.Unlock()
	if removed {
		r.persist(ctx)
	}
	return removed
}

// Reset clears the memory and the counters.
func (r *Resolver) Reset(ctx context.Context) {
	r.mu.Lock()
	r.memory.Clear()
	r.successes = make(map[Strategy]int64)
	r.failures = 0
	r.mu.Unlock()
	r.persist(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
