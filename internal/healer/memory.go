package healer

import (
	"container/list"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultHistoryCapacity bounds the number of history records kept.
const DefaultHistoryCapacity = 500

// MaxCapturedText bounds HistoryRecord.Text.
const MaxCapturedText = 100

const snapshotVersion = 1

// HistoryRecord is the evidence kept for a previously successful resolution.
// Key is the address the caller asked for; Address is the one that matched.
type HistoryRecord struct {
	Key           string            `json:"key"`
	Address       string            `json:"address"`
	Text          string            `json:"text,omitempty"`
	ParentAddress string            `json:"parent_address,omitempty"`
	SiblingIndex  int               `json:"sibling_index"`
	TagName       string            `json:"tag_name"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	ChildCount    int               `json:"child_count"`
	Confidence    float64           `json:"confidence"`
	Timestamp     time.Time         `json:"timestamp"`
}

// LearnedMapping rewrites a failing address to one that healed it.
type LearnedMapping struct {
	NewAddress string    `json:"new_address"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is the persisted form of a Memory. History is ordered oldest
// insertion first.
type Snapshot struct {
	Version int                       `json:"version"`
	History []HistoryRecord           `json:"history"`
	Learned map[string]LearnedMapping `json:"learned"`
}

// Memory is a bounded, insertion-ordered history plus learned mappings.
// It is not safe for concurrent use; the Resolver serializes access.
type Memory struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
	learned  map[string]LearnedMapping
}

// NewMemory creates an empty memory holding at most capacity records.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		learned:  make(map[string]LearnedMapping),
	}
}

// Put inserts or overwrites the record keyed by rec.Key. An overwritten key
// becomes the newest entry. Oldest entries are evicted past capacity.
func (m *Memory) Put(rec HistoryRecord) {
	if el, ok := m.index[rec.Key]; ok {
		m.order.Remove(el)
	}
	m.index[rec.Key] = m.order.PushBack(rec)
	for m.order.Len() > m.capacity {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.index, oldest.Value.(HistoryRecord).Key)
	}
}

// Get returns the record stored for key.
func (m *Memory) Get(key string) (HistoryRecord, bool) {
	el, ok := m.index[key]
	if !ok {
		return HistoryRecord{}, false
	}
	return el.Value.(HistoryRecord), true
}

// Len returns the number of history records.
func (m *Memory) Len() int {
	return m.order.Len()
}

// Keys returns history keys oldest first.
func (m *Memory) Keys() []string {
	keys := make([]string, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(HistoryRecord).Key)
	}
	return keys
}

// Learn records a rewrite of oldAddress. Past capacity the mapping with the
// oldest timestamp is dropped.
func (m *Memory) Learn(oldAddress string, mapping LearnedMapping) {
	m.learned[oldAddress] = mapping
	for len(m.learned) > m.capacity {
		m.evictOldestLearned(oldAddress)
	}
}

// evictOldestLearned drops the oldest mapping other than keep. Ties go to
// the lexically smallest key so eviction is deterministic.
func (m *Memory) evictOldestLearned(keep string) {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for k, v := range m.learned {
		if k == keep {
			continue
		}
		if !found || v.Timestamp.Before(oldest) || (v.Timestamp.Equal(oldest) && k < victim) {
			victim, oldest, found = k, v.Timestamp, true
		}
	}
	if !found {
		return
	}
	delete(m.learned, victim)
}

// Learned returns the rewrite stored for address.
func (m *Memory) Learned(address string) (LearnedMapping, bool) {
	mapping, ok := m.learned[address]
	return mapping, ok
}

// LearnedCount returns the number of learned mappings.
func (m *Memory) LearnedCount() int {
	return len(m.learned)
}

// Forget drops both the history record and learned mapping for address.
func (m *Memory) Forget(address string) bool {
	_, hadLearned := m.learned[address]
	delete(m.learned, address)
	el, ok := m.index[address]
	if ok {
		m.order.Remove(el)
		delete(m.index, address)
	}
	return ok || hadLearned
}

// Clear empties the memory.
func (m *Memory) Clear() {
	m.order.Init()
	m.index = make(map[string]*list.Element)
	m.learned = make(map[string]LearnedMapping)
}

// Snapshot copies the memory into its persisted form.
func (m *Memory) Snapshot() Snapshot {
	snap := Snapshot{
		Version: snapshotVersion,
		History: make([]HistoryRecord, 0, m.order.Len()),
		Learned: make(map[string]LearnedMapping, len(m.learned)),
	}
	for el := m.order.Front(); el != nil; el = el.Next() {
		snap.History = append(snap.History, el.Value.(HistoryRecord))
	}
	for k, v := range m.learned {
		snap.Learned[k] = v
	}
	return snap
}

// Restore replaces the memory contents with snap, applying the capacity.
func (m *Memory) Restore(snap Snapshot) {
	m.Clear()
	for _, rec := range snap.History {
		if rec.Key == "" {
			continue
		}
		m.Put(rec)
	}
	for k, v := range snap.Learned {
		m.learned[k] = v
	}
	for len(m.learned) > m.capacity {
		m.evictOldestLearned("")
	}
}

// MarshalSnapshot encodes the memory and fails if the result exceeds limit
// bytes. A non-positive limit disables the check.
func (m *Memory) MarshalSnapshot(limit int) ([]byte, error) {
	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode memory: %w", err)
	}
	if limit > 0 && len(data) > limit {
		return nil, fmt.Errorf("%w: memory snapshot is %d bytes (limit %d)", ErrSnapshotTooLarge, len(data), limit)
	}
	return data, nil
}

// UnmarshalSnapshot decodes data produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode memory: %w", err)
	}
	if snap.Version > snapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported memory version %d", snap.Version)
	}
	return snap, nil
}
