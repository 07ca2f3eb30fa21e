package healer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Common errors
var (
	ErrNoMatch          = errors.New("address matched no elements")
	ErrNilDocument      = errors.New("document cannot be nil")
	ErrInvalidTier      = errors.New("invalid confidence tier")
	ErrEmptyAddress     = errors.New("address cannot be empty")
	ErrSnapshotTooLarge = errors.New("memory snapshot too large")
)

// Tier is a named confidence threshold.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

// Threshold returns the minimum confidence of the tier.
func (t Tier) Threshold() float64 {
	switch t {
	case TierMedium:
		return 0.7
	case TierHigh:
		return 0.9
	default:
		return 0.5
	}
}

func (t Tier) String() string {
	switch t {
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "low"
	}
}

// ParseTier accepts "low", "medium" or "high"; empty means low.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	default:
		return TierLow, fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

// Strategy identifies how a node was found.
type Strategy int

const (
	StrategyDirect Strategy = iota
	StrategyHistory
	StrategyLearned
	StrategyByID
	StrategyByClass
	StrategyByAttribute
	StrategyByText
	StrategyByPosition
	StrategyByStructure
	StrategyBySimilarity
)

var strategyNames = map[Strategy]string{
	StrategyDirect:       "direct",
	StrategyHistory:      "history",
	StrategyLearned:      "learned",
	StrategyByID:         "by_id",
	StrategyByClass:      "by_class",
	StrategyByAttribute:  "by_attribute",
	StrategyByText:       "by_text",
	StrategyByPosition:   "by_position",
	StrategyByStructure:  "by_structure",
	StrategyBySimilarity: "by_similarity",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Healed reports whether the strategy substitutes a different address.
func (s Strategy) Healed() bool {
	return s != StrategyDirect
}

// Options control a single resolution.
type Options struct {
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
	Floor       Tier          `yaml:"-" json:"-"`
	UseFallback bool          `yaml:"use_fallback" json:"use_fallback"`
	Learn       bool          `yaml:"learn" json:"learn"`
	Backoff     time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// DefaultOptions returns three retries, a low floor, fallback and learning
// enabled and a 100ms linear backoff.
func DefaultOptions() Options {
	return Options{
		MaxRetries:  3,
		Floor:       TierLow,
		UseFallback: true,
		Learn:       true,
		Backoff:     100 * time.Millisecond,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	return o
}

// floor is the minimum confidence a healed candidate needs.
func (o Options) floor() float64 {
	f := o.Floor.Threshold()
	if low := TierLow.Threshold(); f < low {
		f = low
	}
	return f
}

// ResolvedNode is a successful resolution. Selection holds one node for
// Resolve and every matched node for ResolveAll.
type ResolvedNode struct {
	Selection  *goquery.Selection `json:"-"`
	Requested  string             `json:"requested"`
	Address    string             `json:"address"`
	Confidence float64            `json:"confidence"`
	Strategy   Strategy           `json:"strategy"`
	Attempts   int                `json:"attempts"`
}

// ResolutionError is returned when an address could not be resolved, even
// after healing.
type ResolutionError struct {
	Address  string
	Attempts int
	LastErr  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %q after %d attempts: %v", e.Address, e.Attempts, e.LastErr)
}

func (e *ResolutionError) Unwrap() error {
	return e.LastErr
}
