// Package organizer turns requested addresses into typed, deduplicated
// extraction results. Addresses are resolved through the healing resolver so
// drifted selectors still produce values.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/pipeline"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

// MaxValueLength is the longest value kept; longer values are truncated.
const MaxValueLength = 10000

var (
	ErrNilDocument    = errors.New("document cannot be nil")
	ErrNoRequests     = errors.New("at least one field request is required")
	ErrInvalidRequest = errors.New("invalid field request")
)

// FieldRequest asks for the value(s) at Address to be stored under Name.
type FieldRequest struct {
	Name      string                 `yaml:"name" json:"name"`
	Address   string                 `yaml:"address" json:"address"`
	Attribute string                 `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	List      bool                   `yaml:"list,omitempty" json:"list,omitempty"`
	Transform pipeline.TransformList `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Validate checks that the request can be executed.
func (r FieldRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%w: field %q: address is required", ErrInvalidRequest, r.Name)
	}
	if err := dom.ValidateAddress(r.Address); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidRequest, r.Name, err)
	}
	if err := pipeline.ValidateTransformRules(r.Transform); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidRequest, r.Name, err)
	}
	return nil
}

// Entry is one extracted value before it is shaped into a Result.
type Entry struct {
	Field string `json:"field"`
	Value string `json:"value"`
	List  bool   `json:"list,omitempty"`
}

// Provenance records how a field's address was resolved.
type Provenance struct {
	Field      string          `json:"field"`
	Requested  string          `json:"requested"`
	Address    string          `json:"address"`
	Strategy   healer.Strategy `json:"strategy"`
	Confidence float64         `json:"confidence"`
}

// FieldFailure is a request that produced no value.
type FieldFailure struct {
	Field   string `json:"field"`
	Address string `json:"address"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// Summary counts the contents of a Result.
type Summary struct {
	Fields      int           `json:"fields"`
	Lists       int           `json:"lists"`
	Values      int           `json:"values"`
	Healed      int           `json:"healed"`
	Failures    int           `json:"failures"`
	FieldCounts *Ordered[int] `json:"field_counts"`
	ListCounts  *Ordered[int] `json:"list_counts"`
}

// Result is the organized output of one Extract call.
type Result struct {
	Fields     *Ordered[string]   `json:"fields"`
	Lists      *Ordered[[]string] `json:"lists"`
	Summary    Summary            `json:"summary"`
	Provenance []Provenance       `json:"provenance,omitempty"`
	Failures   []FieldFailure     `json:"failures,omitempty"`
}

// Organizer extracts fields through a resolver.
type Organizer struct {
	resolver *healer.Resolver
	options  healer.Options
	recorder *telemetry.Recorder
	logger   utils.Logger
}

// New creates an organizer. opts are the resolver options used for every
// lookup.
func New(resolver *healer.Resolver, opts healer.Options, recorder *telemetry.Recorder, logger utils.Logger) *Organizer {
	return &Organizer{
		resolver: resolver,
		options:  opts,
		recorder: recorder,
		logger:   utils.OrNop(logger).WithField("component", "organizer"),
	}
}

// Resolver returns the resolver used for lookups.
func (o *Organizer) Resolver() *healer.Resolver {
	return o.resolver
}

// Extract resolves every request against doc. Addresses that occur more than
// once, or requests marked List, are list targets and collect every match;
// the rest take the first match. Resolution failures are reported in
// Result.Failures rather than as an error.
func (o *Organizer) Extract(ctx context.Context, doc dom.Document, requests []FieldRequest) (res *Result, err error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if len(requests) == 0 {
		return nil, ErrNoRequests
	}
	for _, r := range requests {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	op := o.recorder.Begin(telemetry.KindExtract, "extract")
	defer func() { op.End(err == nil && res != nil && len(res.Failures) == 0, err) }()

	occurrences := make(map[string]int)
	listAddress := make(map[string]bool)
	for _, r := range requests {
		occurrences[r.Address]++
		if r.List {
			listAddress[r.Address] = true
		}
	}

	res = &Result{
		Fields: NewOrdered[string](),
		Lists:  NewOrdered[[]string](),
	}

	type lookup struct {
		node *healer.ResolvedNode
		err  error
	}
	resolved := make(map[string]lookup)
	var entries []Entry

	for _, r := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list := occurrences[r.Address] > 1 || listAddress[r.Address]

		l, seen := resolved[r.Address]
		if !seen {
			if list {
				l.node, l.err = o.resolver.ResolveAll(ctx, doc, r.Address, o.options)
			} else {
				l.node, l.err = o.resolver.Resolve(ctx, doc, r.Address, o.options)
			}
			resolved[r.Address] = l
		}
		if l.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			res.Failures = append(res.Failures, FieldFailure{
				Field:   r.Name,
				Address: r.Address,
				Code:    string(utils.ErrCodeResolutionFailed),
				Error:   l.err.Error(),
			})
			continue
		}

		res.Provenance = append(res.Provenance, Provenance{
			Field:      r.Name,
			Requested:  r.Address,
			Address:    l.node.Address,
			Strategy:   l.node.Strategy,
			Confidence: l.node.Confidence,
		})
		if l.node.Strategy.Healed() {
			res.Summary.Healed++
		}

		sel := l.node.Selection
		if !list {
			sel = sel.First()
		}
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value, terr := r.Transform.Apply(ctx, ExtractValue(s, r.Attribute))
			if terr != nil {
				res.Failures = append(res.Failures, FieldFailure{
					Field:   r.Name,
					Address: r.Address,
					Code:    string(utils.ErrCodeValidation),
					Error:   terr.Error(),
				})
				return ctx.Err() == nil
			}
			entries = append(entries, Entry{Field: r.Name, Value: value, List: list})
			return true
		})
	}

	for _, e := range Dedup(entries) {
		if e.List {
			values, _ := res.Lists.Get(e.Field)
			res.Lists.Set(e.Field, append(values, e.Value))
			continue
		}
		if !res.Fields.Has(e.Field) {
			res.Fields.Set(e.Field, e.Value)
		}
	}
	res.Summary = summarize(res)

	o.logger.WithFields(map[string]interface{}{
		"fields":   res.Summary.Fields,
		"lists":    res.Summary.Lists,
		"failures": res.Summary.Failures,
		"healed":   res.Summary.Healed,
	}).Debug("extraction organized")
	return res, nil
}

func summarize(res *Result) Summary {
	s := Summary{
		Fields:      res.Fields.Len(),
		Lists:       res.Lists.Len(),
		Healed:      res.Summary.Healed,
		Failures:    len(res.Failures),
		FieldCounts: NewOrdered[int](),
		ListCounts:  NewOrdered[int](),
	}
	res.Fields.Each(func(k string, _ string) {
		s.FieldCounts.Set(k, 1)
		s.Values++
	})
	res.Lists.Each(func(k string, v []string) {
		s.ListCounts.Set(k, len(v))
		s.Values += len(v)
	})
	return s
}

// ExtractValue reads a value from the first node of s: the named attribute
// when attribute is set, else a form control's value, else an image source,
// else the normalized text.
func ExtractValue(s *goquery.Selection, attribute string) string {
	if attribute != "" {
		return strings.TrimSpace(s.AttrOr(attribute, ""))
	}
	if v, ok := dom.Value(s); ok {
		return v
	}
	if dom.TagName(s) == "img" {
		return s.AttrOr("src", "")
	}
	return dom.Text(s)
}

// DedupKey identifies an entry; entries with equal keys collapse to one.
func DedupKey(field, value string) string {
	return field + "_" + value
}

// Validate rejects entries with blank values and truncates long ones.
func Validate(e Entry) (Entry, bool) {
	if strings.TrimSpace(e.Value) == "" {
		return e, false
	}
	e.Value = dom.Truncate(e.Value, MaxValueLength)
	return e, true
}

// Dedup validates entries and drops repeats, keeping first occurrences in
// order.
func Dedup(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e, ok := Validate(e)
		if !ok {
			continue
		}
		key := DedupKey(e.Field, e.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
