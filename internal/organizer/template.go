package organizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/similarity"
	"github.com/valpere/ScrapeMend/internal/telemetry"
)

// listSeparator joins multiple matches of a List field inside one row.
const listSeparator = "; "

// identityHints mark field names whose values identify an item when no
// identity field is declared.
var identityHints = []string{"name", "title", "address", "heading", "headline", "label"}

// Template describes one kind of repeated item on a page.
type Template struct {
	Name string `yaml:"name" json:"name"`
	// Container, when set, matches one node per item; field addresses are then
	// relative to each container.
	Container     string         `yaml:"container,omitempty" json:"container,omitempty"`
	IdentityField string         `yaml:"identity_field,omitempty" json:"identity_field,omitempty"`
	Fields        []FieldRequest `yaml:"fields" json:"fields"`
}

// Validate checks the template before it is used.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("%w: template %q has no fields", ErrInvalidRequest, t.Name)
	}
	if t.Container != "" {
		if err := dom.ValidateAddress(t.Container); err != nil {
			return fmt.Errorf("%w: template %q container: %v", ErrInvalidRequest, t.Name, err)
		}
	}
	names := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if names[f.Name] {
			return fmt.Errorf("%w: template %q: duplicate field %q", ErrInvalidRequest, t.Name, f.Name)
		}
		names[f.Name] = true
	}
	if t.IdentityField != "" && !names[t.IdentityField] {
		return fmt.Errorf("%w: template %q: identity field %q is not a field", ErrInvalidRequest, t.Name, t.IdentityField)
	}
	return nil
}

// Item is one extracted row.
type Item struct {
	Key    string           `json:"key"`
	Fields *Ordered[string] `json:"fields"`
}

// Get returns the value of field.
func (i Item) Get(field string) string {
	v, _ := i.Fields.Get(field)
	return v
}

// Key computes the dedup key of fields: the identity field's value when the
// template declares one and it is set, else the name-like fields, else every
// value in field order.
func (t Template) Key(fields *Ordered[string]) string {
	if t.IdentityField != "" {
		if v, _ := fields.Get(t.IdentityField); v != "" {
			return t.IdentityField + "_" + v
		}
	}

	var named []string
	for _, f := range t.Fields {
		v, _ := fields.Get(f.Name)
		if v != "" && identityLike(f.Name) {
			named = append(named, f.Name+"_"+v)
		}
	}
	if len(named) > 0 {
		return joinKey(named)
	}

	all := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		v, _ := fields.Get(f.Name)
		all = append(all, v)
	}
	return joinKey(all)
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// joinKey joins parts with "|", escaping separators inside values so
// distinct rows never share a key.
func joinKey(parts []string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = keyEscaper.Replace(p)
	}
	return strings.Join(escaped, "|")
}

func identityLike(field string) bool {
	folded := similarity.Fold(field)
	for _, hint := range identityHints {
		if strings.Contains(folded, hint) {
			return true
		}
	}
	return false
}

// ExtractRows extracts one Item per container node when the template has a
// container, otherwise it aligns the per-field matches by index. Rows with no
// values are dropped; duplicate keys keep their first row.
func (o *Organizer) ExtractRows(ctx context.Context, doc dom.Document, tmpl Template) (items []Item, err error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	op := o.recorder.Begin(telemetry.KindExtract, tmpl.Name)
	defer func() { op.End(err == nil, err) }()

	var rows []*Ordered[string]
	if tmpl.Container != "" {
		rows, err = o.containerRows(ctx, doc, tmpl)
	} else {
		rows, err = o.alignedRows(ctx, doc, tmpl)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if emptyRow(row) {
			continue
		}
		key := tmpl.Key(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		items = append(items, Item{Key: key, Fields: row})
	}
	return items, nil
}

func (o *Organizer) containerRows(ctx context.Context, doc dom.Document, tmpl Template) ([]*Ordered[string], error) {
	node, err := o.resolver.ResolveAll(ctx, doc, tmpl.Container, o.options)
	if err != nil {
		return nil, err
	}
	if node.Strategy.Healed() {
		o.logger.WithFields(map[string]interface{}{
			"template":  tmpl.Name,
			"container": tmpl.Container,
			"healed":    node.Address,
		}).Info("container address healed")
	}

	var rows []*Ordered[string]
	var rowErr error
	node.Selection.EachWithBreak(func(_ int, container *goquery.Selection) bool {
		if rowErr = ctx.Err(); rowErr != nil {
			return false
		}
		row := NewOrdered[string]()
		for _, f := range tmpl.Fields {
			matches, qerr := dom.QueryWithin(container, f.Address)
			if qerr != nil {
				rowErr = qerr
				return false
			}
			row.Set(f.Name, o.fieldValue(ctx, f, matches))
		}
		rows = append(rows, row)
		return true
	})
	return rows, rowErr
}

func (o *Organizer) alignedRows(ctx context.Context, doc dom.Document, tmpl Template) ([]*Ordered[string], error) {
	columns := make([][]string, len(tmpl.Fields))
	width := 0
	for i, f := range tmpl.Fields {
		node, err := o.resolver.ResolveAll(ctx, doc, f.Address, o.options)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			o.logger.WithFields(map[string]interface{}{
				"template": tmpl.Name,
				"field":    f.Name,
				"address":  f.Address,
			}).Debugf("field unresolved: %v", err)
			continue
		}
		node.Selection.Each(func(_ int, s *goquery.Selection) {
			columns[i] = append(columns[i], o.fieldValue(ctx, f, s))
		})
		if len(columns[i]) > width {
			width = len(columns[i])
		}
	}

	rows := make([]*Ordered[string], 0, width)
	for r := 0; r < width; r++ {
		row := NewOrdered[string]()
		for i, f := range tmpl.Fields {
			v := ""
			if r < len(columns[i]) {
				v = columns[i][r]
			}
			row.Set(f.Name, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// fieldValue extracts, transforms and validates the value of f from matches.
// List fields join every match; other fields use the first.
func (o *Organizer) fieldValue(ctx context.Context, f FieldRequest, matches *goquery.Selection) string {
	if matches.Length() == 0 {
		return ""
	}
	if !f.List {
		matches = matches.First()
	}
	var values []string
	matches.Each(func(_ int, s *goquery.Selection) {
		v, err := f.Transform.Apply(ctx, ExtractValue(s, f.Attribute))
		if err != nil {
			o.logger.WithField("field", f.Name).Debugf("transform failed: %v", err)
			return
		}
		if e, ok := Validate(Entry{Field: f.Name, Value: v}); ok {
			values = append(values, e.Value)
		}
	})
	return strings.Join(values, listSeparator)
}

func emptyRow(row *Ordered[string]) bool {
	empty := true
	row.Each(func(_ string, v string) {
		if v != "" {
			empty = false
		}
	})
	return empty
}
