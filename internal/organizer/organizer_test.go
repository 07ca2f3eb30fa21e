package organizer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/pipeline"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
	"gopkg.in/yaml.v3"
)

func page(t *testing.T, body string) *dom.Page {
	t.Helper()
	p, err := dom.NewPage("<html><body>" + body + "</body></html>")
	require.NoError(t, err)
	return p
}

func singleAttempt() healer.Options {
	opts := healer.DefaultOptions()
	opts.MaxRetries = 1
	return opts
}

func newOrganizer(rec *telemetry.Recorder) *Organizer {
	r := healer.NewResolver(healer.Config{}, nil, rec, nil)
	return New(r, singleAttempt(), rec, utils.NewNopLogger())
}

const productPage = `
<h1>Spring sale</h1>
<p class="blank">   </p>
<a class="more" href="/p/1">More</a>
<img class="pic" src="/i.png" alt="">
<input name="qty" value="2">
<span class="price">$1,299.99</span>
<ul><li class="tag">new</li><li class="tag">sale</li><li class="tag">new</li></ul>`

func TestExtract_ValueSources(t *testing.T) {
	o := newOrganizer(nil)
	res, err := o.Extract(context.Background(), page(t, productPage), []FieldRequest{
		{Name: "headline", Address: "h1"},
		{Name: "link", Address: ".more", Attribute: "href"},
		{Name: "image", Address: ".pic"},
		{Name: "quantity", Address: "input[name=qty]"},
		{Name: "price", Address: ".price", Transform: pipeline.TransformList{{Type: pipeline.TypeCleanPrice}}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"headline", "link", "image", "quantity", "price"}, res.Fields.Keys())
	want := map[string]string{
		"headline": "Spring sale",
		"link":     "/p/1",
		"image":    "/i.png",
		"quantity": "2",
		"price":    "1299.99",
	}
	assert.Equal(t, want, res.Fields.Map())
	assert.Empty(t, res.Failures)
	assert.Equal(t, 5, res.Summary.Fields)
	assert.Equal(t, 5, res.Summary.Values)
	require.Len(t, res.Provenance, 5)
	assert.Equal(t, healer.StrategyDirect, res.Provenance[0].Strategy)
}

func TestExtract_RepeatedAddressIsList(t *testing.T) {
	o := newOrganizer(nil)
	res, err := o.Extract(context.Background(), page(t, productPage), []FieldRequest{
		{Name: "tags", Address: ".tag"},
		{Name: "tags", Address: ".tag"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Fields.Len())
	tags, ok := res.Lists.Get("tags")
	require.True(t, ok)
	// Repeats of the same field and value collapse to one.
	assert.Equal(t, []string{"new", "sale"}, tags)
	count, _ := res.Summary.ListCounts.Get("tags")
	assert.Equal(t, 2, count)
}

func TestExtract_ListFlag(t *testing.T) {
	o := newOrganizer(nil)
	res, err := o.Extract(context.Background(), page(t, productPage), []FieldRequest{
		{Name: "tags", Address: "li", List: true},
		{Name: "first", Address: "li:nth-child(2)"},
	})
	require.NoError(t, err)

	tags, _ := res.Lists.Get("tags")
	assert.Equal(t, []string{"new", "sale"}, tags)
	first, _ := res.Fields.Get("first")
	assert.Equal(t, "sale", first)
}

func TestExtract_EmptyValueNeverAppears(t *testing.T) {
	o := newOrganizer(nil)
	res, err := o.Extract(context.Background(), page(t, productPage), []FieldRequest{
		{Name: "blank", Address: ".blank"},
		{Name: "headline", Address: "h1"},
	})
	require.NoError(t, err)

	assert.False(t, res.Fields.Has("blank"))
	assert.Equal(t, []string{"headline"}, res.Fields.Keys())
	assert.Empty(t, res.Failures)
}

func TestExtract_UnresolvedIsReportedNotReturned(t *testing.T) {
	rec := telemetry.NewRecorder(telemetry.Config{}, nil)
	o := newOrganizer(rec)
	res, err := o.Extract(context.Background(), page(t, productPage), []FieldRequest{
		{Name: "missing", Address: "#qqqqqqqq"},
		{Name: "headline", Address: "h1"},
	})
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "missing", res.Failures[0].Field)
	assert.Equal(t, string(utils.ErrCodeResolutionFailed), res.Failures[0].Code)
	assert.Equal(t, 1, res.Summary.Failures)
	assert.True(t, res.Fields.Has("headline"))

	st := rec.Stats(telemetry.KindExtract)
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 1, st.Failures)
}

func TestExtract_TransformFailure(t *testing.T) {
	o := newOrganizer(nil)
	res, err := o.Extract(context.Background(), page(t, productPage), []FieldRequest{
		{Name: "count", Address: "h1", Transform: pipeline.TransformList{{Type: pipeline.TypeParseInt}}},
	})
	require.NoError(t, err)

	assert.False(t, res.Fields.Has("count"))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, string(utils.ErrCodeValidation), res.Failures[0].Code)
}

func TestExtract_HealsDriftedAddress(t *testing.T) {
	o := newOrganizer(nil)
	req := []FieldRequest{{Name: "query", Address: "#a", Attribute: "name"}}

	v1 := `<div id="wrap"><p>Intro</p><input id="a" name="query" type="search"><p>Outro</p></div>`
	v2 := `<div id="wrap"><p>Intro</p><input id="a2" name="query" type="search"><p>Outro</p></div>`

	res, err := o.Extract(context.Background(), page(t, v1), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.Healed)

	res, err = o.Extract(context.Background(), page(t, v2), req)
	require.NoError(t, err)
	value, _ := res.Fields.Get("query")
	assert.Equal(t, "query", value)
	assert.Equal(t, 1, res.Summary.Healed)
	require.Len(t, res.Provenance, 1)
	assert.True(t, res.Provenance[0].Strategy.Healed())
	assert.GreaterOrEqual(t, res.Provenance[0].Confidence, 0.7)
}

func TestExtract_InvalidInput(t *testing.T) {
	o := newOrganizer(nil)
	ctx := context.Background()

	_, err := o.Extract(ctx, nil, []FieldRequest{{Name: "a", Address: "h1"}})
	assert.ErrorIs(t, err, ErrNilDocument)

	_, err = o.Extract(ctx, page(t, productPage), nil)
	assert.ErrorIs(t, err, ErrNoRequests)

	_, err = o.Extract(ctx, page(t, productPage), []FieldRequest{{Name: "a", Address: "div["}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Extract(ctx, page(t, productPage), []FieldRequest{{Address: "h1"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExtract_Cancelled(t *testing.T) {
	o := newOrganizer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Extract(ctx, page(t, productPage), []FieldRequest{{Name: "a", Address: "h1"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateAndDedup(t *testing.T) {
	_, ok := Validate(Entry{Field: "a", Value: " \n\t"})
	assert.False(t, ok)

	long, ok := Validate(Entry{Field: "a", Value: strings.Repeat("x", MaxValueLength+1)})
	require.True(t, ok)
	assert.Len(t, long.Value, MaxValueLength)

	out := Dedup([]Entry{
		{Field: "a", Value: "1"},
		{Field: "b", Value: "1"},
		{Field: "a", Value: "1"},
		{Field: "a", Value: ""},
		{Field: "a", Value: "2"},
	})
	assert.Equal(t, []Entry{
		{Field: "a", Value: "1"},
		{Field: "b", Value: "1"},
		{Field: "a", Value: "2"},
	}, out)
	assert.Equal(t, "a_1", DedupKey("a", "1"))
}

func TestOrdered_Marshal(t *testing.T) {
	m := NewOrdered[string]()
	m.Set("zeta", "x")
	m.Set("alpha", "y")
	m.Set("zeta", "z")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"z","alpha":"y"}`, string(data))

	back := NewOrdered[string]()
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, []string{"zeta", "alpha"}, back.Keys())

	y, err := yaml.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, "zeta: z\nalpha: y\n", string(y))
}
