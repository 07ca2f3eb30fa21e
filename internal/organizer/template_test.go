package organizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cardsPage = `
<div class="card"><h2>Alpha</h2><span class="price">10</span><a href="/a">view</a></div>
<div class="card"><h2>Beta</h2><span class="price">20</span><a href="/b">view</a></div>
<div class="card"><h2>Gamma</h2><span class="price">30</span><a href="/c">view</a></div>`

func cardTemplate() Template {
	return Template{
		Name:      "cards",
		Container: ".card",
		Fields: []FieldRequest{
			{Name: "title", Address: "h2"},
			{Name: "price", Address: ".price"},
			{Name: "link", Address: "./a", Attribute: "href"},
		},
	}
}

func TestExtractRows_ContainerRelative(t *testing.T) {
	o := newOrganizer(nil)
	items, err := o.ExtractRows(context.Background(), page(t, cardsPage), cardTemplate())
	require.NoError(t, err)

	require.Len(t, items, 3)
	for i, want := range []struct{ title, price, link string }{
		{"Alpha", "10", "/a"},
		{"Beta", "20", "/b"},
		{"Gamma", "30", "/c"},
	} {
		assert.Equal(t, want.title, items[i].Get("title"))
		assert.Equal(t, want.price, items[i].Get("price"))
		assert.Equal(t, want.link, items[i].Get("link"))
		assert.Equal(t, []string{"title", "price", "link"}, items[i].Fields.Keys())
	}
	assert.Equal(t, "title_Alpha", items[0].Key)
}

func TestExtractRows_IndexAligned(t *testing.T) {
	o := newOrganizer(nil)
	doc := page(t, `
<h2>One</h2><h2>Two</h2><h2>Three</h2>
<span class="price">1</span><span class="price">2</span>`)

	items, err := o.ExtractRows(context.Background(), doc, Template{
		Name: "aligned",
		Fields: []FieldRequest{
			{Name: "title", Address: "h2"},
			{Name: "price", Address: ".price"},
			{Name: "sku", Address: ".sku"},
		},
	})
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, "Two", items[1].Get("title"))
	assert.Equal(t, "2", items[1].Get("price"))
	assert.Equal(t, "", items[2].Get("price"))
	assert.Equal(t, "", items[0].Get("sku"))
}

func TestExtractRows_DropsDuplicateAndEmptyRows(t *testing.T) {
	o := newOrganizer(nil)
	doc := page(t, `
<div class="card"><h2>Alpha</h2><span class="price">10</span></div>
<div class="card"><h2>Alpha</h2><span class="price">11</span></div>
<div class="card"></div>`)

	tmpl := cardTemplate()
	tmpl.Fields = tmpl.Fields[:2]
	items, err := o.ExtractRows(context.Background(), doc, tmpl)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "10", items[0].Get("price"))
}

func TestExtractRows_ListFieldJoinsMatches(t *testing.T) {
	o := newOrganizer(nil)
	doc := page(t, `<div class="post"><h3>T</h3><i class="tag">a</i><i class="tag">b</i></div>`)

	items, err := o.ExtractRows(context.Background(), doc, Template{
		Name:      "posts",
		Container: ".post",
		Fields: []FieldRequest{
			{Name: "title", Address: "h3"},
			{Name: "tags", Address: ".tag", List: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a; b", items[0].Get("tags"))
}

func TestExtractRows_UnresolvedContainer(t *testing.T) {
	o := newOrganizer(nil)
	tmpl := cardTemplate()
	tmpl.Container = "#qqqqqqqq"

	_, err := o.ExtractRows(context.Background(), page(t, `<p>nothing</p>`), tmpl)
	assert.Error(t, err)
}

func TestTemplate_Key(t *testing.T) {
	tmpl := Template{
		Name: "t",
		Fields: []FieldRequest{
			{Name: "url", Address: "a"},
			{Name: "product_name", Address: "h2"},
			{Name: "price", Address: ".p"},
		},
	}
	row := NewOrdered[string]()
	row.Set("url", "/x")
	row.Set("product_name", "Lamp")
	row.Set("price", "5")

	assert.Equal(t, "product_name_Lamp", tmpl.Key(row))

	tmpl.IdentityField = "url"
	assert.Equal(t, "url_/x", tmpl.Key(row))

	row.Set("url", "")
	assert.Equal(t, "product_name_Lamp", tmpl.Key(row), "empty identity falls back")

	row.Set("product_name", "")
	assert.Equal(t, "||5", tmpl.Key(row))
}

func TestTemplate_KeyEscapesSeparators(t *testing.T) {
	tmpl := Template{
		Name: "t",
		Fields: []FieldRequest{
			{Name: "a", Address: ".a"},
			{Name: "b", Address: ".b"},
		},
	}
	first := NewOrdered[string]()
	first.Set("a", "x|y")
	first.Set("b", "")
	second := NewOrdered[string]()
	second.Set("a", "x")
	second.Set("b", "y|")

	assert.NotEqual(t, tmpl.Key(first), tmpl.Key(second))
	assert.Equal(t, `x\|y|`, tmpl.Key(first))
}

func TestTemplate_Validate(t *testing.T) {
	valid := cardTemplate()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{"no name", func(t *Template) { t.Name = "" }},
		{"no fields", func(t *Template) { t.Fields = nil }},
		{"bad container", func(t *Template) { t.Container = "div[" }},
		{"duplicate field", func(t *Template) { t.Fields = append(t.Fields, t.Fields[0]) }},
		{"unknown identity", func(t *Template) { t.IdentityField = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := cardTemplate()
			tt.mutate(&tmpl)
			assert.ErrorIs(t, tmpl.Validate(), ErrInvalidRequest)
		})
	}
}
