package analyzer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/classifier"
	"github.com/valpere/ScrapeMend/internal/dom"
)

// controlSelector matches user-editable form controls.
const controlSelector = "input:not([type=hidden]):not([type=submit]):not([type=button])" +
	":not([type=reset]):not([type=image]), select, textarea"

// Form is a form element, or the group of controls that live outside any form.
type Form struct {
	Address string      `json:"address,omitempty"`
	Action  string      `json:"action,omitempty"`
	Method  string      `json:"method,omitempty"`
	Name    string      `json:"name,omitempty"`
	Orphan  bool        `json:"orphan,omitempty"`
	Fields  []FormField `json:"fields"`
}

// FormField is a classified control.
type FormField struct {
	Address  string              `json:"address"`
	Tag      string              `json:"tag"`
	Name     string              `json:"name,omitempty"`
	Type     string              `json:"type,omitempty"`
	Label    string              `json:"label,omitempty"`
	Category classifier.Category `json:"category"`
	Evidence classifier.Evidence `json:"evidence"`
	Required bool                `json:"required,omitempty"`
	Options  []string            `json:"options,omitempty"`
	Value    string              `json:"value,omitempty"`
}

func (p *pass) forms() []Form {
	var out []Form
	p.root.Find("form").Each(func(_ int, f *goquery.Selection) {
		out = append(out, Form{
			Address: dom.AddressOf(f),
			Action:  f.AttrOr("action", ""),
			Method:  strings.ToUpper(f.AttrOr("method", "GET")),
			Name:    f.AttrOr("name", f.AttrOr("id", "")),
			Fields:  p.fields(f.Find(controlSelector)),
		})
	})

	orphans := p.root.Find(controlSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest("form").Length() == 0
	})
	if orphans.Length() > 0 {
		out = append(out, Form{Orphan: true, Fields: p.fields(orphans)})
	}
	return out
}

func (p *pass) fields(controls *goquery.Selection) []FormField {
	var out []FormField
	controls.Each(func(_ int, s *goquery.Selection) {
		ctl := classifier.DescribeControl(s)
		res := p.classifier.Explain(ctl)
		field := FormField{
			Address:  dom.AddressOf(s),
			Tag:      ctl.Tag,
			Name:     ctl.Name,
			Type:     ctl.InputType,
			Label:    ctl.Label,
			Category: res.Category,
			Evidence: res.Evidence,
			Required: s.Is("[required]"),
		}
		field.Value, _ = dom.Value(s)
		if ctl.Tag == "select" {
			s.Find("option").Each(func(_ int, o *goquery.Selection) {
				field.Options = append(field.Options, dom.Text(o))
			})
		}
		out = append(out, field)
	})
	return out
}
