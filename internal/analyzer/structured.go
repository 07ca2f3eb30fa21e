package analyzer

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
)

// StructuredData holds embedded JSON-LD blocks and microdata items.
type StructuredData struct {
	JSONLD      []interface{}   `json:"json_ld,omitempty"`
	Microdata   []MicrodataItem `json:"microdata,omitempty"`
	ParseErrors int             `json:"parse_errors,omitempty"`
}

// MicrodataItem is a top-level itemscope element.
type MicrodataItem struct {
	Type       string                 `json:"type,omitempty"`
	ID         string                 `json:"id,omitempty"`
	Address    string                 `json:"address"`
	Properties map[string]interface{} `json:"properties"`
}

func (p *pass) structuredData() StructuredData {
	var sd StructuredData
	p.root.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.Text())
		if content == "" {
			return
		}
		var data interface{}
		if err := json.Unmarshal([]byte(content), &data); err != nil {
			sd.ParseErrors++
			p.logger.WithField("error", err.Error()).Debug("skipping malformed json-ld block")
			return
		}
		sd.JSONLD = append(sd.JSONLD, data)
	})

	p.root.Find("[itemscope]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !s.Is("[itemprop]")
	}).Each(func(_ int, scope *goquery.Selection) {
		item := microdata(scope, 0)
		item.Address = dom.AddressOf(scope)
		sd.Microdata = append(sd.Microdata, item)
	})
	return sd
}

const maxMicrodataDepth = 4

// microdata collects the properties owned by scope, descending into nested
// items up to maxMicrodataDepth.
func microdata(scope *goquery.Selection, level int) MicrodataItem {
	item := MicrodataItem{
		Type:       scope.AttrOr("itemtype", ""),
		ID:         scope.AttrOr("itemid", ""),
		Properties: make(map[string]interface{}),
	}
	owner := scope.Get(0)
	scope.Find("[itemprop]").Each(func(_ int, prop *goquery.Selection) {
		// Properties of nested items belong to those items.
		if parent := prop.Parent().Closest("[itemscope]"); parent.Length() == 0 || parent.Get(0) != owner {
			return
		}
		var value interface{}
		if prop.Is("[itemscope]") && level < maxMicrodataDepth {
			nested := microdata(prop, level+1)
			value = map[string]interface{}{"type": nested.Type, "properties": nested.Properties}
		} else {
			value = propertyValue(prop)
		}
		for _, name := range strings.Fields(prop.AttrOr("itemprop", "")) {
			addProperty(item.Properties, name, value)
		}
	})
	return item
}

func propertyValue(prop *goquery.Selection) string {
	if content, ok := prop.Attr("content"); ok {
		return content
	}
	switch dom.TagName(prop) {
	case "a", "link", "area":
		return prop.AttrOr("href", "")
	case "img", "audio", "video", "source", "embed", "iframe":
		return prop.AttrOr("src", "")
	case "time":
		if dt := prop.AttrOr("datetime", ""); dt != "" {
			return dt
		}
	case "meta":
		return prop.AttrOr("content", "")
	case "data", "meter":
		return prop.AttrOr("value", "")
	}
	return dom.Text(prop)
}

// addProperty appends repeated property names into a slice.
func addProperty(props map[string]interface{}, name string, value interface{}) {
	existing, ok := props[name]
	if !ok {
		props[name] = value
		return
	}
	if list, ok := existing.([]interface{}); ok {
		props[name] = append(list, value)
		return
	}
	props[name] = []interface{}{existing, value}
}
