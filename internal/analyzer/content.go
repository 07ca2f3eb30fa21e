package analyzer

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/classifier"
	"github.com/valpere/ScrapeMend/internal/dom"
)

const (
	textSelector   = "h1, h2, h3, h4, h5, h6, p, li, td, th, blockquote, figcaption, dt, dd, label, span, time, address"
	maxRecordText  = 500
	minRecordRunes = 2
)

// TextRecord is a classified block of visible text.
type TextRecord struct {
	Address  string              `json:"address"`
	Tag      string              `json:"tag"`
	Text     string              `json:"text"`
	Category classifier.Category `json:"category"`
	Depth    int                 `json:"depth"`
}

// Link is an anchor with an href.
type Link struct {
	Address  string `json:"address"`
	Href     string `json:"href"`
	Text     string `json:"text,omitempty"`
	Rel      string `json:"rel,omitempty"`
	External bool   `json:"external"`
}

// Image is an img element.
type Image struct {
	Address string `json:"address"`
	Src     string `json:"src"`
	Alt     string `json:"alt,omitempty"`
	Width   string `json:"width,omitempty"`
	Height  string `json:"height,omitempty"`
}

func (p *pass) textRecords() []TextRecord {
	var out []TextRecord
	p.root.Find(textSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		// Only leaf-ish blocks; containers of other text blocks are skipped.
		if s.Find(textSelector).Length() > 0 {
			return true
		}
		text := dom.Text(s)
		if len([]rune(text)) < minRecordRunes {
			return true
		}
		text = dom.Truncate(text, maxRecordText)
		out = append(out, TextRecord{
			Address:  dom.AddressOf(s),
			Tag:      dom.TagName(s),
			Text:     text,
			Category: p.classifier.ClassifyText(text).Category,
			Depth:    p.depthOf(s.Get(0)),
		})
		return len(out) < p.limits.TextRecords
	})
	return out
}

func (p *pass) links() []Link {
	var out []Link
	p.root.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		out = append(out, Link{
			Address:  dom.AddressOf(s),
			Href:     href,
			Text:     dom.Truncate(dom.Text(s), 200),
			Rel:      s.AttrOr("rel", ""),
			External: isExternal(href),
		})
		return len(out) < p.limits.Links
	})
	return out
}

func isExternal(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Host != ""
}

func (p *pass) images() []Image {
	var out []Image
	p.root.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := s.AttrOr("src", s.AttrOr("data-src", ""))
		if src == "" {
			return true
		}
		out = append(out, Image{
			Address: dom.AddressOf(s),
			Src:     src,
			Alt:     s.AttrOr("alt", ""),
			Width:   s.AttrOr("width", ""),
			Height:  s.AttrOr("height", ""),
		})
		return len(out) < p.limits.Images
	})
	return out
}
