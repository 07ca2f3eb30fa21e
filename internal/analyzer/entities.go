package analyzer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
)

var (
	productSelectors = []string{
		"[itemtype*='schema.org/Product']", "[data-product-id]", "[class*='product-card']",
		"[class*='product-item']", "[class*='product']",
	}
	personSelectors = []string{
		"[itemtype*='schema.org/Person']", ".vcard", "[class*='author']",
		"[class*='profile']", "[class*='person']", "[rel='author']",
	}
	articleSelectors = []string{
		"article", "[itemtype*='schema.org/Article']", "[itemtype*='schema.org/NewsArticle']",
		"[itemtype*='schema.org/BlogPosting']", "[class*='post']",
	}
)

// Entities groups detected products, people and articles.
type Entities struct {
	Products []Product `json:"products"`
	People   []Person  `json:"people"`
	Articles []Article `json:"articles"`
}

// Product is a detected product entity.
type Product struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Price   string `json:"price,omitempty"`
	Image   string `json:"image,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Person is a detected person entity.
type Person struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Email   string `json:"email,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Article is a detected article entity.
type Article struct {
	Address   string `json:"address"`
	Headline  string `json:"headline,omitempty"`
	Author    string `json:"author,omitempty"`
	Published string `json:"published,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

func (p *pass) entities() Entities {
	var e Entities
	p.detect(productSelectors, p.limits.Products, func(s *goquery.Selection) {
		e.Products = append(e.Products, Product{
			Address: dom.AddressOf(s),
			Name:    firstText(s, "[itemprop=name], h1, h2, h3, h4, [class*='title'], [class*='name']"),
			Price:   firstText(s, "[itemprop=price], [class*='price']"),
			Image:   s.Find("img[src]").First().AttrOr("src", ""),
			Link:    s.Find("a[href]").First().AttrOr("href", ""),
		})
	})
	p.detect(personSelectors, p.limits.People, func(s *goquery.Selection) {
		email := strings.TrimPrefix(s.Find("a[href^='mailto:']").First().AttrOr("href", ""), "mailto:")
		e.People = append(e.People, Person{
			Address: dom.AddressOf(s),
			Name:    firstText(s, "[itemprop=name], .fn, [class*='name']"),
			Role:    firstText(s, "[itemprop=jobTitle], .title, [class*='role']"),
			Email:   email,
			Link:    s.Find("a[href]:not([href^='mailto:'])").First().AttrOr("href", ""),
		})
	})
	p.detect(articleSelectors, p.limits.Articles, func(s *goquery.Selection) {
		published := s.Find("time[datetime]").First().AttrOr("datetime", "")
		if published == "" {
			published = firstText(s, "time, [itemprop=datePublished], [class*='date']")
		}
		e.Articles = append(e.Articles, Article{
			Address:   dom.AddressOf(s),
			Headline:  firstText(s, "[itemprop=headline], h1, h2, h3"),
			Author:    firstText(s, "[itemprop=author], [rel=author], [class*='author']"),
			Published: published,
			Summary:   dom.Truncate(firstText(s, "[itemprop=description], p"), 300),
		})
	})
	return e
}

// detect runs fn on distinct, non-nested matches of selectors up to limit.
func (p *pass) detect(selectors []string, limit int, fn func(*goquery.Selection)) {
	var matched []*goquery.Selection
	contains := func(s *goquery.Selection) bool {
		n := s.Get(0)
		for _, m := range matched {
			if m.Get(0) == n || m.Contains(n) || s.Contains(m.Get(0)) {
				return true
			}
		}
		return false
	}
	for _, selector := range selectors {
		if len(matched) >= limit {
			return
		}
		p.root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if contains(s) {
				return true
			}
			matched = append(matched, s)
			fn(s)
			return len(matched) < limit
		})
	}
}

func firstText(s *goquery.Selection, selector string) string {
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return ""
	}
	if content, ok := found.Attr("content"); ok && content != "" {
		return content
	}
	return dom.Truncate(dom.Text(found), 300)
}
