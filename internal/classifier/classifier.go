// Package classifier maps form controls and free text to semantic field
// categories using multilingual keyword vocabularies, declared input types and
// value patterns.
package classifier

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/similarity"
)

// Evidence names what decided a classification.
type Evidence string

const (
	EvidenceKeyword   Evidence = "keyword"
	EvidenceInputType Evidence = "input_type"
	EvidencePattern   Evidence = "pattern"
	EvidenceDefault   Evidence = "default"
)

// Control describes a form control or addressable element.
type Control struct {
	Tag         string `json:"tag"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
	InputType   string `json:"input_type,omitempty"`
}

// Result is a category together with its evidence.
type Result struct {
	Category Category `json:"category"`
	Evidence Evidence `json:"evidence"`
	Keyword  string   `json:"keyword,omitempty"`
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	urlPattern   = regexp.MustCompile(`^(https?://|www\.)[^\s<>"{}|\\^` + "`" + `\[\]]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9\s().\-]{7,20}$`)
	pricePattern = regexp.MustCompile(`^(?:[$€£¥₴₽]\s?\d[\d\s.,]*|\d[\d\s.,]*\s?(?:[$€£¥₴₽]|USD|EUR|GBP|UAH|грн))$`)
	datePattern  = regexp.MustCompile(`^(?:\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?)?|\d{1,2}[./]\d{1,2}[./]\d{2,4})$`)
	separators   = strings.NewReplacer("_", " ", "-", " ", ".", " ")
)

type foldedEntry struct {
	category Category
	keywords []string
}

// Classifier is stateless after construction and safe for concurrent use.
type Classifier struct {
	entries []foldedEntry
}

// New folds the vocabulary once.
func New() *Classifier {
	c := &Classifier{entries: make([]foldedEntry, 0, len(vocabulary))}
	for _, v := range vocabulary {
		e := foldedEntry{category: v.category}
		for _, kw := range v.keywords {
			e.keywords = append(e.keywords, foldEvidence(kw))
		}
		c.entries = append(c.entries, e)
	}
	return c
}

func foldEvidence(s string) string {
	return similarity.Fold(separators.Replace(s))
}

// Classify returns the category of control.
func (c *Classifier) Classify(control Control) Category {
	return c.Explain(control).Category
}

// Explain classifies control and reports which evidence decided it:
// keywords over name, id, placeholder and label first, then the declared
// input type, then the generic text category.
func (c *Classifier) Explain(control Control) Result {
	evidence := foldEvidence(strings.Join([]string{
		control.Name, control.ID, control.Placeholder, control.Label,
	}, " "))

	if evidence != "" {
		for _, e := range c.entries {
			for _, kw := range e.keywords {
				if strings.Contains(evidence, kw) {
					return Result{Category: e.category, Evidence: EvidenceKeyword, Keyword: kw}
				}
			}
		}
	}

	if cat, ok := inputTypes[strings.ToLower(strings.TrimSpace(control.InputType))]; ok {
		return Result{Category: cat, Evidence: EvidenceInputType}
	}
	return Result{Category: CategoryText, Evidence: EvidenceDefault}
}

// ClassifyText infers a category from a free-text value.
func (c *Classifier) ClassifyText(value string) Result {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return Result{Category: CategoryText, Evidence: EvidenceDefault}
	case emailPattern.MatchString(v):
		return Result{Category: CategoryEmail, Evidence: EvidencePattern}
	case urlPattern.MatchString(v):
		return Result{Category: CategoryURL, Evidence: EvidencePattern}
	case datePattern.MatchString(v):
		return Result{Category: CategoryDate, Evidence: EvidencePattern}
	case pricePattern.MatchString(v):
		return Result{Category: CategoryPrice, Evidence: EvidencePattern}
	case phonePattern.MatchString(v) && countDigits(v) >= 7:
		return Result{Category: CategoryPhone, Evidence: EvidencePattern}
	}
	return Result{Category: CategoryText, Evidence: EvidenceDefault}
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// DescribeControl builds a Control from the first node of sel.
func DescribeControl(sel *goquery.Selection) Control {
	if sel == nil || sel.Length() == 0 {
		return Control{}
	}
	first := sel.First()
	ctl := Control{
		Tag:         dom.TagName(first),
		Name:        first.AttrOr("name", ""),
		ID:          first.AttrOr("id", ""),
		Placeholder: first.AttrOr("placeholder", ""),
		InputType:   strings.ToLower(first.AttrOr("type", "")),
		Label:       ResolveLabel(first),
	}
	if ctl.InputType == "" {
		switch ctl.Tag {
		case "textarea":
			ctl.InputType = "textarea"
		case "select":
			ctl.InputType = "select"
		case "input":
			ctl.InputType = "text"
		}
	}
	return ctl
}

// ResolveLabel finds the label text of a control: label[for=id], then the
// nearest ancestor label, then aria-label.
func ResolveLabel(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	first := sel.First()

	if id, ok := first.Attr("id"); ok && id != "" {
		root := first.Parents().Last()
		label := root.Find("label[for]").FilterFunction(func(_ int, l *goquery.Selection) bool {
			return l.AttrOr("for", "") == id
		}).First()
		if text := dom.Text(label); text != "" {
			return text
		}
	}

	if text := dom.Text(first.Closest("label")); text != "" {
		return text
	}

	return strings.TrimSpace(first.AttrOr("aria-label", ""))
}
