package healer

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/similarity"
)

// maxProbes caps how many ranked names a strategy tries per token.
const maxProbes = 5

// fixedAttributeConfidence is used when an attribute clause has no value.
const fixedAttributeConfidence = 0.8

// positionConfidence is the fixed confidence of a positional match.
const positionConfidence = 0.7

// textTags are the element types byText scans.
const textTags = "p, h1, h2, h3, h4, h5, h6, li, td, th, span, a, label, button, div"

func isTextTag(tag string) bool {
	for _, t := range strings.Split(textTags, ", ") {
		if t == tag {
			return true
		}
	}
	return false
}

// healingOrder is the fixed order in which strategies are tried.
var healingOrder = []Strategy{
	StrategyByID,
	StrategyByClass,
	StrategyByAttribute,
	StrategyByText,
	StrategyByPosition,
	StrategyByStructure,
	StrategyBySimilarity,
}

// candidate is what a strategy proposes.
type candidate struct {
	sel        *goquery.Selection
	address    string
	confidence float64
}

// attempt is the context shared by the strategies of one heal call.
type attempt struct {
	doc     dom.Document
	address string
	record  *HistoryRecord
	history map[string]HistoryRecord
	floor   float64
}

// try runs the strategy. Candidates are only returned at or above the floor.
func (s Strategy) try(a *attempt) (candidate, bool) {
	var (
		c  candidate
		ok bool
	)
	switch s {
	case StrategyByID:
		c, ok = a.byID()
	case StrategyByClass:
		c, ok = a.byClass()
	case StrategyByAttribute:
		c, ok = a.byAttribute()
	case StrategyByText:
		c, ok = a.byText()
	case StrategyByPosition:
		c, ok = a.byPosition()
	case StrategyByStructure:
		c, ok = a.byStructure()
	case StrategyBySimilarity:
		c, ok = a.bySimilarity()
	}
	if !ok || c.confidence < a.floor {
		return candidate{}, false
	}
	return c, true
}

// probe queries address directly and reports whether anything matched.
func (a *attempt) probe(address string) (*goquery.Selection, bool) {
	if address == "" {
		return nil, false
	}
	sel, err := a.doc.Query(address)
	if err != nil || sel.Length() == 0 {
		return nil, false
	}
	return sel, true
}

type rankedName struct {
	name  string
	score float64
}

// rank scores names against token and keeps the best maxProbes strictly
// above the low tier.
func rank(token string, names []string) []rankedName {
	low := TierLow.Threshold()
	var ranked []rankedName
	for _, n := range names {
		if n == token {
			continue
		}
		score := similarity.StringSimilarity(token, n)
		if score > low {
			ranked = append(ranked, rankedName{name: n, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > maxProbes {
		ranked = ranked[:maxProbes]
	}
	return ranked
}

// substitute swaps one prefixed token in address; if the token cannot be
// located the bare replacement is returned.
func substitute(address, prefix, token, replacement string) string {
	old := prefix + dom.CSSEscape(token)
	repl := prefix + dom.CSSEscape(replacement)
	if strings.Contains(address, old) {
		return strings.Replace(address, old, repl, 1)
	}
	return repl
}

func (a *attempt) byID() (candidate, bool) {
	token, ok := dom.ParseID(a.address)
	if !ok {
		return candidate{}, false
	}
	for _, r := range rank(token, dom.IDs(a.doc.Root())) {
		probe := substitute(a.address, "#", token, r.name)
		if sel, ok := a.probe(probe); ok {
			return candidate{sel: sel, address: probe, confidence: r.score}, true
		}
	}
	return candidate{}, false
}

func (a *attempt) byClass() (candidate, bool) {
	tokens := dom.ParseClasses(a.address)
	if len(tokens) == 0 {
		return candidate{}, false
	}
	classes := dom.Classes(a.doc.Root())
	for _, token := range tokens {
		for _, r := range rank(token, classes) {
			probe := substitute(a.address, ".", token, r.name)
			if sel, ok := a.probe(probe); ok {
				return candidate{sel: sel, address: probe, confidence: r.score}, true
			}
		}
	}
	return candidate{}, false
}

func (a *attempt) byAttribute() (candidate, bool) {
	name, value, hasValue, ok := dom.ParseAttribute(a.address)
	if !ok {
		return candidate{}, false
	}
	sel, err := a.doc.Query("[" + name + "]")
	if err != nil || sel.Length() == 0 {
		return candidate{}, false
	}

	if !hasValue {
		first := sel.First()
		return candidate{sel: first, address: dom.AddressOf(first), confidence: fixedAttributeConfidence}, true
	}

	medium := TierMedium.Threshold()
	var best candidate
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		score := similarity.StringSimilarity(value, s.AttrOr(name, ""))
		if score >= medium && score > best.confidence {
			best = candidate{sel: s, confidence: score}
		}
		return best.confidence < 1
	})
	if best.sel == nil {
		return candidate{}, false
	}
	best.address = dom.AddressOf(best.sel)
	return best, true
}

func (a *attempt) byText() (candidate, bool) {
	if a.record == nil || a.record.Text == "" {
		return candidate{}, false
	}
	medium := TierMedium.Threshold()

	scan := func(sel *goquery.Selection) (candidate, bool) {
		var found candidate
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := dom.Text(s)
			if text == "" || len([]rune(text)) > similarity.MaxTextLength {
				return true
			}
			if score := similarity.TextSimilarity(a.record.Text, dom.Truncate(text, MaxCapturedText)); score >= medium {
				found = candidate{sel: s, address: dom.AddressOf(s), confidence: score}
				return false
			}
			return true
		})
		return found, found.sel != nil
	}

	// Same-tag candidates first so a wrapper carrying the same text does not
	// shadow the element itself.
	root := a.doc.Root()
	if tag := a.record.TagName; isTextTag(tag) {
		if c, ok := scan(root.Find(tag)); ok {
			return c, true
		}
	}
	return scan(root.Find(textTags))
}

func (a *attempt) byPosition() (candidate, bool) {
	if a.record == nil || a.record.ParentAddress == "" || a.record.SiblingIndex < 0 {
		return candidate{}, false
	}
	parent, ok := a.probe(a.record.ParentAddress)
	if !ok {
		return candidate{}, false
	}
	child := parent.First().Children().Eq(a.record.SiblingIndex)
	if child.Length() == 0 || dom.TagName(child) != a.record.TagName {
		return candidate{}, false
	}
	return candidate{sel: child, address: dom.AddressOf(child), confidence: positionConfidence}, true
}

func (a *attempt) byStructure() (candidate, bool) {
	if a.record == nil || a.record.TagName == "" {
		return candidate{}, false
	}
	sel, err := a.doc.Query(a.record.TagName)
	if err != nil || sel.Length() == 0 {
		return candidate{}, false
	}

	var best candidate
	sel.Each(func(_ int, s *goquery.Selection) {
		if score := structureScore(a.record, s); score > best.confidence {
			best = candidate{sel: s, confidence: score}
		}
	})
	if best.sel == nil || best.confidence < TierMedium.Threshold() {
		return candidate{}, false
	}
	best.address = dom.AddressOf(best.sel)
	return best, true
}

// structureScore is (matching recorded attributes + child-count match) over
// the number of compared features.
func structureScore(rec *HistoryRecord, s *goquery.Selection) float64 {
	attrs := dom.Attributes(s)
	matched, compared := 0, 1+len(rec.Attributes)
	for k, v := range rec.Attributes {
		if got, ok := attrs[k]; ok && got == v {
			matched++
		}
	}
	if s.Children().Length() == rec.ChildCount {
		matched++
	}
	return float64(matched) / float64(compared)
}

func (a *attempt) bySimilarity() (candidate, bool) {
	var ranked []rankedName
	for key := range a.history {
		if key == a.address {
			continue
		}
		score := similarity.StringSimilarity(a.address, key)
		if score >= TierLow.Threshold() {
			ranked = append(ranked, rankedName{name: key, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].name < ranked[j].name
		}
		return ranked[i].score > ranked[j].score
	})

	for _, r := range ranked {
		target := a.history[r.name].Address
		if sel, ok := a.probe(target); ok {
			return candidate{sel: sel, address: target, confidence: r.score}, true
		}
	}
	return candidate{}, false
}
