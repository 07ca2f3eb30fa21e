package analyzer

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
	"golang.org/x/net/html"
)

var semanticTags = []string{
	"header", "nav", "main", "article", "section", "aside", "footer",
	"figure", "figcaption", "time", "address", "mark", "details", "summary",
}

var landmarkTags = map[string]string{
	"header": "banner",
	"nav":    "navigation",
	"main":   "main",
	"aside":  "complementary",
	"footer": "contentinfo",
	"form":   "form",
	"search": "search",
}

const landmarkRoles = "[role=banner], [role=navigation], [role=main], [role=complementary], " +
	"[role=contentinfo], [role=search], [role=form], [role=region]"

var containerSelectors = []string{
	"main", "[role=main]", "#content", "#main", ".content", ".container",
	".wrapper", "article", "section",
}

var patternSelectors = []string{
	"[class*='item']", "[class*='card']", "[class*='result']", "[class*='product']",
	"[class*='entry']", "ul > li", "ol > li", "tbody > tr", "article",
}

// Landmark is a navigational region of the page.
type Landmark struct {
	Tag     string `json:"tag"`
	Role    string `json:"role"`
	Label   string `json:"label,omitempty"`
	Address string `json:"address"`
}

// PatternMatch is a selector that matched part of the page.
type PatternMatch struct {
	Selector string   `json:"selector"`
	Count    int      `json:"count"`
	Samples  []string `json:"samples,omitempty"`
	Source   string   `json:"source"`
}

// HierarchyNode is one significant element in the pruned tree.
type HierarchyNode struct {
	Tag       string           `json:"tag"`
	ID        string           `json:"id,omitempty"`
	Classes   []string         `json:"classes,omitempty"`
	Role      string           `json:"role,omitempty"`
	Children  []*HierarchyNode `json:"children,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

func (p *pass) semantic() map[string]int {
	counts := make(map[string]int)
	for _, tag := range semanticTags {
		if n := p.root.Find(tag).Length(); n > 0 {
			counts[tag] = n
		}
	}
	return counts
}

func (p *pass) landmarks() []Landmark {
	var out []Landmark
	seen := make(map[*html.Node]bool)
	add := func(s *goquery.Selection, role string) {
		node := s.Get(0)
		if seen[node] {
			return
		}
		seen[node] = true
		out = append(out, Landmark{
			Tag:     dom.TagName(s),
			Role:    role,
			Label:   s.AttrOr("aria-label", ""),
			Address: dom.AddressOf(s),
		})
	}

	p.root.Find(landmarkRoles).Each(func(_ int, s *goquery.Selection) {
		add(s, s.AttrOr("role", ""))
	})
	p.root.Find("header, nav, main, aside, footer, form[aria-label], search").Each(func(_ int, s *goquery.Selection) {
		add(s, landmarkTags[dom.TagName(s)])
	})
	return out
}

func (p *pass) containers() []PatternMatch {
	var out []PatternMatch
	for _, selector := range containerSelectors {
		sel := p.root.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		out = append(out, PatternMatch{
			Selector: selector,
			Count:    sel.Length(),
			Samples:  p.samples(sel),
			Source:   "selector",
		})
	}
	return out
}

// repeatingPatterns combines the fixed selector list with a frequency
// analysis of child signatures.
func (p *pass) repeatingPatterns() []PatternMatch {
	var out []PatternMatch
	for _, selector := range patternSelectors {
		sel := p.root.Find(selector)
		if sel.Length() < 2 {
			continue
		}
		out = append(out, PatternMatch{
			Selector: selector,
			Count:    sel.Length(),
			Samples:  p.samples(sel),
			Source:   "selector",
		})
	}

	var frequent []PatternMatch
	seen := make(map[string]bool)
	p.root.Find("body *").Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() < 3 {
			return
		}
		childSig, count := repeatingChildSignature(el)
		if count < 3 {
			return
		}
		selector := Signature(el) + " > " + childSig
		if seen[selector] {
			return
		}
		seen[selector] = true
		children := el.ChildrenFiltered(childSig)
		frequent = append(frequent, PatternMatch{
			Selector: selector,
			Count:    count,
			Samples:  p.samples(children),
			Source:   "frequency",
		})
	})
	sort.SliceStable(frequent, func(i, j int) bool { return frequent[i].Count > frequent[j].Count })
	if len(frequent) > 10 {
		frequent = frequent[:10]
	}
	return append(out, frequent...)
}

// Signature is tag#id, or tag followed by its sorted classes.
func Signature(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	tag := dom.TagName(s)
	if id := s.AttrOr("id", ""); id != "" {
		return tag + "#" + dom.CSSEscape(id)
	}
	classes := strings.Fields(s.AttrOr("class", ""))
	if len(classes) == 0 {
		return tag
	}
	sort.Strings(classes)
	for i, c := range classes {
		classes[i] = dom.CSSEscape(c)
	}
	return tag + "." + strings.Join(classes, ".")
}

// repeatingChildSignature returns the most common direct-child signature of
// container and its count. Ties resolve to the signature seen first.
func repeatingChildSignature(container *goquery.Selection) (string, int) {
	counts := make(map[string]int)
	var order []string
	container.Children().Each(func(_ int, child *goquery.Selection) {
		sig := Signature(child)
		if strings.Contains(sig, "#") {
			return
		}
		if counts[sig] == 0 {
			order = append(order, sig)
		}
		counts[sig]++
	})
	best, top := "", 0
	for _, sig := range order {
		if counts[sig] > top {
			best, top = sig, counts[sig]
		}
	}
	return best, top
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// significant reports whether n belongs in the pruned hierarchy.
func significant(n *html.Node) bool {
	switch n.Data {
	case "header", "nav", "main", "article", "section", "aside", "footer",
		"form", "table", "ul", "ol", "dl", "figure":
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "id" || a.Key == "role" || a.Key == "itemscope" {
			return true
		}
	}
	return false
}

// hierarchy builds the pruned tree of significant elements below body,
// at most HierarchyDepth levels deep, with an explicit stack.
func (p *pass) hierarchy() *HierarchyNode {
	body := p.root.Find("body").First()
	if body.Length() == 0 {
		return nil
	}
	top := &HierarchyNode{Tag: "body"}

	type frame struct {
		node   *html.Node
		parent *HierarchyNode
		level  int
	}
	var stack []frame
	pushChildren := func(n *html.Node, parent *HierarchyNode, level int) {
		var kids []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				kids = append(kids, c)
			}
		}
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: kids[i], parent: parent, level: level})
		}
	}
	pushChildren(body.Get(0), top, 1)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !significant(f.node) {
			pushChildren(f.node, f.parent, f.level)
			continue
		}
		if f.level > p.limits.HierarchyDepth {
			f.parent.Truncated = true
			continue
		}
		child := &HierarchyNode{
			Tag:     f.node.Data,
			ID:      nodeAttr(f.node, "id"),
			Classes: strings.Fields(nodeAttr(f.node, "class")),
			Role:    nodeAttr(f.node, "role"),
		}
		f.parent.Children = append(f.parent.Children, child)
		pushChildren(f.node, child, f.level+1)
	}
	return top
}

// documentDepth computes the maximum element depth once per pass. Depths are
// memoized per node so repeated lookups are O(1).
func (p *pass) documentDepth() int {
	if p.measured {
		return p.maxDepth
	}
	p.measured = true
	if len(p.root.Nodes) == 0 {
		return 0
	}

	type frame struct {
		node  *html.Node
		depth int
	}
	stack := []frame{{node: p.root.Nodes[0], depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node.Type == html.ElementNode {
			p.depth[f.node] = f.depth
			if f.depth > p.maxDepth {
				p.maxDepth = f.depth
			}
		}
		next := f.depth
		if f.node.Type == html.ElementNode {
			next++
		}
		for c := f.node.FirstChild; c != nil; c = c.NextSibling {
			stack = append(stack, frame{node: c, depth: next})
		}
	}
	return p.maxDepth
}

// depthOf returns the memoized depth of n; the html element is depth 0.
func (p *pass) depthOf(n *html.Node) int {
	p.documentDepth()
	return p.depth[n]
}

func (p *pass) statistics(res *Analysis) Statistics {
	maxDepth := p.documentDepth()
	st := Statistics{
		Elements:   len(p.depth),
		MaxDepth:   maxDepth,
		Words:      len(strings.Fields(p.root.Find("body").Text())),
		Forms:      p.root.Find("form").Length(),
		Controls:   p.root.Find(controlSelector).Length(),
		Tables:     p.root.Find("table").Length(),
		Lists:      p.root.Find("ul, ol, dl").Length(),
		Links:      p.root.Find("a[href]").Length(),
		Images:     p.root.Find("img").Length(),
		TextBlocks: len(res.TextRecords),
	}
	return st
}
