package dom

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	idToken        = regexp.MustCompile(`#((?:\\.|[A-Za-z0-9_\-])+)`)
	classToken     = regexp.MustCompile(`\.((?:\\.|[A-Za-z_\-])(?:\\.|[A-Za-z0-9_\-])*)`)
	attributeToken = regexp.MustCompile(`\[\s*([A-Za-z_:][-A-Za-z0-9_:.]*)\s*(?:([~|^$*]?=)\s*(?:"([^"]*)"|'([^']*)'|([^\]\s]*)))?\s*\]`)
	quotedOrClause = regexp.MustCompile(`\[[^\]]*\]|"[^"]*"|'[^']*'`)
)

// AddressOf builds a CSS address for the first node of sel. The path starts
// at the nearest ancestor-or-self with a document-unique id, otherwise at html,
// and descends through tag:nth-child(n) steps.
func AddressOf(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	node := sel.Get(0)
	root := documentRoot(node)

	var steps []string
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if id := attr(n, "id"); id != "" && countIDs(root, id) == 1 {
			steps = append(steps, "#"+CSSEscape(id))
			break
		}
		switch n.Data {
		case "html", "body", "head":
			steps = append(steps, n.Data)
			continue
		}
		steps = append(steps, fmt.Sprintf("%s:nth-child(%d)", n.Data, elementIndex(n)+1))
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}

// IDs returns the distinct id values under root in document order.
func IDs(root *goquery.Selection) []string {
	seen := make(map[string]struct{})
	var ids []string
	root.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("id", ""))
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	})
	return ids
}

// Classes returns the distinct class names under root in document order.
func Classes(root *goquery.Selection) []string {
	seen := make(map[string]struct{})
	var classes []string
	root.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		for _, c := range strings.Fields(s.AttrOr("class", "")) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			classes = append(classes, c)
		}
	})
	return classes
}

// Attributes snapshots the attributes of the first node in sel.
func Attributes(sel *goquery.Selection) map[string]string {
	attrs := make(map[string]string)
	if sel == nil || sel.Length() == 0 {
		return attrs
	}
	for _, a := range sel.Get(0).Attr {
		attrs[a.Key] = a.Val
	}
	return attrs
}

// SiblingIndex is the zero-based position of the first node in sel among its
// parent's element children.
func SiblingIndex(sel *goquery.Selection) int {
	if sel == nil || sel.Length() == 0 {
		return -1
	}
	return elementIndex(sel.Get(0))
}

// TagName returns the lower-case tag of the first node in sel.
func TagName(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	return goquery.NodeName(sel.First())
}

// Text returns the whitespace-normalized text content of sel.
func Text(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// Value returns the current value of a form control: the value attribute of
// an input, the text of a textarea, or the selected option of a select.
// It reports false for anything else.
func Value(sel *goquery.Selection) (string, bool) {
	if sel == nil || sel.Length() == 0 {
		return "", false
	}
	s := sel.First()
	switch TagName(s) {
	case "input":
		return s.AttrOr("value", ""), true
	case "textarea":
		return strings.TrimSpace(s.Text()), true
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v, true
		}
		return Text(opt), true
	}
	return "", false
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ParseID returns the last id token in address, unescaped.
func ParseID(address string) (string, bool) {
	matches := idToken.FindAllStringSubmatch(stripClauses(address), -1)
	if len(matches) == 0 {
		return "", false
	}
	return unescape(matches[len(matches)-1][1]), true
}

// ParseClasses returns every class token in address, unescaped, in order.
func ParseClasses(address string) []string {
	var classes []string
	for _, m := range classToken.FindAllStringSubmatch(stripClauses(address), -1) {
		classes = append(classes, unescape(m[1]))
	}
	return classes
}

// ParseAttribute extracts the first [name] or [name=value] clause of address.
func ParseAttribute(address string) (name, value string, hasValue, ok bool) {
	m := attributeToken.FindStringSubmatch(address)
	if m == nil {
		return "", "", false, false
	}
	name = m[1]
	if m[2] == "" {
		return name, "", false, true
	}
	for _, v := range m[3:] {
		if v != "" {
			value = v
			break
		}
	}
	return name, value, true, true
}

// CSSEscape escapes ident for use after "#" or "." in a selector.
func CSSEscape(ident string) string {
	var b strings.Builder
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r >= 0x80:
			b.WriteRune(r)
		case r == '-' && !(i == 0 && len(ident) == 1):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 || (i == 1 && ident[0] == '-') {
				fmt.Fprintf(&b, "\\%x ", r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripClauses(address string) string {
	return quotedOrClause.ReplaceAllString(address, " ")
}

func unescape(token string) string {
	if !strings.Contains(token, `\`) {
		return token
	}
	var b strings.Builder
	escaped := false
	for _, r := range token {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func elementIndex(n *html.Node) int {
	idx := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			idx++
		}
	}
	return idx
}

func documentRoot(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func countIDs(root *html.Node, id string) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			count++
		}
		for c := n.FirstChild; c != nil && count < 2; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return count
}
