// Package dom is the document query surface the rest of ScrapeMend works
// against. Addresses are CSS selectors, or XPath expressions when they start
// with "/", "(" or "./".
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Common errors
var (
	ErrEmptyAddress   = errors.New("address cannot be empty")
	ErrInvalidAddress = errors.New("invalid address")
)

// Document is anything that can evaluate an address into zero or more nodes.
// Implementations must be side-effect free.
type Document interface {
	Query(address string) (*goquery.Selection, error)
	Root() *goquery.Selection
}

// Page is a Document over a parsed HTML snapshot.
type Page struct {
	doc  *goquery.Document
	size int
}

// NewPage parses an HTML string.
func NewPage(content string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Page{doc: doc, size: len(content)}, nil
}

// NewPageFromReader parses HTML read from r.
func NewPageFromReader(r io.Reader) (*Page, error) {
	if r == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTML: %w", err)
	}
	return NewPage(string(data))
}

// NewPageFromDocument wraps an already parsed goquery document.
func NewPageFromDocument(doc *goquery.Document) *Page {
	size := 0
	if content, err := doc.Html(); err == nil {
		size = len(content)
	}
	return &Page{doc: doc, size: size}
}

// Root returns the document selection.
func (p *Page) Root() *goquery.Selection {
	if p == nil || p.doc == nil {
		return nil
	}
	return p.doc.Selection
}

// Len is the serialized length of the source HTML. The collector uses it as a
// cheap content fingerprint.
func (p *Page) Len() int {
	return p.size
}

// Query evaluates address against the whole page.
func (p *Page) Query(address string) (*goquery.Selection, error) {
	return QueryWithin(p.doc.Selection, address)
}

// QueryWithin evaluates address relative to scope. CSS addresses match
// descendants of scope; XPath addresses are evaluated with each scope node as
// the context node.
func QueryWithin(scope *goquery.Selection, address string) (*goquery.Selection, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrEmptyAddress
	}

	if IsXPath(address) {
		var nodes []*html.Node
		for _, n := range scope.Nodes {
			found, err := htmlquery.QueryAll(n, address)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
			}
			nodes = append(nodes, found...)
		}
		return scope.FindNodes(nodes...), nil
	}

	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	return scope.Find(address), nil
}

// ValidateAddress reports whether address is a syntactically valid CSS
// selector group or XPath expression.
func ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrEmptyAddress
	}
	if IsXPath(address) {
		if _, err := htmlquery.QueryAll(&html.Node{Type: html.DocumentNode}, address); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
		}
		return nil
	}
	if _, err := cascadia.ParseGroup(address); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	return nil
}

// IsXPath reports whether address should be evaluated as XPath.
func IsXPath(address string) bool {
	for _, prefix := range []string{"/", "(", "./", "../"} {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}
	return false
}
