package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed page that can be queried with CSS selectors.
type Document interface {
	QueryAll(selector string) []Node
	BaseURL() string
}

type Node interface {
	Attr(name string) (string, bool)
	Text() string
	Find(selector string) []Node
	// Closest returns the nearest ancestor (or the node itself) matching selector.
	Closest(selector string) (Node, bool)
}

type HTMLDocument struct {
	doc  *goquery.Document
	base string
}

// Parse reads an HTML page. baseURL is used to resolve relative links.
func Parse(r io.Reader, baseURL string) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	return &HTMLDocument{doc: doc, base: baseURL}, nil
}

func ParseString(body, baseURL string) (*HTMLDocument, error) {
	return Parse(strings.NewReader(body), baseURL)
}

func (d *HTMLDocument) BaseURL() string { return d.base }

func (d *HTMLDocument) QueryAll(selector string) []Node {
	return nodes(d.doc.Find(selector))
}

type htmlNode struct {
	sel *goquery.Selection
}

func nodes(sel *goquery.Selection) []Node {
	out := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, htmlNode{sel: s})
	})
	return out
}

func (n htmlNode) Attr(name string) (string, bool) { return n.sel.Attr(name) }

func (n htmlNode) Text() string { return n.sel.Text() }

func (n htmlNode) Find(selector string) []Node { return nodes(n.sel.Find(selector)) }

func (n htmlNode) Closest(selector string) (Node, bool) {
	c := n.sel.Closest(selector)
	if c.Length() == 0 {
		return nil, false
	}
	return htmlNode{sel: c.First()}, true
}
