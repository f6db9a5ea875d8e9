package extract

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is the view of a document node the extractor needs. Any UI toolkit
// can supply an adapter; [ParseHTML] provides one backed by golang.org/x/net/html.
//
// Element values must be comparable, and two values referring to the same
// underlying node must compare equal.
type Element interface {
	// Tag returns the lowercased tag name.
	Tag() string

	// Attr returns the value of the named attribute and whether it is present.
	Attr(name string) (string, bool)

	// Text returns the concatenated text content of the element and its
	// descendants.
	Text() string

	// Parent returns the nearest ancestor element.
	Parent() (Element, bool)

	// Children returns the child elements in document order.
	Children() []Element

	// NextSibling returns the next element sibling.
	NextSibling() (Element, bool)
}

// ParseHTML parses an HTML document and returns its root element.
func ParseHTML(r io.Reader) (Element, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return htmlElement{n: c}, nil
		}
	}
	return nil, fmt.Errorf("extract: parse html: document has no root element")
}

// htmlElement adapts an *html.Node of type ElementNode.
type htmlElement struct {
	n *html.Node
}

var _ Element = htmlElement{}

func (e htmlElement) Tag() string {
	if e.n.DataAtom != 0 {
		return e.n.DataAtom.String()
	}
	return strings.ToLower(e.n.Data)
}

func (e htmlElement) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (e htmlElement) Text() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return b.String()
}

func (e htmlElement) Parent() (Element, bool) {
	for p := e.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return htmlElement{n: p}, true
		}
	}
	return nil, false
}

func (e htmlElement) Children() []Element {
	var out []Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, htmlElement{n: c})
		}
	}
	return out
}

func (e htmlElement) NextSibling() (Element, bool) {
	for s := e.n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return htmlElement{n: s}, true
		}
	}
	return nil, false
}
