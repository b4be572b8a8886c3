/*
 *
 * webcat - a driver-agnostic browser interaction layer
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/grafana/webcat/api"
)

// Ensure Document implements the api.Document interface.
var _ api.Document = &Document{}

//nolint:gochecknoglobals
var lastDocumentID uint64

// Document is an immutable snapshot of a parsed page.
// Drivers never patch a Document in place; they derive a new one with Clone
// and install it wholesale.
type Document struct {
	id   uint64
	url  *url.URL
	node *html.Node
	root *html.Node
	doc  *goquery.Document

	bodyOnce sync.Once
	body     string
}

// NewDocument parses body as the page served at rawURL.
func NewDocument(rawURL, body string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing document URL %q: %w", rawURL, err)
	}
	node, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing document at %q: %w", rawURL, err)
	}
	d := newDocument(u, node)
	d.bodyOnce.Do(func() { d.body = body })

	return d, nil
}

func newDocument(u *url.URL, node *html.Node) *Document {
	d := &Document{
		id:   atomic.AddUint64(&lastDocumentID, 1),
		url:  u,
		node: node,
		doc:  goquery.NewDocumentFromNode(node),
	}
	d.doc.Url = u
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			d.root = c
			break
		}
	}
	if d.root == nil {
		d.root = &html.Node{Type: html.ElementNode, DataAtom: atom.Html, Data: "html"}
		node.AppendChild(d.root)
	}
	return d
}

// Clone returns a deep copy of d with a new identity, ready to be mutated
// before it is published.
func (d *Document) Clone() *Document {
	return newDocument(d.url, cloneNode(d.node))
}

// ID identifies the snapshot.
func (d *Document) ID() uint64 {
	return d.id
}

// URL returns the address the document was served from.
func (d *Document) URL() string {
	return d.url.String()
}

// ParsedURL returns the address the document was served from.
func (d *Document) ParsedURL() *url.URL {
	u := *d.url
	return &u
}

// BaseURL returns the URL relative references resolve against,
// honouring a <base href> element.
func (d *Document) BaseURL() *url.URL {
	if base := d.doc.Find("head base[href]").First(); base.Length() > 0 {
		if ref, err := url.Parse(base.AttrOr("href", "")); err == nil {
			return d.url.ResolveReference(ref)
		}
	}
	return d.ParsedURL()
}

// Resolve resolves ref against the document base URL.
func (d *Document) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parsing URL %q: %w", ref, err)
	}
	return d.BaseURL().ResolveReference(u), nil
}

// Body returns the markup the document was parsed from, or the rendered
// markup for derived snapshots.
func (d *Document) Body() string {
	d.bodyOnce.Do(func() {
		var b strings.Builder
		if err := html.Render(&b, d.node); err == nil {
			d.body = b.String()
		}
	})
	return d.body
}

// Text returns the rendered text of the document body.
func (d *Document) Text() string {
	if body := d.doc.Find("body").First(); body.Length() > 0 {
		return renderedText(body.Get(0))
	}
	return renderedText(d.root)
}

// Title returns the text of the title element.
func (d *Document) Title() string {
	return NormalizeSpace(d.doc.Find("title").First().Text())
}

// Root returns the document element.
func (d *Document) Root() api.ElementHandle {
	return d.handle(d.root)
}

// Query runs a CSS query over the whole document.
func (d *Document) Query(selector string) ([]api.ElementHandle, error) {
	return d.Root().Query(selector)
}

// ElementAt returns the element at path.
func (d *Document) ElementAt(path []int) (api.ElementHandle, error) {
	n, err := d.NodeAt(path)
	if err != nil {
		return nil, err
	}
	return d.handle(n), nil
}

// NodeAt returns the node at path.
func (d *Document) NodeAt(path []int) (*html.Node, error) {
	n := d.root
	for depth, idx := range path {
		var next *html.Node
		i := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if i == idx {
				next = c
				break
			}
			i++
		}
		if next == nil {
			return nil, fmt.Errorf("%w: no element at %v (depth %d)", ErrStaleElement, path, depth)
		}
		n = next
	}
	return n, nil
}

// Node returns the node el references in d. El must come from d.
func (d *Document) Node(el api.ElementHandle) (*html.Node, error) {
	if el == nil {
		return nil, fmt.Errorf("%w: nil element", ErrNotAFormControl)
	}
	if el.Document().ID() != d.id {
		return nil, fmt.Errorf("%w: %s", ErrStaleElement, el)
	}
	if h, ok := el.(*ElementHandle); ok {
		return h.node, nil
	}
	return d.NodeAt(el.Path())
}

func (d *Document) handle(n *html.Node) *ElementHandle {
	return &ElementHandle{doc: d, node: n}
}

func (d *Document) handles(nodes []*html.Node) []api.ElementHandle {
	hs := make([]api.ElementHandle, 0, len(nodes))
	for _, n := range nodes {
		hs = append(hs, d.handle(n))
	}
	return hs
}

func (d *Document) elementByID(id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if v, ok := nodeAttr(n, "id"); ok && v == id {
				found = n
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(d.root)
	return found
}
