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
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/grafana/webcat/api"
)

// Ensure ElementHandle implements the api.ElementHandle interface.
var _ api.ElementHandle = &ElementHandle{}

// ElementHandle references one element of a Document snapshot.
type ElementHandle struct {
	doc  *Document
	node *html.Node
}

// Document returns the snapshot the handle belongs to.
func (h *ElementHandle) Document() api.Document {
	return h.doc
}

// Node returns the underlying html node.
func (h *ElementHandle) Node() *html.Node {
	return h.node
}

// Path returns the element-child index path from the document element.
func (h *ElementHandle) Path() []int {
	var path []int
	for n := h.node; n != nil && n != h.doc.root && n.Parent != nil; n = n.Parent {
		i := 0
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode {
				i++
			}
		}
		path = append(path, i)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

func (h *ElementHandle) TagName() string {
	return h.node.Data
}

func (h *ElementHandle) Attr(name string) (string, bool) {
	return nodeAttr(h.node, name)
}

func (h *ElementHandle) ID() string {
	v, _ := h.Attr("id")
	return v
}

func (h *ElementHandle) Name() string {
	v, _ := h.Attr("name")
	return v
}

// Type returns the lowercased control type.
func (h *ElementHandle) Type() string {
	t, _ := h.Attr("type")
	t = strings.ToLower(strings.TrimSpace(t))
	switch h.node.DataAtom {
	case atom.Input:
		if t == "" {
			return "text"
		}
		return t
	case atom.Button:
		if t != "reset" && t != "button" {
			return "submit"
		}
		return t
	case atom.Select:
		if h.IsMultiple() {
			return "select-multiple"
		}
		return "select-one"
	case atom.Textarea:
		return "textarea"
	}
	return t
}

// Text returns the whitespace-normalised rendered text.
func (h *ElementHandle) Text() string {
	return renderedText(h.node)
}

// Value returns the current value of a form control.
func (h *ElementHandle) Value() string {
	switch h.node.DataAtom {
	case atom.Input:
		v, ok := h.Attr("value")
		if !ok && (h.Type() == "checkbox" || h.Type() == "radio") {
			return "on"
		}
		return v
	case atom.Textarea:
		return rawText(h.node)
	case atom.Option:
		return optionValue(h.node)
	case atom.Select:
		var first *html.Node
		for _, o := range h.optionNodes() {
			if hasAttr(o, "selected") {
				return optionValue(o)
			}
			if first == nil {
				first = o
			}
		}
		if first != nil {
			return optionValue(first)
		}
		return ""
	case atom.Button:
		v, _ := h.Attr("value")
		return v
	}
	return h.Text()
}

func optionValue(n *html.Node) string {
	if v, ok := nodeAttr(n, "value"); ok {
		return v
	}
	return NormalizeSpace(rawText(n))
}

func (h *ElementHandle) IsChecked() bool {
	return hasAttr(h.node, "checked")
}

func (h *ElementHandle) IsSelected() bool {
	return hasAttr(h.node, "selected")
}

func (h *ElementHandle) IsMultiple() bool {
	return hasAttr(h.node, "multiple")
}

// IsDisabled reports whether the element or an enclosing fieldset,
// select or optgroup is disabled.
func (h *ElementHandle) IsDisabled() bool {
	if hasAttr(h.node, "disabled") {
		return true
	}
	for p := h.node.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.DataAtom {
		case atom.Optgroup, atom.Select:
			if h.node.DataAtom == atom.Option && hasAttr(p, "disabled") {
				return true
			}
		case atom.Fieldset:
			if hasAttr(p, "disabled") && !inFirstLegend(p, h.node) {
				return true
			}
		}
	}
	return false
}

func inFirstLegend(fieldset, n *html.Node) bool {
	for c := fieldset.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, atom.Legend) {
			return isAncestor(c, n)
		}
	}
	return false
}

// Form returns the form owning the control, honouring the form attribute.
func (h *ElementHandle) Form() (api.ElementHandle, bool) {
	if isElement(h.node, atom.Form) {
		return nil, false
	}
	if id, ok := h.Attr("form"); ok {
		if f := h.doc.elementByID(id); isElement(f, atom.Form) {
			return h.doc.handle(f), true
		}
		return nil, false
	}
	if f := closest(h.node, atom.Form); f != nil {
		return h.doc.handle(f), true
	}
	return nil, false
}

func (h *ElementHandle) optionNodes() []*html.Node {
	var opts []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if isElement(c, atom.Option) {
				opts = append(opts, c)
				continue
			}
			if isElement(c, atom.Optgroup) {
				walk(c)
			}
		}
	}
	walk(h.node)
	return opts
}

// Options returns the options of a select element in document order.
func (h *ElementHandle) Options() []api.ElementHandle {
	if h.node.DataAtom != atom.Select {
		return nil
	}
	return h.doc.handles(h.optionNodes())
}

// Query returns the descendants matching selector, in document order.
func (h *ElementHandle) Query(selector string) ([]api.ElementHandle, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
	}
	sel := h.doc.doc.FindNodes(h.node)
	if h.node == h.doc.root {
		sel = h.doc.doc.Selection
	}
	return h.doc.handles(sel.FindMatcher(m).Nodes), nil
}

// Selection exposes the goquery selection of the element.
func (h *ElementHandle) Selection() *goquery.Selection {
	return h.doc.doc.FindNodes(h.node)
}

// Contains reports whether other is a descendant of h.
func (h *ElementHandle) Contains(other api.ElementHandle) bool {
	if other == nil || other.Document().ID() != h.doc.id {
		return false
	}
	if o, ok := other.(*ElementHandle); ok {
		return isAncestor(h.node, o.node)
	}
	mine, theirs := h.Path(), other.Path()
	if len(theirs) <= len(mine) {
		return false
	}
	for i := range mine {
		if mine[i] != theirs[i] {
			return false
		}
	}
	return true
}

// SameAs reports whether other references the same element of the same snapshot.
func (h *ElementHandle) SameAs(other api.ElementHandle) bool {
	if other == nil || other.Document().ID() != h.doc.id {
		return false
	}
	if o, ok := other.(*ElementHandle); ok {
		return o.node == h.node
	}
	mine, theirs := h.Path(), other.Path()
	if len(mine) != len(theirs) {
		return false
	}
	for i := range mine {
		if mine[i] != theirs[i] {
			return false
		}
	}
	return true
}

// String describes the element for error messages.
func (h *ElementHandle) String() string {
	var b strings.Builder
	b.WriteString(h.node.Data)
	if id := h.ID(); id != "" {
		b.WriteString("#" + id)
	}
	if name := h.Name(); name != "" {
		fmt.Fprintf(&b, "[name=%q]", name)
	}
	return b.String()
}
