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

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/log"
)

// ElementKind names the family of elements a locator searches.
type ElementKind string

const (
	KindLink     ElementKind = "link"
	KindButton   ElementKind = "button"
	KindField    ElementKind = "field"
	KindRadio    ElementKind = "radio button"
	KindCheckbox ElementKind = "checkbox"
	KindSelect   ElementKind = "select box"
	KindFile     ElementKind = "file field"
	KindOption   ElementKind = "option"
	KindElement  ElementKind = "element"
)

// Strategy is one way a locator value can identify an element.
type Strategy int

const (
	StrategyID Strategy = iota
	StrategyText
	StrategyTitle
	StrategyLabel
)

func (s Strategy) String() string {
	switch s {
	case StrategyID:
		return "id"
	case StrategyText:
		return "text"
	case StrategyTitle:
		return "title"
	case StrategyLabel:
		return "label"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ResolveOrder arbitrates between strategies matching different elements.
type ResolveOrder int

const (
	// OrderStrategy tries each strategy over all candidates before moving to
	// the next one: id, then text, then title, then label.
	OrderStrategy ResolveOrder = iota
	// OrderDocument returns the first candidate in document order matched by
	// any strategy.
	OrderDocument
)

// ParseResolveOrder maps the config names "strategy" and "document".
func ParseResolveOrder(s string) (ResolveOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strategy":
		return OrderStrategy, nil
	case "document":
		return OrderDocument, nil
	}
	return OrderStrategy, fmt.Errorf("unknown locator order %q", s)
}

// Locator is a human-facing search specification.
type Locator struct {
	Kind  ElementKind
	Value string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s %q", l.Kind, l.Value)
}

// Finder runs a backend native CSS query below scope.
type Finder func(scope api.ElementHandle, selector string) ([]api.ElementHandle, error)

type kindSpec struct {
	selector   string
	accept     func(api.ElementHandle) bool
	strategies []Strategy
}

//nolint:gochecknoglobals
var (
	clickableStrategies = []Strategy{StrategyID, StrategyText, StrategyTitle}
	fieldStrategies     = []Strategy{StrategyID, StrategyLabel}

	fillableTypes = map[string]bool{
		"text": true, "password": true, "email": true, "search": true, "tel": true,
		"url": true, "number": true, "date": true, "datetime-local": true,
		"month": true, "week": true, "time": true, "color": true, "range": true,
	}
	buttonTypes = map[string]bool{"submit": true, "image": true}

	kinds = map[ElementKind]kindSpec{
		KindLink: {
			selector:   "a[href]",
			strategies: clickableStrategies,
		},
		KindButton: {
			selector: "input, button",
			accept: func(el api.ElementHandle) bool {
				if el.TagName() == "button" {
					return el.Type() == "submit"
				}
				return buttonTypes[el.Type()]
			},
			strategies: clickableStrategies,
		},
		KindField: {
			selector: "input, textarea",
			accept: func(el api.ElementHandle) bool {
				return el.TagName() == "textarea" || fillableTypes[el.Type()]
			},
			strategies: fieldStrategies,
		},
		KindRadio: {
			selector:   "input",
			accept:     typeIs("radio"),
			strategies: fieldStrategies,
		},
		KindCheckbox: {
			selector:   "input",
			accept:     typeIs("checkbox"),
			strategies: fieldStrategies,
		},
		KindSelect: {
			selector:   "select",
			strategies: fieldStrategies,
		},
		KindFile: {
			selector:   "input",
			accept:     typeIs("file"),
			strategies: fieldStrategies,
		},
	}
)

func typeIs(t string) func(api.ElementHandle) bool {
	return func(el api.ElementHandle) bool {
		return el.Type() == t
	}
}

// Resolver picks the single element a locator designates.
type Resolver struct {
	find   Finder
	order  ResolveOrder
	logger *log.Logger
}

// NewResolver returns a resolver that fetches candidates with find.
func NewResolver(find Finder, order ResolveOrder, logger *log.Logger) *Resolver {
	return &Resolver{
		find:   find,
		order:  order,
		logger: logger,
	}
}

// Resolve returns the element loc designates below scope.
// Within a strategy the first candidate in document order wins.
// Pass the document root to search the whole page.
func (r *Resolver) Resolve(scope api.ElementHandle, loc Locator) (api.ElementHandle, error) {
	if scope == nil {
		return nil, ErrNoDocument
	}
	spec, ok := kinds[loc.Kind]
	if !ok {
		return nil, fmt.Errorf("no resolution rules for %s", loc)
	}
	found, err := r.find(scope, spec.selector)
	if err != nil {
		return nil, fmt.Errorf("finding %s candidates: %w", loc.Kind, err)
	}
	candidates := found[:0:0]
	for _, el := range found {
		if spec.accept == nil || spec.accept(el) {
			candidates = append(candidates, el)
		}
	}

	var labels []api.ElementHandle
	if containsStrategy(spec.strategies, StrategyLabel) {
		if labels, err = r.matchingLabels(scope, loc.Value); err != nil {
			return nil, err
		}
	}
	match := func(el api.ElementHandle, s Strategy) bool {
		switch s {
		case StrategyID:
			return el.ID() == loc.Value
		case StrategyText:
			return strings.Contains(clickableText(el), loc.Value)
		case StrategyTitle:
			v, ok := el.Attr("title")
			return ok && v == loc.Value
		case StrategyLabel:
			return labelled(el, labels)
		}
		return false
	}

	switch r.order {
	case OrderDocument:
		for _, el := range candidates {
			for _, s := range spec.strategies {
				if match(el, s) {
					r.logger.Debugf("Resolver:Resolve", "%s matched %s by %s", loc, el, s)
					return el, nil
				}
			}
		}
	default:
		for _, s := range spec.strategies {
			for _, el := range candidates {
				if match(el, s) {
					r.logger.Debugf("Resolver:Resolve", "%s matched %s by %s", loc, el, s)
					return el, nil
				}
			}
		}
	}

	r.logger.Debugf("Resolver:Resolve", "%s: no match among %d candidates", loc, len(candidates))
	return nil, &ElementNotFoundError{
		Kind:    loc.Kind,
		Locator: loc.Value,
		Scope:   DescribeScope(scope),
	}
}

// ResolveOption returns the option of sel whose text equals text.
func (r *Resolver) ResolveOption(sel api.ElementHandle, text string) (api.ElementHandle, error) {
	want := NormalizeSpace(text)
	for _, o := range sel.Options() {
		if o.Text() == want {
			r.logger.Debugf("Resolver:ResolveOption", "option %q matched in %s", text, sel)
			return o, nil
		}
	}
	return nil, &ElementNotFoundError{
		Kind:    KindOption,
		Locator: text,
		Scope:   DescribeScope(sel),
	}
}

// ResolveSelector returns the first element below scope matching a CSS selector.
func (r *Resolver) ResolveSelector(scope api.ElementHandle, selector string) (api.ElementHandle, error) {
	found, err := r.find(scope, selector)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, &ElementNotFoundError{
			Kind:    KindElement,
			Locator: selector,
			Scope:   DescribeScope(scope),
		}
	}
	return found[0], nil
}

func (r *Resolver) matchingLabels(scope api.ElementHandle, value string) ([]api.ElementHandle, error) {
	labels, err := scope.Query("label")
	if err != nil {
		return nil, fmt.Errorf("finding labels: %w", err)
	}
	want := NormalizeSpace(value)
	matching := labels[:0:0]
	for _, l := range labels {
		if labelText(l) == want {
			matching = append(matching, l)
		}
	}
	return matching, nil
}

func labelled(el api.ElementHandle, labels []api.ElementHandle) bool {
	for _, l := range labels {
		if target, ok := l.Attr("for"); ok {
			if target != "" && target == el.ID() {
				return true
			}
			continue
		}
		if l.Contains(el) {
			return true
		}
	}
	return false
}

func clickableText(el api.ElementHandle) string {
	if el.TagName() == "input" {
		v, _ := el.Attr("value")
		return v
	}
	return el.Text()
}

// labelText returns the label text without the text of nested controls.
func labelText(label api.ElementHandle) string {
	h, ok := label.(*ElementHandle)
	if !ok {
		return label.Text()
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				b.WriteString(c.Data)
			case c.Type != html.ElementNode:
			case c.DataAtom == atom.Select, c.DataAtom == atom.Textarea,
				c.DataAtom == atom.Input, c.DataAtom == atom.Button:
			default:
				walk(c)
			}
		}
	}
	walk(h.node)
	return NormalizeSpace(b.String())
}

func containsStrategy(ss []Strategy, s Strategy) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// DescribeScope renders a search scope for error messages.
func DescribeScope(scope api.ElementHandle) string {
	if scope == nil {
		return "the current document"
	}
	doc := scope.Document()
	if len(scope.Path()) == 0 {
		return fmt.Sprintf("document at %q", doc.URL())
	}
	return fmt.Sprintf("%s in document at %q", scope, doc.URL())
}
