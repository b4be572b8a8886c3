package replay

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/net/html"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/common"
)

// mutate derives a new snapshot from the current one, applies fn to the
// counterpart of el and installs the result.
func (d *Driver) mutate(el api.ElementHandle, fn func(doc *common.Document, n *html.Node) error) error {
	if err := d.checkCurrent(el); err != nil {
		return err
	}
	next := d.doc.Clone()
	n, err := next.NodeAt(el.Path())
	if err != nil {
		return err
	}
	if err := fn(next, n); err != nil {
		return err
	}
	d.doc = next
	return nil
}

// SetValue sets the value of a text-like input or a textarea.
func (d *Driver) SetValue(_ context.Context, el api.ElementHandle, value string) error {
	d.logger.Debugf("replay:SetValue", "el:%s value:%q", el, value)
	if err := common.CheckValueSettable(el); err != nil {
		return err
	}
	value = common.TruncateToMaxLength(el, value)
	return d.mutate(el, func(_ *common.Document, n *html.Node) error {
		if el.TagName() == "textarea" {
			common.SetNodeText(n, value)
			return nil
		}
		common.SetNodeAttr(n, "value", value)
		return nil
	})
}

// SetChecked checks or unchecks a checkbox or radio button.
func (d *Driver) SetChecked(_ context.Context, el api.ElementHandle, checked bool) error {
	d.logger.Debugf("replay:SetChecked", "el:%s checked:%t", el, checked)

	if err := common.CheckCheckable(el); err != nil {
		return err
	}
	typ := el.Type()
	return d.mutate(el, func(doc *common.Document, n *html.Node) error {
		if !checked {
			common.RemoveNodeAttr(n, "checked")
			return nil
		}
		if typ == "radio" {
			if err := uncheckGroup(doc, el.Path(), el.Name()); err != nil {
				return err
			}
		}
		common.SetNodeAttr(n, "checked", "checked")
		return nil
	})
}

// uncheckGroup unchecks the radio buttons sharing name and owner form with
// the radio at path.
func uncheckGroup(doc *common.Document, path []int, name string) error {
	self, err := doc.ElementAt(path)
	if err != nil {
		return err
	}
	form, hasForm := self.Form()
	radios, err := doc.Query("input")
	if err != nil {
		return err
	}
	for _, r := range radios {
		if r.Type() != "radio" || r.Name() != name || r.SameAs(self) {
			continue
		}
		owner, ok := r.Form()
		if ok != hasForm || (ok && !owner.SameAs(form)) {
			continue
		}
		n, err := doc.Node(r)
		if err != nil {
			return err
		}
		common.RemoveNodeAttr(n, "checked")
	}
	return nil
}

// SetSelected selects or deselects an option.
func (d *Driver) SetSelected(_ context.Context, option api.ElementHandle, selected bool) error {
	d.logger.Debugf("replay:SetSelected", "option:%q selected:%t", option.Text(), selected)

	if err := common.CheckSelectable(option); err != nil {
		return err
	}
	return d.mutate(option, func(doc *common.Document, n *html.Node) error {
		if !selected {
			common.RemoveNodeAttr(n, "selected")
			return nil
		}
		sel := n.Parent
		for sel != nil && sel.Data != "select" {
			sel = sel.Parent
		}
		if sel != nil {
			if _, multiple := attr(sel, "multiple"); !multiple {
				clearSelected(sel)
			}
		}
		common.SetNodeAttr(n, "selected", "selected")
		return nil
	})
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func clearSelected(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.Data == "option" {
			common.RemoveNodeAttr(c, "selected")
			continue
		}
		clearSelected(c)
	}
}

// AttachFile stores path in the file input, it is read on submission.
func (d *Driver) AttachFile(_ context.Context, el api.ElementHandle, path string) error {
	d.logger.Debugf("replay:AttachFile", "el:%s path:%q", el, path)

	if err := common.CheckFileInput(el); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("attaching file: %w", err)
	}
	return d.mutate(el, func(_ *common.Document, n *html.Node) error {
		common.SetNodeAttr(n, "value", path)
		return nil
	})
}

// Click follows links and submits the form owning a submit button.
// Clicking any other element is a no-op.
func (d *Driver) Click(ctx context.Context, el api.ElementHandle) error {
	if err := d.checkCurrent(el); err != nil {
		return err
	}
	d.logger.Debugf("replay:Click", "el:%s", el)

	switch el.TagName() {
	case "a":
		if _, ok := el.Attr("href"); !ok {
			return nil
		}
		u, err := common.ResolveHref(el)
		if err != nil {
			return err
		}
		return d.do(ctx, &request{method: http.MethodGet, url: u})
	case "input", "button":
		if t := el.Type(); t != "submit" && t != "image" {
			return nil
		}
		if el.IsDisabled() {
			return nil
		}
		form, ok := el.Form()
		if !ok {
			return nil
		}
		return d.Submit(ctx, form, el)
	}
	return nil
}

// Submit encodes form as pressed by button and sends it.
func (d *Driver) Submit(ctx context.Context, form, button api.ElementHandle) error {
	if err := d.checkCurrent(form, button); err != nil {
		return err
	}
	sub, err := common.NewFormSubmission(form, button)
	if err != nil {
		return err
	}
	d.logger.Debugf("replay:Submit", "form:%s method:%s action:%s enctype:%s fields:%d",
		form, sub.Method, sub.Action, sub.Enctype, len(sub.Data.Fields))

	r := &request{method: sub.Method, url: sub.Action}
	switch {
	case sub.Method == http.MethodGet:
		u := *sub.Action
		u.RawQuery = sub.Data.Encode()
		u.Fragment = ""
		r.url = &u
	case sub.Enctype == common.EnctypeMultipart:
		buf := d.pool.Get()
		defer d.pool.Put(buf)
		if r.contentType, err = sub.Data.WriteMultipart(buf, d.openFile); err != nil {
			return err
		}
		r.body = append([]byte(nil), buf.Bytes()...)
	default:
		r.contentType = common.EnctypeURLEncoded
		r.body = []byte(sub.Data.Encode())
	}

	return d.do(ctx, r)
}
