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
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/grafana/webcat/api"
)

// Form encodings.
const (
	EnctypeURLEncoded = "application/x-www-form-urlencoded"
	EnctypeMultipart  = "multipart/form-data"
)

const submittableSelector = "input, select, textarea, button"

// FormField is one name/value pair of a form payload.
// File holds the local path of an attached file; Value is then its base name.
type FormField struct {
	Name  string
	Value string
	File  string
}

// FormData is the ordered payload of a form submission.
type FormData struct {
	Fields []FormField
}

// Names returns the distinct field names in first-seen order.
func (d *FormData) Names() []string {
	seen := make(map[string]bool, len(d.Fields))
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	return names
}

// Get returns the first value for name.
func (d *FormData) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// All returns every value for name, in document order.
func (d *FormData) All(name string) []string {
	var vs []string
	for _, f := range d.Fields {
		if f.Name == name {
			vs = append(vs, f.Value)
		}
	}
	return vs
}

// Values returns the payload as url.Values.
func (d *FormData) Values() url.Values {
	vs := make(url.Values, len(d.Fields))
	for _, f := range d.Fields {
		vs.Add(f.Name, f.Value)
	}
	return vs
}

// Encode URL-encodes the payload keeping field order.
func (d *FormData) Encode() string {
	pairs := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		pairs = append(pairs, url.QueryEscape(f.Name)+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(pairs, "&")
}

// FileOpener opens attached files for multipart encoding.
type FileOpener func(path string) (io.ReadCloser, error)

// OpenLocalFile is the default FileOpener.
func OpenLocalFile(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Clean(path))
}

// WriteMultipart encodes the payload as multipart/form-data into w,
// streaming attached file contents through open.
// It returns the content type including the boundary.
func (d *FormData) WriteMultipart(w io.Writer, open FileOpener) (string, error) {
	if open == nil {
		open = OpenLocalFile
	}
	mw := multipart.NewWriter(w)
	for _, f := range d.Fields {
		if f.File == "" {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return "", fmt.Errorf("writing field %q: %w", f.Name, err)
			}
			continue
		}
		if err := writeFilePart(mw, f, open); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}
	return mw.FormDataContentType(), nil
}

func writeFilePart(mw *multipart.Writer, f FormField, open FileOpener) (err error) {
	rc, err := open(f.File)
	if err != nil {
		return fmt.Errorf("opening attached file %q: %w", f.File, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing attached file %q: %w", f.File, cerr)
		}
	}()

	part, err := mw.CreateFormFile(f.Name, f.Value)
	if err != nil {
		return fmt.Errorf("creating file part %q: %w", f.Name, err)
	}
	if _, err = io.Copy(part, rc); err != nil {
		return fmt.Errorf("copying attached file %q: %w", f.File, err)
	}
	return nil
}

// SerializeForm builds the payload submitted when button is pressed in form.
// Button may be nil for programmatic submissions.
func SerializeForm(form, button api.ElementHandle) (*FormData, error) {
	if form == nil || form.TagName() != "form" {
		return nil, fmt.Errorf("%w: serializing %v as a form", ErrNotAFormControl, form)
	}
	controls, err := FormControls(form)
	if err != nil {
		return nil, err
	}

	// A radio group submits at most one value, from its last checked member.
	lastRadio := make(map[string]int)
	for i, el := range controls {
		if el.TagName() == "input" && el.Type() == "radio" && el.IsChecked() {
			lastRadio[el.Name()] = i
		}
	}

	data := &FormData{}
	for i, el := range controls {
		name := el.Name()
		if name == "" || el.IsDisabled() {
			continue
		}
		switch el.TagName() {
		case "select":
			data.Fields = append(data.Fields, selectFields(el)...)
		case "textarea":
			data.Fields = append(data.Fields, FormField{Name: name, Value: el.Value()})
		case "button":
			if el.Type() == "submit" && button != nil && el.SameAs(button) {
				data.Fields = append(data.Fields, FormField{Name: name, Value: el.Value()})
			}
		case "input":
			switch el.Type() {
			case "submit", "image":
				if button != nil && el.SameAs(button) {
					data.Fields = append(data.Fields, FormField{Name: name, Value: el.Value()})
				}
			case "button", "reset":
			case "radio":
				if j, ok := lastRadio[name]; ok && i == j {
					data.Fields = append(data.Fields, FormField{Name: name, Value: el.Value()})
				}
			case "checkbox":
				if el.IsChecked() {
					data.Fields = append(data.Fields, FormField{Name: name, Value: el.Value()})
				}
			case "file":
				if path := el.Value(); path != "" {
					data.Fields = append(data.Fields, FormField{
						Name:  name,
						Value: filepath.Base(path),
						File:  path,
					})
				}
			default:
				data.Fields = append(data.Fields, FormField{Name: name, Value: el.Value()})
			}
		}
	}
	return data, nil
}

// FormControls returns the submittable controls owned by form in document
// order, including controls associated through the form attribute.
func FormControls(form api.ElementHandle) ([]api.ElementHandle, error) {
	all, err := form.Document().Root().Query(submittableSelector)
	if err != nil {
		return nil, err
	}
	owned := all[:0:0]
	for _, el := range all {
		if owner, ok := el.Form(); ok && owner.SameAs(form) {
			owned = append(owned, el)
		}
	}
	return owned, nil
}

func selectFields(sel api.ElementHandle) []FormField {
	opts := sel.Options()
	if len(opts) == 0 {
		return nil
	}
	var selected []api.ElementHandle
	for _, o := range opts {
		if o.IsSelected() && !o.IsDisabled() {
			selected = append(selected, o)
		}
	}
	if len(selected) == 0 {
		selected = opts[:1]
	}
	if !sel.IsMultiple() {
		selected = selected[len(selected)-1:]
	}
	fields := make([]FormField, 0, len(selected))
	for _, o := range selected {
		fields = append(fields, FormField{Name: sel.Name(), Value: o.Value()})
	}
	return fields
}

// FormSubmission describes the request a form submission produces.
type FormSubmission struct {
	Method  string
	Action  *url.URL
	Enctype string
	Data    *FormData
}

// NewFormSubmission derives method, action, encoding and payload of a
// submission, honouring the formmethod, formaction and formenctype
// attributes of the pressed button.
func NewFormSubmission(form, button api.ElementHandle) (*FormSubmission, error) {
	data, err := SerializeForm(form, button)
	if err != nil {
		return nil, err
	}
	attr := func(formAttr, buttonAttr string) string {
		if button != nil {
			if v, ok := button.Attr(buttonAttr); ok {
				return strings.TrimSpace(v)
			}
		}
		v, _ := form.Attr(formAttr)
		return strings.TrimSpace(v)
	}

	method := strings.ToUpper(attr("method", "formmethod"))
	if method != http.MethodPost {
		method = http.MethodGet
	}
	enctype := strings.ToLower(attr("enctype", "formenctype"))
	if enctype != EnctypeMultipart {
		enctype = EnctypeURLEncoded
	}
	action, err := resolveRef(form.Document(), attr("action", "formaction"))
	if err != nil {
		return nil, err
	}

	return &FormSubmission{
		Method:  method,
		Action:  action,
		Enctype: enctype,
		Data:    data,
	}, nil
}

func resolveRef(doc api.Document, ref string) (*url.URL, error) {
	if d, ok := doc.(*Document); ok {
		return d.Resolve(ref)
	}
	base, err := url.Parse(doc.URL())
	if err != nil {
		return nil, fmt.Errorf("parsing document URL %q: %w", doc.URL(), err)
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parsing URL %q: %w", ref, err)
	}
	return base.ResolveReference(u), nil
}

// ResolveHref resolves the href of a link against its document.
func ResolveHref(el api.ElementHandle) (*url.URL, error) {
	href, _ := el.Attr("href")
	return resolveRef(el.Document(), href)
}
