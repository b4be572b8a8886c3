// Package bridge drives a browser hosted by another process over a
// websocket.
package bridge

/*
Protocol:

Every frame is a JSON text message. The client sends commands and the server
answers each one with a reply carrying the same id:

- request:  {"id":1,"command":"visit","data":{"path":"/form"}}
- reply:    {"id":1,"data":{}}
- failure:  {"id":1,"error":{"code":"stale_element","message":"..."}}

Commands:

- start {target}: opens a driver for the application at target. Must come first.
- visit {path}
- document: {id, url, html, status}
- current_url: {url}
- find {doc, scope, selector}: {paths}
- set_value {el, value}
- set_checked {el, checked}
- set_selected {el, selected}
- attach_file {el, name, content}: content is base64, stored by the server.
- click {el}
- submit {form, button}
- close

Elements are sent as {"doc": <document id>, "path": [...]}, where the
document id is the one the server returned from "document".
*/

import (
	"encoding/json"
	"errors"

	"github.com/grafana/webcat/common"
)

// Command names.
const (
	cmdStart       = "start"
	cmdVisit       = "visit"
	cmdDocument    = "document"
	cmdCurrentURL  = "current_url"
	cmdFind        = "find"
	cmdSetValue    = "set_value"
	cmdSetChecked  = "set_checked"
	cmdSetSelected = "set_selected"
	cmdAttachFile  = "attach_file"
	cmdClick       = "click"
	cmdSubmit      = "submit"
	cmdClose       = "close"
)

type request struct {
	ID      int64           `json:"id"`
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	ID    int64           `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RemoteError    `json:"error,omitempty"`
}

// elementRef addresses an element of a snapshot served by the bridge.
type elementRef struct {
	Doc  uint64 `json:"doc"`
	Path []int  `json:"path"`
}

type startData struct {
	Target string `json:"target"`
}

type visitData struct {
	Path string `json:"path"`
}

type documentData struct {
	ID     uint64 `json:"id"`
	URL    string `json:"url"`
	HTML   string `json:"html"`
	Status int    `json:"status,omitempty"`
}

type findData struct {
	Doc      uint64 `json:"doc"`
	Scope    []int  `json:"scope,omitempty"`
	Selector string `json:"selector"`
}

type elementData struct {
	El       *elementRef `json:"el"`
	Value    string      `json:"value,omitempty"`
	Checked  bool        `json:"checked,omitempty"`
	Selected bool        `json:"selected,omitempty"`
	Name     string      `json:"name,omitempty"`
	Content  []byte      `json:"content,omitempty"`
}

type submitData struct {
	Form   *elementRef `json:"form"`
	Button *elementRef `json:"button,omitempty"`
}

// Error codes sent over the wire.
const (
	codeElementNotFound = "element_not_found"
	codeDriverNotFound  = "driver_not_found"
	codeStaleElement    = "stale_element"
	codeTooManyRedirects = "too_many_redirects"
	codeNoDocument      = "no_document"
	codeInvalidSelector = "invalid_selector"
	codeNotAFormControl = "not_a_form_control"
	codeBadRequest      = "bad_request"
	codeInternal        = "internal"
)

//nolint:gochecknoglobals
var codeErrors = []struct {
	code string
	err  error
}{
	{codeElementNotFound, common.ErrElementNotFound},
	{codeDriverNotFound, common.ErrDriverNotFound},
	{codeStaleElement, common.ErrStaleElement},
	{codeTooManyRedirects, common.ErrTooManyRedirects},
	{codeNoDocument, common.ErrNoDocument},
	{codeInvalidSelector, common.ErrInvalidSelector},
	{codeNotAFormControl, common.ErrNotAFormControl},
}

// RemoteError is an error raised by the driver on the other side of the
// bridge. It unwraps to the matching sentinel error of package common.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for the error code, if any.
func (e *RemoteError) Unwrap() error {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return ce.err
		}
	}
	return nil
}

// toRemoteError encodes err for the wire.
func toRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	code := codeInternal
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			code = ce.code
			break
		}
	}
	return &RemoteError{Code: code, Message: err.Error()}
}
