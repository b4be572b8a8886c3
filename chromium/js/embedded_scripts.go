// Package js holds the scripts the chromium driver evaluates in pages.
// Every script is a function expression, called with JSON encoded arguments.
package js

import (
	_ "embed"
)

// SnapshotScript serializes the page with the live state of form controls
// mirrored into attributes, and returns {url, title, html}.
//
//go:embed snapshot.js
var SnapshotScript string

// FindScript runs a CSS query below the element at a path and returns the
// paths of the matches.
//
//go:embed find.js
var FindScript string

// ElementScript returns the element at a path.
//
//go:embed element.js
var ElementScript string

// ActionScript applies an action (value, checked, selected, click, submit)
// to the element at a path, firing the events a user would.
//
//go:embed action.js
var ActionScript string

// MarkerScript sets the navigation marker of the current window, or reports
// whether the window still carries it along with the document ready state.
//
//go:embed marker.js
var MarkerScript string
