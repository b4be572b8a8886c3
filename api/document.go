package api

// Document is an immutable snapshot of a page.
type Document interface {
	// ID identifies the snapshot. No two snapshots share an ID.
	ID() uint64
	URL() string
	// Body returns the raw markup of the page.
	Body() string
	// Text returns the rendered text of the page body.
	Text() string
	// Root returns the document element.
	Root() ElementHandle
	// ElementAt returns the element at path, see ElementHandle.Path.
	ElementAt(path []int) (ElementHandle, error)
}

// ElementHandle references one element of a document snapshot.
type ElementHandle interface {
	Document() Document
	// Path is the element-child index path from the document element.
	Path() []int
	TagName() string
	Attr(name string) (string, bool)
	ID() string
	Name() string
	// Type returns the lowercased control type: the type attribute for
	// inputs (defaulting to "text") and buttons (defaulting to "submit").
	Type() string
	// Text returns the whitespace-normalised rendered text.
	Text() string
	// Value returns the current value of a form control.
	Value() string
	IsChecked() bool
	IsSelected() bool
	IsDisabled() bool
	IsMultiple() bool
	// Form returns the form owning a control.
	Form() (ElementHandle, bool)
	// Options returns the options of a select element.
	Options() []ElementHandle
	// Query returns the descendants matching a CSS selector, in document order.
	Query(selector string) ([]ElementHandle, error)
	Contains(other ElementHandle) bool
	SameAs(other ElementHandle) bool
	String() string
}
