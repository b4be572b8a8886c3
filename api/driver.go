package api

import "context"

// Driver is the capability set every backend implements.
// A driver owns the current document snapshot: every mutating call installs a
// new snapshot, and handles taken from an older one are rejected.
type Driver interface {
	// Visit navigates to path, resolved against the application target,
	// following redirects until a non-redirect response.
	Visit(ctx context.Context, path string) error
	// Document returns the current document snapshot.
	Document(ctx context.Context) (Document, error)
	CurrentURL(ctx context.Context) (string, error)
	// Find runs a backend native CSS query below scope.
	// A nil scope searches the whole document.
	Find(ctx context.Context, scope ElementHandle, selector string) ([]ElementHandle, error)
	SetValue(ctx context.Context, el ElementHandle, value string) error
	// SetChecked checks or unchecks a checkbox. Checking a radio button
	// unchecks the other members of its group.
	SetChecked(ctx context.Context, el ElementHandle, checked bool) error
	// SetSelected selects or deselects an option. Selecting an option of a
	// single-valued select deselects its siblings.
	SetSelected(ctx context.Context, option ElementHandle, selected bool) error
	// AttachFile associates the file at path with a file input.
	AttachFile(ctx context.Context, el ElementHandle, path string) error
	// Click follows links and submits the owning form of submit buttons.
	Click(ctx context.Context, el ElementHandle) error
	// Submit submits form as if button was pressed. Button may be nil.
	Submit(ctx context.Context, form, button ElementHandle) error
	Close() error
}
