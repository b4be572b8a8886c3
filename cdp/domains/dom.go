package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpd "github.com/chromedp/cdproto/dom"
	cdpr "github.com/chromedp/cdproto/runtime"
)

// DOM exposes the CDP DOM domain actions.
type DOM interface {
	SetFileInputFiles(ctx context.Context, objectID string, files []string) error
}

var _ DOM = &dom{}

type dom struct {
	exec cdp.Executor
}

// NewDOM returns a new CDP DOM domain wrapper.
func NewDOM(exec cdp.Executor) DOM {
	return &dom{exec}
}

func (d *dom) SetFileInputFiles(ctx context.Context, objectID string, files []string) error {
	action := cdpd.SetFileInputFiles(files).WithObjectID(cdpr.RemoteObjectID(objectID))
	if err := action.Do(cdp.WithExecutor(ctx, d.exec)); err != nil {
		return fmt.Errorf("setting file input files: %w", err)
	}
	return nil
}
