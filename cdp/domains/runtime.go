package domains

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpr "github.com/chromedp/cdproto/runtime"
)

// Runtime exposes the CDP Runtime domain actions.
type Runtime interface {
	// Evaluate runs expression, awaiting returned promises, and returns its
	// value as JSON.
	Evaluate(ctx context.Context, expression string) ([]byte, error)
	// EvaluateHandle runs expression and returns a handle to the resulting
	// object, to be released with ReleaseObject.
	EvaluateHandle(ctx context.Context, expression string) (objectID string, err error)
	ReleaseObject(ctx context.Context, objectID string) error
}

var _ Runtime = &runtime{}

type runtime struct {
	exec cdp.Executor
}

// NewRuntime returns a new CDP Runtime domain wrapper.
func NewRuntime(exec cdp.Executor) Runtime {
	return &runtime{exec}
}

func (r *runtime) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	action := cdpr.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(true)
	res, exc, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if exc != nil {
		return nil, exceptionError(exc)
	}
	if res == nil || len(res.Value) == 0 {
		return []byte("null"), nil
	}

	return res.Value, nil
}

func (r *runtime) EvaluateHandle(ctx context.Context, expression string) (string, error) {
	action := cdpr.Evaluate(expression)
	res, exc, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return "", fmt.Errorf("evaluating expression: %w", err)
	}
	if exc != nil {
		return "", exceptionError(exc)
	}
	if res == nil || res.ObjectID == "" {
		return "", errors.New("expression did not evaluate to an object")
	}

	return string(res.ObjectID), nil
}

func (r *runtime) ReleaseObject(ctx context.Context, objectID string) error {
	action := cdpr.ReleaseObject(cdpr.RemoteObjectID(objectID))
	if err := action.Do(cdp.WithExecutor(ctx, r.exec)); err != nil {
		return fmt.Errorf("releasing object: %w", err)
	}
	return nil
}

func exceptionError(exc *cdpr.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("evaluation failed: %s", msg)
}
