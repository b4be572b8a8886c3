package browserprocess

import (
	"context"
)

type ctxKey int

const (
	ctxKeySessionID ctxKey = iota
)

// WithSessionID saves the ID of the session owning processes started with ctx.
func WithSessionID(ctx context.Context, sID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sID)
}

// GetSessionID returns the session ID saved in ctx.
func GetSessionID(ctx context.Context) string {
	sID, _ := ctx.Value(ctxKeySessionID).(string)
	return sID
}
