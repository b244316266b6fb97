package provider

import (
	"context"
	"fmt"
)

// Progress receives advisory messages from providers while a long fetch
// is running. The navigator core passes the handle through untouched;
// only providers report and only the caller that installed it listens.
type Progress interface {
	Report(message string)
}

type progressKey struct{}

// WithProgress attaches a progress handle to the context.
func WithProgress(ctx context.Context, p Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// Report sends a formatted message to the progress handle on ctx, if
// any. Safe to call from any provider goroutine.
func Report(ctx context.Context, format string, args ...any) {
	p, ok := ctx.Value(progressKey{}).(Progress)
	if !ok || p == nil {
		return
	}
	p.Report(fmt.Sprintf(format, args...))
}

// ProgressFunc adapts a function to the Progress interface.
type ProgressFunc func(message string)

// Report implements Progress.
func (f ProgressFunc) Report(message string) { f(message) }
