// Package provider defines the fetch abstraction between the navigator
// core and database-specific integrations.
//
// A Provider answers two questions about the objects of one datasource:
// what are the children of an object, and what are its attributes. The
// navigator core never talks to a database directly; it routes every
// retrieval through the provider registered for the datasource's
// driver.
//
// Usage:
//
//	p, err := provider.New(ctx, "postgres", provider.Config{DSN: dsn})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	recs, err := p.Children(ctx, provider.ObjectRef{"public", "employees"})
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/electwix/db-navigator/internal/meta"
)

// ObjectRef addresses an object inside one datasource as the chain of
// identifiers below the datasource root. An empty ref addresses the
// datasource itself.
type ObjectRef []string

// String renders the ref for diagnostics.
func (r ObjectRef) String() string {
	if len(r) == 0 {
		return "."
	}
	return strings.Join(r, "/")
}

// Child returns the ref extended by one identifier.
func (r ObjectRef) Child(id string) ObjectRef {
	out := make(ObjectRef, len(r), len(r)+1)
	copy(out, r)
	return append(out, id)
}

// Provider performs metadata retrieval for a single datasource.
// Implementations must be safe for concurrent use: the tree populates
// sibling branches in parallel.
type Provider interface {
	// Children returns the ordered child records of the object at ref.
	// An empty result means the object has no children, which is a
	// valid answer and will be cached by the caller.
	Children(ctx context.Context, ref ObjectRef) ([]meta.Record, error)

	// Attributes returns the qualifier attributes of the object at ref.
	Attributes(ctx context.Context, ref ObjectRef) (meta.AttributeSet, error)

	// Connected reports whether the provider currently holds a live
	// connection to its database.
	Connected() bool

	// Close releases the underlying connection.
	Close() error
}

// Config carries the settings a factory needs to construct a provider.
type Config struct {
	// DSN is the driver-specific connection string.
	DSN string
	// Options holds driver-specific settings from the workspace manifest.
	Options map[string]string
	// Logger receives provider-level debug logging. Nil disables it.
	Logger *slog.Logger
}

// FetchError reports a failed retrieval. The wrapped error preserves
// the driver-level cause, so context cancellation stays visible through
// errors.Is.
type FetchError struct {
	Driver string
	Object string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s: %v", e.Driver, e.Object, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotFoundError reports that a ref addressed an object the datasource
// no longer has. It is a structural failure: retrying without a refresh
// of the parent cannot succeed.
type NotFoundError struct {
	Driver string
	Object string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: object %s does not exist", e.Driver, e.Object)
}
