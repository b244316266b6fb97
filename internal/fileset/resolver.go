// Package fileset resolves the glob patterns that locate workspace
// project manifests.
package fileset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNoPatterns indicates that Resolve was invoked without any glob patterns.
var ErrNoPatterns = errors.New("fileset: no patterns provided")

// PatternError wraps syntax issues reported while evaluating a glob pattern.
type PatternError struct {
	Pattern string
	Err     error
}

func (e PatternError) Error() string {
	return fmt.Sprintf("invalid glob pattern %q: %v", e.Pattern, e.Err)
}

func (e PatternError) Unwrap() error { return e.Err }

// NoMatchError lists the patterns that yielded no manifests at all.
type NoMatchError struct {
	Patterns []string
}

func (e NoMatchError) Error() string {
	return "patterns matched no manifests: " + strings.Join(e.Patterns, ", ")
}

// Resolver expands manifest glob patterns against a filesystem. Patterns
// use fs.Glob syntax plus at most one `**` segment for matching at any
// nesting depth. The zero value has no filesystem; construct with
// NewResolver or NewOSResolver.
type Resolver struct {
	fsys fs.FS
	base string // when non-empty, matches become absolute OS paths under base
}

// NewResolver expands patterns against fsys and reports matches by their
// slash-separated names. Suits fstest.MapFS fixtures.
func NewResolver(fsys fs.FS) Resolver {
	return Resolver{fsys: fsys}
}

// NewOSResolver expands patterns against the directory at base and
// reports matches as absolute OS paths.
func NewOSResolver(base string) (Resolver, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return Resolver{}, fmt.Errorf("resolve base %q: %w", base, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Resolver{}, fmt.Errorf("stat base %q: %w", abs, err)
	}
	if !info.IsDir() {
		return Resolver{}, fmt.Errorf("base %q is not a directory", abs)
	}
	return Resolver{fsys: os.DirFS(abs), base: abs}, nil
}

// Resolve expands every pattern and returns the union of matches, sorted
// and de-duplicated. Patterns that match nothing are collected and
// reported together in a NoMatchError; a malformed pattern aborts with a
// PatternError.
func (r Resolver) Resolve(patterns []string) ([]string, error) {
	if r.fsys == nil {
		return nil, errors.New("fileset: resolver has no filesystem")
	}
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	found := make(map[string]struct{})
	var missing []string

	for _, pattern := range patterns {
		matches, err := r.expand(pattern)
		if err != nil {
			return nil, PatternError{Pattern: pattern, Err: err}
		}
		if len(matches) == 0 {
			missing = append(missing, pattern)
			continue
		}
		for _, match := range matches {
			found[r.rewrite(match)] = struct{}{}
		}
	}

	if len(missing) > 0 {
		return nil, NoMatchError{Patterns: missing}
	}

	matches := make([]string, 0, len(found))
	for match := range found {
		matches = append(matches, match)
	}
	slices.Sort(matches)
	return matches, nil
}

// expand evaluates one pattern in slash form, routing `**` patterns to
// the recursive walker.
func (r Resolver) expand(pattern string) ([]string, error) {
	p := filepath.ToSlash(pattern)
	if strings.Contains(p, "**") {
		return expandRecursive(r.fsys, p)
	}
	return fs.Glob(r.fsys, p)
}

// rewrite converts a slash-form match into the caller-facing path.
func (r Resolver) rewrite(name string) string {
	if r.base == "" {
		return name
	}
	return filepath.Join(r.base, filepath.FromSlash(name))
}
