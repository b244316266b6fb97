// Package diagnostics provides rich diagnostic information for db-navigator.
// It captures manifest locations and object paths, severity levels, and
// contextual notes to help users understand and resolve workspace issues.
package diagnostics

import (
	"fmt"
	"slices"
	"strings"

	"github.com/electwix/db-navigator/internal/meta"
)

// Severity grades a diagnostic: info is purely informational, a warning
// leaves the workspace browsable, an error drops the object it is about.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Location names what a diagnostic is about: a spot in a manifest file,
// a live object in the metadata tree, or both.
type Location struct {
	// Manifest is the manifest file path, empty for object diagnostics.
	Manifest string
	// Line is the 1-based manifest line, 0 when unknown.
	Line int
	// Object is the metadata path, empty for pure file diagnostics.
	Object meta.Path
}

// RelatedInfo represents related context for a diagnostic.
type RelatedInfo struct {
	Location Location
	Message  string
}

// Diagnostic represents a rich diagnostic message with context.
type Diagnostic struct {
	Severity Severity
	Message  string
	Code     string // Optional error code (e.g., "E101", "W103")

	Location Location

	// Context holds the rendered manifest lines around the location.
	Context string

	Notes   []string
	Related []RelatedInfo

	// Source names the component that produced the diagnostic
	// (e.g., "workspace-loader", "provider").
	Source string
}

// HasManifest reports whether the diagnostic points into a manifest file.
func (d Diagnostic) HasManifest() bool { return d.Location.Manifest != "" }

// HasObject reports whether the diagnostic points at a tree object.
func (d Diagnostic) HasObject() bool { return d.Location.Object != "" }

// IsError reports whether the diagnostic drops its object.
func (d Diagnostic) IsError() bool { return d.Severity == SeverityError }

// IsWarning reports whether the diagnostic leaves its object usable.
func (d Diagnostic) IsWarning() bool { return d.Severity == SeverityWarning }

// IsInfo reports whether the diagnostic is purely informational.
func (d Diagnostic) IsInfo() bool { return d.Severity == SeverityInfo }

// where renders the location prefix, empty when the diagnostic is global.
func (d Diagnostic) where() string {
	switch {
	case d.HasManifest() && d.Location.Line > 0:
		return fmt.Sprintf("%s:%d", d.Location.Manifest, d.Location.Line)
	case d.HasManifest():
		return d.Location.Manifest
	case d.HasObject():
		return d.Location.Object.String()
	default:
		return ""
	}
}

// Where renders the location as shown to users, "workspace" when the
// diagnostic is global.
func (d Diagnostic) Where() string {
	if w := d.where(); w != "" {
		return w
	}
	return "workspace"
}

// Error implements the error interface for error-level diagnostics.
func (d Diagnostic) Error() string {
	where := d.Where()
	if d.Code != "" {
		return fmt.Sprintf("%s: [%s] %s: %s", where, d.Code, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", where, d.Severity, d.Message)
}

// String renders the diagnostic with full detail.
func (d Diagnostic) String() string {
	return Formatter{Verbose: true}.Format(d)
}

// Builder assembles a diagnostic step by step. Severity and message are
// fixed at construction; everything else is optional.
type Builder struct {
	diag Diagnostic
}

// NewBuilder starts a diagnostic of the given severity.
func NewBuilder(severity Severity, message string) *Builder {
	return &Builder{diag: Diagnostic{Severity: severity, Message: message}}
}

// Error starts an error-level diagnostic.
func Error(message string) *Builder { return NewBuilder(SeverityError, message) }

// Warning starts a warning-level diagnostic.
func Warning(message string) *Builder { return NewBuilder(SeverityWarning, message) }

// Info starts an info-level diagnostic.
func Info(message string) *Builder { return NewBuilder(SeverityInfo, message) }

// WithCode attaches an error code such as E103.
func (b *Builder) WithCode(code string) *Builder { b.diag.Code = code; return b }

// AtManifest points the diagnostic into a manifest file. Line 0 means the
// file as a whole.
func (b *Builder) AtManifest(path string, line int) *Builder {
	b.diag.Location.Manifest = path
	b.diag.Location.Line = line
	return b
}

// AtObject points the diagnostic at a metadata tree object.
func (b *Builder) AtObject(object meta.Path) *Builder { b.diag.Location.Object = object; return b }

// AtLocation replaces the whole location.
func (b *Builder) AtLocation(loc Location) *Builder { b.diag.Location = loc; return b }

// WithContext attaches quoted manifest lines.
func (b *Builder) WithContext(context string) *Builder { b.diag.Context = context; return b }

// WithSource names the component reporting the problem.
func (b *Builder) WithSource(source string) *Builder { b.diag.Source = source; return b }

// WithNote appends an explanatory note.
func (b *Builder) WithNote(note string) *Builder { b.diag.Notes = append(b.diag.Notes, note); return b }

// WithRelated points at another location involved in the problem.
func (b *Builder) WithRelated(loc Location, message string) *Builder {
	b.diag.Related = append(b.diag.Related, RelatedInfo{Location: loc, Message: message})
	return b
}

// Build returns the assembled diagnostic.
func (b *Builder) Build() Diagnostic { return b.diag }

// Collection accumulates the diagnostics of one load or session.
type Collection struct {
	diagnostics []Diagnostic
}

// NewCollection returns an empty collection.
func NewCollection() *Collection { return &Collection{} }

// Add appends one diagnostic.
func (c *Collection) Add(d Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
}

// AddAll adds all diagnostics from another collection.
func (c *Collection) AddAll(other *Collection) {
	c.diagnostics = append(c.diagnostics, other.diagnostics...)
}

// Enrich rewrites every stored diagnostic through fn, for attaching
// context that only the producer can supply.
func (c *Collection) Enrich(fn func(Diagnostic) Diagnostic) {
	for i, d := range c.diagnostics {
		c.diagnostics[i] = fn(d)
	}
}

// HasErrors reports whether anything error-level was collected.
func (c *Collection) HasErrors() bool {
	return slices.ContainsFunc(c.diagnostics, Diagnostic.IsError)
}

// Errors returns the error-level diagnostics.
func (c *Collection) Errors() []Diagnostic { return c.BySeverity(SeverityError) }

// Warnings returns the warning-level diagnostics.
func (c *Collection) Warnings() []Diagnostic { return c.BySeverity(SeverityWarning) }

// All returns a copy of every collected diagnostic, in insertion order
// unless SortByLocation was called.
func (c *Collection) All() []Diagnostic {
	return slices.Clone(c.diagnostics)
}

// Len returns the number of collected diagnostics.
func (c *Collection) Len() int { return len(c.diagnostics) }

// Filter returns the diagnostics keep accepts.
func (c *Collection) Filter(keep func(Diagnostic) bool) []Diagnostic {
	var out []Diagnostic
	for _, d := range c.diagnostics {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// BySeverity selects one severity level.
func (c *Collection) BySeverity(severity Severity) []Diagnostic {
	return c.Filter(func(d Diagnostic) bool { return d.Severity == severity })
}

// BySource selects diagnostics reported by one component.
func (c *Collection) BySource(source string) []Diagnostic {
	return c.Filter(func(d Diagnostic) bool { return d.Source == source })
}

// ByCode selects diagnostics carrying one error code.
func (c *Collection) ByCode(code string) []Diagnostic {
	return c.Filter(func(d Diagnostic) bool { return d.Code == code })
}

// SortByLocation sorts diagnostics by manifest path, line, and object path.
func (c *Collection) SortByLocation() {
	slices.SortStableFunc(c.diagnostics, func(a, b Diagnostic) int {
		return compareLocation(a.Location, b.Location)
	})
}

func compareLocation(a, b Location) int {
	if a.Manifest != b.Manifest {
		return strings.Compare(a.Manifest, b.Manifest)
	}
	if a.Line != b.Line {
		return a.Line - b.Line
	}
	return strings.Compare(string(a.Object), string(b.Object))
}

// Summary provides a quick overview of diagnostics.
type Summary struct {
	Total    int
	Errors   int
	Warnings int
	Infos    int
}

// Summary returns a summary of the diagnostics collection.
func (c *Collection) Summary() Summary {
	s := Summary{Total: len(c.diagnostics)}
	for _, d := range c.diagnostics {
		switch d.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		case SeverityInfo:
			s.Infos++
		}
	}
	return s
}

// ErrorCodes provides standardized error codes for diagnostics.
// These codes help users identify and search for specific issues.
const (
	// Manifest errors (E1xx)
	ErrManifestParse         = "E101"
	ErrManifestDuplicateProj = "E102"
	ErrManifestDuplicateConn = "E103"
	ErrManifestMissingName   = "E104"
	ErrManifestUnknownDriver = "E105"
	ErrManifestBadFolder     = "E106"
	ErrManifestBadCatalog    = "E107"

	// Connection and fetch errors (E2xx)
	ErrConnectFailed = "E201"
	ErrProviderGone  = "E202"
	ErrObjectMissing = "E203"
	ErrFetchFailed   = "E204"

	// Settings errors (E3xx)
	ErrSettingsInvalid    = "E301"
	ErrSettingsUnknownKey = "E302"
	ErrSettingsBadPattern = "E303"
	ErrStateInvalid       = "E304"

	// Warnings (W1xx)
	WarnManifestUnknownKey = "W101"
	WarnEmptyProject       = "W102"
	WarnGeneratedID        = "W103"
	WarnSlowFetch          = "W104"
)

// CodeDescription returns a human-readable description for an error code.
func CodeDescription(code string) string {
	descriptions := map[string]string{
		ErrManifestParse:         "Manifest parsing failed",
		ErrManifestDuplicateProj: "Duplicate project name",
		ErrManifestDuplicateConn: "Duplicate connection identifier",
		ErrManifestMissingName:   "Missing required name",
		ErrManifestUnknownDriver: "Unknown datasource driver",
		ErrManifestBadFolder:     "Invalid folder chain",
		ErrManifestBadCatalog:    "Invalid inline catalog",

		ErrConnectFailed: "Connection attempt failed",
		ErrProviderGone:  "Provider was closed",
		ErrObjectMissing: "Object no longer exists",
		ErrFetchFailed:   "Metadata fetch failed",

		ErrSettingsInvalid:    "Invalid settings",
		ErrSettingsUnknownKey: "Unknown settings key",
		ErrSettingsBadPattern: "Invalid manifest glob pattern",
		ErrStateInvalid:       "Invalid view state file",

		WarnManifestUnknownKey: "Unknown manifest key",
		WarnEmptyProject:       "Project declares no connections",
		WarnGeneratedID:        "Connection identifier was generated",
		WarnSlowFetch:          "Metadata fetch was slow",
	}

	if desc, ok := descriptions[code]; ok {
		return desc
	}
	return "Unknown error code"
}
