package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider"
)

func TestFromManifestErrorNil(t *testing.T) {
	c := FromManifestError("projects/acme.yaml", nil)
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestFromManifestErrorTypeError(t *testing.T) {
	// A real yaml.TypeError carries one message per offending field.
	var out struct {
		Name  string `yaml:"name"`
		Port  int    `yaml:"port"`
		Count int    `yaml:"count"`
	}
	src := "name: acme\nport: not-a-number\ncount: also-bad\n"
	err := yaml.Unmarshal([]byte(src), &out)

	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("Unmarshal() error = %v, want *yaml.TypeError", err)
	}

	c := FromManifestError("projects/acme.yaml", err)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (one per type error)", c.Len())
	}

	wantLines := []int{2, 3}
	for i, d := range c.All() {
		if !d.IsError() {
			t.Errorf("diagnostic %d severity = %v, want error", i, d.Severity)
		}
		if d.Location.Manifest != "projects/acme.yaml" {
			t.Errorf("diagnostic %d manifest = %q, want projects/acme.yaml", i, d.Location.Manifest)
		}
		if d.Location.Line != wantLines[i] {
			t.Errorf("diagnostic %d line = %d, want %d", i, d.Location.Line, wantLines[i])
		}
		if d.Code != ErrManifestParse {
			t.Errorf("diagnostic %d code = %q, want %q", i, d.Code, ErrManifestParse)
		}
		if d.Source != "workspace-loader" {
			t.Errorf("diagnostic %d source = %q, want workspace-loader", i, d.Source)
		}
	}
}

func TestFromManifestErrorPlain(t *testing.T) {
	err := errors.New(`duplicate connection id "pg-main"`)

	c := FromManifestError("projects/acme.yaml", err)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	d := c.All()[0]
	if d.Code != ErrManifestDuplicateConn {
		t.Errorf("Code = %q, want %q", d.Code, ErrManifestDuplicateConn)
	}
	if d.Location.Manifest != "projects/acme.yaml" {
		t.Errorf("Manifest = %q, want projects/acme.yaml", d.Location.Manifest)
	}
	if d.Location.Line != 0 {
		t.Errorf("Line = %d, want 0 (no line in message)", d.Location.Line)
	}
}

func TestFromManifestErrorScannerLine(t *testing.T) {
	// yaml syntax errors report their location only inside the message.
	err := errors.New("yaml: line 7: did not find expected key")

	c := FromManifestError("projects/acme.yaml", err)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	d := c.All()[0]
	if d.Location.Line != 7 {
		t.Errorf("Line = %d, want 7", d.Location.Line)
	}
	if d.Code != ErrManifestParse {
		t.Errorf("Code = %q, want %q", d.Code, ErrManifestParse)
	}
}

func TestFromProviderError(t *testing.T) {
	object := meta.JoinPath("acme", "Dev", "pg-main", "inventory")

	tests := []struct {
		name         string
		err          error
		wantSeverity Severity
		wantCode     string
		wantNote     string
	}{
		{
			name:         "nil error",
			err:          nil,
			wantSeverity: SeverityInfo,
		},
		{
			name:         "canceled",
			err:          context.Canceled,
			wantSeverity: SeverityInfo,
		},
		{
			name:         "deadline exceeded",
			err:          fmt.Errorf("fetch children: %w", context.DeadlineExceeded),
			wantSeverity: SeverityInfo,
		},
		{
			name:         "object gone",
			err:          &provider.NotFoundError{Driver: "postgres", Object: "inventory"},
			wantSeverity: SeverityError,
			wantCode:     ErrObjectMissing,
			wantNote:     "refresh the parent listing",
		},
		{
			name:         "wrapped object gone",
			err:          fmt.Errorf("expand: %w", &provider.NotFoundError{Driver: "postgres", Object: "inventory"}),
			wantSeverity: SeverityError,
			wantCode:     ErrObjectMissing,
		},
		{
			name:         "fetch failed",
			err:          &provider.FetchError{Driver: "postgres", Object: "inventory", Err: errors.New("timeout")},
			wantSeverity: SeverityError,
			wantCode:     ErrFetchFailed,
			wantNote:     "a later access retries",
		},
		{
			name:         "anything else",
			err:          errors.New("dial tcp 10.0.0.5:5432: connection refused"),
			wantSeverity: SeverityError,
			wantCode:     ErrConnectFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := FromProviderError(object, tt.err)

			if d.Severity != tt.wantSeverity {
				t.Errorf("Severity = %v, want %v", d.Severity, tt.wantSeverity)
			}
			if d.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", d.Code, tt.wantCode)
			}
			if d.Location.Object != object {
				t.Errorf("Object = %q, want %q", d.Location.Object, object)
			}
			if d.Source != "provider" {
				t.Errorf("Source = %q, want provider", d.Source)
			}
			if tt.wantNote != "" {
				found := false
				for _, note := range d.Notes {
					if strings.Contains(note, tt.wantNote) {
						found = true
					}
				}
				if !found {
					t.Errorf("Notes = %v, want one containing %q", d.Notes, tt.wantNote)
				}
			}
		})
	}
}

func TestClassifyManifestError(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{`duplicate project "acme"`, ErrManifestDuplicateProj},
		{`duplicate connection id "pg-main"`, ErrManifestDuplicateConn},
		{"project name is required", ErrManifestMissingName},
		{`unknown driver "oracle"`, ErrManifestUnknownDriver},
		{`folder "Dev//Primary" has an empty segment`, ErrManifestBadFolder},
		{"catalog: table without a schema", ErrManifestBadCatalog},
		{"cannot unmarshal !!str `x` into int", ErrManifestParse},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := classifyManifestError(tt.message)
			if got != tt.want {
				t.Errorf("classifyManifestError(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestClassifyManifestWarning(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"field bogus not found in type workspace.manifest", WarnManifestUnknownKey},
		{`unknown key "colour"`, WarnManifestUnknownKey},
		{`project "acme" declares no connections`, WarnEmptyProject},
		{`generated id for connection "Main Warehouse"`, WarnGeneratedID},
		{"something else entirely", ""},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := classifyManifestWarning(tt.message)
			if got != tt.want {
				t.Errorf("classifyManifestWarning(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestClassifySettingsError(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{`unknown key "navigator.depth"`, ErrSettingsUnknownKey},
		{`invalid glob pattern "projects/[**"`, ErrSettingsBadPattern},
		{"state file is not valid TOML", ErrStateInvalid},
		{"expand_depth must be positive", ErrSettingsInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := classifySettingsError(tt.message)
			if got != tt.want {
				t.Errorf("classifySettingsError(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestCreateManifestError(t *testing.T) {
	d := CreateManifestError("projects/acme.yaml", 4, "project name is required")

	if !d.IsError() {
		t.Errorf("Severity = %v, want error", d.Severity)
	}
	if d.Code != ErrManifestMissingName {
		t.Errorf("Code = %q, want %q", d.Code, ErrManifestMissingName)
	}
	if d.Location.Manifest != "projects/acme.yaml" || d.Location.Line != 4 {
		t.Errorf("Location = %+v, want projects/acme.yaml:4", d.Location)
	}
	if d.Source != "workspace-loader" {
		t.Errorf("Source = %q, want workspace-loader", d.Source)
	}
}

func TestCreateManifestWarning(t *testing.T) {
	d := CreateManifestWarning("projects/acme.yaml", 0, `project "acme" declares no connections`)

	if !d.IsWarning() {
		t.Errorf("Severity = %v, want warning", d.Severity)
	}
	if d.Code != WarnEmptyProject {
		t.Errorf("Code = %q, want %q", d.Code, WarnEmptyProject)
	}
}

func TestCreateSettingsError(t *testing.T) {
	d := CreateSettingsError("navigator.toml", `invalid glob pattern "projects/[**"`)

	if d.Code != ErrSettingsBadPattern {
		t.Errorf("Code = %q, want %q", d.Code, ErrSettingsBadPattern)
	}
	if d.Location.Manifest != "navigator.toml" {
		t.Errorf("Manifest = %q, want navigator.toml", d.Location.Manifest)
	}
	if d.Source != "settings-loader" {
		t.Errorf("Source = %q, want settings-loader", d.Source)
	}
}
