package diagnostics

import (
	"context"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider"
)

// FromManifestError converts a manifest load error into diagnostics. A
// yaml.TypeError carries one message per offending field and is exploded
// into one located diagnostic each; any other error becomes a single
// diagnostic against the file as a whole.
func FromManifestError(path string, err error) *Collection {
	c := NewCollection()
	if err == nil {
		return c
	}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		for _, msg := range typeErr.Errors {
			line, _ := LineFromMessage(msg)
			c.Add(Error(strings.TrimSpace(msg)).
				WithCode(classifyManifestError(msg)).
				AtManifest(path, line).
				WithSource("workspace-loader").
				Build())
		}
		return c
	}

	line, _ := LineFromMessage(err.Error())
	c.Add(Error(err.Error()).
		WithCode(classifyManifestError(err.Error())).
		AtManifest(path, line).
		WithSource("workspace-loader").
		Build())
	return c
}

// FromProviderError converts a fetch failure into an object diagnostic.
// Structural failures (the object is gone) and cancellations are told
// apart from transient fetch errors.
func FromProviderError(object meta.Path, err error) Diagnostic {
	switch {
	case err == nil:
		return Info("ok").AtObject(object).WithSource("provider").Build()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Info(err.Error()).
			AtObject(object).
			WithSource("provider").
			Build()
	}

	var notFound *provider.NotFoundError
	if errors.As(err, &notFound) {
		return Error(err.Error()).
			WithCode(ErrObjectMissing).
			AtObject(object).
			WithSource("provider").
			WithNote("refresh the parent listing to drop the stale entry").
			Build()
	}

	var fetchErr *provider.FetchError
	if errors.As(err, &fetchErr) {
		return Error(err.Error()).
			WithCode(ErrFetchFailed).
			AtObject(object).
			WithSource("provider").
			WithNote("the cache holds nothing for this object; a later access retries").
			Build()
	}

	return Error(err.Error()).
		WithCode(ErrConnectFailed).
		AtObject(object).
		WithSource("provider").
		Build()
}

// CreateManifestError creates a rich diagnostic for manifest validation errors.
func CreateManifestError(path string, line int, message string) Diagnostic {
	return Error(message).
		WithCode(classifyManifestError(message)).
		AtManifest(path, line).
		WithSource("workspace-loader").
		Build()
}

// CreateManifestWarning creates a rich diagnostic for manifest warnings.
func CreateManifestWarning(path string, line int, message string) Diagnostic {
	return Warning(message).
		WithCode(classifyManifestWarning(message)).
		AtManifest(path, line).
		WithSource("workspace-loader").
		Build()
}

// CreateSettingsError creates a rich diagnostic for settings errors.
func CreateSettingsError(path, message string) Diagnostic {
	return Error(message).
		WithCode(classifySettingsError(message)).
		AtManifest(path, 0).
		WithSource("settings-loader").
		Build()
}

// classifyManifestError determines the appropriate error code for manifest messages.
func classifyManifestError(msg string) string {
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "duplicate project"):
		return ErrManifestDuplicateProj
	case strings.Contains(msgLower, "duplicate connection"):
		return ErrManifestDuplicateConn
	case strings.Contains(msgLower, "name is required") || strings.Contains(msgLower, "missing name"):
		return ErrManifestMissingName
	case strings.Contains(msgLower, "driver"):
		return ErrManifestUnknownDriver
	case strings.Contains(msgLower, "folder"):
		return ErrManifestBadFolder
	case strings.Contains(msgLower, "catalog"):
		return ErrManifestBadCatalog
	default:
		return ErrManifestParse
	}
}

// classifyManifestWarning determines the appropriate warning code for manifest messages.
func classifyManifestWarning(msg string) string {
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "not found in type"), strings.Contains(msgLower, "unknown key"):
		return WarnManifestUnknownKey
	case strings.Contains(msgLower, "no connections"):
		return WarnEmptyProject
	case strings.Contains(msgLower, "generated"):
		return WarnGeneratedID
	default:
		return ""
	}
}

// classifySettingsError determines the appropriate error code for settings messages.
func classifySettingsError(msg string) string {
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "unknown") && strings.Contains(msgLower, "key"):
		return ErrSettingsUnknownKey
	case strings.Contains(msgLower, "pattern") || strings.Contains(msgLower, "glob"):
		return ErrSettingsBadPattern
	case strings.Contains(msgLower, "state"):
		return ErrStateInvalid
	default:
		return ErrSettingsInvalid
	}
}
