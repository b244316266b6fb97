// Package config loads and validates the db-navigator settings file
// and persists the small slice of view state that survives restarts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/electwix/db-navigator/internal/meta"
)

// Defaults applied when the settings file leaves a knob unset.
const (
	// DefaultExpandDepth reaches from the root down to the datasource
	// level without touching live connections.
	DefaultExpandDepth = 3
	// DefaultFetchTimeout bounds a single children fetch.
	DefaultFetchTimeout = 30 * time.Second
	// DefaultPrefetchWorkers bounds parallel sibling population.
	DefaultPrefetchWorkers = 4
	// DefaultStateFile is where view state persists, next to the
	// settings file.
	DefaultStateFile = "state.toml"
)

// Settings is the fully-resolved configuration used by the navigator.
type Settings struct {
	// BaseDir is the directory of the settings file. Manifest patterns
	// and the state file resolve relative to it.
	BaseDir string
	// Projects are the manifest glob patterns from [workspace].
	Projects []string
	// ExpandDepth bounds reveal-selection expansion walks.
	ExpandDepth int
	// FetchTimeout bounds a single provider fetch.
	FetchTimeout time.Duration
	// PrefetchWorkers bounds parallel subtree prefetching.
	PrefetchWorkers int
	// ShowKinds limits which node kinds views render. Nil shows all.
	ShowKinds meta.KindSet
	// LeafKinds are the kinds text patterns apply to. Nil leaves the
	// choice to the view.
	LeafKinds meta.KindSet
	// DerivedExcludes are kinds the key-membership predicate answers
	// false for without querying anything.
	DerivedExcludes meta.KindSet
	// StateFile is the resolved path of the persisted view state.
	StateFile string
}

// fileSettings mirrors the expected db-navigator TOML schema.
type fileSettings struct {
	Workspace workspaceSection `toml:"workspace"`
	Navigator navigatorSection `toml:"navigator"`
	Filter    filterSection    `toml:"filter"`
	Derived   derivedSection   `toml:"derived"`
	State     stateSection     `toml:"state"`
}

type workspaceSection struct {
	Projects []string `toml:"projects"`
}

type navigatorSection struct {
	ExpandDepth     int    `toml:"expand_depth"`
	FetchTimeout    string `toml:"fetch_timeout"`
	PrefetchWorkers int    `toml:"prefetch_workers"`
}

type filterSection struct {
	ShowKinds []string `toml:"show_kinds"`
	LeafKinds []string `toml:"leaf_kinds"`
}

type derivedSection struct {
	ExcludeKinds []string `toml:"exclude_kinds"`
}

type stateSection struct {
	File string `toml:"file"`
}

// LoadOptions tunes settings loading behavior.
type LoadOptions struct {
	Strict bool
}

// Result wraps loaded settings alongside any non-fatal warnings.
type Result struct {
	Settings Settings
	Warnings []string
}

// Load reads, validates, and resolves a db-navigator settings file.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var raw fileSettings
	if err := toml.Unmarshal(data, &raw); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknownKeys, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknownKeys) > 0 {
		slices.Sort(unknownKeys)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknownKeys, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	if len(raw.Workspace.Projects) == 0 {
		return res, fmt.Errorf("%s: workspace.projects must include at least one pattern", path)
	}

	depth, err := resolveExpandDepth(path, raw.Navigator.ExpandDepth)
	if err != nil {
		return res, err
	}

	timeout, err := resolveFetchTimeout(path, raw.Navigator.FetchTimeout)
	if err != nil {
		return res, err
	}

	workers, err := resolvePrefetchWorkers(path, raw.Navigator.PrefetchWorkers)
	if err != nil {
		return res, err
	}

	showKinds, err := resolveKinds(path, "filter.show_kinds", raw.Filter.ShowKinds)
	if err != nil {
		return res, err
	}

	leafKinds, err := resolveKinds(path, "filter.leaf_kinds", raw.Filter.LeafKinds)
	if err != nil {
		return res, err
	}

	excludeKinds, err := resolveKinds(path, "derived.exclude_kinds", raw.Derived.ExcludeKinds)
	if err != nil {
		return res, err
	}

	baseDir := filepath.Dir(path)

	stateFile, err := resolveStateFile(path, baseDir, raw.State.File)
	if err != nil {
		return res, err
	}

	res.Settings = Settings{
		BaseDir:         baseDir,
		Projects:        raw.Workspace.Projects,
		ExpandDepth:     depth,
		FetchTimeout:    timeout,
		PrefetchWorkers: workers,
		ShowKinds:       showKinds,
		LeafKinds:       leafKinds,
		DerivedExcludes: excludeKinds,
		StateFile:       stateFile,
	}

	return res, nil
}

// knownKeys maps each settings section to the keys it accepts. The
// top-level namespace accepts only these sections.
var knownKeys = map[string]map[string]struct{}{
	"workspace": {
		"projects": {},
	},
	"navigator": {
		"expand_depth":     {},
		"fetch_timeout":    {},
		"prefetch_workers": {},
	},
	"filter": {
		"show_kinds": {},
		"leaf_kinds": {},
	},
	"derived": {
		"exclude_kinds": {},
	},
	"state": {
		"file": {},
	},
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	unknown := make([]string, 0)
	for section, value := range raw {
		keys, ok := knownKeys[section]
		if !ok {
			unknown = append(unknown, section)
			continue
		}
		record, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for key := range record {
			if _, ok := keys[key]; !ok {
				unknown = append(unknown, section+"."+key)
			}
		}
	}

	return unknown, nil
}

func resolveExpandDepth(path string, depth int) (int, error) {
	if depth < 0 {
		return 0, fmt.Errorf("%s: navigator.expand_depth must not be negative", path)
	}
	if depth == 0 {
		return DefaultExpandDepth, nil
	}
	return depth, nil
}

func resolveFetchTimeout(path, timeout string) (time.Duration, error) {
	if timeout == "" {
		return DefaultFetchTimeout, nil
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, fmt.Errorf("%s: navigator.fetch_timeout: %w", path, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: navigator.fetch_timeout must be positive", path)
	}
	return d, nil
}

func resolvePrefetchWorkers(path string, workers int) (int, error) {
	if workers < 0 {
		return 0, fmt.Errorf("%s: navigator.prefetch_workers must not be negative", path)
	}
	if workers == 0 {
		return DefaultPrefetchWorkers, nil
	}
	return workers, nil
}

func resolveKinds(path, field string, names []string) (meta.KindSet, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds, err := meta.ParseKindSet(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", path, field, err)
	}
	return kinds, nil
}

func resolveStateFile(path, baseDir, file string) (string, error) {
	if file == "" {
		file = DefaultStateFile
	}
	if filepath.IsAbs(file) {
		return "", fmt.Errorf("%s: state.file must be a relative path", path)
	}

	cleaned := filepath.Clean(file)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: state.file must not traverse upwards", path)
	}

	return filepath.Join(baseDir, cleaned), nil
}
