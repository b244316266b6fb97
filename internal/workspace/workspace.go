// Package workspace loads project manifests: the YAML files that
// register a workspace's projects, folders, and datasource connections,
// optionally with an inline static catalog per connection.
//
// A manifest describes one project:
//
//	project: acme
//	description: Core retail databases
//	connections:
//	  - id: pg-main
//	    name: Main Warehouse
//	    driver: postgres
//	    dsn: postgres://localhost:5432/warehouse
//	    folder: Dev/Primary
//
// Loading never panics on malformed input; every problem is reported as
// a diagnostic against the manifest file.
package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/electwix/db-navigator/internal/diagnostics"
	"github.com/electwix/db-navigator/internal/fileset"
	"github.com/electwix/db-navigator/internal/logging"
	"github.com/electwix/db-navigator/internal/provider"
	"github.com/electwix/db-navigator/internal/provider/static"
)

// manifest is the raw file format before validation.
type manifest struct {
	Project     string               `yaml:"project"`
	Description string               `yaml:"description,omitempty"`
	Connections []manifestConnection `yaml:"connections,omitempty"`
}

type manifestConnection struct {
	ID          string            `yaml:"id,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Driver      string            `yaml:"driver,omitempty"`
	DSN         string            `yaml:"dsn,omitempty"`
	Folder      string            `yaml:"folder,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Options     map[string]string `yaml:"options,omitempty"`
	Catalog     *static.Catalog   `yaml:"catalog,omitempty"`
}

// LoadOptions control manifest loading.
type LoadOptions struct {
	// Strict promotes unknown-key warnings to errors.
	Strict bool
}

// Loader reads project manifests and validates them into a Workspace.
type Loader struct {
	resolver  fileset.Resolver
	read      func(path string) ([]byte, error)
	extractor *diagnostics.ContextExtractor
	opts      LoadOptions
	logger    *slog.Logger
}

// NewLoader constructs a loader over the provided filesystem. Useful
// for tests with fstest.MapFS.
func NewLoader(fsys fs.FS, opts LoadOptions, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		resolver:  fileset.NewResolver(fsys),
		read:      func(path string) ([]byte, error) { return fs.ReadFile(fsys, path) },
		extractor: diagnostics.NewContextExtractor(),
		opts:      opts,
		logger:    logger,
	}
}

// NewOSLoader constructs a loader rooted at base that resolves manifest
// globs to absolute OS paths.
func NewOSLoader(base string, opts LoadOptions, logger *slog.Logger) (*Loader, error) {
	resolver, err := fileset.NewOSResolver(base)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		resolver:  resolver,
		read:      os.ReadFile,
		extractor: diagnostics.NewContextExtractor(),
		opts:      opts,
		logger:    logger,
	}, nil
}

// Extractor returns the context extractor preloaded with every manifest
// this loader has read, for enriching diagnostics with manifest lines.
func (l *Loader) Extractor() *diagnostics.ContextExtractor {
	return l.extractor
}

// LoadWorkspace resolves the manifest glob patterns and loads every
// project. Problems are collected as diagnostics; a project with errors
// is dropped, the rest of the workspace survives. The workspace is nil
// only when the patterns themselves cannot be resolved.
func (l *Loader) LoadWorkspace(patterns []string) (*Workspace, *diagnostics.Collection) {
	diags := diagnostics.NewCollection()

	paths, err := l.resolver.Resolve(patterns)
	if err != nil {
		diags.Add(diagnostics.CreateSettingsError("", err.Error()))
		return nil, diags
	}

	ws := &Workspace{}
	byName := make(map[string]*Project, len(paths))
	for _, path := range paths {
		proj, projDiags := l.LoadProject(path)
		diags.AddAll(projDiags)
		if proj == nil {
			continue
		}
		if first, dup := byName[proj.Name]; dup {
			diags.Add(diagnostics.Error(fmt.Sprintf("duplicate project %q", proj.Name)).
				WithCode(diagnostics.ErrManifestDuplicateProj).
				AtManifest(proj.Manifest, 0).
				WithSource("workspace-loader").
				WithRelated(diagnostics.Location{Manifest: first.Manifest}, "first defined here").
				Build())
			continue
		}
		byName[proj.Name] = proj
		ws.Projects = append(ws.Projects, proj)
		l.logger.Debug("loaded project",
			"name", proj.Name,
			"manifest", path,
			"connections", len(proj.Connections))
	}
	return ws, diags
}

// LoadProject reads and validates one manifest file. The project is nil
// when the manifest cannot be used at all; validation problems that
// affect single connections drop only those connections.
func (l *Loader) LoadProject(path string) (*Project, *diagnostics.Collection) {
	diags := diagnostics.NewCollection()

	data, err := l.read(path)
	if err != nil {
		diags.AddAll(diagnostics.FromManifestError(path, fmt.Errorf("read manifest: %w", err)))
		return nil, diags
	}
	l.extractor.Preload(path, data)

	var proj *Project
	if m, ok := l.parseManifest(path, data, diags); ok {
		proj = l.resolveProject(path, data, m, diags)
	}
	l.attachContext(diags)
	return proj, diags
}

// attachContext quotes the manifest line each diagnostic points at into
// its Context, so verbose output can show the offending entry.
func (l *Loader) attachContext(diags *diagnostics.Collection) {
	diags.Enrich(func(d diagnostics.Diagnostic) diagnostics.Diagnostic {
		if d.Context != "" || !d.HasManifest() || d.Location.Line < 1 {
			return d
		}
		ctx, err := l.extractor.ExtractContext(d.Location.Manifest, d.Location.Line, 0)
		if err != nil {
			return d
		}
		d.Context = ctx.Format()
		return d
	})
}

// parseManifest decodes the manifest strictly. Unknown keys alone are
// warnings (errors under Strict) and do not block the load; any other
// decode problem does.
func (l *Loader) parseManifest(path string, data []byte, diags *diagnostics.Collection) (*manifest, bool) {
	var m manifest
	err := strictUnmarshal(data, &m)
	if err == nil {
		return &m, true
	}

	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		diags.AddAll(diagnostics.FromManifestError(path, err))
		return nil, false
	}

	unknown, rest := splitUnknownKeys(typeErr.Errors)
	for _, msg := range rest {
		line, _ := diagnostics.LineFromMessage(msg)
		diags.Add(diagnostics.CreateManifestError(path, line, strings.TrimSpace(msg)))
	}
	for _, msg := range unknown {
		line, _ := diagnostics.LineFromMessage(msg)
		if l.opts.Strict {
			diags.Add(diagnostics.CreateManifestError(path, line, strings.TrimSpace(msg)))
		} else {
			diags.Add(diagnostics.CreateManifestWarning(path, line, strings.TrimSpace(msg)))
		}
	}
	if len(rest) > 0 || l.opts.Strict {
		return nil, false
	}

	// Decode again tolerantly: the known fields are still usable.
	m = manifest{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		diags.AddAll(diagnostics.FromManifestError(path, err))
		return nil, false
	}
	return &m, true
}

func strictUnmarshal(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// splitUnknownKeys partitions yaml type-error messages into unknown-key
// complaints and everything else.
func splitUnknownKeys(msgs []string) (unknown, rest []string) {
	for _, msg := range msgs {
		if strings.Contains(msg, "not found in type") {
			unknown = append(unknown, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	return unknown, rest
}

func (l *Loader) resolveProject(path string, data []byte, m *manifest, diags *diagnostics.Collection) *Project {
	if m.Project == "" {
		diags.Add(diagnostics.CreateManifestError(path, 0, "project name is required"))
		return nil
	}

	proj := &Project{
		Name:        m.Project,
		Description: m.Description,
		Manifest:    path,
	}

	if len(m.Connections) == 0 {
		diags.Add(diagnostics.CreateManifestWarning(path, 0,
			fmt.Sprintf("project %q declares no connections", m.Project)))
		return proj
	}

	lines := connectionLines(data)
	seen := make(map[string]int, len(m.Connections))
	for i, mc := range m.Connections {
		line := 0
		if i < len(lines) {
			line = lines[i]
		}
		conn := resolveConnection(path, line, mc, diags)
		if conn == nil {
			continue
		}
		if firstLine, dup := seen[conn.ID]; dup {
			diags.Add(diagnostics.Error(fmt.Sprintf("duplicate connection id %q", conn.ID)).
				WithCode(diagnostics.ErrManifestDuplicateConn).
				AtManifest(path, line).
				WithSource("workspace-loader").
				WithRelated(diagnostics.Location{Manifest: path, Line: firstLine}, "first declared here").
				Build())
			continue
		}
		seen[conn.ID] = line
		proj.Connections = append(proj.Connections, conn)
	}
	return proj
}

func resolveConnection(path string, line int, mc manifestConnection, diags *diagnostics.Collection) *Connection {
	bad := false

	if mc.Name == "" {
		diags.Add(diagnostics.CreateManifestError(path, line, "connection name is required"))
		bad = true
	}

	id := mc.ID
	if id == "" {
		id = uuid.NewString()
		diags.Add(diagnostics.CreateManifestWarning(path, line,
			fmt.Sprintf("generated id for connection %q", mc.Name)))
	}

	switch {
	case mc.Driver == "":
		diags.Add(diagnostics.CreateManifestError(path, line,
			fmt.Sprintf("connection %q: driver is required", mc.Name)))
		bad = true
	case !provider.IsDriverSupported(mc.Driver):
		diags.Add(diagnostics.CreateManifestError(path, line,
			fmt.Sprintf("unknown driver %q (registered: %s)",
				mc.Driver, strings.Join(provider.ListRegistered(), ", "))))
		bad = true
	}

	folder, err := splitFolder(mc.Folder)
	if err != nil {
		diags.Add(diagnostics.CreateManifestError(path, line, err.Error()))
		bad = true
	}

	if mc.Catalog != nil {
		switch {
		case mc.Driver != "" && mc.Driver != "static":
			diags.Add(diagnostics.CreateManifestError(path, line,
				fmt.Sprintf("connection %q: inline catalog is only for static connections", mc.Name)))
			bad = true
		default:
			if err := mc.Catalog.Validate(); err != nil {
				diags.Add(diagnostics.CreateManifestError(path, line,
					fmt.Sprintf("catalog: %v", err)))
				bad = true
			}
		}
	}
	if mc.Driver == "static" && mc.Catalog == nil && mc.DSN == "" {
		diags.Add(diagnostics.CreateManifestError(path, line,
			fmt.Sprintf("static connection %q needs an inline catalog or a dsn path", mc.Name)))
		bad = true
	}

	if bad {
		return nil
	}
	return &Connection{
		ID:          id,
		Name:        mc.Name,
		Driver:      mc.Driver,
		DSN:         mc.DSN,
		Folder:      folder,
		Description: mc.Description,
		Options:     mc.Options,
		Catalog:     mc.Catalog,
	}
}

// splitFolder parses a folder chain such as "Dev/Primary". Segments keep
// their spelling; only empty segments are rejected.
func splitFolder(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	segs := strings.Split(raw, "/")
	for _, seg := range segs {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("folder %q has an empty segment", raw)
		}
	}
	return segs, nil
}

// connectionLines returns the manifest line of each connections entry.
// Line positions live only on the yaml AST, so the manifest is parsed a
// second time just for them.
func connectionLines(data []byte) []int {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "connections" {
			continue
		}
		seq := root.Content[i+1]
		if seq.Kind != yaml.SequenceNode {
			return nil
		}
		lines := make([]int, len(seq.Content))
		for j, item := range seq.Content {
			lines[j] = item.Line
		}
		return lines
	}
	return nil
}
