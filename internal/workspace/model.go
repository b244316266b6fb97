package workspace

import (
	"slices"
	"strings"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider/static"
)

// Workspace is the loaded, validated set of projects.
type Workspace struct {
	Projects []*Project
}

// Project is one loaded manifest.
type Project struct {
	Name        string
	Description string
	// Manifest is the file path the project was loaded from.
	Manifest    string
	Connections []*Connection
}

// Connection is one validated datasource registration.
type Connection struct {
	ID          string
	Name        string
	Driver      string
	DSN         string
	Folder      []string
	Description string
	Options     map[string]string
	Catalog     *static.Catalog
}

// Project returns the project with the given name.
func (w *Workspace) Project(name string) (*Project, bool) {
	for _, p := range w.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// ProjectNames returns the project names in display order.
func (w *Workspace) ProjectNames() []string {
	names := make([]string, 0, len(w.Projects))
	for _, p := range w.Projects {
		names = append(names, p.Name)
	}
	slices.Sort(names)
	return names
}

// ConnectionCount returns the total number of connections across all
// projects.
func (w *Workspace) ConnectionCount() int {
	n := 0
	for _, p := range w.Projects {
		n += len(p.Connections)
	}
	return n
}

// Records renders the projects as child records of the workspace root,
// sorted by name.
func (w *Workspace) Records() []meta.Record {
	out := make([]meta.Record, 0, len(w.Projects))
	for _, name := range w.ProjectNames() {
		p, _ := w.Project(name)
		rec := meta.Record{ID: p.Name, Kind: meta.KindProject}
		if p.Description != "" {
			rec.Attrs = rec.Attrs.With(meta.AttrDescription, p.Description)
		}
		out = append(out, rec)
	}
	return out
}

// Connection returns the connection with the given id, in any folder.
func (p *Project) Connection(id string) (*Connection, bool) {
	for _, c := range p.Connections {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Records returns the child records one level below the given folder
// chain. An empty chain addresses the project's top level. Sub-folders
// come first, sorted; datasources keep their manifest order.
func (p *Project) Records(folder []string) []meta.Record {
	seen := make(map[string]struct{})
	var folders []string
	var conns []*Connection
	for _, c := range p.Connections {
		if !folderHasPrefix(c.Folder, folder) {
			continue
		}
		rest := c.Folder[len(folder):]
		if len(rest) == 0 {
			conns = append(conns, c)
			continue
		}
		if _, dup := seen[rest[0]]; !dup {
			seen[rest[0]] = struct{}{}
			folders = append(folders, rest[0])
		}
	}
	slices.Sort(folders)

	out := make([]meta.Record, 0, len(folders)+len(conns))
	for _, name := range folders {
		out = append(out, meta.Record{ID: name, Kind: meta.KindFolder})
	}
	for _, c := range conns {
		out = append(out, c.Record())
	}
	return out
}

// Record renders the connection as a datasource child record.
func (c *Connection) Record() meta.Record {
	attrs := meta.AttributeSet{{Name: meta.AttrDriver, Value: c.Driver}}
	if c.Description != "" {
		attrs = attrs.With(meta.AttrDescription, c.Description)
	}
	return meta.Record{
		ID:    c.ID,
		Label: c.Name,
		Kind:  meta.KindDataSource,
		Attrs: attrs,
	}
}

// FolderChain renders the folder for display, empty when the connection
// sits at the project's top level.
func (c *Connection) FolderChain() string {
	return strings.Join(c.Folder, "/")
}

func folderHasPrefix(folder, prefix []string) bool {
	if len(folder) < len(prefix) {
		return false
	}
	for i, seg := range prefix {
		if folder[i] != seg {
			return false
		}
	}
	return true
}
