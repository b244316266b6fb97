package session

import (
	"errors"
	"maps"
	"reflect"

	"github.com/electwix/db-navigator/internal/diagnostics"
	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/workspace"
)

// Reload re-reads every manifest and applies the differences: the
// project listing refreshes, projects whose definition changed drop
// their cached subtrees, and connections whose definition changed are
// closed so the next access dials fresh. Untouched projects keep their
// caches and live connections.
func (s *Session) Reload() (*diagnostics.Collection, error) {
	ws, diags := s.loader.LoadWorkspace(s.patterns)
	if ws == nil {
		return diags, &LoadError{Diagnostics: diags}
	}

	s.mu.Lock()
	old := s.ws
	s.ws = ws
	stale := s.rebuildLocked(ws)
	s.mu.Unlock()

	for _, h := range stale {
		if p, ok := h.slot.Peek(); ok {
			if err := p.Close(); err != nil {
				s.logger.Warn("closing replaced connection",
					"datasource", h.prefix, "error", err)
			}
		}
		h.slot.Invalidate()
		s.setConnected(h.prefix, false)
	}

	// Changed projects first: invalidating the root detaches their
	// nodes from the index, after which they could not be looked up.
	for _, name := range changedProjects(old, ws) {
		if n, ok := s.tree.Lookup(meta.RootPath.Append(name)); ok {
			s.tree.InvalidateSubtree(n)
		}
	}
	s.tree.Invalidate(s.tree.Root())

	s.logger.Info("workspace reloaded",
		"projects", len(ws.Projects),
		"connections", ws.ConnectionCount(),
		"replaced", len(stale))
	return diags, nil
}

// rebuildLocked swaps the connection handles to match ws. A handle
// whose connection definition is unchanged carries over together with
// its dialed provider; the rest are returned for closing.
func (s *Session) rebuildLocked(ws *workspace.Workspace) []*handle {
	next := make(map[meta.Path]*handle, len(s.conns))
	for _, h := range buildHandles(ws) {
		if old, ok := s.conns[h.prefix]; ok && connectionEqual(old.spec, h.spec) {
			old.spec = h.spec
			next[h.prefix] = old
			continue
		}
		next[h.prefix] = h
	}

	var stale []*handle
	for prefix, old := range s.conns {
		if next[prefix] != old {
			stale = append(stale, old)
		}
	}
	s.conns = next
	return stale
}

// connectionEqual ignores display fields: renaming a connection must
// not drop its live provider.
func connectionEqual(a, b *workspace.Connection) bool {
	return a.Driver == b.Driver &&
		a.DSN == b.DSN &&
		maps.Equal(a.Options, b.Options) &&
		reflect.DeepEqual(a.Catalog, b.Catalog)
}

// changedProjects names the projects present in both workspaces whose
// definition differs. Added and removed projects need no extra
// invalidation: repopulating the root attaches and detaches them.
func changedProjects(old, next *workspace.Workspace) []string {
	var names []string
	for _, po := range old.Projects {
		pn, ok := next.Project(po.Name)
		if !ok {
			continue
		}
		if !reflect.DeepEqual(po, pn) {
			names = append(names, po.Name)
		}
	}
	return names
}

// Watch starts reacting to manifest edits: any change reloads the
// workspace and invalidates what differs. Watching stops when the
// session closes.
func (s *Session) Watch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return errors.New("session: already watching")
	}

	manifests := s.manifestPaths()
	if len(manifests) == 0 {
		return errors.New("session: no loaded manifests to watch")
	}

	w, err := workspace.NewWatcher(manifests, workspace.WatchOptions{Logger: s.logger})
	if err != nil {
		return err
	}
	s.watcher = w
	done := make(chan struct{})
	s.watchDone = done

	go func() {
		defer close(done)
		for change := range w.Changes() {
			s.logger.Info("manifest changed", "manifest", change.Manifest)
			if _, err := s.Reload(); err != nil {
				s.logger.Error("workspace reload failed",
					"manifest", change.Manifest, "error", err)
			}
		}
	}()
	return nil
}

func (s *Session) manifestPaths() []string {
	ws := s.Workspace()
	out := make([]string, 0, len(ws.Projects))
	for _, p := range ws.Projects {
		out = append(out, p.Manifest)
	}
	return out
}
