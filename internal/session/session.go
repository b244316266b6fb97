// Package session wires the navigator together: it loads the
// workspace, serves the lazy metadata tree on top of it, dials fetch
// providers on demand, and keeps the tree in step with manifest edits.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/electwix/db-navigator/internal/cache"
	"github.com/electwix/db-navigator/internal/config"
	"github.com/electwix/db-navigator/internal/diagnostics"
	"github.com/electwix/db-navigator/internal/logging"
	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/navigator"
	"github.com/electwix/db-navigator/internal/provider"
	"github.com/electwix/db-navigator/internal/provider/static"
	"github.com/electwix/db-navigator/internal/workspace"
)

// ConnectFunc dials a provider for one datasource. The default
// consults the global driver registry.
type ConnectFunc func(ctx context.Context, driver string, cfg provider.Config) (provider.Provider, error)

// Options configures a session.
type Options struct {
	// Settings drives manifest resolution and fetch behavior.
	Settings config.Settings
	// Logger receives session and provider logging. Nil disables it.
	Logger *slog.Logger
	// Loader overrides how manifests are read. Nil builds an OS loader
	// rooted at Settings.BaseDir.
	Loader *workspace.Loader
	// Connect overrides provider dialing. Nil uses the driver registry.
	Connect ConnectFunc
	// Strict promotes manifest warnings to errors. Ignored when Loader
	// is supplied; the loader already carries its options.
	Strict bool
}

// LoadError reports that no usable workspace could be built from the
// manifests. The diagnostics carry the individual failures.
type LoadError struct {
	Diagnostics *diagnostics.Collection
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("workspace failed to load: %d errors", len(e.Diagnostics.Errors()))
}

// Session owns a loaded workspace and the lazy tree over it. It
// implements navigator.Source by routing workspace levels to manifest
// data and datasource subtrees to the provider dialed for the
// connection. All methods are safe for concurrent use.
type Session struct {
	logger   *slog.Logger
	loader   *workspace.Loader
	patterns []string
	connect  ConnectFunc
	timeout  time.Duration
	tree     *navigator.Tree

	mu    sync.RWMutex
	ws    *workspace.Workspace
	conns map[meta.Path]*handle

	diagMu sync.Mutex
	diags  *diagnostics.Collection

	watchMu   sync.Mutex
	watcher   *workspace.Watcher
	watchDone chan struct{}

	unsubscribe func()
}

// handle pairs a connection definition with its lazily dialed
// provider. The slot makes the dial exactly-once: concurrent fetches
// into the same datasource share one connection attempt.
type handle struct {
	project string
	spec    *workspace.Connection
	prefix  meta.Path
	slot    cache.Slot[provider.Provider]
}

// Open loads the workspace and builds a session over it. The returned
// collection carries the manifest diagnostics even on success: a
// partial workspace with some broken manifests is a normal outcome.
func Open(opts Options) (*Session, *diagnostics.Collection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	loader := opts.Loader
	if loader == nil {
		var err error
		loader, err = workspace.NewOSLoader(opts.Settings.BaseDir, workspace.LoadOptions{Strict: opts.Strict}, logger)
		if err != nil {
			return nil, diagnostics.NewCollection(), err
		}
	}

	connect := opts.Connect
	if connect == nil {
		connect = provider.New
	}
	timeout := opts.Settings.FetchTimeout
	if timeout <= 0 {
		timeout = config.DefaultFetchTimeout
	}

	s := &Session{
		logger:   logger,
		loader:   loader,
		patterns: opts.Settings.Projects,
		connect:  connect,
		timeout:  timeout,
		conns:    make(map[meta.Path]*handle),
		diags:    diagnostics.NewCollection(),
	}

	ws, diags := loader.LoadWorkspace(s.patterns)
	if ws == nil {
		return nil, diags, &LoadError{Diagnostics: diags}
	}
	s.ws = ws
	for _, h := range buildHandles(ws) {
		s.conns[h.prefix] = h
	}

	s.tree = navigator.New(navigator.Options{
		Source: s,
		Logger: logger,
	})

	// A datasource dialed before its node exists (explicit Connect,
	// reload races) gets its flag mirrored when the node materializes.
	events, cancel := s.tree.Subscribe(32)
	s.unsubscribe = cancel
	go func() {
		for ev := range events {
			if ev.Op == navigator.OpRefreshed {
				s.syncConnected(ev.Path)
			}
		}
	}()

	logger.Info("session opened",
		"projects", len(ws.Projects),
		"connections", ws.ConnectionCount())
	return s, diags, nil
}

// syncConnected mirrors live-connection state onto datasource nodes
// freshly materialized under parent.
func (s *Session) syncConnected(parent meta.Path) {
	s.mu.RLock()
	var dialed []meta.Path
	for _, h := range s.conns {
		if h.prefix.Parent() != parent {
			continue
		}
		if p, ok := h.slot.Peek(); ok && p.Connected() {
			dialed = append(dialed, h.prefix)
		}
	}
	s.mu.RUnlock()

	for _, prefix := range dialed {
		s.setConnected(prefix, true)
	}
}

func buildHandles(ws *workspace.Workspace) []*handle {
	var out []*handle
	for _, p := range ws.Projects {
		for _, c := range p.Connections {
			segs := make([]string, 0, len(c.Folder)+2)
			segs = append(segs, p.Name)
			segs = append(segs, c.Folder...)
			segs = append(segs, c.ID)
			out = append(out, &handle{
				project: p.Name,
				spec:    c,
				prefix:  meta.JoinPath(segs...),
			})
		}
	}
	return out
}

// Tree returns the lazy metadata tree.
func (s *Session) Tree() *navigator.Tree {
	return s.tree
}

// Workspace returns the currently loaded workspace model.
func (s *Session) Workspace() *workspace.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ws
}

// Extractor exposes the loader's manifest reader for enriching
// diagnostics with source context.
func (s *Session) Extractor() *diagnostics.ContextExtractor {
	return s.loader.Extractor()
}

// FetchChildren implements navigator.Source. Workspace levels answer
// from the loaded manifests; the datasource level and everything below
// it go through the connection's provider.
func (s *Session) FetchChildren(ctx context.Context, node *navigator.Node) ([]meta.Record, error) {
	switch node.Kind() {
	case meta.KindRoot:
		return s.Workspace().Records(), nil
	case meta.KindProject, meta.KindFolder:
		segs := node.Path().Segments()
		proj, ok := s.Workspace().Project(segs[0])
		if !ok {
			return nil, &provider.NotFoundError{Driver: "workspace", Object: node.Path().String()}
		}
		return proj.Records(segs[1:]), nil
	default:
		return s.fetchProviderChildren(ctx, node.Path())
	}
}

func (s *Session) fetchProviderChildren(ctx context.Context, path meta.Path) ([]meta.Record, error) {
	h, ref, err := s.handleFor(path)
	if err != nil {
		return nil, err
	}
	p, err := h.dial(ctx, s)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	recs, err := p.Children(ctx, ref)
	s.observeFetch(path, time.Since(start), err)
	return recs, err
}

// FetchAttributes implements navigator.Source. Workspace levels are
// answered from the manifests; datasource nodes merge live server
// qualifiers over their manifest attributes once a connection exists;
// deeper objects ask the provider directly.
func (s *Session) FetchAttributes(ctx context.Context, node *navigator.Node) (meta.AttributeSet, error) {
	switch node.Kind() {
	case meta.KindRoot, meta.KindFolder:
		return meta.AttributeSet{}, nil
	case meta.KindProject:
		proj, ok := s.Workspace().Project(node.ID())
		if !ok {
			return nil, &provider.NotFoundError{Driver: "workspace", Object: node.Path().String()}
		}
		attrs := meta.AttributeSet{}
		if proj.Description != "" {
			attrs = attrs.With(meta.AttrDescription, proj.Description)
		}
		return attrs, nil
	case meta.KindDataSource:
		return s.datasourceAttributes(ctx, node.Path())
	default:
		h, ref, err := s.handleFor(node.Path())
		if err != nil {
			return nil, err
		}
		p, err := h.dial(ctx, s)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return p.Attributes(ctx, ref)
	}
}

// datasourceAttributes never dials: a collapsed datasource shows its
// manifest attributes until something else opens the connection.
func (s *Session) datasourceAttributes(ctx context.Context, path meta.Path) (meta.AttributeSet, error) {
	h, _, err := s.handleFor(path)
	if err != nil {
		return nil, err
	}

	attrs := meta.AttributeSet{{Name: meta.AttrDriver, Value: h.spec.Driver}}
	if h.spec.Description != "" {
		attrs = attrs.With(meta.AttrDescription, h.spec.Description)
	}

	p, ok := h.slot.Peek()
	if !ok || !p.Connected() {
		return attrs, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	remote, err := p.Attributes(ctx, nil)
	if err != nil {
		s.logger.Warn("datasource attributes unavailable", "datasource", path, "error", err)
		return attrs, nil
	}
	for _, a := range remote {
		if !attrs.Has(a.Name) {
			attrs = append(attrs, a)
		}
	}
	return attrs, nil
}

// handleFor resolves the connection owning path: the handle whose
// project, folder chain, and identifier prefix the path. The longest
// prefix wins, so a folder and a connection sharing a name resolve to
// the deeper match.
func (s *Session) handleFor(path meta.Path) (*handle, provider.ObjectRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *handle
	for _, h := range s.conns {
		if !h.prefix.Contains(path) {
			continue
		}
		if best == nil || h.prefix.Depth() > best.prefix.Depth() {
			best = h
		}
	}
	if best == nil {
		return nil, nil, &provider.NotFoundError{Driver: "workspace", Object: path.String()}
	}
	segs, _ := path.RelativeTo(best.prefix)
	return best, provider.ObjectRef(segs), nil
}

func (s *Session) handleByID(project, id string) (*handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.conns {
		if h.project == project && h.spec.ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("connection %s/%s is not registered", project, id)
}

// dial returns the connection's provider, opening it on first use.
func (h *handle) dial(ctx context.Context, s *Session) (provider.Provider, error) {
	return h.slot.Get(ctx, func(ctx context.Context) (provider.Provider, error) {
		p, err := s.openProvider(ctx, h)
		if err != nil {
			s.report(diagnostics.FromProviderError(h.prefix, err))
			return nil, err
		}
		s.setConnected(h.prefix, true)
		s.logger.Info("datasource connected",
			"datasource", h.prefix, "driver", h.spec.Driver)
		return p, nil
	})
}

func (s *Session) openProvider(ctx context.Context, h *handle) (provider.Provider, error) {
	if h.spec.Catalog != nil {
		return static.New(h.spec.Catalog), nil
	}
	return s.connect(ctx, h.spec.Driver, provider.Config{
		DSN:     h.spec.DSN,
		Options: h.spec.Options,
		Logger:  s.logger,
	})
}

func (s *Session) setConnected(prefix meta.Path, connected bool) {
	if n, ok := s.tree.Lookup(prefix); ok {
		s.tree.SetConnected(n, connected)
	}
}

// Connect dials the named connection eagerly. Browsing dials on
// demand; this is for an explicit connect action.
func (s *Session) Connect(ctx context.Context, project, id string) error {
	h, err := s.handleByID(project, id)
	if err != nil {
		return err
	}
	_, err = h.dial(ctx, s)
	return err
}

// Disconnect closes the named connection and discards the cached
// subtree beneath its datasource node. The next access dials fresh.
func (s *Session) Disconnect(project, id string) error {
	h, err := s.handleByID(project, id)
	if err != nil {
		return err
	}

	var closeErr error
	if p, ok := h.slot.Peek(); ok {
		closeErr = p.Close()
	}
	h.slot.Invalidate()
	s.setConnected(h.prefix, false)
	if n, ok := s.tree.Lookup(h.prefix); ok {
		s.tree.InvalidateSubtree(n)
	}
	s.logger.Info("datasource disconnected", "datasource", h.prefix)
	return closeErr
}

// slowFetch is when a completed fetch is worth a warning.
const slowFetch = 2 * time.Second

func (s *Session) observeFetch(path meta.Path, elapsed time.Duration, err error) {
	if err != nil {
		d := diagnostics.FromProviderError(path, err)
		if !d.IsInfo() {
			s.report(d)
		}
		return
	}
	if elapsed > slowFetch {
		s.report(diagnostics.Warning(fmt.Sprintf("fetch of %s took %s", path, elapsed.Round(time.Millisecond))).
			WithCode(diagnostics.WarnSlowFetch).
			AtObject(path).
			WithSource("provider").
			Build())
		s.logger.Warn("slow fetch", "object", path, "elapsed", elapsed)
	}
}

func (s *Session) report(d diagnostics.Diagnostic) {
	s.diagMu.Lock()
	s.diags.Add(d)
	s.diagMu.Unlock()
}

// Diagnostics returns a snapshot of the fetch diagnostics accumulated
// since the session opened.
func (s *Session) Diagnostics() *diagnostics.Collection {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	out := diagnostics.NewCollection()
	out.AddAll(s.diags)
	return out
}

// Summary condenses the session state for status output.
type Summary struct {
	Projects    int
	Connections int
	Connected   int
	CachedNodes int
	Errors      int
	Warnings    int
}

func (s *Session) Summary() Summary {
	ws := s.Workspace()

	s.mu.RLock()
	connected := 0
	for _, h := range s.conns {
		if p, ok := h.slot.Peek(); ok && p.Connected() {
			connected++
		}
	}
	s.mu.RUnlock()

	s.diagMu.Lock()
	errs := len(s.diags.Errors())
	warns := len(s.diags.Warnings())
	s.diagMu.Unlock()

	return Summary{
		Projects:    len(ws.Projects),
		Connections: ws.ConnectionCount(),
		Connected:   connected,
		CachedNodes: s.tree.Len(),
		Errors:      errs,
		Warnings:    warns,
	}
}

// Close stops watching and closes every dialed provider.
func (s *Session) Close() error {
	s.watchMu.Lock()
	w := s.watcher
	done := s.watchDone
	s.watcher = nil
	s.watchDone = nil
	s.watchMu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		<-done
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.mu.RLock()
	handles := make([]*handle, 0, len(s.conns))
	for _, h := range s.conns {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		if p, ok := h.slot.Peek(); ok {
			if err := p.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", h.prefix, err))
			}
		}
		h.slot.Invalidate()
	}
	return errors.Join(errs...)
}
