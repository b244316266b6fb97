package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/db-navigator/internal/config"
	"github.com/electwix/db-navigator/internal/diagnostics"
	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/navigator"
	"github.com/electwix/db-navigator/internal/provider"
	"github.com/electwix/db-navigator/internal/provider/static"
	"github.com/electwix/db-navigator/internal/workspace"
)

func init() {
	// The loader validates drivers against the registry. Tests dial
	// "fake" through a Connect override, never through this factory.
	provider.Register("static", static.Factory)
	provider.Register("fake", func(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
		return nil, errors.New("fake driver dials only through overrides")
	})
}

const acmeManifest = `project: acme
description: Acme workspace
connections:
  - id: notes
    name: Notes
    driver: static
    catalog:
      server: "static 1.0"
      schemas:
        - name: main
          tables:
            - name: notes
              columns:
                - name: id
                  type: integer
                - name: title
                  type: text
              keys:
                - name: pk_notes
                  columns: [id]
  - id: pg-main
    name: Main Warehouse
    driver: fake
    dsn: fake://warehouse
    folder: Dev/Primary
`

const sideManifest = `project: side
connections:
  - id: cfg
    name: Config Store
    driver: fake
    dsn: fake://cfg
`

func openTestSession(t *testing.T, files map[string]string, connect ConnectFunc) (*Session, fstest.MapFS) {
	t.Helper()

	fsys := fstest.MapFS{}
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(data)}
	}
	loader := workspace.NewLoader(fsys, workspace.LoadOptions{}, nil)

	s, diags, err := Open(Options{
		Settings: config.Settings{
			Projects:     []string{"projects/*.yaml"},
			FetchTimeout: 5 * time.Second,
		},
		Loader:  loader,
		Connect: connect,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if diags.HasErrors() {
		t.Fatalf("Open() reported manifest errors: %v", diags.All())
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, fsys
}

func childByID(t *testing.T, s *Session, parent *navigator.Node, id string) *navigator.Node {
	t.Helper()

	kids, err := s.Tree().Children(context.Background(), parent)
	if err != nil {
		t.Fatalf("Children(%s) error = %v", parent.Path(), err)
	}
	for _, kid := range kids {
		if kid.ID() == id {
			return kid
		}
	}
	t.Fatalf("no child %q under %s", id, parent.Path())
	return nil
}

func nodeIDs(t *testing.T, s *Session, parent *navigator.Node) []string {
	t.Helper()

	kids, err := s.Tree().Children(context.Background(), parent)
	if err != nil {
		t.Fatalf("Children(%s) error = %v", parent.Path(), err)
	}
	ids := make([]string, 0, len(kids))
	for _, kid := range kids {
		ids = append(ids, kid.ID())
	}
	return ids
}

func TestSessionBrowsesWorkspaceLevels(t *testing.T) {
	s, _ := openTestSession(t, map[string]string{
		"projects/acme.yaml": acmeManifest,
		"projects/side.yaml": sideManifest,
	}, nil)

	root := s.Tree().Root()
	if diff := cmp.Diff([]string{"acme", "side"}, nodeIDs(t, s, root)); diff != "" {
		t.Errorf("root children mismatch (-want +got):\n%s", diff)
	}

	acme := childByID(t, s, root, "acme")
	if acme.Kind() != meta.KindProject {
		t.Errorf("acme kind = %q, want project", acme.Kind())
	}
	if diff := cmp.Diff([]string{"Dev", "notes"}, nodeIDs(t, s, acme)); diff != "" {
		t.Errorf("acme children mismatch (-want +got):\n%s", diff)
	}

	dev := childByID(t, s, acme, "Dev")
	if dev.Kind() != meta.KindFolder {
		t.Errorf("Dev kind = %q, want folder", dev.Kind())
	}
	primary := childByID(t, s, dev, "Primary")
	ds := childByID(t, s, primary, "pg-main")
	if ds.Kind() != meta.KindDataSource {
		t.Errorf("pg-main kind = %q, want datasource", ds.Kind())
	}
	if ds.Label() != "Main Warehouse" {
		t.Errorf("pg-main label = %q, want Main Warehouse", ds.Label())
	}
}

func TestSessionInlineCatalogSubtree(t *testing.T) {
	s, _ := openTestSession(t, map[string]string{
		"projects/acme.yaml": acmeManifest,
	}, nil)

	root := s.Tree().Root()
	acme := childByID(t, s, root, "acme")
	ds := childByID(t, s, acme, "notes")

	if ds.Connected() {
		t.Error("datasource reports connected before any fetch")
	}

	schema := childByID(t, s, ds, "main")
	if schema.Kind() != meta.KindSchema {
		t.Errorf("main kind = %q, want schema", schema.Kind())
	}
	if !ds.Connected() {
		t.Error("datasource not marked connected after its first fetch")
	}

	table := childByID(t, s, schema, "notes")
	columns := childByID(t, s, table, meta.GroupColumns)
	if diff := cmp.Diff([]string{"id", "title"}, nodeIDs(t, s, columns)); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	attrs, err := s.Tree().Attributes(context.Background(), ds)
	if err != nil {
		t.Fatalf("Attributes() error = %v", err)
	}
	if got := attrs.Value(meta.AttrServer); got != "static 1.0" {
		t.Errorf("server attribute = %q, want static 1.0", got)
	}
	if got := attrs.Value(meta.AttrDriver); got != "static" {
		t.Errorf("driver attribute = %q, want static", got)
	}
}

func TestSessionDialsOnce(t *testing.T) {
	var dials atomic.Int32
	connect := func(ctx context.Context, driver string, cfg provider.Config) (provider.Provider, error) {
		dials.Add(1)
		time.Sleep(20 * time.Millisecond)
		return static.New(&static.Catalog{Schemas: []static.Schema{{Name: "public"}}}), nil
	}

	s, _ := openTestSession(t, map[string]string{
		"projects/side.yaml": sideManifest,
	}, connect)

	h, _, err := s.handleFor(meta.JoinPath("side", "cfg"))
	if err != nil {
		t.Fatalf("handleFor() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.dial(context.Background(), s); err != nil {
				t.Errorf("dial() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := dials.Load(); got != 1 {
		t.Errorf("8 concurrent dials opened %d connections, want 1", got)
	}
}

func TestSessionConnectFailureRetries(t *testing.T) {
	var dials atomic.Int32
	connect := func(ctx context.Context, driver string, cfg provider.Config) (provider.Provider, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return static.New(&static.Catalog{Schemas: []static.Schema{{Name: "public"}}}), nil
	}

	s, _ := openTestSession(t, map[string]string{
		"projects/side.yaml": sideManifest,
	}, connect)

	root := s.Tree().Root()
	side := childByID(t, s, root, "side")
	ds := childByID(t, s, side, "cfg")

	if _, err := s.Tree().Children(context.Background(), ds); err == nil {
		t.Fatal("expected the first fetch to fail")
	}
	if ds.Connected() {
		t.Error("datasource marked connected after a failed dial")
	}
	if ds.ChildrenPopulated() {
		t.Error("children slot populated by a failed fetch")
	}
	if got := s.Diagnostics().ByCode(diagnostics.ErrConnectFailed); len(got) != 1 {
		t.Errorf("connect failures reported = %d, want 1", len(got))
	}

	if diff := cmp.Diff([]string{"public"}, nodeIDs(t, s, ds)); diff != "" {
		t.Errorf("retry children mismatch (-want +got):\n%s", diff)
	}
	if !ds.Connected() {
		t.Error("datasource not marked connected after the retry")
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
}

type trackingProvider struct {
	provider.Provider
	closed atomic.Bool
}

func (p *trackingProvider) Close() error {
	p.closed.Store(true)
	return p.Provider.Close()
}

func TestSessionDisconnect(t *testing.T) {
	var dials atomic.Int32
	var last *trackingProvider
	connect := func(ctx context.Context, driver string, cfg provider.Config) (provider.Provider, error) {
		dials.Add(1)
		last = &trackingProvider{
			Provider: static.New(&static.Catalog{Schemas: []static.Schema{{Name: "public"}}}),
		}
		return last, nil
	}

	s, _ := openTestSession(t, map[string]string{
		"projects/side.yaml": sideManifest,
	}, connect)

	root := s.Tree().Root()
	side := childByID(t, s, root, "side")
	ds := childByID(t, s, side, "cfg")
	childByID(t, s, ds, "public")

	if !ds.Connected() {
		t.Fatal("datasource should be connected after browsing")
	}

	if err := s.Disconnect("side", "cfg"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if !last.closed.Load() {
		t.Error("provider not closed on disconnect")
	}
	if ds.Connected() {
		t.Error("datasource still marked connected")
	}
	if ds.ChildrenPopulated() {
		t.Error("datasource subtree still cached after disconnect")
	}

	childByID(t, s, ds, "public")
	if got := dials.Load(); got != 2 {
		t.Errorf("dial count after reconnect = %d, want 2", got)
	}
}

func TestSessionExplicitConnectMarksNode(t *testing.T) {
	connect := func(ctx context.Context, driver string, cfg provider.Config) (provider.Provider, error) {
		return static.New(&static.Catalog{Schemas: []static.Schema{{Name: "public"}}}), nil
	}

	s, _ := openTestSession(t, map[string]string{
		"projects/side.yaml": sideManifest,
	}, connect)

	// Dial before the datasource node exists.
	if err := s.Connect(context.Background(), "side", "cfg"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	root := s.Tree().Root()
	side := childByID(t, s, root, "side")
	ds := childByID(t, s, side, "cfg")

	// The flag arrives through the tree's refresh events.
	deadline := time.Now().Add(2 * time.Second)
	for !ds.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("datasource never marked connected after explicit Connect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recordingProvider struct {
	mu   sync.Mutex
	refs []string
}

func (p *recordingProvider) Children(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	p.mu.Lock()
	p.refs = append(p.refs, ref.String())
	p.mu.Unlock()

	switch ref.String() {
	case ".":
		return []meta.Record{{ID: "public", Kind: meta.KindSchema}}, nil
	case "public":
		return []meta.Record{{ID: "users", Kind: meta.KindTable}}, nil
	case "public/users":
		return []meta.Record{{ID: meta.GroupColumns, Kind: meta.KindGroup}}, nil
	default:
		return nil, nil
	}
}

func (p *recordingProvider) Attributes(ctx context.Context, ref provider.ObjectRef) (meta.AttributeSet, error) {
	return meta.AttributeSet{{Name: meta.AttrServer, Value: "fake 1"}}, nil
}

func (p *recordingProvider) Connected() bool { return true }
func (p *recordingProvider) Close() error    { return nil }

func (p *recordingProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.refs...)
}

func TestSessionRoutesObjectRefs(t *testing.T) {
	rec := &recordingProvider{}
	connect := func(ctx context.Context, driver string, cfg provider.Config) (provider.Provider, error) {
		return rec, nil
	}

	s, _ := openTestSession(t, map[string]string{
		"projects/acme.yaml": acmeManifest,
	}, connect)

	root := s.Tree().Root()
	acme := childByID(t, s, root, "acme")
	dev := childByID(t, s, acme, "Dev")
	primary := childByID(t, s, dev, "Primary")
	ds := childByID(t, s, primary, "pg-main")

	schema := childByID(t, s, ds, "public")
	table := childByID(t, s, schema, "users")
	childByID(t, s, table, meta.GroupColumns)

	want := []string{".", "public", "public/users"}
	if diff := cmp.Diff(want, rec.seen()); diff != "" {
		t.Errorf("provider refs mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionHandleForPrefersLongestPrefix(t *testing.T) {
	const tangled = `project: acme
connections:
  - id: X
    name: Top
    driver: fake
    dsn: fake://top
  - id: Y
    name: Nested
    driver: fake
    dsn: fake://nested
    folder: X
`
	s, _ := openTestSession(t, map[string]string{
		"projects/acme.yaml": tangled,
	}, nil)

	h, ref, err := s.handleFor(meta.JoinPath("acme", "X", "Y", "sub"))
	if err != nil {
		t.Fatalf("handleFor() error = %v", err)
	}
	if h.spec.ID != "Y" {
		t.Errorf("resolved connection = %q, want Y", h.spec.ID)
	}
	if diff := cmp.Diff("sub", ref.String()); diff != "" {
		t.Errorf("object ref mismatch (-want +got):\n%s", diff)
	}

	h, ref, err = s.handleFor(meta.JoinPath("acme", "X"))
	if err != nil {
		t.Fatalf("handleFor() error = %v", err)
	}
	if h.spec.ID != "X" {
		t.Errorf("resolved connection = %q, want X", h.spec.ID)
	}
	if got := ref.String(); got != "." {
		t.Errorf("object ref = %q, want .", got)
	}

	if _, _, err := s.handleFor(meta.JoinPath("other", "Z")); err == nil {
		t.Error("expected an error for a path outside every connection")
	}
}

func TestSessionOpenBadPatterns(t *testing.T) {
	loader := workspace.NewLoader(fstest.MapFS{}, workspace.LoadOptions{}, nil)

	_, diags, err := Open(Options{
		Settings: config.Settings{Projects: []string{"["}},
		Loader:   loader,
	})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Open() error = %v, want *LoadError", err)
	}
	if got := diags.ByCode(diagnostics.ErrSettingsBadPattern); len(got) == 0 {
		t.Error("bad pattern not reported in diagnostics")
	}
}

func TestSessionSummary(t *testing.T) {
	s, _ := openTestSession(t, map[string]string{
		"projects/acme.yaml": acmeManifest,
		"projects/side.yaml": sideManifest,
	}, nil)

	root := s.Tree().Root()
	acme := childByID(t, s, root, "acme")
	childByID(t, s, childByID(t, s, acme, "notes"), "main")

	got := s.Summary()
	if got.Projects != 2 {
		t.Errorf("Projects = %d, want 2", got.Projects)
	}
	if got.Connections != 3 {
		t.Errorf("Connections = %d, want 3", got.Connections)
	}
	if got.Connected != 1 {
		t.Errorf("Connected = %d, want 1", got.Connected)
	}
	if got.CachedNodes < 5 {
		t.Errorf("CachedNodes = %d, want at least 5", got.CachedNodes)
	}
	if got.Errors != 0 {
		t.Errorf("Errors = %d, want 0", got.Errors)
	}
}
