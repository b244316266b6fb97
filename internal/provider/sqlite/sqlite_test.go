package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider"
)

var fixtureDDL = []string{
	`CREATE TABLE artists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		country TEXT DEFAULT 'unknown'
	)`,
	`CREATE TABLE albums (
		artist_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		released INTEGER,
		PRIMARY KEY (artist_id, title)
	)`,
	`CREATE VIEW recent_albums AS
		SELECT title, released FROM albums WHERE released >= 2020`,
	`INSERT INTO artists (name) VALUES ('Mild Orange'), ('Men I Trust')`,
}

func openProvider(t *testing.T) *Provider {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range fixtureDDL {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	p := New(db, ":memory:", nil)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestChildrenWalksDatabase(t *testing.T) {
	t.Parallel()

	p := openProvider(t)
	ctx := context.Background()

	schemas, err := p.Children(ctx, nil)
	if err != nil {
		t.Fatalf("Children(root) returned error: %v", err)
	}
	if len(schemas) != 1 || schemas[0].ID != mainSchema || schemas[0].Kind != meta.KindSchema {
		t.Fatalf("unexpected schemas: %+v", schemas)
	}

	rels, err := p.Children(ctx, provider.ObjectRef{mainSchema})
	if err != nil {
		t.Fatalf("Children(main) returned error: %v", err)
	}
	kinds := map[string]meta.Kind{}
	for _, r := range rels {
		kinds[r.ID] = r.Kind
	}
	want := map[string]meta.Kind{
		"albums":        meta.KindTable,
		"artists":       meta.KindTable,
		"recent_albums": meta.KindView,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("relations mismatch (-want +got):\n%s", diff)
	}

	groups, err := p.Children(ctx, provider.ObjectRef{mainSchema, "artists"})
	if err != nil {
		t.Fatalf("Children(artists) returned error: %v", err)
	}
	if len(groups) != 2 || groups[0].ID != meta.GroupColumns || groups[1].ID != meta.GroupKeys {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	viewGroups, err := p.Children(ctx, provider.ObjectRef{mainSchema, "recent_albums"})
	if err != nil {
		t.Fatalf("Children(view) returned error: %v", err)
	}
	if len(viewGroups) != 1 || viewGroups[0].ID != meta.GroupColumns {
		t.Fatalf("views must expose only a columns group: %+v", viewGroups)
	}
}

func TestColumnRecords(t *testing.T) {
	t.Parallel()

	p := openProvider(t)
	cols, err := p.Children(context.Background(), provider.ObjectRef{mainSchema, "artists", meta.GroupColumns})
	if err != nil {
		t.Fatalf("Children(columns) returned error: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}

	id, err := meta.ParseColumn(cols[0])
	if err != nil {
		t.Fatalf("ParseColumn(id) returned error: %v", err)
	}
	if id.Name != "id" || id.Position != 1 || id.Nullable || id.DataKind != meta.DataKindNumeric {
		t.Fatalf("unexpected id details: %+v", id)
	}
	// Two rows were inserted, so the AUTOINCREMENT counter sits at 2.
	if !id.Identity.Valid || id.Identity.Decimal.String() != "2" {
		t.Fatalf("identity counter not reported: %+v", id.Identity)
	}

	country, err := meta.ParseColumn(cols[2])
	if err != nil {
		t.Fatalf("ParseColumn(country) returned error: %v", err)
	}
	if !country.Nullable || country.Default != "'unknown'" {
		t.Fatalf("unexpected country details: %+v", country)
	}
	if country.Identity.Valid {
		t.Fatalf("only the rowid alias carries the counter: %+v", country)
	}
}

func TestKeyRecords(t *testing.T) {
	t.Parallel()

	p := openProvider(t)
	ctx := context.Background()

	keys, err := p.Children(ctx, provider.ObjectRef{mainSchema, "artists", meta.GroupKeys})
	if err != nil {
		t.Fatalf("Children(keys) returned error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected synthesized pk plus unique constraint, got %+v", keys)
	}

	pk, err := meta.ParseKey(keys[0])
	if err != nil {
		t.Fatalf("ParseKey(pk) returned error: %v", err)
	}
	if keys[0].ID != "primary" || !pk.Unique || !pk.ContainsColumn("id") {
		t.Fatalf("unexpected primary key: %+v", pk)
	}

	uq, err := meta.ParseKey(keys[1])
	if err != nil {
		t.Fatalf("ParseKey(unique) returned error: %v", err)
	}
	if !strings.HasPrefix(keys[1].ID, "sqlite_autoindex_artists") || !uq.ContainsColumn("name") {
		t.Fatalf("unexpected unique key: id=%s details=%+v", keys[1].ID, uq)
	}

	// The composite text primary key leaves a pk-origin index behind.
	albumKeys, err := p.Children(ctx, provider.ObjectRef{mainSchema, "albums", meta.GroupKeys})
	if err != nil {
		t.Fatalf("Children(album keys) returned error: %v", err)
	}
	if len(albumKeys) != 1 {
		t.Fatalf("expected one composite key, got %+v", albumKeys)
	}
	comp, err := meta.ParseKey(albumKeys[0])
	if err != nil {
		t.Fatalf("ParseKey(composite) returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"artist_id", "title"}, comp.Columns); diff != "" {
		t.Fatalf("composite key columns mismatch (-want +got):\n%s", diff)
	}
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	p := openProvider(t)
	ctx := context.Background()

	root, err := p.Attributes(ctx, nil)
	if err != nil {
		t.Fatalf("Attributes(root) returned error: %v", err)
	}
	if root.Value(meta.AttrDriver) != driverName || root.Value(meta.AttrServer) == "" {
		t.Fatalf("unexpected root attrs: %v", root)
	}

	rel, err := p.Attributes(ctx, provider.ObjectRef{mainSchema, "albums"})
	if err != nil {
		t.Fatalf("Attributes(albums) returned error: %v", err)
	}
	if rel.Value(meta.AttrType) != string(meta.KindTable) {
		t.Fatalf("unexpected relation attrs: %v", rel)
	}

	col, err := p.Attributes(ctx, provider.ObjectRef{mainSchema, "albums", meta.GroupColumns, "title"})
	if err != nil {
		t.Fatalf("Attributes(column) returned error: %v", err)
	}
	if col.Value(meta.AttrNullable) != "false" {
		t.Fatalf("unexpected column attrs: %v", col)
	}
}

func TestStructuralMisses(t *testing.T) {
	t.Parallel()

	p := openProvider(t)
	ctx := context.Background()

	refs := []provider.ObjectRef{
		{"other"},
		{mainSchema, "missing"},
		{mainSchema, "recent_albums", meta.GroupKeys},
		{mainSchema, "artists", "indexes"},
		{mainSchema, "artists", meta.GroupColumns, "missing"},
	}
	for _, ref := range refs {
		_, err := p.Children(ctx, ref)
		var nf *provider.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("Children(%s): expected NotFoundError, got %v", ref, err)
		}
	}

	leaf, err := p.Children(ctx, provider.ObjectRef{mainSchema, "artists", meta.GroupColumns, "name"})
	if err != nil {
		t.Fatalf("Children(column) returned error: %v", err)
	}
	if len(leaf) != 0 {
		t.Fatalf("columns have no children, got %+v", leaf)
	}
}

func TestFactoryOpensMemoryDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := Factory(ctx, provider.Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Factory returned error: %v", err)
	}
	defer p.Close()

	if !p.Connected() {
		t.Fatal("fresh provider must report connected")
	}

	rels, err := p.Children(ctx, provider.ObjectRef{mainSchema})
	if err != nil {
		t.Fatalf("Children(main) returned error: %v", err)
	}
	if len(rels) != 0 {
		t.Fatalf("fresh database should be empty, got %+v", rels)
	}
}

func TestCloseStopsFetches(t *testing.T) {
	t.Parallel()

	p := openProvider(t)
	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if p.Connected() {
		t.Fatal("closed provider must report disconnected")
	}

	_, err := p.Children(context.Background(), nil)
	var fetchErr *provider.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError after Close, got %v", err)
	}
}
