package workspace

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/db-navigator/internal/meta"
)

func modelProject() *Project {
	return &Project{
		Name: "acme",
		Connections: []*Connection{
			{ID: "pg-main", Name: "Main Warehouse", Driver: "postgres", Folder: []string{"Dev", "Primary"}},
			{ID: "pg-replica", Name: "Replica", Driver: "postgres", Folder: []string{"Dev"}},
			{ID: "exa-prod", Name: "Prod Warehouse", Driver: "postgres", Folder: []string{"Prod"}},
			{ID: "notes", Name: "Notes", Driver: "static"},
		},
	}
}

func recordIDs(recs []meta.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestProjectRecordsTopLevel(t *testing.T) {
	p := modelProject()

	recs := p.Records(nil)

	// Folders sorted first, then top-level datasources in manifest order.
	if diff := cmp.Diff([]string{"Dev", "Prod", "notes"}, recordIDs(recs)); diff != "" {
		t.Fatalf("record ids mismatch (-want +got):\n%s", diff)
	}
	if recs[0].Kind != meta.KindFolder || recs[1].Kind != meta.KindFolder {
		t.Errorf("folder records should be %s: %+v", meta.KindFolder, recs[:2])
	}
	if recs[2].Kind != meta.KindDataSource {
		t.Errorf("datasource record should be %s: %+v", meta.KindDataSource, recs[2])
	}
}

func TestProjectRecordsFolder(t *testing.T) {
	p := modelProject()

	tests := []struct {
		name   string
		folder []string
		want   []string
	}{
		{"one level down", []string{"Dev"}, []string{"Primary", "pg-replica"}},
		{"nested folder", []string{"Dev", "Primary"}, []string{"pg-main"}},
		{"other branch", []string{"Prod"}, []string{"exa-prod"}},
		{"unknown folder", []string{"Nope"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recordIDs(p.Records(tt.folder))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("record ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWorkspaceRecords(t *testing.T) {
	ws := &Workspace{Projects: []*Project{
		{Name: "side"},
		{Name: "acme", Description: "Core retail databases"},
	}}

	recs := ws.Records()

	if diff := cmp.Diff([]string{"acme", "side"}, recordIDs(recs)); diff != "" {
		t.Fatalf("projects should list sorted by name (-want +got):\n%s", diff)
	}
	if recs[0].Kind != meta.KindProject {
		t.Errorf("Kind = %s, want %s", recs[0].Kind, meta.KindProject)
	}
	if got := recs[0].Attrs.Value(meta.AttrDescription); got != "Core retail databases" {
		t.Errorf("description attr = %q, want the manifest description", got)
	}
	if recs[1].Attrs.Has(meta.AttrDescription) {
		t.Error("projects without a description should not carry the attribute")
	}
}

func TestConnectionRecord(t *testing.T) {
	c := &Connection{
		ID:          "pg-main",
		Name:        "Main Warehouse",
		Driver:      "postgres",
		Description: "Primary OLTP",
	}

	rec := c.Record()

	if rec.ID != "pg-main" || rec.Label != "Main Warehouse" {
		t.Errorf("record identity = %q/%q, want id/name", rec.ID, rec.Label)
	}
	if rec.Kind != meta.KindDataSource {
		t.Errorf("Kind = %s, want %s", rec.Kind, meta.KindDataSource)
	}
	if got := rec.Attrs.Value(meta.AttrDriver); got != "postgres" {
		t.Errorf("driver attr = %q, want postgres", got)
	}
	if got := rec.Attrs.Value(meta.AttrDescription); got != "Primary OLTP" {
		t.Errorf("description attr = %q, want the connection description", got)
	}
}

func TestConnectionFolderChain(t *testing.T) {
	tests := []struct {
		folder []string
		want   string
	}{
		{nil, ""},
		{[]string{"Dev"}, "Dev"},
		{[]string{"Dev", "Primary"}, "Dev/Primary"},
	}

	for _, tt := range tests {
		c := &Connection{Folder: tt.folder}
		if got := c.FolderChain(); got != tt.want {
			t.Errorf("FolderChain(%v) = %q, want %q", tt.folder, got, tt.want)
		}
	}
}

func TestProjectConnectionLookup(t *testing.T) {
	p := modelProject()

	if c, ok := p.Connection("pg-replica"); !ok || c.Name != "Replica" {
		t.Errorf("Connection(pg-replica) = %+v, %v", c, ok)
	}
	if _, ok := p.Connection("missing"); ok {
		t.Error("Connection(missing) should not be found")
	}
}

func TestWorkspaceProjectLookup(t *testing.T) {
	ws := &Workspace{Projects: []*Project{{Name: "acme"}, {Name: "side"}}}

	if p, ok := ws.Project("side"); !ok || p.Name != "side" {
		t.Errorf("Project(side) = %+v, %v", p, ok)
	}
	if _, ok := ws.Project("missing"); ok {
		t.Error("Project(missing) should not be found")
	}
}
