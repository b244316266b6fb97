package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func startWatcher(t *testing.T, manifests []string) *Watcher {
	t.Helper()
	w, err := NewWatcher(manifests, WatchOptions{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func awaitChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case c, ok := <-w.Changes():
		if !ok {
			t.Fatal("Changes() closed before a change arrived")
		}
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a manifest change")
		return Change{}
	}
}

func TestWatcherEmitsOnWrite(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "acme.yaml")
	if err := os.WriteFile(manifest, []byte("project: acme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w := startWatcher(t, []string{manifest})

	if err := os.WriteFile(manifest, []byte("project: acme\ndescription: d\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c := awaitChange(t, w)
	if c.Manifest != manifest {
		t.Errorf("Change.Manifest = %q, want %q", c.Manifest, manifest)
	}
}

func TestWatcherSeesNewManifest(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "acme.yaml")
	if err := os.WriteFile(existing, []byte("project: acme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w := startWatcher(t, []string{existing})

	// Watching the directory, not the file, catches new manifests too.
	fresh := filepath.Join(dir, "side.yml")
	if err := os.WriteFile(fresh, []byte("project: side\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c := awaitChange(t, w)
	if c.Manifest != fresh {
		t.Errorf("Change.Manifest = %q, want %q", c.Manifest, fresh)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "acme.yaml")
	if err := os.WriteFile(manifest, []byte("project: acme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w := startWatcher(t, []string{manifest})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case c := <-w.Changes():
		t.Errorf("unexpected change for a non-manifest file: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "acme.yaml")
	if err := os.WriteFile(manifest, []byte("project: acme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w, err := NewWatcher([]string{manifest}, WatchOptions{Debounce: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(manifest, []byte("project: acme\n"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	// All writes land inside one debounce window, so the burst collapses
	// into very few changes for the same manifest.
	first := awaitChange(t, w)
	if first.Manifest != manifest {
		t.Errorf("Change.Manifest = %q, want %q", first.Manifest, manifest)
	}

	extra := 0
	deadline := time.After(400 * time.Millisecond)
	for {
		select {
		case c, ok := <-w.Changes():
			if !ok {
				t.Fatal("Changes() closed unexpectedly")
			}
			if c.Manifest != manifest {
				t.Errorf("Change.Manifest = %q, want %q", c.Manifest, manifest)
			}
			extra++
		case <-deadline:
			if extra >= 5 {
				t.Errorf("5 writes produced %d changes, debounce should coalesce them", 1+extra)
			}
			return
		}
	}
}

func TestWatcherClose(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "acme.yaml")
	if err := os.WriteFile(manifest, []byte("project: acme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w, err := NewWatcher([]string{manifest}, WatchOptions{})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	select {
	case _, ok := <-w.Changes():
		if ok {
			t.Error("Changes() should be closed after Close")
		}
	case <-time.After(time.Second):
		t.Error("Changes() not closed after Close")
	}

	// Closing twice is fine.
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestManifestDirs(t *testing.T) {
	got := manifestDirs([]string{
		"projects/acme.yaml",
		"projects/side.yaml",
		"extra/notes.yml",
	})

	want := []string{"projects", "extra"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("manifestDirs() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsManifest(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"projects/acme.yaml", true},
		{"projects/acme.yml", true},
		{"projects/acme.yaml.swp", false},
		{"notes.txt", false},
		{"projects", false},
	}

	for _, tt := range tests {
		if got := isManifest(tt.path); got != tt.want {
			t.Errorf("isManifest(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
