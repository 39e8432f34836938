package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/checksum"
	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/storage"
)

type recordingWarner struct {
	mu    sync.Mutex
	paths []string
}

func (w *recordingWarner) Warn(path string, _ error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths = append(w.paths, path)
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func build(t *testing.T, dir string, opts ...Option) *models.Manifest {
	t.Helper()
	tree, err := storage.NewFS(dir, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewBuilder(tree, opts...).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestBuildEmptyDir(t *testing.T) {
	m := build(t, t.TempDir())
	if len(m.Entries) != 0 {
		t.Errorf("entries = %v", m.Entries)
	}
	if m.TakenAt.IsZero() {
		t.Error("TakenAt not set")
	}
}

func TestBuildRecordsDigests(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.conf": "X", "etc/b.conf": "Y"})

	m := build(t, dir)
	if got := m.Paths(); !cmp.Equal(got, []string{"a.conf", "etc/b.conf"}) {
		t.Fatalf("Paths = %v", got)
	}
	if m.Entries["a.conf"].Digest.SHA256 != checksum.Sum([]byte("X")) {
		t.Errorf("a.conf digest = %v", m.Entries["a.conf"].Digest)
	}
	if filepath.IsAbs(m.Entries["etc/b.conf"].Path) {
		t.Error("paths must be relative")
	}
}

func TestBuildIdempotentAcrossWorkerCounts(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 200; i++ {
		files[filepath.ToSlash(filepath.Join("d"+string(rune('a'+i%7)), "f"+string(rune('a'+i%26))+".conf"))] = string(rune(i))
	}
	writeTree(t, dir, files)

	fixed := func() time.Time { return time.Unix(0, 0) }
	first := build(t, dir, WithWorkers(1), WithClock(fixed))
	for _, workers := range []int{2, 8, 64} {
		again := build(t, dir, WithWorkers(workers), WithClock(fixed))
		if diff := cmp.Diff(first.Entries, again.Entries); diff != "" {
			t.Errorf("workers=%d entries differ (-1 +n):\n%s", workers, diff)
		}
	}
}

func TestBuildKeepsUnreadableEntries(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"ok.conf": "ok"})
	if err := os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "broken.conf")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	w := &recordingWarner{}
	m := build(t, dir, WithWarner(w))

	rec, ok := m.Entries["broken.conf"]
	if !ok {
		t.Fatal("unreadable entry dropped")
	}
	if !rec.Digest.IsUnreadable() {
		t.Errorf("broken.conf digest = %v", rec.Digest)
	}
	if len(w.paths) != 1 || w.paths[0] != "broken.conf" {
		t.Errorf("warnings = %v", w.paths)
	}
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.conf": "a"})
	tree, err := storage.NewFS(dir, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewBuilder(tree).Build(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBuildRootRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "root")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	tree, err := storage.NewFS(dir, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := NewBuilder(tree).Build(context.Background()); !errors.Is(err, apperr.ErrRootNotFound) {
		t.Errorf("err = %v, want ErrRootNotFound", err)
	}
}
