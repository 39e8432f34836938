package baseline

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobg/flock"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/checksum"
	"github.com/starford/driftguard/internal/models"
)

// drivers opens a fresh store of every kind.
func drivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := Open(DriverSQLite, filepath.Join(dir, "sqlite", "baselines.db"))
	if err != nil {
		t.Fatal(err)
	}
	jsonStore, err := Open(DriverJSON, filepath.Join(dir, "json"))
	if err != nil {
		t.Fatal(err)
	}
	bdg, err := OpenBadger("")
	if err != nil {
		t.Fatal(err)
	}
	stores := map[string]Store{DriverSQLite: sqlite, DriverJSON: jsonStore, DriverBadger: bdg}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func sampleManifest(root string) *models.Manifest {
	taken := time.Date(2026, 10, 17, 9, 30, 0, 123456789, time.UTC)
	m := models.NewManifest(root, taken)
	m.Entries["a.conf"] = models.FileRecord{
		Path:       "a.conf",
		Digest:     models.Readable(checksum.Sum([]byte("X"))),
		Size:       1,
		ModifiedAt: taken.Add(-time.Hour),
	}
	m.Entries["nested/b.conf"] = models.FileRecord{
		Path:       "nested/b.conf",
		Digest:     models.Readable(checksum.Sum([]byte("Y"))),
		Size:       1,
		ModifiedAt: taken.Add(-time.Minute),
	}
	m.Entries["secret.conf"] = models.FileRecord{
		Path:       "secret.conf",
		Digest:     models.Unreadable("open secret.conf: permission denied"),
		Size:       42,
		ModifiedAt: taken.Add(-2 * time.Hour),
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleManifest("/etc/app")
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := s.Load(ctx, "/etc/app")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveEmptyManifest(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := models.NewManifest("/srv/empty", time.Now().UTC())
			if err := s.Save(ctx, m); err != nil {
				t.Fatal(err)
			}
			got, err := s.Load(ctx, "/srv/empty")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Entries) != 0 {
				t.Errorf("entries = %v", got.Entries)
			}
		})
	}
}

func TestSaveOverwritesPreviousBaseline(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Save(ctx, sampleManifest("/etc/app")); err != nil {
				t.Fatal(err)
			}
			next := models.NewManifest("/etc/app", time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
			next.Entries["only.conf"] = models.FileRecord{Path: "only.conf", Digest: models.Readable(checksum.Sum(nil))}
			if err := s.Save(ctx, next); err != nil {
				t.Fatal(err)
			}
			got, err := s.Load(ctx, "/etc/app")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"only.conf"}, got.Paths()); diff != "" {
				t.Errorf("paths (-want +got):\n%s", diff)
			}
			if !got.TakenAt.Equal(next.TakenAt) {
				t.Errorf("TakenAt = %v", got.TakenAt)
			}
		})
	}
}

func TestBaselinesArePerRoot(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Save(ctx, sampleManifest("/etc/a")); err != nil {
				t.Fatal(err)
			}
			if err := s.Save(ctx, models.NewManifest("/etc/b", time.Now().UTC())); err != nil {
				t.Fatal(err)
			}
			a, err := s.Load(ctx, "/etc/a")
			if err != nil {
				t.Fatal(err)
			}
			if len(a.Entries) != 3 {
				t.Errorf("/etc/a entries = %d, want 3", len(a.Entries))
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "/nowhere")
			if !errors.Is(err, apperr.ErrBaselineNotFound) {
				t.Errorf("err = %v, want ErrBaselineNotFound", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("etcd", t.TempDir()); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestJSONCorruptDocuments(t *testing.T) {
	s, err := OpenJSON(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"garbage":       `{not json`,
		"old version":   `{"schemaVersion": 0, "rootPath": "/etc/app", "entries": []}`,
		"future":        `{"schemaVersion": 2, "rootPath": "/etc/app", "entries": []}`,
		"other root":    `{"schemaVersion": 1, "rootPath": "/etc/other", "entries": []}`,
		"bad digest":    `{"schemaVersion": 1, "rootPath": "/etc/app", "entries": [{"relativePath": "a", "digest": "zz"}]}`,
		"no state":      `{"schemaVersion": 1, "rootPath": "/etc/app", "entries": [{"relativePath": "a"}]}`,
		"absolute path": `{"schemaVersion": 1, "rootPath": "/etc/app", "entries": [{"relativePath": "/a", "unreadable": "x"}]}`,
		"parent":        `{"schemaVersion": 1, "rootPath": "/etc/app", "entries": [{"relativePath": "..", "unreadable": "x"}]}`,
		"escaping":      `{"schemaVersion": 1, "rootPath": "/etc/app", "entries": [{"relativePath": "a/../../x", "unreadable": "x"}]}`,
		"unclean":       `{"schemaVersion": 1, "rootPath": "/etc/app", "entries": [{"relativePath": "a/./b", "unreadable": "x"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(s.documentPath("/etc/app"), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := s.Load(context.Background(), "/etc/app")
			if !errors.Is(err, apperr.ErrCorruptStore) {
				t.Errorf("err = %v, want ErrCorruptStore", err)
			}
		})
	}
}

func TestBadgerCorruptDocument(t *testing.T) {
	s, err := OpenBadger("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixBaseline+"/etc/app"), []byte(`{"schemaVersion": 7}`))
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background(), "/etc/app"); !errors.Is(err, apperr.ErrCorruptStore) {
		t.Errorf("err = %v, want ErrCorruptStore", err)
	}
}

func TestSQLiteIncompatibleSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baselines.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.Save(ctx, sampleManifest("/etc/app")); err != nil {
		t.Fatal(err)
	}

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`UPDATE baselines SET schema_version = 99`); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(ctx, "/etc/app"); !errors.Is(err, apperr.ErrCorruptStore) {
		t.Errorf("err = %v, want ErrCorruptStore", err)
	}
}

func TestSaveCancelled(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := s.Save(ctx, sampleManifest("/etc/app")); !errors.Is(err, apperr.ErrStoreWrite) {
				t.Errorf("err = %v, want ErrStoreWrite", err)
			}
		})
	}
}

func TestJSONLoadIgnoresWriterLock(t *testing.T) {
	s, err := OpenJSON(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	want := sampleManifest("/etc/app")
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	// A writer in progress (or one that crashed) leaves a fresh lock file.
	if err := os.WriteFile(s.documentPath("/etc/app")+".lock", nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "/etc/app")
	if err != nil {
		t.Fatalf("Load with lock held: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONSaveWaitsForLock(t *testing.T) {
	s, err := OpenJSON(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.lockWait = time.Second
	ctx := context.Background()
	lockPath := s.documentPath("/etc/app") + ".lock"
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Remove(lockPath)
	}()

	if err := s.Save(ctx, sampleManifest("/etc/app")); err != nil {
		t.Fatalf("Save after lock release: %v", err)
	}
	if _, err := os.Stat(lockPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestJSONSaveGivesUpOnHeldLock(t *testing.T) {
	s, err := OpenJSON(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.lockWait = 50 * time.Millisecond
	if err := os.WriteFile(s.documentPath("/etc/app")+".lock", nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err = s.Save(context.Background(), sampleManifest("/etc/app"))
	if !errors.Is(err, apperr.ErrStoreWrite) || !errors.Is(err, flock.ErrLocked) {
		t.Errorf("err = %v, want ErrStoreWrite wrapping flock.ErrLocked", err)
	}
}

func TestSQLiteLoadSeesCommittedBaselineOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baselines.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	want := sampleManifest("/etc/app")
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	raw, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	tx, err := raw.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.Exec(`UPDATE baselines SET taken_at = ?`, formatTime(time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`DELETE FROM entries WHERE path = 'a.conf'`); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "/etc/app")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("uncommitted write leaked (-want +got):\n%s", diff)
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err = s.Load(ctx, "/etc/app")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.Entries["a.conf"]; ok || got.TakenAt.Equal(want.TakenAt) {
		t.Errorf("committed write not visible: %+v", got)
	}
}
