package baseline

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/models"
)

// document is the persisted layout shared by the json and badger drivers.
type document struct {
	SchemaVersion int             `json:"schemaVersion"`
	RootPath      string          `json:"rootPath"`
	TakenAt       time.Time       `json:"takenAt"`
	Entries       []documentEntry `json:"entries"`
}

type documentEntry struct {
	RelativePath string    `json:"relativePath"`
	Digest       string    `json:"digest,omitempty"`
	Unreadable   string    `json:"unreadable,omitempty"`
	Size         int64     `json:"size"`
	ModifiedAt   time.Time `json:"modifiedAt"`
}

func encodeDocument(m *models.Manifest) ([]byte, error) {
	doc := document{
		SchemaVersion: SchemaVersion,
		RootPath:      m.Root,
		TakenAt:       m.TakenAt.UTC(),
		Entries:       make([]documentEntry, 0, len(m.Entries)),
	}
	for _, rec := range m.Records() {
		doc.Entries = append(doc.Entries, documentEntry{
			RelativePath: rec.Path,
			Digest:       rec.Digest.SHA256,
			Unreadable:   rec.Digest.Unreadable,
			Size:         rec.Size,
			ModifiedAt:   rec.ModifiedAt.UTC(),
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// decodeDocument rebuilds a manifest. Anything unexpected is reported as
// ErrCorruptStore; there is no partial recovery.
func decodeDocument(data []byte, root string) (*models.Manifest, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", apperr.ErrCorruptStore, err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", apperr.ErrCorruptStore, doc.SchemaVersion, SchemaVersion)
	}
	if doc.RootPath != root {
		return nil, fmt.Errorf("%w: baseline is for %q, not %q", apperr.ErrCorruptStore, doc.RootPath, root)
	}
	m := models.NewManifest(doc.RootPath, doc.TakenAt)
	for _, e := range doc.Entries {
		rec, err := newRecord(e.RelativePath, e.Digest, e.Unreadable, e.Size, e.ModifiedAt)
		if err != nil {
			return nil, err
		}
		if _, dup := m.Entries[rec.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", apperr.ErrCorruptStore, rec.Path)
		}
		m.Entries[rec.Path] = rec
	}
	return m, nil
}

// validKey reports whether rel is a clean slash path below the root.
func validKey(rel string) bool {
	return rel != "" && rel != "." && rel != ".." &&
		!path.IsAbs(rel) && path.Clean(rel) == rel && !strings.HasPrefix(rel, "../")
}

// newRecord validates one persisted entry.
func newRecord(rel, digest, unreadable string, size int64, modifiedAt time.Time) (models.FileRecord, error) {
	if !validKey(rel) {
		return models.FileRecord{}, fmt.Errorf("%w: invalid path %q", apperr.ErrCorruptStore, rel)
	}
	rec := models.FileRecord{Path: rel, Size: size, ModifiedAt: modifiedAt}
	switch {
	case digest != "" && unreadable == "":
		if b, err := hex.DecodeString(digest); err != nil || len(b) != 32 {
			return models.FileRecord{}, fmt.Errorf("%w: invalid digest for %q", apperr.ErrCorruptStore, rel)
		}
		rec.Digest = models.Readable(digest)
	case digest == "" && unreadable != "":
		rec.Digest = models.Unreadable(unreadable)
	default:
		return models.FileRecord{}, fmt.Errorf("%w: entry %q has no digest state", apperr.ErrCorruptStore, rel)
	}
	return rec, nil
}
