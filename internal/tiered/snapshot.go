package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maruel/avatardb/internal/storage"
)

// Snapshot is the published JSON document of one language.
type Snapshot struct {
	Language string
	// Revision is the source revision the snapshot was rendered from.
	Revision string
	Body     []byte
}

// Snapshotter renders source documents into the JSON snapshots the CDN
// serves.
type Snapshotter struct {
	layout *Layout
	source storage.SourceStore
}

// NewSnapshotter returns a snapshotter reading from source.
func NewSnapshotter(layout *Layout, source storage.SourceStore) *Snapshotter {
	return &Snapshotter{layout: layout, source: source}
}

// Render returns the snapshot of lang as a JSON array of records.
// Unconfigured languages are ErrNotFound.
func (s *Snapshotter) Render(ctx context.Context, lang string) (*Snapshot, error) {
	if err := ValidateLanguage(lang); err != nil {
		return nil, err
	}
	if !s.layout.Configured(lang) {
		return nil, storage.NotFoundf("language %q is not configured", lang)
	}
	tbl, rev, err := fetchTable(ctx, s.source, s.layout, lang, s.layout.Ref)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(tbl.Records())
	if err != nil {
		return nil, err
	}
	return &Snapshot{Language: lang, Revision: rev, Body: b}, nil
}

// WriteDir renders every configured language into dir/data/{lang}.json.
// Languages without a source document are skipped.
func (s *Snapshotter) WriteDir(ctx context.Context, dir string) ([]string, error) {
	out := filepath.Join(dir, "data")
	if err := os.MkdirAll(out, 0o755); err != nil { //nolint:gosec // G301: published files are public
		return nil, err
	}
	var written []string
	for _, lang := range s.layout.Languages {
		snap, err := s.Render(ctx, lang)
		if errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "No source document, skipping", "lang", lang)
			continue
		}
		if err != nil {
			return written, fmt.Errorf("render %s: %w", lang, err)
		}
		p := filepath.Join(out, lang+".json")
		if err := os.WriteFile(p, snap.Body, 0o644); err != nil { //nolint:gosec // G306: published files are public
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}
