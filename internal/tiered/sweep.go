package tiered

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/storage"
)

// SweepReport is the outcome of an asset sweep.
type SweepReport struct {
	Scanned int      `json:"scanned"`
	Deleted []string `json:"deleted"`
	// Kept lists orphan candidates that were rewritten or re-added while
	// the sweep ran.
	Kept  []string `json:"kept,omitempty"`
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
}

// Sweeper deletes assets whose record no longer exists in any language.
type Sweeper struct {
	layout    *Layout
	source    storage.SourceStore
	blobs     storage.BlobStore
	lister    storage.BlobLister
	versioner storage.BlobVersioner
}

// NewSweeper returns a sweeper, or nil when blobs cannot list its keys.
func NewSweeper(layout *Layout, source storage.SourceStore, blobs storage.BlobStore) *Sweeper {
	lister, ok := blobs.(storage.BlobLister)
	if !ok {
		return nil
	}
	versioner, _ := blobs.(storage.BlobVersioner)
	return &Sweeper{layout: layout, source: source, blobs: blobs, lister: lister, versioner: versioner}
}

// Sweep lists the asset keys first, then reads every language's source
// document, then deletes the keys of ids present in none of them. Keys
// that are not asset keys are left alone. A failure to read any source
// document aborts the sweep before anything is deleted.
//
// Candidates are checked again against a second source read right before
// deletion. When the store supports it, a key is only deleted while it
// still holds the version that was listed.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	rep := &SweepReport{Deleted: []string{}}
	fail := func(err error) (*SweepReport, error) {
		rep.Error = err.Error()
		return rep, err
	}
	versions, err := s.list(ctx)
	if err != nil {
		return fail(storage.Unavailable("asset list", err))
	}
	rep.Scanned = len(versions)

	live, err := s.liveIDs(ctx)
	if err != nil {
		return fail(err)
	}
	suffix := "." + s.layout.Ext()
	var candidates []string
	for k := range versions {
		id, ok := strings.CutSuffix(k, suffix)
		if !ok || record.ValidateID(id) != nil {
			continue
		}
		if _, ok := live[id]; !ok {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		rep.OK = true
		return rep, nil
	}
	if live, err = s.liveIDs(ctx); err != nil {
		return fail(err)
	}

	var errs []error
	slices.Sort(candidates)
	for _, k := range candidates {
		if _, ok := live[strings.TrimSuffix(k, suffix)]; ok {
			rep.Kept = append(rep.Kept, k)
			continue
		}
		delCtx, cancel := context.WithTimeout(ctx, s.layout.timeout())
		if s.versioner != nil {
			err = s.versioner.DeleteVersion(delCtx, k, versions[k])
		} else {
			err = s.blobs.Delete(delCtx, k)
		}
		cancel()
		if errors.Is(err, storage.ErrConflict) {
			slog.InfoContext(ctx, "Asset rewritten during sweep, kept", "key", k)
			rep.Kept = append(rep.Kept, k)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "Deleted orphaned asset", "key", k)
		rep.Deleted = append(rep.Deleted, k)
	}
	if err := errors.Join(errs...); err != nil {
		return fail(err)
	}
	rep.OK = true
	return rep, nil
}

// list returns the asset keys with their version, "" when the store has no
// versions.
func (s *Sweeper) list(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.layout.timeout())
	defer cancel()
	if s.versioner != nil {
		return s.versioner.ListVersions(ctx)
	}
	keys, err := s.lister.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = ""
	}
	return out, nil
}

// liveIDs reads the ids of every configured language at the commit branch.
// Languages without a document contribute nothing.
func (s *Sweeper) liveIDs(ctx context.Context) (map[string]struct{}, error) {
	live := map[string]struct{}{}
	for _, lang := range s.layout.Languages {
		tbl, _, err := fetchTable(ctx, s.source, s.layout, lang, headRef)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, r := range tbl.Records() {
			live[r.ID] = struct{}{}
		}
	}
	return live, nil
}
