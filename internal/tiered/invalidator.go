package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/storage"
)

// Request is one invalidation pass.
type Request struct {
	Paths []string `json:"paths"`
	Tags  []string `json:"tags"`
	// RefreshHotCache rewrites the hot cache from the CDN snapshots.
	RefreshHotCache bool `json:"refreshHotCache"`
	// Languages to refresh. Empty means every configured language.
	Languages []string `json:"languages"`
}

// Report is the outcome of an invalidation pass.
type Report struct {
	// Purged maps "path:<p>" and "tag:<t>" to whether the purge succeeded.
	Purged map[string]bool `json:"purged"`
	// PerLanguage maps each refreshed language to whether its hot cache
	// entry was written.
	PerLanguage map[string]bool `json:"perLanguage"`
	// Metadata is whether the metadata entry was written.
	Metadata bool         `json:"metadata"`
	Sweep    *SweepReport `json:"sweep,omitempty"`

	refreshed bool
}

// OK reports whether the hot cache refresh fully succeeded. Purge failures
// are best effort and do not count.
func (r *Report) OK() bool {
	if !r.refreshed {
		return true
	}
	for _, ok := range r.PerLanguage {
		if !ok {
			return false
		}
	}
	if r.Sweep != nil && !r.Sweep.OK {
		return false
	}
	return r.Metadata
}

// Metadata is the hot cache entry describing the cached datasets.
type Metadata struct {
	LastUpdated     time.Time      `json:"lastUpdated"`
	CountByLanguage map[string]int `json:"countByLanguage"`
	Version         int64          `json:"version"`
}

// Invalidator purges CDN entries and refreshes the hot cache. purger and
// sweeper are optional.
type Invalidator struct {
	layout  *Layout
	warm    storage.Snapshots
	hot     storage.KV
	purger  storage.Purger
	sweeper *Sweeper
	now     func() time.Time
}

// NewInvalidator returns an invalidator over the given stores.
func NewInvalidator(layout *Layout, warm storage.Snapshots, hot storage.KV, purger storage.Purger, sweeper *Sweeper) *Invalidator {
	return &Invalidator{layout: layout, warm: warm, hot: hot, purger: purger, sweeper: sweeper, now: time.Now}
}

// Invalidate runs one pass. Purges are attempted independently of each
// other. Hot cache entries are written in parallel, then the metadata entry
// is read, updated and written exactly once.
func (inv *Invalidator) Invalidate(ctx context.Context, req *Request) *Report {
	rep := &Report{Purged: map[string]bool{}, PerLanguage: map[string]bool{}}
	inv.purge(ctx, req, rep)
	if !req.RefreshHotCache {
		return rep
	}
	rep.refreshed = true
	langs := req.Languages
	if len(langs) == 0 {
		langs = inv.layout.Languages
	}
	counts := inv.refresh(ctx, langs, rep)
	rep.Metadata = inv.writeMetadata(ctx, counts)
	if inv.sweeper != nil {
		sr, err := inv.sweeper.Sweep(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Asset sweep failed", "err", err)
		}
		rep.Sweep = sr
	}
	slog.InfoContext(ctx, "Invalidation finished", "ok", rep.OK(), "languages", len(langs), "metadata", rep.Metadata)
	return rep
}

func (inv *Invalidator) purge(ctx context.Context, req *Request, rep *Report) {
	if len(req.Paths)+len(req.Tags) == 0 {
		return
	}
	if inv.purger == nil {
		slog.WarnContext(ctx, "No CDN purger configured, skipping purge", "paths", len(req.Paths), "tags", len(req.Tags))
		return
	}
	run := func(kind, v string, fn func(context.Context, string) error) {
		ctx2, cancel := context.WithTimeout(ctx, inv.layout.timeout())
		defer cancel()
		err := fn(ctx2, v)
		if err != nil {
			slog.WarnContext(ctx, "CDN purge failed", kind, v, "err", err)
		}
		rep.Purged[kind+":"+v] = err == nil
	}
	for _, p := range req.Paths {
		run("path", p, inv.purger.PurgePath)
	}
	for _, t := range req.Tags {
		run("tag", t, inv.purger.PurgeTag)
	}
}

// refresh writes the hot cache entry of every language and returns the
// record count of the languages that succeeded.
func (inv *Invalidator) refresh(ctx context.Context, langs []string, rep *Report) map[string]int {
	type outcome struct {
		count int
		err   error
	}
	out := make([]outcome, len(langs))
	var g errgroup.Group
	g.SetLimit(8)
	for i, lang := range langs {
		g.Go(func() error {
			n, err := inv.refreshOne(ctx, lang)
			out[i] = outcome{n, err}
			return nil
		})
	}
	_ = g.Wait()

	counts := map[string]int{}
	for i, lang := range langs {
		rep.PerLanguage[lang] = out[i].err == nil
		if out[i].err != nil {
			slog.WarnContext(ctx, "Hot cache refresh failed", "lang", lang, "err", out[i].err)
			continue
		}
		counts[lang] = out[i].count
	}
	return counts
}

func (inv *Invalidator) refreshOne(ctx context.Context, lang string) (int, error) {
	if err := ValidateLanguage(lang); err != nil {
		return 0, err
	}
	if inv.warm == nil || inv.hot == nil {
		return 0, errors.New("hot cache refresh needs both a snapshot source and a hot cache")
	}
	fetchCtx, cancel := context.WithTimeout(ctx, inv.layout.timeout())
	b, err := inv.warm.Fetch(fetchCtx, lang, true)
	cancel()
	if err != nil {
		return 0, err
	}
	ing, err := record.Ingest(b)
	if err != nil {
		return 0, err
	}
	v, err := json.Marshal(ing.Records)
	if err != nil {
		return 0, err
	}
	putCtx, cancel := context.WithTimeout(ctx, inv.layout.timeout())
	defer cancel()
	if err := inv.hot.Put(putCtx, HotKey(lang), v); err != nil {
		return 0, err
	}
	return len(ing.Records), nil
}

// writeMetadata merges counts into the stored metadata. Languages missing
// from counts keep their previous count.
func (inv *Invalidator) writeMetadata(ctx context.Context, counts map[string]int) bool {
	if inv.hot == nil {
		return false
	}
	prev, err := ReadMetadata(ctx, inv.hot, inv.layout.timeout())
	if errors.Is(err, storage.ErrMalformed) {
		slog.WarnContext(ctx, "Stored metadata is malformed, starting over", "err", err)
		prev, err = &Metadata{}, nil
	}
	if err != nil {
		// Without the previous counts a write would zero the failed languages.
		slog.WarnContext(ctx, "Metadata read failed, not writing it", "err", err)
		return false
	}
	next := Metadata{
		LastUpdated:     inv.now().UTC(),
		CountByLanguage: maps.Clone(prev.CountByLanguage),
		Version:         prev.Version + 1,
	}
	if next.CountByLanguage == nil {
		next.CountByLanguage = map[string]int{}
	}
	maps.Copy(next.CountByLanguage, counts)
	b, err := json.Marshal(&next)
	if err != nil {
		return false
	}
	ctx2, cancel := context.WithTimeout(ctx, inv.layout.timeout())
	defer cancel()
	if err := inv.hot.Put(ctx2, MetaKey, b); err != nil {
		slog.WarnContext(ctx, "Metadata write failed", "err", err)
		return false
	}
	return true
}

// ReadMetadata returns the stored metadata, or a zero value if none was
// written yet.
func ReadMetadata(ctx context.Context, hot storage.KV, timeout time.Duration) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b, err := hot.Get(ctx, MetaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &Metadata{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := &Metadata{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, storage.Corrupt("metadata", err)
	}
	return m, nil
}
