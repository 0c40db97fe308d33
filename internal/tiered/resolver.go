package tiered

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/storage"
)

// Tiers reported in record.Dataset.Tier.
const (
	TierHot    = "hot"
	TierWarm   = "warm"
	TierSource = "source"
)

// Resolver returns the dataset of a language from the cheapest tier that has
// it. hot and warm are optional.
type Resolver struct {
	layout *Layout
	source storage.SourceStore
	warm   storage.Snapshots
	hot    storage.KV
}

// NewResolver returns a resolver over the given stores.
func NewResolver(layout *Layout, source storage.SourceStore, warm storage.Snapshots, hot storage.KV) *Resolver {
	return &Resolver{layout: layout, source: source, warm: warm, hot: hot}
}

// Resolve returns the dataset of lang. The returned dataset is shared with
// other callers of the same request and must not be modified.
//
// Cache tier failures are logged and fall through to the next tier. The
// source tier never falls back: its failures are returned as is.
func (r *Resolver) Resolve(ctx context.Context, lang string) (*record.Dataset, error) {
	if err := ValidateLanguage(lang); err != nil {
		return nil, err
	}
	if m := memoFrom(ctx); m != nil {
		return m.do(lang, func() (*record.Dataset, error) { return r.resolve(ctx, lang) })
	}
	return r.resolve(ctx, lang)
}

func (r *Resolver) resolve(ctx context.Context, lang string) (*record.Dataset, error) {
	if r.hot != nil {
		if ds := r.fromHot(ctx, lang); ds != nil {
			return ds, nil
		}
	}
	if r.warm != nil {
		if ds := r.fromWarm(ctx, lang); ds != nil {
			return ds, nil
		}
	}
	return r.fromSource(ctx, lang)
}

func (r *Resolver) fromHot(ctx context.Context, lang string) *record.Dataset {
	ctx2, cancel := context.WithTimeout(ctx, r.layout.timeout())
	defer cancel()
	b, err := r.hot.Get(ctx2, HotKey(lang))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "Hot cache read failed", "lang", lang, "err", err)
		}
		return nil
	}
	ing, err := record.Ingest(b)
	if err != nil {
		slog.WarnContext(ctx, "Hot cache value is malformed", "lang", lang, "err", err)
		return nil
	}
	if len(ing.Records) == 0 {
		return nil
	}
	return &record.Dataset{Language: lang, Requested: lang, Tier: TierHot, Records: ing.Records}
}

func (r *Resolver) fromWarm(ctx context.Context, lang string) *record.Dataset {
	recs, err := r.fetchWarm(ctx, lang)
	if err == nil {
		return &record.Dataset{Language: lang, Requested: lang, Tier: TierWarm, Records: recs}
	}
	def := r.layout.DefaultLanguage
	if !errors.Is(err, storage.ErrNotFound) || def == "" || lang == def || !r.layout.Configured(lang) {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "Snapshot read failed", "lang", lang, "err", err)
		}
		return nil
	}
	recs, err = r.fetchWarm(ctx, def)
	if err != nil {
		slog.WarnContext(ctx, "Default language snapshot read failed", "lang", def, "err", err)
		return nil
	}
	slog.InfoContext(ctx, "Serving default language snapshot", "requested", lang, "lang", def)
	return &record.Dataset{Language: def, Requested: lang, Tier: TierWarm, Records: recs}
}

func (r *Resolver) fetchWarm(ctx context.Context, lang string) ([]record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.layout.timeout())
	defer cancel()
	b, err := r.warm.Fetch(ctx, lang, false)
	if err != nil {
		return nil, err
	}
	ing, err := record.Ingest(b)
	if err != nil {
		return nil, err
	}
	return ing.Records, nil
}

func (r *Resolver) fromSource(ctx context.Context, lang string) (*record.Dataset, error) {
	tbl, _, err := fetchTable(ctx, r.source, r.layout, lang, r.layout.Ref)
	if err != nil {
		return nil, err
	}
	return &record.Dataset{Language: lang, Requested: lang, Tier: TierSource, Records: tbl.Records()}, nil
}

// fetchTable reads and parses the source document of lang at ref. Writes
// pass headRef so the revision they hold is the one Commit compares against.
func fetchTable(ctx context.Context, src storage.SourceStore, l *Layout, lang, ref string) (*record.Table, string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()
	doc, err := src.Fetch(ctx, l.SourcePath(lang), ref)
	if err != nil {
		return nil, "", storage.Unavailable("source fetch "+lang, err)
	}
	tbl, err := record.Parse(doc.Content, l.Delimiter)
	if err != nil {
		return nil, "", storage.Corrupt("source "+lang, err)
	}
	return tbl, doc.Revision, nil
}
