package tiered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/storage"
)

// Coordinator applies record mutations to the source document, then syncs
// the record's asset. It never touches the caches. blobs is optional.
type Coordinator struct {
	layout *Layout
	source storage.SourceStore
	blobs  storage.BlobStore
}

// NewCoordinator returns a coordinator over the given stores.
func NewCoordinator(layout *Layout, source storage.SourceStore, blobs storage.BlobStore) *Coordinator {
	return &Coordinator{layout: layout, source: source, blobs: blobs}
}

// Add appends rec to the dataset of lang and uploads asset if set. Adding to
// a language without a source document creates it.
func (c *Coordinator) Add(ctx context.Context, lang string, rec *record.Record, asset *Asset, author storage.Author) (*Result, error) {
	if err := validate(lang, rec.ID); err != nil {
		return nil, err
	}
	tx := newTransaction(OpAdd, lang, rec.ID, asset)
	after := *rec
	tx.After = &after
	return c.run(ctx, tx, author, func(t *record.Table) error {
		return t.Append(&after)
	})
}

// Update replaces record id of lang with rec and uploads asset if set. The
// id in rec must be empty or equal to id.
func (c *Coordinator) Update(ctx context.Context, lang, id string, rec *record.Record, asset *Asset, author storage.Author) (*Result, error) {
	if err := validate(lang, id); err != nil {
		return nil, err
	}
	if rec.ID != "" && rec.ID != id {
		return nil, storage.Malformedf("record id %q does not match %q", rec.ID, id)
	}
	tx := newTransaction(OpUpdate, lang, id, asset)
	after := *rec
	after.ID = id
	tx.After = &after
	return c.run(ctx, tx, author, func(t *record.Table) error {
		i := t.Find(id)
		if i < 0 {
			return storage.NotFoundf("record %s/%s", lang, id)
		}
		before := t.Get(i)
		tx.Before = &before
		t.Set(i, &after)
		return nil
	})
}

// Delete removes record id of lang and its asset.
func (c *Coordinator) Delete(ctx context.Context, lang, id string, author storage.Author) (*Result, error) {
	if err := validate(lang, id); err != nil {
		return nil, err
	}
	tx := newTransaction(OpDelete, lang, id, nil)
	return c.run(ctx, tx, author, func(t *record.Table) error {
		i := t.Find(id)
		if i < 0 {
			return storage.NotFoundf("record %s/%s", lang, id)
		}
		before := t.Get(i)
		tx.Before = &before
		t.Remove(i)
		return nil
	})
}

// RetryAsset re-runs the asset step of a write that ended with a warning.
// The record must still exist for a put and be gone for a delete.
func (c *Coordinator) RetryAsset(ctx context.Context, lang, id string, asset *Asset) (*Result, error) {
	if err := validate(lang, id); err != nil {
		return nil, err
	}
	tbl, rev, err := fetchTable(ctx, c.source, c.layout, lang, headRef)
	if err != nil {
		return nil, err
	}
	exists := tbl.Find(id) >= 0
	op := OpUpdate
	if asset == nil {
		op = OpDelete
	}
	if exists != (op == OpUpdate) {
		return nil, fmt.Errorf("%w: record %s/%s exists=%v, cannot retry %s", storage.ErrConflict, lang, id, exists, op)
	}
	tx := newTransaction(op, lang, id, asset)
	tx.Revision = rev
	if err := tx.advance(StateCommitted); err != nil {
		return nil, err
	}
	return c.syncAsset(ctx, tx)
}

func validate(lang, id string) error {
	if err := ValidateLanguage(lang); err != nil {
		return err
	}
	return record.ValidateID(id)
}

// run drives tx through fetch, mutate, commit and asset sync.
func (c *Coordinator) run(ctx context.Context, tx *Transaction, author storage.Author, mutate func(*record.Table) error) (*Result, error) {
	log := slog.With("tx", tx.ID.String(), "op", string(tx.Operation), "lang", tx.Language, "id", tx.RecordID)
	abort := func(err error) (*Result, error) {
		if err2 := tx.advance(StateAborted); err2 != nil {
			return nil, errors.Join(err, err2)
		}
		log.InfoContext(ctx, "Write aborted", "state", tx.State.String(), "err", err)
		return &Result{Tx: tx, State: tx.State}, err
	}

	tbl, rev, err := fetchTable(ctx, c.source, c.layout, tx.Language, headRef)
	if err != nil {
		if tx.Operation != OpAdd || !errors.Is(err, storage.ErrNotFound) {
			return abort(err)
		}
		tbl, rev = record.NewTable(c.layout.Delimiter), ""
	}
	if err := mutate(tbl); err != nil {
		return abort(err)
	}
	if err := ctx.Err(); err != nil {
		return abort(storage.Unavailable("commit", err))
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.layout.timeout())
	msg := fmt.Sprintf("%s %s/%s", tx.Operation, tx.Language, tx.RecordID)
	newRev, err := c.source.Commit(commitCtx, c.layout.SourcePath(tx.Language), tbl.Bytes(), rev, msg, author)
	cancel()
	if err != nil {
		return abort(storage.Unavailable("commit", err))
	}
	tx.Revision = newRev
	if err := tx.advance(StateCommitted); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "Write committed", "revision", newRev)
	return c.syncAsset(ctx, tx)
}

// syncAsset runs the asset step of a committed transaction. Failures end in
// CommittedWithWarning; the commit is never rolled back.
func (c *Coordinator) syncAsset(ctx context.Context, tx *Transaction) (*Result, error) {
	log := slog.With("tx", tx.ID.String(), "op", string(tx.Operation), "lang", tx.Language, "id", tx.RecordID)
	key := c.layout.AssetKey(tx.RecordID)
	var (
		step func(context.Context) error
		what string
	)
	switch {
	case tx.Operation == OpDelete:
		if c.blobs == nil {
			break
		}
		what = "deletion"
		step = func(ctx context.Context) error { return c.blobs.Delete(ctx, key) }
	case tx.Asset != nil:
		if c.blobs == nil {
			tx.Warning = "asset upload failed: no asset store is configured"
			break
		}
		what = "upload"
		step = func(ctx context.Context) error {
			return c.blobs.Put(ctx, key, tx.Asset.Data, tx.Asset.ContentType)
		}
	}

	synced := false
	switch {
	case tx.Warning != "":
	case step == nil:
	case ctx.Err() != nil:
		tx.Warning = fmt.Sprintf("asset %s skipped: request cancelled after commit", what)
	default:
		assetCtx, cancel := context.WithTimeout(ctx, c.layout.timeout())
		err := step(assetCtx)
		cancel()
		if err != nil {
			log.WarnContext(ctx, "Asset sync failed", "key", key, "err", err)
			tx.Warning = fmt.Sprintf("asset %s failed: %v", what, err)
		} else {
			synced = true
		}
	}

	to := StateSynced
	if tx.Warning != "" {
		to = StateCommittedWithWarning
	}
	if err := tx.advance(to); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "Write finished", "state", tx.State.String(), "assetSynced", synced)
	return &Result{Tx: tx, State: tx.State, AssetSynced: synced, Warning: tx.Warning}, nil
}
