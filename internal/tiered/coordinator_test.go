package tiered

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/storage"
)

var editor = storage.Author{Name: "kei", Email: "kei@example.com"}

func TestCoordinatorAdd(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	src := newFakeSource()
	r0 := src.set("data/ja.csv", testHeader+"0001,Aki,,,,,\n")
	blobs := newFakeBlobs()
	c := NewCoordinator(testLayout(), src, blobs)

	res, err := c.Add(ctx, "ja", &record.Record{ID: "0700", Nickname: "Nana"}, &Asset{Data: []byte("img"), ContentType: "image/webp"}, editor)
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if res.State != StateSynced || !res.AssetSynced || res.Warning != "" {
		t.Fatalf("Add() = %+v, want synced", res)
	}
	if res.Tx.Revision == r0 || res.Tx.Revision != revOf([]byte(src.get("data/ja.csv"))) {
		t.Errorf("revision = %s", res.Tx.Revision)
	}
	if want := testHeader + "0001,Aki,,,,,\n0700,Nana,,,,,\n"; src.get("data/ja.csv") != want {
		t.Errorf("source = %q, want %q", src.get("data/ja.csv"), want)
	}
	if !blobs.has("0700.webp") {
		t.Error("asset was not uploaded")
	}

	// Duplicate ids are rejected before any commit.
	_, err = c.Add(ctx, "ja", &record.Record{ID: "0700"}, nil, editor)
	if !errors.Is(err, storage.ErrMalformed) {
		t.Fatalf("Add(duplicate) = %v, want ErrMalformed", err)
	}
	if src.commits != 1 {
		t.Errorf("commits = %d, want 1", src.commits)
	}
}

func TestCoordinatorAddCreatesDocument(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	c := NewCoordinator(testLayout(), src, nil)
	res, err := c.Add(t.Context(), "en", &record.Record{ID: "0001"}, nil, editor)
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if res.State != StateSynced || res.AssetSynced {
		t.Errorf("Add() = %+v", res)
	}
	if got := src.get("data/en.csv"); got != testHeader+"0001,,,,,,\n" {
		t.Errorf("source = %q", got)
	}
}

func TestCoordinatorValidation(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	c := NewCoordinator(testLayout(), src, newFakeBlobs())
	ctx := t.Context()
	if _, err := c.Add(ctx, "ja", &record.Record{ID: "70"}, nil, editor); !errors.Is(err, storage.ErrMalformed) {
		t.Errorf("Add(bad id) = %v", err)
	}
	if _, err := c.Update(ctx, "ja", "0001", &record.Record{ID: "0002"}, nil, editor); !errors.Is(err, storage.ErrMalformed) {
		t.Errorf("Update(mismatched id) = %v", err)
	}
	if _, err := c.Delete(ctx, "JA", "0001", editor); !errors.Is(err, storage.ErrMalformed) {
		t.Errorf("Delete(bad lang) = %v", err)
	}
	if src.fetches != 0 {
		t.Errorf("validation failures reached the source %d times", src.fetches)
	}
}

func TestCoordinatorUpdate(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", "note,"+testHeader[:len(testHeader)-1]+"\nkeep,0001,Aki,,,,,\n")
	c := NewCoordinator(testLayout(), src, newFakeBlobs())
	res, err := c.Update(t.Context(), "ja", "0001", &record.Record{Nickname: "Aki2", Author: "kei"}, nil, editor)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if res.Tx.Before == nil || res.Tx.Before.Nickname != "Aki" || res.Tx.After.ID != "0001" {
		t.Errorf("tx = %+v", res.Tx)
	}
	want := testHeader[:len(testHeader)-1] + ",note\n0001,Aki2,,,,kei,,keep\n"
	if got := src.get("data/ja.csv"); got != want {
		t.Errorf("source = %q, want %q", got, want)
	}
	if _, err := c.Update(t.Context(), "ja", "0002", &record.Record{}, nil, editor); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}

// Two editors holding the same revision: the second commit conflicts and
// leaves the source untouched.
func TestCoordinatorRacingUpdates(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader+"0700,Nana,,,,,\n")
	blobs := newFakeBlobs()
	c := NewCoordinator(testLayout(), src, blobs)
	ctx := t.Context()

	var first *Result
	src.beforeCommit = func() {
		// The first editor commits between the second's fetch and commit.
		src.beforeCommit = nil
		var err error
		first, err = c.Update(ctx, "ja", "0700", &record.Record{Nickname: "first"}, nil, editor)
		if err != nil {
			t.Errorf("first Update() failed: %v", err)
		}
	}
	res, err := c.Update(ctx, "ja", "0700", &record.Record{Nickname: "second"}, &Asset{Data: []byte("x")}, editor)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second Update() = %v, want ErrConflict", err)
	}
	if res.State != StateAborted || res.Tx.State != StateAborted {
		t.Errorf("second result state = %s", res.State)
	}
	if first == nil || first.State != StateSynced {
		t.Fatalf("first result = %+v", first)
	}
	if got := src.get("data/ja.csv"); !strings.Contains(got, "first") || strings.Contains(got, "second") {
		t.Errorf("source = %q", got)
	}
	if blobs.calls != 0 {
		t.Errorf("aborted write made %d blob calls", blobs.calls)
	}

	// Re-fetching and redoing the edit succeeds.
	res, err = c.Update(ctx, "ja", "0700", &record.Record{Nickname: "second"}, nil, editor)
	if err != nil || res.State != StateSynced {
		t.Fatalf("retried Update() = %+v, %v", res, err)
	}
}

func TestCoordinatorCommitFailureSkipsAsset(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader+"0001,,,,,,\n")
	src.commitErr = errors.New("timeout")
	blobs := newFakeBlobs("0001.webp")
	c := NewCoordinator(testLayout(), src, blobs)
	for _, op := range []func() (*Result, error){
		func() (*Result, error) {
			return c.Add(t.Context(), "ja", &record.Record{ID: "0002"}, &Asset{Data: []byte("x")}, editor)
		},
		func() (*Result, error) { return c.Delete(t.Context(), "ja", "0001", editor) },
	} {
		res, err := op()
		if !errors.Is(err, storage.ErrUnavailable) || res.State != StateAborted {
			t.Fatalf("result = %+v, %v; want aborted with ErrUnavailable", res, err)
		}
	}
	if blobs.calls != 0 {
		t.Errorf("failed commits made %d blob calls", blobs.calls)
	}
}

func TestCoordinatorDeleteAssetFailure(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader+"0014,Gone,,,,,\n0015,Stay,,,,,\n")
	blobs := newFakeBlobs("0014.webp")
	blobs.deleteErr = errors.New("network error")
	c := NewCoordinator(testLayout(), src, blobs)
	res, err := c.Delete(t.Context(), "ja", "0014", editor)
	if err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if res.State != StateCommittedWithWarning || res.AssetSynced || !strings.Contains(res.Warning, "asset deletion failed") {
		t.Fatalf("Delete() = %+v", res)
	}
	ds, err := NewResolver(testLayout(), src, nil, nil).Resolve(t.Context(), "ja")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if _, ok := ds.Find("0014"); ok || len(ds.Records) != 1 {
		t.Errorf("record 0014 still present: %+v", ds.Records)
	}
	if !blobs.has("0014.webp") {
		t.Error("blob unexpectedly gone")
	}
	if _, err := c.Delete(t.Context(), "ja", "0014", editor); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete(again) = %v, want ErrNotFound", err)
	}
}

func TestCoordinatorCancelledAfterCommit(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader)
	blobs := newFakeBlobs()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	wrapped := &cancellingSource{fakeSource: src, cancel: cancel}
	c := NewCoordinator(testLayout(), wrapped, blobs)
	res, err := c.Add(ctx, "ja", &record.Record{ID: "0001"}, &Asset{Data: []byte("x")}, editor)
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if res.State != StateCommittedWithWarning || res.AssetSynced {
		t.Errorf("Add() = %+v, want committed with warning", res)
	}
	if blobs.calls != 0 {
		t.Errorf("blob calls after cancellation = %d", blobs.calls)
	}
	if !strings.Contains(src.get("data/ja.csv"), "0001") {
		t.Error("commit was lost")
	}
}

// cancellingSource cancels the request right after a successful commit.
type cancellingSource struct {
	*fakeSource
	cancel context.CancelFunc
}

func (c *cancellingSource) Commit(ctx context.Context, path string, content []byte, revision, msg string, a storage.Author) (string, error) {
	rev, err := c.fakeSource.Commit(ctx, path, content, revision, msg, a)
	c.cancel()
	return rev, err
}

func TestCoordinatorRetryAsset(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader+"0001,,,,,,\n")
	blobs := newFakeBlobs("0002.webp")
	c := NewCoordinator(testLayout(), src, blobs)
	ctx := t.Context()
	res, err := c.RetryAsset(ctx, "ja", "0001", &Asset{Data: []byte("x")})
	if err != nil || res.State != StateSynced || !blobs.has("0001.webp") {
		t.Fatalf("RetryAsset(put) = %+v, %v", res, err)
	}
	res, err = c.RetryAsset(ctx, "ja", "0002", nil)
	if err != nil || res.State != StateSynced || blobs.has("0002.webp") {
		t.Fatalf("RetryAsset(delete) = %+v, %v", res, err)
	}
	if _, err := c.RetryAsset(ctx, "ja", "0001", nil); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("RetryAsset(delete existing) = %v, want ErrConflict", err)
	}
	if src.commits != 0 {
		t.Errorf("RetryAsset committed %d times", src.commits)
	}
}

func TestCoordinatorWritesIgnoreReadRef(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader+"0001,,,,,,\n")
	// The pinned ref lags behind the branch.
	src.setRef("release", "data/ja.csv", testHeader)
	l := testLayout()
	l.Ref = "release"
	c := NewCoordinator(l, src, newFakeBlobs())
	for _, id := range []string{"0002", "0003"} {
		res, err := c.Add(ctx, "ja", &record.Record{ID: id}, nil, editor)
		if err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
		if res.State != StateSynced {
			t.Fatalf("Add(%s) = %+v", id, res)
		}
	}
	if want := testHeader + "0001,,,,,,\n0002,,,,,,\n0003,,,,,,\n"; src.get("data/ja.csv") != want {
		t.Errorf("source = %q, want %q", src.get("data/ja.csv"), want)
	}
	if src.commits != 2 {
		t.Errorf("commits = %d, want 2", src.commits)
	}
	if _, err := c.RetryAsset(ctx, "ja", "0003", &Asset{Data: []byte("x")}); err != nil {
		t.Fatalf("RetryAsset() failed: %v", err)
	}
	for i, ref := range src.fetchRefs {
		if ref != "" {
			t.Errorf("fetch %d read ref %q", i, ref)
		}
	}

	// Reads still honor the pinned ref.
	ds, err := NewResolver(l, src, nil, nil).Resolve(ctx, "ja")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(ds.Records) != 0 {
		t.Errorf("Resolve() = %d records, want the pinned ref", len(ds.Records))
	}
}

func TestTransactionTransitions(t *testing.T) {
	t.Parallel()
	tx := newTransaction(OpAdd, "ja", "0001", nil)
	if err := tx.advance(StateSynced); err == nil {
		t.Fatal("pending -> synced should be illegal")
	}
	if err := tx.advance(StateCommitted); err != nil {
		t.Fatalf("advance(committed) failed: %v", err)
	}
	if err := tx.advance(StateAborted); err == nil {
		t.Fatal("committed -> aborted should be illegal")
	}
	if err := tx.advance(StateCommittedWithWarning); err != nil {
		t.Fatalf("advance(warning) failed: %v", err)
	}
	if !tx.State.Terminal() {
		t.Error("state should be terminal")
	}
	if err := tx.advance(StateSynced); err == nil {
		t.Fatal("terminal states have no transitions")
	}
	if b, _ := tx.State.MarshalText(); string(b) != "committed_with_warning" {
		t.Errorf("MarshalText() = %s", b)
	}
}
