package tiered

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"

	"github.com/maruel/avatardb/internal/storage"
)

const testHeader = "id,nickname,primaryName,category,comment,author,externalMediaRef\n"

func testLayout() *Layout {
	return &Layout{
		Languages:       []string{"ja", "en", "fr"},
		DefaultLanguage: "ja",
		SourcePattern:   "data/{lang}.csv",
	}
}

// fakeSource is an in-memory SourceStore with content hash revisions.
type fakeSource struct {
	mu        sync.Mutex
	docs      map[string][]byte
	fetches   int
	commits   int
	fetchErr  error
	commitErr error
	// refs holds the documents of named refs. The empty ref is docs.
	refs      map[string]map[string][]byte
	fetchRefs []string
	// beforeCommit runs under no lock right before the precondition check.
	beforeCommit func()
	// beforeFetch runs under no lock before the nth fetch is served.
	beforeFetch func(n int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: map[string][]byte{}, refs: map[string]map[string][]byte{}}
}

func revOf(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:8])
}

func (f *fakeSource) Fetch(ctx context.Context, path, ref string) (*storage.Document, error) {
	f.mu.Lock()
	f.fetches++
	f.fetchRefs = append(f.fetchRefs, ref)
	n, hook := f.fetches, f.beforeFetch
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("fetch", err)
	}
	docs := f.docs
	if ref != "" {
		if docs = f.refs[ref]; docs == nil {
			return nil, storage.NotFoundf("ref %s", ref)
		}
	}
	b, ok := docs[path]
	if !ok {
		return nil, storage.NotFoundf("%s", path)
	}
	return &storage.Document{Content: slices.Clone(b), Revision: revOf(b)}, nil
}

func (f *fakeSource) Commit(_ context.Context, path string, content []byte, revision, _ string, _ storage.Author) (string, error) {
	if f.beforeCommit != nil {
		f.beforeCommit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	cur := ""
	if b, ok := f.docs[path]; ok {
		cur = revOf(b)
	}
	if cur != revision {
		return "", fmt.Errorf("%w: %s", storage.ErrConflict, path)
	}
	f.commits++
	f.docs[path] = slices.Clone(content)
	return revOf(content), nil
}

func (f *fakeSource) set(path, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = []byte(content)
	return revOf([]byte(content))
}

// setRef sets path on the named ref only.
func (f *fakeSource) setRef(ref, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[ref] == nil {
		f.refs[ref] = map[string][]byte{}
	}
	f.refs[ref][path] = []byte(content)
}

func (f *fakeSource) get(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.docs[path])
}

// fakeBlobs is an in-memory BlobStore and BlobLister.
type fakeBlobs struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	calls     int
	putErr    error
	deleteErr error
	listErr   error
	deleted   []string
}

func newFakeBlobs(keys ...string) *fakeBlobs {
	f := &fakeBlobs{blobs: map[string][]byte{}}
	for _, k := range keys {
		f.blobs[k] = []byte(k)
	}
	return f
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.putErr != nil {
		return f.putErr
	}
	f.blobs[key] = data
	return nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.blobs, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobs) List(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.blobs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (f *fakeBlobs) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

// fakeKV is an in-memory KV with per key failures.
type fakeKV struct {
	mu      sync.Mutex
	values  map[string][]byte
	gets    int
	puts    map[string]int
	getErr  error
	putErrs map[string]error
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string][]byte{}, puts: map[string]int{}, putErrs: map[string]error{}}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return nil, storage.NotFoundf("%s", key)
	}
	return v, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key]++
	if err := f.putErrs[key]; err != nil {
		return err
	}
	f.values[key] = value
	return nil
}

// fakeWarm serves snapshots per language.
type fakeWarm struct {
	mu      sync.Mutex
	docs    map[string]string
	errs    map[string]error
	fetches map[string]int
	forced  map[string]bool
}

func newFakeWarm() *fakeWarm {
	return &fakeWarm{docs: map[string]string{}, errs: map[string]error{}, fetches: map[string]int{}, forced: map[string]bool{}}
}

func (f *fakeWarm) Fetch(_ context.Context, lang string, revalidate bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[lang]++
	f.forced[lang] = revalidate
	if err := f.errs[lang]; err != nil {
		return nil, err
	}
	d, ok := f.docs[lang]
	if !ok {
		return nil, storage.NotFoundf("%s", lang)
	}
	return []byte(d), nil
}

// fakePurger records purges and fails the listed ones.
type fakePurger struct {
	mu     sync.Mutex
	failOn map[string]bool
	seen   []string
}

func (f *fakePurger) PurgePath(_ context.Context, p string) error { return f.purge("path:" + p) }
func (f *fakePurger) PurgeTag(_ context.Context, t string) error  { return f.purge("tag:" + t) }

func (f *fakePurger) purge(k string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, k)
	if f.failOn[k] {
		return fmt.Errorf("%w: purge %s", storage.ErrUnavailable, k)
	}
	return nil
}
