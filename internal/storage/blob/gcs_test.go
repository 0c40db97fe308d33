package blob

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/maruel/avatardb/internal/storage"
)

// fakeBucket emulates the JSON API of one bucket.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	gens    map[string]int64
	nextGen int64
	fail    bool
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		// 403 is not retried by the client.
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
		return
	}
	const objs = "/b/bkt/o"
	p := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(p, objs):
		mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || !strings.HasPrefix(mt, "multipart/") {
			http.Error(w, "expected multipart upload", http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		meta, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var obj struct {
			Name        string `json:"name"`
			ContentType string `json:"contentType"`
		}
		if err := json.NewDecoder(meta).Decode(&obj); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		media, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(media)
		f.objects[obj.Name] = data
		f.types[obj.Name] = obj.ContentType
		f.nextGen++
		f.gens[obj.Name] = f.nextGen
		_ = json.NewEncoder(w).Encode(map[string]string{"name": obj.Name, "bucket": "bkt"})
	case r.Method == http.MethodGet && strings.HasSuffix(p, objs):
		var items []map[string]string
		for k := range f.objects {
			if strings.HasPrefix(k, r.URL.Query().Get("prefix")) {
				items = append(items, map[string]string{"name": k, "generation": strconv.FormatInt(f.gens[k], 10)})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	case r.Method == http.MethodDelete && strings.Contains(p, objs+"/"):
		name := p[strings.Index(p, objs+"/")+len(objs)+1:]
		if _, ok := f.objects[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
			return
		}
		if m := r.URL.Query().Get("ifGenerationMatch"); m != "" && m != strconv.FormatInt(f.gens[name], 10) {
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = w.Write([]byte(`{"error":{"code":412,"message":"Precondition Failed"}}`))
			return
		}
		delete(f.objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unexpected "+r.Method+" "+p, http.StatusNotImplemented)
	}
}

func newTestGCS(t *testing.T, prefix string) (*GCS, *fakeBucket) {
	t.Helper()
	fake := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}, gens: map[string]int64{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	g, err := NewGCS(t.Context(), &GCSOptions{Bucket: "bkt", Prefix: prefix, CacheControl: "public, max-age=60"},
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewGCS() failed: %v", err)
	}
	return g, fake
}

func TestGCS(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	g, fake := newTestGCS(t, "avatars/")
	if err := g.Put(ctx, "0001.webp", []byte("img"), "image/webp"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if got := string(fake.objects["avatars/0001.webp"]); got != "img" {
		t.Errorf("uploaded = %q", got)
	}
	if got := fake.types["avatars/0001.webp"]; got != "image/webp" {
		t.Errorf("content type = %q", got)
	}
	fake.objects["other/0009.webp"] = []byte("x")
	keys, err := g.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if want := []string{"0001.webp"}; !slices.Equal(keys, want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}
	if err := g.Delete(ctx, "0001.webp"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := g.Delete(ctx, "0001.webp"); err != nil {
		t.Fatalf("Delete() of absent object failed: %v", err)
	}
}

func TestGCSDeleteVersion(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	g, fake := newTestGCS(t, "avatars/")
	if err := g.Put(ctx, "0001.webp", []byte("old"), "image/webp"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	vers, err := g.ListVersions(ctx)
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	listed := vers["0001.webp"]
	if listed == "" || len(vers) != 1 {
		t.Fatalf("ListVersions() = %v", vers)
	}
	// The object is rewritten between the listing and the delete.
	if err := g.Put(ctx, "0001.webp", []byte("new"), "image/webp"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := g.DeleteVersion(ctx, "0001.webp", listed); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("DeleteVersion(stale) = %v, want ErrConflict", err)
	}
	if got := string(fake.objects["avatars/0001.webp"]); got != "new" {
		t.Fatalf("rewritten object = %q", got)
	}
	vers, err = g.ListVersions(ctx)
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if err := g.DeleteVersion(ctx, "0001.webp", vers["0001.webp"]); err != nil {
		t.Fatalf("DeleteVersion() failed: %v", err)
	}
	if _, ok := fake.objects["avatars/0001.webp"]; ok {
		t.Error("object still present")
	}
	if err := g.DeleteVersion(ctx, "0001.webp", vers["0001.webp"]); err != nil {
		t.Fatalf("DeleteVersion() of absent object failed: %v", err)
	}
	if err := g.DeleteVersion(ctx, "0001.webp", "x"); !errors.Is(err, storage.ErrMalformed) {
		t.Fatalf("DeleteVersion(bad generation) = %v", err)
	}
}

func TestGCSUnavailable(t *testing.T) {
	t.Parallel()
	g, fake := newTestGCS(t, "")
	fake.fail = true
	if err := g.Put(t.Context(), "0001.webp", []byte("img"), "image/webp"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Put() = %v, want ErrUnavailable", err)
	}
	if err := g.Delete(t.Context(), "0001.webp"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Delete() = %v, want ErrUnavailable", err)
	}
}
