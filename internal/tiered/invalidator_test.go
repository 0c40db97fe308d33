package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/maruel/avatardb/internal/storage"
)

func readMeta(t *testing.T, kv *fakeKV) *Metadata {
	t.Helper()
	m, err := ReadMetadata(t.Context(), kv, time.Second)
	if err != nil {
		t.Fatalf("ReadMetadata() failed: %v", err)
	}
	return m
}

// One language's hot cache write times out: the metadata is still written
// once, keeping the last known count of the failed language.
func TestInvalidatePartial(t *testing.T) {
	t.Parallel()
	warm := newFakeWarm()
	warm.docs["ja"] = `[{"id":"0001"},{"id":"0002"},{"id":"0003"}]`
	warm.docs["en"] = `[{"id":"0001"}]`
	hot := newFakeKV()
	prev, _ := json.Marshal(&Metadata{CountByLanguage: map[string]int{"ja": 2, "en": 7, "fr": 4}, Version: 41})
	hot.values[MetaKey] = prev
	hot.putErrs[HotKey("en")] = context.DeadlineExceeded
	inv := NewInvalidator(testLayout(), warm, hot, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	inv.now = func() time.Time { return now }

	rep := inv.Invalidate(t.Context(), &Request{RefreshHotCache: true, Languages: []string{"ja", "en"}})
	if rep.OK() {
		t.Fatal("OK() should be false")
	}
	if !rep.PerLanguage["ja"] || rep.PerLanguage["en"] || !rep.Metadata {
		t.Fatalf("report = %+v, want ja:true en:false metadata:true", rep)
	}
	if hot.puts[MetaKey] != 1 {
		t.Errorf("metadata written %d times, want 1", hot.puts[MetaKey])
	}
	m := readMeta(t, hot)
	if want := map[string]int{"ja": 3, "en": 7, "fr": 4}; !mapsEqual(m.CountByLanguage, want) {
		t.Errorf("counts = %v, want %v", m.CountByLanguage, want)
	}
	if m.Version != 42 {
		t.Errorf("version = %d, want 42", m.Version)
	}
	if !m.LastUpdated.Equal(now) || m.LastUpdated.Location() != time.UTC {
		t.Errorf("lastUpdated = %v", m.LastUpdated)
	}
	if !warm.forced["ja"] || !warm.forced["en"] {
		t.Error("refresh must force CDN revalidation")
	}
	var got []map[string]string
	if err := json.Unmarshal(hot.values[HotKey("ja")], &got); err != nil || len(got) != 3 {
		t.Errorf("data-ja = %s, %v", hot.values[HotKey("ja")], err)
	}
}

func TestInvalidateAllLanguages(t *testing.T) {
	t.Parallel()
	warm := newFakeWarm()
	warm.docs["ja"] = `[{"id":"0001"}]`
	warm.docs["en"] = `{"data":[{"id":"0001"},{"id":"0002"}]}`
	warm.docs["fr"] = `{"0005":{}}`
	hot := newFakeKV()
	inv := NewInvalidator(testLayout(), warm, hot, nil, nil)
	rep := inv.Invalidate(t.Context(), &Request{RefreshHotCache: true})
	if !rep.OK() {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.PerLanguage) != 3 {
		t.Errorf("refreshed %v, want every configured language", rep.PerLanguage)
	}
	m := readMeta(t, hot)
	if want := map[string]int{"ja": 1, "en": 2, "fr": 1}; !mapsEqual(m.CountByLanguage, want) || m.Version != 1 {
		t.Errorf("metadata = %+v", m)
	}
}

func TestInvalidateWarmFailureKeepsCount(t *testing.T) {
	t.Parallel()
	warm := newFakeWarm()
	warm.docs["ja"] = `[{"id":"0001"}]`
	warm.docs["en"] = `not json`
	hot := newFakeKV()
	hot.values[HotKey("en")] = []byte(`[{"id":"0009"}]`)
	inv := NewInvalidator(testLayout(), warm, hot, nil, nil)
	rep := inv.Invalidate(t.Context(), &Request{RefreshHotCache: true, Languages: []string{"ja", "en", "BAD"}})
	if rep.OK() || rep.PerLanguage["en"] || rep.PerLanguage["BAD"] || !rep.PerLanguage["ja"] {
		t.Fatalf("report = %+v", rep)
	}
	if string(hot.values[HotKey("en")]) != `[{"id":"0009"}]` {
		t.Error("failed refresh overwrote the previous hot cache value")
	}
	m := readMeta(t, hot)
	if _, ok := m.CountByLanguage["en"]; ok {
		t.Errorf("en has a count without ever being refreshed: %v", m.CountByLanguage)
	}
}

func TestInvalidateMetadataFailure(t *testing.T) {
	t.Parallel()
	warm := newFakeWarm()
	warm.docs["ja"] = `[]`
	hot := newFakeKV()
	hot.putErrs[MetaKey] = storage.ErrUnavailable
	inv := NewInvalidator(testLayout(), warm, hot, nil, nil)
	rep := inv.Invalidate(t.Context(), &Request{RefreshHotCache: true, Languages: []string{"ja"}})
	if rep.OK() || rep.Metadata || !rep.PerLanguage["ja"] {
		t.Fatalf("report = %+v", rep)
	}
}

func TestInvalidateMalformedMetadata(t *testing.T) {
	t.Parallel()
	warm := newFakeWarm()
	warm.docs["ja"] = `[{"id":"0001"}]`
	hot := newFakeKV()
	hot.values[MetaKey] = []byte(`garbage`)
	inv := NewInvalidator(testLayout(), warm, hot, nil, nil)
	rep := inv.Invalidate(t.Context(), &Request{RefreshHotCache: true, Languages: []string{"ja"}})
	if !rep.OK() {
		t.Fatalf("report = %+v", rep)
	}
	if m := readMeta(t, hot); m.Version != 1 || m.CountByLanguage["ja"] != 1 {
		t.Errorf("metadata = %+v", m)
	}
}

func TestInvalidatePurges(t *testing.T) {
	t.Parallel()
	p := &fakePurger{failOn: map[string]bool{"path:/data/ja.json": true}}
	hot := newFakeKV()
	inv := NewInvalidator(testLayout(), newFakeWarm(), hot, p, nil)
	rep := inv.Invalidate(t.Context(), &Request{
		Paths: []string{"/data/ja.json", "/data/en.json"},
		Tags:  []string{"all-data"},
	})
	want := []string{"path:/data/ja.json", "path:/data/en.json", "tag:all-data"}
	if !slices.Equal(p.seen, want) {
		t.Errorf("purged %v, want %v", p.seen, want)
	}
	if rep.Purged["path:/data/ja.json"] || !rep.Purged["path:/data/en.json"] || !rep.Purged["tag:all-data"] {
		t.Errorf("purged = %v", rep.Purged)
	}
	// Purges are best effort and no refresh was requested.
	if !rep.OK() {
		t.Error("OK() should be true without a refresh")
	}
	if len(hot.puts) != 0 {
		t.Errorf("hot cache touched without refresh: %v", hot.puts)
	}
}

func TestInvalidateWithSweep(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.set("data/ja.csv", testHeader+"0001,,,,,,\n")
	blobs := newFakeBlobs("0001.webp", "0002.webp")
	l := testLayout()
	warm := newFakeWarm()
	for _, lang := range l.Languages {
		warm.docs[lang] = `[]`
	}
	inv := NewInvalidator(l, warm, newFakeKV(), nil, NewSweeper(l, src, blobs))
	rep := inv.Invalidate(t.Context(), &Request{RefreshHotCache: true})
	if !rep.OK() || rep.Sweep == nil || !slices.Equal(rep.Sweep.Deleted, []string{"0002.webp"}) {
		t.Fatalf("report = %+v sweep = %+v", rep, rep.Sweep)
	}

	src.fetchErr = errors.New("down")
	rep = inv.Invalidate(t.Context(), &Request{RefreshHotCache: true})
	if rep.OK() || rep.Sweep == nil || rep.Sweep.OK {
		t.Fatalf("report = %+v, want a failed sweep", rep)
	}
}

func mapsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
