// Serves the JSON snapshots the CDN caches.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maruel/avatardb/internal/server/dto"
	"github.com/maruel/avatardb/internal/tiered"
)

// SnapshotHandler is the CDN origin of /data/{lang}.json.
type SnapshotHandler struct {
	Svc *Services
	Cfg *Config
}

// ServeData renders the source document of a language. The revision is the
// ETag so the CDN can revalidate cheaply.
func (h *SnapshotHandler) ServeData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lang, ok := strings.CutSuffix(r.PathValue("file"), ".json")
	if !ok {
		writeErrorResponse(w, dto.NotFound("snapshot"))
		return
	}
	if err := tiered.ValidateLanguage(lang); err != nil {
		writeErrorResponse(w, dto.NotFound("snapshot"))
		return
	}
	snap, err := h.Svc.Snapshotter.Render(ctx, lang)
	if err != nil {
		slog.WarnContext(ctx, "Snapshot render failed", "lang", lang, "err", err)
		writeErrorResponse(w, dto.FromStorage(err))
		return
	}
	etag := `"` + snap.Revision + `"`
	hdr := w.Header()
	ttl := int(h.Cfg.SnapshotTTL.Seconds())
	hdr.Set("Cache-Control", fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d", ttl, ttl))
	hdr.Set("Cache-Tag", "all-data,data-"+lang)
	hdr.Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	hdr.Set("Content-Type", "application/json")
	if _, err := w.Write(snap.Body); err != nil {
		slog.WarnContext(ctx, "Failed to write snapshot", "lang", lang, "err", err)
	}
}

func etagMatches(header, etag string) bool {
	for c := range strings.SplitSeq(header, ",") {
		c = strings.TrimPrefix(strings.TrimSpace(c), "W/")
		if c == "*" || c == etag {
			return true
		}
	}
	return false
}
