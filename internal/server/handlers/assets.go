// Serves assets kept on local disk.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/avatardb/internal/server/dto"
	"github.com/maruel/avatardb/internal/storage"
)

// AssetHandler serves /assets/{key} from the local asset directory.
type AssetHandler struct {
	Svc *Services
}

// ServeAsset serves one asset with range and conditional request support.
func (h *AssetHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	f, contentType, err := h.Svc.Assets.Open(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrMalformed) {
			slog.WarnContext(r.Context(), "Failed to open asset", "key", key, "err", err)
			writeErrorResponse(w, err)
			return
		}
		writeErrorResponse(w, dto.NotFound("asset"))
		return
	}
	defer func() { _ = f.Close() }()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	http.ServeContent(w, r, key, time.Time{}, f)
}
