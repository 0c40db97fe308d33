package server

import (
	"net/http"

	"github.com/maruel/avatardb/internal/server/handlers"
	"github.com/maruel/avatardb/internal/server/ipgeo"
	"github.com/maruel/avatardb/internal/server/ratelimit"
)

// Config holds the HTTP layer settings.
type Config struct {
	Handlers handlers.Config
	// AppOrigin is the only Origin accepted on admin writes. Empty disables
	// the check.
	AppOrigin string
	// JWTSecret verifies editor credentials. Empty rejects every admin write.
	JWTSecret []byte
	// RevalidateSecret guards /api/v1/revalidate. It may be a bcrypt hash.
	// Empty rejects every call.
	RevalidateSecret    string
	MaxRequestBodyBytes int64
	WriteLimiter        *ratelimit.Limiter
	ReadLimiter         *ratelimit.Limiter
	IPGeo               *ipgeo.Checker
}

// NewRouter creates and configures the HTTP router.
func NewRouter(svc *handlers.Services, cfg *Config) http.Handler {
	mux := http.NewServeMux()
	hc := &cfg.Handlers

	hh := &handlers.HealthHandler{Svc: svc, Cfg: hc}
	rh := &handlers.RecordHandler{Svc: svc, Cfg: hc}
	vh := &handlers.RevalidateHandler{Svc: svc}
	sh := &handlers.SnapshotHandler{Svc: svc, Cfg: hc}

	mux.Handle("GET /api/health", Wrap(hh.Health, cfg))
	mux.Handle("GET /api/v1/schema/record", Wrap(handlers.Record, cfg))

	// Public reads.
	mux.Handle("GET /api/v1/records/{lang}", Wrap(rh.List, cfg))
	mux.Handle("GET /api/v1/records/{lang}/categories", Wrap(rh.Categories, cfg))
	mux.Handle("GET /api/v1/records/{lang}/authors", Wrap(rh.Authors, cfg))
	mux.Handle("GET /api/v1/records/{lang}/{id}", Wrap(rh.Get, cfg))

	// Admin writes.
	mux.Handle("POST /api/v1/admin/records/{lang}", WrapEditor(rh.Add, cfg))
	mux.Handle("PUT /api/v1/admin/records/{lang}/{id}", WrapEditor(rh.Update, cfg))
	mux.Handle("DELETE /api/v1/admin/records/{lang}/{id}", WrapEditor(rh.Delete, cfg))

	mux.Handle("POST /api/v1/revalidate", WrapSecret(vh.Revalidate, cfg))

	// CDN origin.
	if svc.Snapshotter != nil {
		mux.HandleFunc("GET /data/{file}", sh.ServeData)
	}
	if svc.Assets != nil {
		ah := &handlers.AssetHandler{Svc: svc}
		mux.HandleFunc("GET /assets/{key}", ah.ServeAsset)
	}

	return requestMetadata(cfg.IPGeo, logRequests(mux))
}
