package handlers

import (
	"context"
	"log/slog"

	"github.com/maruel/avatardb/internal/server/dto"
	"github.com/maruel/avatardb/internal/tiered"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	Svc *Services
	Cfg *Config
}

// Health reports the version, the hot cache metadata and the mirror state.
// Store failures degrade the response instead of failing it.
func (h *HealthHandler) Health(ctx context.Context, _ *dto.HealthRequest) (*dto.HealthResponse, error) {
	resp := &dto.HealthResponse{Status: "ok", Version: h.Cfg.Version, Languages: h.Cfg.Layout.Languages}
	if h.Svc.Hot != nil {
		timeout := h.Cfg.Layout.Timeout
		if timeout <= 0 {
			timeout = tiered.DefaultTimeout
		}
		m, err := tiered.ReadMetadata(ctx, h.Svc.Hot, timeout)
		if err != nil {
			slog.WarnContext(ctx, "Health: metadata unavailable", "err", err)
			resp.Status = "degraded"
		} else {
			resp.Cache = m
		}
	}
	if h.Svc.Mirror != nil {
		st := h.Svc.Mirror.Status()
		resp.Mirror = &st
	}
	return resp, nil
}
