package handlers

import (
	"context"

	"github.com/maruel/avatardb/internal/server/dto"
	"github.com/maruel/avatardb/internal/tiered"
)

// RevalidateHandler runs cache invalidation passes.
type RevalidateHandler struct {
	Svc *Services
}

// Revalidate purges the requested CDN entries and optionally refreshes the
// hot cache. A partial refresh is a 502 carrying the report.
func (h *RevalidateHandler) Revalidate(ctx context.Context, req *dto.RevalidateRequest) (*tiered.Report, error) {
	rep := h.Svc.Invalidator.Invalidate(ctx, &req.Request)
	if !rep.OK() {
		return nil, dto.InvalidationPartial(rep)
	}
	return rep, nil
}
