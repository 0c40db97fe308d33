// Serves the public read endpoints and the admin write endpoints.

package handlers

import (
	"context"
	"mime"

	"github.com/maruel/avatardb/internal/server/dto"
	"github.com/maruel/avatardb/internal/server/reqctx"
	"github.com/maruel/avatardb/internal/storage"
	"github.com/maruel/avatardb/internal/tiered"
)

// RecordHandler handles record reads and writes.
type RecordHandler struct {
	Svc *Services
	Cfg *Config
}

// List returns the dataset of a language.
func (h *RecordHandler) List(ctx context.Context, req *dto.DatasetRequest) (*dto.DatasetResponse, error) {
	ds, err := h.Svc.Resolver.Resolve(ctx, req.Language)
	if err != nil {
		return nil, dto.FromStorage(err)
	}
	return &dto.DatasetResponse{Language: ds.Language, Requested: ds.Requested, Tier: ds.Tier, Records: ds.Records}, nil
}

// Get returns one record.
func (h *RecordHandler) Get(ctx context.Context, req *dto.RecordRequest) (*dto.RecordResponse, error) {
	ds, err := h.Svc.Resolver.Resolve(ctx, req.Language)
	if err != nil {
		return nil, dto.FromStorage(err)
	}
	r, ok := ds.Find(req.ID)
	if !ok {
		return nil, dto.NotFound("record " + req.ID)
	}
	return &dto.RecordResponse{Language: ds.Language, Tier: ds.Tier, Record: *r, AssetURL: h.Cfg.assetURL(r.ID)}, nil
}

// Categories returns the unique sorted category tags of a language.
func (h *RecordHandler) Categories(ctx context.Context, req *dto.DatasetRequest) (*dto.ListResponse, error) {
	ds, err := h.Svc.Resolver.Resolve(ctx, req.Language)
	if err != nil {
		return nil, dto.FromStorage(err)
	}
	return &dto.ListResponse{Language: ds.Language, Items: ds.Categories(h.Cfg.CategorySeparator)}, nil
}

// Authors returns the unique sorted authors of a language.
func (h *RecordHandler) Authors(ctx context.Context, req *dto.DatasetRequest) (*dto.ListResponse, error) {
	ds, err := h.Svc.Resolver.Resolve(ctx, req.Language)
	if err != nil {
		return nil, dto.FromStorage(err)
	}
	return &dto.ListResponse{Language: ds.Language, Items: ds.Authors()}, nil
}

// Add creates a record.
func (h *RecordHandler) Add(ctx context.Context, req *dto.AddRecordRequest) (*dto.WriteResponse, error) {
	asset, err := h.asset(req.Asset, req.AssetContentType)
	if err != nil {
		return nil, err
	}
	res, err := h.Svc.Coordinator.Add(ctx, req.Language, &req.Record, asset, author(ctx))
	return h.written(res, err)
}

// Update replaces a record.
func (h *RecordHandler) Update(ctx context.Context, req *dto.UpdateRecordRequest) (*dto.WriteResponse, error) {
	asset, err := h.asset(req.Asset, req.AssetContentType)
	if err != nil {
		return nil, err
	}
	res, err := h.Svc.Coordinator.Update(ctx, req.Language, req.PathID, &req.Record, asset, author(ctx))
	return h.written(res, err)
}

// Delete removes a record and its asset.
func (h *RecordHandler) Delete(ctx context.Context, req *dto.DeleteRecordRequest) (*dto.WriteResponse, error) {
	res, err := h.Svc.Coordinator.Delete(ctx, req.Language, req.ID, author(ctx))
	return h.written(res, err)
}

func (h *RecordHandler) asset(data []byte, contentType string) (*tiered.Asset, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if h.Cfg.MaxAssetBytes > 0 && int64(len(data)) > h.Cfg.MaxAssetBytes {
		return nil, dto.PayloadTooLarge(h.Cfg.MaxAssetBytes).WithDetail("field", "asset")
	}
	if contentType == "" {
		contentType = mime.TypeByExtension("." + h.Cfg.Layout.Ext())
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &tiered.Asset{Data: data, ContentType: contentType}, nil
}

// written converts a write outcome. A CommittedWithWarning result is a
// success carrying the warning.
func (h *RecordHandler) written(res *tiered.Result, err error) (*dto.WriteResponse, error) {
	if err != nil {
		return nil, dto.FromStorage(err)
	}
	u := ""
	if res.Tx.Operation != tiered.OpDelete && res.AssetSynced {
		u = h.Cfg.assetURL(res.Tx.RecordID)
	}
	return dto.NewWriteResponse(res, u), nil
}

func author(ctx context.Context) storage.Author {
	if c := reqctx.GetCaller(ctx); c != nil {
		return storage.Author{Name: c.Subject, Email: c.Email}
	}
	return storage.Author{}
}
