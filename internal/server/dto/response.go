package dto

import (
	"github.com/maruel/avatardb/internal/mirror"
	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/tiered"
)

// HealthResponse is a response from the health check.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Languages []string `json:"languages"`
	// Cache is the hot cache metadata, when a hot cache is configured.
	Cache  *tiered.Metadata `json:"cache,omitempty"`
	Mirror *mirror.Status   `json:"mirror,omitempty"`
}

// DatasetResponse is the dataset of one language.
type DatasetResponse struct {
	// Language is the language actually served.
	Language string `json:"language"`
	// Requested is the language asked for. It differs from Language when
	// the default language was served instead.
	Requested string          `json:"requested"`
	Tier      string          `json:"tier"`
	Records   []record.Record `json:"records"`
}

// RecordResponse is a single record.
type RecordResponse struct {
	Language string        `json:"language"`
	Tier     string        `json:"tier"`
	Record   record.Record `json:"record"`
	AssetURL string        `json:"assetUrl,omitempty"`
}

// ListResponse is a derived index of a dataset.
type ListResponse struct {
	Language string   `json:"language"`
	Items    []string `json:"items"`
}

// WriteResponse is the outcome of a committed write.
type WriteResponse struct {
	Success     bool             `json:"success"`
	TxID        string           `json:"txId"`
	Operation   tiered.Operation `json:"operation"`
	State       tiered.State     `json:"state"`
	Revision    string           `json:"revision"`
	AssetSynced bool             `json:"assetSynced"`
	// AssetDeleted is set on a delete whose asset removal succeeded.
	AssetDeleted bool   `json:"assetDeleted,omitempty"`
	Warning      string `json:"warning,omitempty"`
	AssetURL     string `json:"assetUrl,omitempty"`
}

// NewWriteResponse converts a write result.
func NewWriteResponse(res *tiered.Result, assetURL string) *WriteResponse {
	return &WriteResponse{
		Success:      res.State != tiered.StateAborted,
		TxID:         res.Tx.ID.String(),
		Operation:    res.Tx.Operation,
		State:        res.State,
		Revision:     res.Tx.Revision,
		AssetSynced:  res.AssetSynced,
		AssetDeleted: res.Tx.Operation == tiered.OpDelete && res.AssetSynced,
		Warning:      res.Warning,
		AssetURL:     assetURL,
	}
}
