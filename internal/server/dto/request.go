package dto

import (
	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/tiered"
)

// HealthRequest is a request to check system health.
type HealthRequest struct{}

// Validate implements Validatable.
func (r *HealthRequest) Validate() error {
	return nil
}

// SchemaRequest is a request for the JSON schema of a record.
type SchemaRequest struct{}

// Validate implements Validatable.
func (r *SchemaRequest) Validate() error {
	return nil
}

// DatasetRequest addresses the dataset of one language.
type DatasetRequest struct {
	Language string `path:"lang" json:"-"`
}

// Validate implements Validatable.
func (r *DatasetRequest) Validate() error {
	return validateLanguage(r.Language)
}

// RecordRequest addresses one record.
type RecordRequest struct {
	Language string `path:"lang" json:"-"`
	ID       string `path:"id" json:"-"`
}

// Validate implements Validatable.
func (r *RecordRequest) Validate() error {
	if err := validateLanguage(r.Language); err != nil {
		return err
	}
	return validateID(r.ID)
}

// AddRecordRequest creates a record. The record fields are at the top level
// of the body.
type AddRecordRequest struct {
	Language string `path:"lang" json:"-"`
	record.Record
	// Asset is the base64 encoded binary; absent means no asset change.
	Asset            []byte `json:"asset,omitempty"`
	AssetContentType string `json:"assetContentType,omitempty"`
}

// Validate implements Validatable.
func (r *AddRecordRequest) Validate() error {
	if err := validateLanguage(r.Language); err != nil {
		return err
	}
	if r.Record.ID == "" {
		return MissingField("id")
	}
	if err := validateID(r.Record.ID); err != nil {
		return err
	}
	return validateAsset(r.Asset, r.AssetContentType)
}

// UpdateRecordRequest replaces a record. An empty body id takes the path id.
type UpdateRecordRequest struct {
	Language string `path:"lang" json:"-"`
	PathID   string `path:"id" json:"-"`
	record.Record
	Asset            []byte `json:"asset,omitempty"`
	AssetContentType string `json:"assetContentType,omitempty"`
}

// Validate implements Validatable.
func (r *UpdateRecordRequest) Validate() error {
	if err := validateLanguage(r.Language); err != nil {
		return err
	}
	if err := validateID(r.PathID); err != nil {
		return err
	}
	if r.Record.ID == "" {
		r.Record.ID = r.PathID
	}
	if r.Record.ID != r.PathID {
		return InvalidField("id", "the body id differs from the path id")
	}
	return validateAsset(r.Asset, r.AssetContentType)
}

// DeleteRecordRequest deletes a record and its asset.
type DeleteRecordRequest struct {
	Language string `path:"lang" json:"-"`
	ID       string `path:"id" json:"-"`
}

// Validate implements Validatable.
func (r *DeleteRecordRequest) Validate() error {
	if err := validateLanguage(r.Language); err != nil {
		return err
	}
	return validateID(r.ID)
}

// RevalidateRequest is one cache invalidation pass.
type RevalidateRequest struct {
	tiered.Request
}

// Validate implements Validatable.
func (r *RevalidateRequest) Validate() error {
	for _, l := range r.Languages {
		if err := validateLanguage(l); err != nil {
			return err
		}
	}
	if len(r.Paths)+len(r.Tags) == 0 && !r.RefreshHotCache {
		return BadRequest("nothing to invalidate: set paths, tags or refreshHotCache")
	}
	return nil
}

func validateLanguage(lang string) error {
	if err := tiered.ValidateLanguage(lang); err != nil {
		return InvalidField("lang", err.Error())
	}
	return nil
}

func validateID(id string) error {
	if err := record.ValidateID(id); err != nil {
		return InvalidField("id", err.Error())
	}
	return nil
}

func validateAsset(data []byte, contentType string) error {
	if contentType != "" && len(data) == 0 {
		return MissingField("asset")
	}
	return nil
}
