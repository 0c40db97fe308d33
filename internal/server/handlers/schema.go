package handlers

import (
	"context"

	"github.com/invopop/jsonschema"

	"github.com/maruel/avatardb/internal/record"
	"github.com/maruel/avatardb/internal/server/dto"
)

// Record returns the JSON schema of a record.
func Record(_ context.Context, _ *dto.SchemaRequest) (*jsonschema.Schema, error) {
	return record.Schema(), nil
}
