// Package handlers implements the HTTP handlers of the catalogue API.
package handlers

import (
	"time"

	"github.com/maruel/avatardb/internal/mirror"
	"github.com/maruel/avatardb/internal/storage"
	"github.com/maruel/avatardb/internal/storage/blob"
	"github.com/maruel/avatardb/internal/tiered"
)

// Services are the pipeline components the handlers call. Optional ones
// are nil.
type Services struct {
	Resolver    *tiered.Resolver
	Coordinator *tiered.Coordinator
	Invalidator *tiered.Invalidator
	Snapshotter *tiered.Snapshotter
	Hot         storage.KV
	Mirror      *mirror.Service
	// Assets serves /assets/ when assets are kept on local disk.
	Assets *blob.Dir
}

// Config holds the handler settings.
type Config struct {
	Version string
	Layout  *tiered.Layout
	// CategorySeparator splits the category field into tags.
	CategorySeparator string
	// SnapshotTTL is the CDN cache lifetime of /data/{lang}.json.
	SnapshotTTL time.Duration
	// AssetBaseURL prefixes asset keys in responses. Empty omits the URL.
	AssetBaseURL string
	// MaxAssetBytes bounds a single uploaded asset.
	MaxAssetBytes int64
}

// assetURL returns the public URL of the asset of id, or "".
func (c *Config) assetURL(id string) string {
	if c.AssetBaseURL == "" {
		return ""
	}
	return c.AssetBaseURL + "/" + c.Layout.AssetKey(id)
}
