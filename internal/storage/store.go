package storage

import (
	"context"
)

// Document is the raw tabular source document of one language.
type Document struct {
	Content []byte
	// Revision is an opaque token identifying this exact version of the document.
	Revision string
}

// Author is recorded on every source commit.
type Author struct {
	Name  string
	Email string
}

// SourceStore holds the authoritative tabular document of every language.
type SourceStore interface {
	// Fetch returns the document at path on ref. An empty ref means the store's
	// default branch. Returns ErrNotFound when the document does not exist.
	Fetch(ctx context.Context, path, ref string) (*Document, error)
	// Commit replaces the document at path iff its current revision equals
	// revision, and returns the new revision. An empty revision requires the
	// document to not exist yet. A stale revision returns ErrConflict and
	// leaves the document unchanged.
	Commit(ctx context.Context, path string, content []byte, revision, message string, author Author) (string, error)
}

// BlobStore holds the per-record binary assets.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error
}

// BlobLister is implemented by blob stores that can enumerate their keys.
type BlobLister interface {
	List(ctx context.Context) ([]string, error)
}

// BlobVersioner is implemented by blob stores that version their objects,
// so that a delete can be made conditional on the version that was listed.
type BlobVersioner interface {
	// ListVersions returns every key with its current version.
	ListVersions(ctx context.Context) (map[string]string, error)
	// DeleteVersion removes key iff it still holds version. Returns
	// ErrConflict when the key was rewritten since. Deleting an absent key
	// succeeds.
	DeleteVersion(ctx context.Context, key, version string) error
}

// KV is the edge key-value hot cache.
type KV interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Snapshots serves the CDN-published JSON document of each language.
type Snapshots interface {
	// Fetch returns the published document for lang. When revalidate is set
	// the CDN must not answer from its cache. Returns ErrNotFound on 404.
	Fetch(ctx context.Context, lang string, revalidate bool) ([]byte, error)
}

// Purger evicts CDN cache entries.
type Purger interface {
	PurgePath(ctx context.Context, path string) error
	PurgeTag(ctx context.Context, tag string) error
}
