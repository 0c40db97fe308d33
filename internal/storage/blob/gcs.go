// Implements storage.BlobStore on a Google Cloud Storage bucket.

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"github.com/maruel/avatardb/internal/storage"
)

// GCS stores blobs as objects of a bucket.
type GCS struct {
	svc          *gcs.Service
	bucket       string
	prefix       string
	cacheControl string
}

// GCSOptions configures a GCS store.
type GCSOptions struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "avatars/".
	Prefix string
	// CacheControl is set on uploaded objects.
	CacheControl string
}

// NewGCS returns a store for the bucket. opts are passed to the storage
// client, e.g. option.WithCredentialsFile.
func NewGCS(ctx context.Context, o *GCSOptions, opts ...option.ClientOption) (*GCS, error) {
	if o.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: %w", err)
	}
	return &GCS{svc: svc, bucket: o.Bucket, prefix: o.Prefix, cacheControl: o.CacheControl}, nil
}

// Put implements storage.BlobStore.
func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	obj := &gcs.Object{Name: g.prefix + key, ContentType: contentType, CacheControl: g.cacheControl}
	call := g.svc.Objects.Insert(g.bucket, obj).Context(ctx)
	if contentType != "" {
		call = call.Media(bytes.NewReader(data), googleapi.ContentType(contentType))
	} else {
		call = call.Media(bytes.NewReader(data))
	}
	if _, err := call.Do(); err != nil {
		return classify("gcs put "+key, err)
	}
	return nil
}

// Delete implements storage.BlobStore.
func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := g.svc.Objects.Delete(g.bucket, g.prefix+key).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return classify("gcs delete "+key, err)
	}
	return nil
}

// List implements storage.BlobLister. Keys are returned without the prefix.
func (g *GCS) List(ctx context.Context) ([]string, error) {
	var keys []string
	call := g.svc.Objects.List(g.bucket).Fields("items(name)", "nextPageToken")
	if g.prefix != "" {
		call = call.Prefix(g.prefix).Delimiter("/")
	}
	err := call.Pages(ctx, func(objs *gcs.Objects) error {
		for _, o := range objs.Items {
			k := o.Name[len(g.prefix):]
			if validKey(k) == nil {
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("gcs list", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// ListVersions implements storage.BlobVersioner. The version is the object
// generation.
func (g *GCS) ListVersions(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	call := g.svc.Objects.List(g.bucket).Fields("items(name,generation)", "nextPageToken")
	if g.prefix != "" {
		call = call.Prefix(g.prefix).Delimiter("/")
	}
	err := call.Pages(ctx, func(objs *gcs.Objects) error {
		for _, o := range objs.Items {
			k := o.Name[len(g.prefix):]
			if validKey(k) == nil {
				out[k] = strconv.FormatInt(o.Generation, 10)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("gcs list", err)
	}
	return out, nil
}

// DeleteVersion implements storage.BlobVersioner.
func (g *GCS) DeleteVersion(ctx context.Context, key, version string) error {
	if err := validKey(key); err != nil {
		return err
	}
	gen, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("gcs delete %s: %w: generation %q", key, storage.ErrMalformed, version)
	}
	err = g.svc.Objects.Delete(g.bucket, g.prefix+key).IfGenerationMatch(gen).Context(ctx).Do()
	var ge *googleapi.Error
	switch {
	case err == nil, isNotFound(err):
		return nil
	case errors.As(err, &ge) && ge.Code == http.StatusPreconditionFailed:
		return fmt.Errorf("gcs delete %s: %w: generation %d replaced", key, storage.ErrConflict, gen)
	default:
		return classify("gcs delete "+key, err)
	}
}

func isNotFound(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == http.StatusNotFound
}

func classify(op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrNotFound, err)
	}
	return storage.Unavailable(op, err)
}

var (
	_ storage.BlobStore     = (*GCS)(nil)
	_ storage.BlobLister    = (*GCS)(nil)
	_ storage.BlobVersioner = (*GCS)(nil)
)
