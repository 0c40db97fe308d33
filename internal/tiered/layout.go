// Package tiered implements the data synchronization pipeline: reads go
// through the hot cache, the CDN snapshot and the source document in that
// order; writes mutate the source document then the asset store; cache
// invalidation is a separate explicit pass.
package tiered

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/maruel/avatardb/internal/storage"
)

// DefaultTimeout bounds every store call when Layout.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// MetaKey is the hot cache key of the cache metadata.
const MetaKey = "data-meta"

var reLanguage = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})?$`)

// ValidateLanguage returns ErrMalformed unless lang looks like a language code.
func ValidateLanguage(lang string) error {
	if !reLanguage.MatchString(lang) {
		return storage.Malformedf("invalid language %q", lang)
	}
	return nil
}

// headRef selects the branch a SourceStore commits to.
const headRef = ""

// HotKey returns the hot cache key of the dataset of lang.
func HotKey(lang string) string {
	return "data-" + lang
}

// Layout describes the deployment: which languages exist and where their
// data lives in each store.
type Layout struct {
	Languages       []string
	DefaultLanguage string
	// SourcePattern is the source document path, "{lang}" is substituted.
	SourcePattern string
	// Ref is the source branch or revision reads are served from. Writes
	// always read and commit the store's own branch.
	Ref       string
	Delimiter byte
	// AssetExt is the extension of asset keys, without the dot.
	AssetExt string
	Timeout  time.Duration
}

// SourcePath returns the source document path of lang.
func (l *Layout) SourcePath(lang string) string {
	p := l.SourcePattern
	if p == "" {
		p = "data/{lang}.csv"
	}
	return strings.ReplaceAll(p, "{lang}", lang)
}

// AssetKey returns the blob key of the asset of record id.
func (l *Layout) AssetKey(id string) string {
	return id + "." + l.Ext()
}

// Ext returns the asset key extension, "webp" by default.
func (l *Layout) Ext() string {
	if l.AssetExt == "" {
		return "webp"
	}
	return l.AssetExt
}

// Configured reports whether lang is one of the deployment's languages.
func (l *Layout) Configured(lang string) bool {
	return slices.Contains(l.Languages, lang)
}

func (l *Layout) timeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultTimeout
	}
	return l.Timeout
}
