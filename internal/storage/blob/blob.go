// Package blob implements the asset stores: a local directory and a Google
// Cloud Storage bucket.
package blob

import (
	"strings"

	"github.com/maruel/avatardb/internal/storage"
)

// validKey rejects keys that could escape a flat namespace.
func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return storage.Malformedf("invalid blob key %q", key)
	}
	return nil
}
