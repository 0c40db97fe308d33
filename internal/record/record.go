// Package record defines the catalogue record and the codecs that move it
// between the tabular source document and JSON.
package record

import (
	"slices"
	"strings"

	"github.com/maruel/avatardb/internal/storage"
)

// Record is one catalogue entry.
type Record struct {
	ID               string `json:"id" jsonschema:"description=Four ASCII digits unique within a language,pattern=^[0-9]{4}$"`
	Nickname         string `json:"nickname" jsonschema:"description=Display name"`
	PrimaryName      string `json:"primaryName" jsonschema:"description=Name of the person behind the avatar"`
	Category         string `json:"category" jsonschema:"description=Tags joined by the configured separator"`
	Comment          string `json:"comment" jsonschema:"description=Free text"`
	Author           string `json:"author" jsonschema:"description=Who contributed the entry"`
	ExternalMediaRef string `json:"externalMediaRef" jsonschema:"description=Reference to an external media item"`
}

// ValidateID returns ErrMalformed unless id is exactly four ASCII digits.
func ValidateID(id string) error {
	if len(id) != 4 {
		return storage.Malformedf("id %q must be exactly 4 digits", id)
	}
	for i := range len(id) {
		if id[i] < '0' || id[i] > '9' {
			return storage.Malformedf("id %q must be exactly 4 digits", id)
		}
	}
	return nil
}

// Dataset is the ordered list of records of one language.
type Dataset struct {
	// Language is the language whose records these are.
	Language string `json:"language"`
	// Requested is the language the caller asked for. It differs from Language
	// only when a configured language fell back to the default one.
	Requested string `json:"requested"`
	// Tier names the cache tier that served the dataset.
	Tier    string   `json:"tier"`
	Records []Record `json:"records"`
}

// Find returns the record with the given id.
func (d *Dataset) Find(id string) (*Record, bool) {
	for i := range d.Records {
		if d.Records[i].ID == id {
			return &d.Records[i], true
		}
	}
	return nil, false
}

// Categories returns the unique sorted tags found in the category field.
func (d *Dataset) Categories(sep string) []string {
	if sep == "" {
		sep = ","
	}
	var out []string
	for i := range d.Records {
		for tag := range strings.SplitSeq(d.Records[i].Category, sep) {
			if tag = strings.TrimSpace(tag); tag != "" {
				out = append(out, tag)
			}
		}
	}
	return uniqueSorted(out)
}

// Authors returns the unique sorted non-empty authors.
func (d *Dataset) Authors() []string {
	var out []string
	for i := range d.Records {
		if a := strings.TrimSpace(d.Records[i].Author); a != "" {
			out = append(out, a)
		}
	}
	return uniqueSorted(out)
}

func uniqueSorted(s []string) []string {
	if len(s) == 0 {
		return []string{}
	}
	slices.Sort(s)
	return slices.Compact(s)
}
