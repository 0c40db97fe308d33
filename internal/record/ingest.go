// Normalizes the JSON documents published by the CDN.

package record

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/maruel/avatardb/internal/storage"
)

// Shape is the layout a JSON dataset document was published in.
type Shape int

const (
	// ShapeArray is `[{...}, ...]`.
	ShapeArray Shape = iota + 1
	// ShapeWrapped is `{"data": [{...}, ...]}`.
	ShapeWrapped
	// ShapeKeyed is `{"0001": {...}, ...}`.
	ShapeKeyed
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeWrapped:
		return "wrapped"
	case ShapeKeyed:
		return "keyed"
	default:
		return "unknown"
	}
}

// Ingested is a decoded JSON dataset document.
type Ingested struct {
	Shape   Shape
	Records []Record
}

// Ingest decodes data in any of the supported shapes. Keyed documents are
// ordered by key and the key fills in a missing id. Anything else is
// ErrMalformed.
func Ingest(data []byte) (*Ingested, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, storage.Malformedf("empty document")
	}
	switch data[0] {
	case '[':
		var recs []Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, storage.Malformedf("array document: %v", err)
		}
		return &Ingested{Shape: ShapeArray, Records: nonNil(recs)}, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, storage.Malformedf("object document: %v", err)
		}
		if raw, ok := obj["data"]; ok {
			var recs []Record
			if err := json.Unmarshal(raw, &recs); err != nil {
				return nil, storage.Malformedf("wrapped document: %v", err)
			}
			return &Ingested{Shape: ShapeWrapped, Records: nonNil(recs)}, nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			if err := ValidateID(k); err != nil {
				return nil, storage.Malformedf("keyed document: unexpected key %q", k)
			}
			keys = append(keys, k)
		}
		slices.Sort(keys)
		recs := make([]Record, len(keys))
		for i, k := range keys {
			if err := json.Unmarshal(obj[k], &recs[i]); err != nil {
				return nil, storage.Malformedf("keyed document: record %s: %v", k, err)
			}
			if recs[i].ID == "" {
				recs[i].ID = k
			}
		}
		return &Ingested{Shape: ShapeKeyed, Records: recs}, nil
	default:
		return nil, storage.Malformedf("document is neither an array nor an object")
	}
}

func nonNil(r []Record) []Record {
	if r == nil {
		return []Record{}
	}
	return r
}
