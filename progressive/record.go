package progressive

import (
	"fmt"
	"maps"
)

// Record is one JSON object of the dataset, metadata or detail, keyed by
// its "id" field.
type Record map[string]any

// ID returns the record identifier. Numeric ids are formatted without a
// fraction so 42 and "42" name the same record.
func (r Record) ID() string {
	switch id := r["id"].(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// HasDetails reports the upstream flag saying a detail record exists.
func (r Record) HasDetails() bool {
	b, _ := r["hasDetails"].(bool)
	return b
}

/*
Merge overlays detail on meta. Every field of detail is kept, and every
field of meta that detail does not set survives. A nil detail yields a copy
of meta. Neither argument is modified.
*/
func Merge(meta, detail Record) Record {
	out := make(Record, len(meta)+len(detail))
	maps.Copy(out, meta)
	maps.Copy(out, detail)
	return out
}

// Dataset is the metadata response: the lightweight index plus whatever
// summary the server attaches.
type Dataset struct {
	Items []Record       `json:"data"`
	Info  map[string]any `json:"metadata,omitempty"`
}
