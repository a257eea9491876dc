package progressive

import "net/url"

// Filter selects a slice of the catalog. Each distinct Filter gets its own
// Manager and its own metadata cache entry.
type Filter struct {
	Search      string `json:"search,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
}

// Values returns the non-empty fields as query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("search", f.Search)
	set("repository", f.Repository)
	set("category", f.Category)
	set("subcategory", f.Subcategory)
	return v
}

// Key is the canonical cache key of the filter. Field order never matters
// because url.Values encodes sorted by name.
func (f Filter) Key() string {
	enc := f.Values().Encode()
	if enc == "" {
		return "metadata"
	}
	return "metadata?" + enc
}

// FilterFromValues is the inverse of Values.
func FilterFromValues(v url.Values) Filter {
	return Filter{
		Search:      v.Get("search"),
		Repository:  v.Get("repository"),
		Category:    v.Get("category"),
		Subcategory: v.Get("subcategory"),
	}
}
