// Package slides is the typed view of the virtual-slide catalog. The cache
// layer works on untyped records; this package turns them into structs for
// handlers and tools.
package slides

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/krisalay/progressive-cache/progressive"
)

// Metadata is the lightweight index entry of a slide.
type Metadata struct {
	ID          string `mapstructure:"id" json:"id"`
	Repository  string `mapstructure:"repository" json:"repository"`
	Category    string `mapstructure:"category" json:"category"`
	Subcategory string `mapstructure:"subcategory" json:"subcategory"`
	Diagnosis   string `mapstructure:"diagnosis" json:"diagnosis"`
	HasDetails  bool   `mapstructure:"hasDetails" json:"hasDetails"`
}

// Detail is the full record. Fields the catalog adds later end up in Extra.
type Detail struct {
	Metadata `mapstructure:",squash"`

	URL             string  `mapstructure:"url" json:"url,omitempty"`
	ThumbnailURL    string  `mapstructure:"thumbnail_url" json:"thumbnail_url,omitempty"`
	PatientInfo     string  `mapstructure:"patient_info" json:"patient_info,omitempty"`
	ClinicalHistory string  `mapstructure:"clinical_history" json:"clinical_history,omitempty"`
	StainType       string  `mapstructure:"stain_type" json:"stain_type,omitempty"`
	Age             *int    `mapstructure:"age" json:"age,omitempty"`
	Gender          *string `mapstructure:"gender" json:"gender,omitempty"`

	Extra map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// Slide is a merged catalog item ready to be served.
type Slide struct {
	Detail

	IsLoadingDetail bool `json:"_isLoadingDetails"`
	HasFullDetail   bool `json:"_hasFullDetails"`
}

func decode(rec progressive.Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return fmt.Errorf("decode slide %q: %w", rec.ID(), err)
	}
	return nil
}

func DecodeMetadata(rec progressive.Record) (Metadata, error) {
	var m Metadata
	err := decode(rec, &m)
	return m, err
}

func DecodeDetail(rec progressive.Record) (Detail, error) {
	var d Detail
	err := decode(rec, &d)
	return d, err
}

// FromItem decodes the merged record of a manager item.
func FromItem(it progressive.Item) (Slide, error) {
	d, err := DecodeDetail(it.Record)
	if err != nil {
		return Slide{}, err
	}
	return Slide{
		Detail:          d,
		IsLoadingDetail: it.IsLoadingDetail,
		HasFullDetail:   it.HasFullDetail,
	}, nil
}

// FromItems decodes items in order, skipping none. The first bad record
// fails the whole call.
func FromItems(items []progressive.Item) ([]Slide, error) {
	out := make([]Slide, 0, len(items))
	for _, it := range items {
		s, err := FromItem(it)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
