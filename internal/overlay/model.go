package overlay

import (
	"bytes"
	"encoding/json"
)

// Feature is one matched row: its attributes and its geometry in the
// display frame, shaped as a GeoJSON Feature.
type Feature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// UnmarshalJSON implements json.Unmarshaler. Attribute numbers decode as
// json.Number so their text survives a round trip.
func (f *Feature) UnmarshalJSON(data []byte) error {
	type plain Feature
	var out plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return err
	}
	*f = Feature(out)
	return nil
}

// LayerResult is the outcome of one polygon × layer overlay. Exactly one of
// Features (possibly empty) or Error is meaningful.
type LayerResult struct {
	Count     int       `json:"count"`
	Features  []Feature `json:"features"`
	Truncated bool      `json:"truncated,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Failed reports whether the layer query failed.
func (r LayerResult) Failed() bool { return r.Error != "" }

// NamedResult pairs a layer with its result.
type NamedResult struct {
	Layer  string
	Result LayerResult
}

// LayerResults is an ordered layer → result mapping. It encodes as a JSON
// object whose keys keep the slice order.
type LayerResults []NamedResult

// Get returns the result for layer.
func (lr LayerResults) Get(layer string) (LayerResult, bool) {
	for _, r := range lr {
		if r.Layer == layer {
			return r.Result, true
		}
	}
	return LayerResult{}, false
}

// Layers returns the layer names in order.
func (lr LayerResults) Layers() []string {
	out := make([]string, len(lr))
	for i, r := range lr {
		out[i] = r.Layer
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (lr LayerResults) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range lr {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Layer)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Result)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping key order.
func (lr *LayerResults) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	out := LayerResults{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var res LayerResult
		if err := dec.Decode(&res); err != nil {
			return err
		}
		out = append(out, NamedResult{Layer: name, Result: res})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*lr = out
	return nil
}

// AnalysisResult is the merged multi-layer overlay.
type AnalysisResult struct {
	Results       LayerResults `json:"results"`
	TotalFeatures int          `json:"totalFeatures"`
}

// CategoryArea is the clipped area of one attribute value. Percent is nil
// when the site area is zero.
type CategoryArea struct {
	Category *string  `json:"grade"`
	AreaHa   float64  `json:"area_ha"`
	Percent  *float64 `json:"percent"`
}

// AreaSummary breaks the site area down by a layer attribute.
type AreaSummary struct {
	Layer          string         `json:"layer"`
	GroupAttribute string         `json:"group_attribute"`
	TotalAreaHa    float64        `json:"total_area_ha"`
	ByCategory     []CategoryArea `json:"by_grade"`
}

// Nearest is the closest feature to the site.
type Nearest struct {
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
}

// ProximitySummary counts features near the site.
type ProximitySummary struct {
	Layer          string   `json:"layer"`
	DistanceM      float64  `json:"distance_m"`
	WithinDistance int64    `json:"within_distance"`
	Nearest        *Nearest `json:"nearest"`
}

// LayerCoverage is one layer's share of the site.
type LayerCoverage struct {
	Layer   string   `json:"layer"`
	AreaHa  float64  `json:"area_ha"`
	Percent *float64 `json:"percent"`
	Error   string   `json:"error,omitempty"`
}

// CoverageSummary is the share of the site covered by any of a set of layers.
type CoverageSummary struct {
	TotalAreaHa   float64         `json:"total_area_ha"`
	CoveredAreaHa float64         `json:"covered_area_ha"`
	Percent       *float64        `json:"percent"`
	ByLayer       []LayerCoverage `json:"by_layer"`
}
