package cadastral

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"land-search/internal/geo"
)

// Candidate option names per attribute, in priority order. The upstream names
// fields differently depending on the parcel category.
var (
	cadastralNumberFields = []string{"cad_num", "cad_number"}
	addressFields         = []string{"readable_address", "address_readable_address"}
	areaFields            = []string{"specified_area", "build_record_area", "params_area", "land_record_area", "area"}
	extensionFields       = []string{"params_extension"}
)

type searchResponse struct {
	Data *struct {
		Features []json.RawMessage `json:"features"`
	} `json:"data"`
}

type searchFeature struct {
	Properties json.RawMessage `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type featureProperties struct {
	CategoryName *string        `json:"categoryName"`
	Options      map[string]any `json:"options"`
}

type featureGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// MapResponse converts a raw search response body into an Object. It returns
// ErrNotFound when the response has no features, and a decoding error only when
// the body is not a JSON object at all.
func MapResponse(body []byte, query string) (*Object, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if resp.Data == nil || len(resp.Data.Features) == 0 {
		return nil, ErrNotFound
	}
	return mapFeature(resp.Data.Features[0], query), nil
}

// mapFeature never fails: unreadable parts of a feature are left empty
func mapFeature(raw json.RawMessage, query string) *Object {
	var feature searchFeature
	_ = json.Unmarshal(raw, &feature)

	var props featureProperties
	if len(feature.Properties) > 0 {
		_ = json.Unmarshal(feature.Properties, &props)
	}

	obj := &Object{
		CadastralNumber: query,
		CategoryName:    props.CategoryName,
	}
	if v, ok := firstString(props.Options, cadastralNumberFields); ok {
		obj.CadastralNumber = v
	}
	if v, ok := firstString(props.Options, addressFields); ok {
		obj.Address = &v
	}
	if v, ok := firstFloat(props.Options, areaFields); ok {
		obj.AreaSqM = &v
	}
	if v, ok := firstFloat(props.Options, extensionFields); ok {
		obj.ExtensionM = &v
	}

	applyGeometry(obj, feature.Geometry)
	return obj
}

func applyGeometry(obj *Object, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var g featureGeometry
	if err := json.Unmarshal(raw, &g); err != nil || len(g.Coordinates) == 0 || string(g.Coordinates) == "null" {
		return
	}
	obj.OriginalGeometry = raw

	switch GeometryType(g.Type) {
	case GeometryPolygon:
		obj.GeometryType = GeometryPolygon
		rings, ok := decodeRings(g.Coordinates)
		if !ok {
			return
		}
		obj.Polygon = geo.TransformPolygon(rings)
		if c, ok := geo.PolygonCentroid(obj.Polygon); ok {
			obj.Centroid = &c
		}
	case GeometryPoint:
		obj.GeometryType = GeometryPoint
		pt, ok := decodePosition(g.Coordinates)
		if !ok {
			return
		}
		wgs := geo.TransformPoint(pt)
		obj.Point = &wgs
	}
}

func decodeRings(raw json.RawMessage) ([][]geo.Position, bool) {
	var coords [][][]float64
	if err := json.Unmarshal(raw, &coords); err != nil || len(coords) == 0 {
		return nil, false
	}
	rings := make([][]geo.Position, len(coords))
	for i, ring := range coords {
		rings[i] = make([]geo.Position, len(ring))
		for j, pt := range ring {
			if len(pt) < 2 {
				return nil, false
			}
			rings[i][j] = geo.Position{pt[0], pt[1]}
		}
	}
	return rings, true
}

func decodePosition(raw json.RawMessage) (geo.Position, bool) {
	var pt []float64
	if err := json.Unmarshal(raw, &pt); err != nil || len(pt) < 2 {
		return geo.Position{}, false
	}
	return geo.Position{pt[0], pt[1]}, true
}

// firstString returns the first candidate holding a non-empty value
func firstString(options map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		switch v := options[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, true
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

// firstFloat returns the first candidate holding a non-zero number. Numeric
// strings are accepted; zero is treated as absent.
func firstFloat(options map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		switch v := options[k].(type) {
		case float64:
			if v != 0 {
				return v, true
			}
		case string:
			f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
			if err == nil && f != 0 {
				return f, true
			}
		}
	}
	return 0, false
}
