package models

import (
	"encoding/json"
	"fmt"

	"land-search/internal/geo"
)

// Plot statuses
const (
	PlotActive   = "active"
	PlotSold     = "sold"
	PlotReserved = "reserved"
)

// Plot is a land parcel managed by the admin. Area is in square meters and
// Polygon holds a WGS84 GeoJSON Polygon. Nullable columns are pointers.
type Plot struct {
	ID              int64    `db:"id" json:"id"`
	CadastralNumber *string  `db:"cadastral_number" json:"cadastral_number"`
	Address         *string  `db:"address" json:"address"`
	Area            *float64 `db:"area" json:"area"`
	Polygon         *string  `db:"polygon" json:"polygon"`
	CentroidLat     *float64 `db:"centroid_lat" json:"centroid_lat"`
	CentroidLng     *float64 `db:"centroid_lng" json:"centroid_lng"`
	PricePublic     *int64   `db:"price_public" json:"price_public"`
	Comment         *string  `db:"comment" json:"comment"`
	Status          string   `db:"status" json:"status"`
	CreatedAt       string   `db:"created_at" json:"created_at"`
	UpdatedAt       string   `db:"updated_at" json:"updated_at"`
}

type geoJSONPolygon struct {
	Type        string           `json:"type"`
	Coordinates [][]geo.Position `json:"coordinates"`
}

// HasPolygon reports whether a polygon is stored
func (p *Plot) HasPolygon() bool {
	return p.Polygon != nil && *p.Polygon != ""
}

// HasCentroid reports whether both centroid coordinates are stored
func (p *Plot) HasCentroid() bool {
	return p.CentroidLat != nil && p.CentroidLng != nil
}

// Centroid returns the stored centroid as [lon, lat]
func (p *Plot) Centroid() (geo.Position, bool) {
	if !p.HasCentroid() {
		return geo.Position{}, false
	}
	return geo.Position{*p.CentroidLng, *p.CentroidLat}, true
}

// SetCentroid stores a [lon, lat] position
func (p *Plot) SetCentroid(pos geo.Position) {
	lon, lat := pos.Lon(), pos.Lat()
	p.CentroidLng = &lon
	p.CentroidLat = &lat
}

// SetPolygon stores the outer ring as a GeoJSON Polygon. Holes are not kept.
func (p *Plot) SetPolygon(outer []geo.Position) error {
	if len(outer) == 0 {
		return fmt.Errorf("empty polygon ring")
	}
	data, err := json.Marshal(geoJSONPolygon{
		Type:        "Polygon",
		Coordinates: [][]geo.Position{outer},
	})
	if err != nil {
		return fmt.Errorf("encoding polygon: %w", err)
	}
	s := string(data)
	p.Polygon = &s
	return nil
}

// PolygonRing decodes the stored outer ring
func (p *Plot) PolygonRing() ([]geo.Position, error) {
	if !p.HasPolygon() {
		return nil, nil
	}
	var poly geoJSONPolygon
	if err := json.Unmarshal([]byte(*p.Polygon), &poly); err != nil {
		return nil, fmt.Errorf("decoding polygon: %w", err)
	}
	if len(poly.Coordinates) == 0 {
		return nil, nil
	}
	return poly.Coordinates[0], nil
}

// Setting is a runtime-changeable key/value pair
type Setting struct {
	Key         string  `db:"key" json:"key"`
	Value       *string `db:"value" json:"value"`
	Description *string `db:"description" json:"description"`
	UpdatedAt   string  `db:"updated_at" json:"updated_at"`
}

// CadastralCheck answers whether a cadastral number is already taken
type CadastralCheck struct {
	Exists  bool    `json:"exists"`
	PlotID  *int64  `json:"plot_id,omitempty"`
	Address *string `json:"address,omitempty"`
	Status  *string `json:"status,omitempty"`
}
