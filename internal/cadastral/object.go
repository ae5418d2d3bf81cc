package cadastral

import (
	"encoding/json"
	"errors"
	"fmt"

	"land-search/internal/geo"
)

// GeometryType is the declared geometry kind of an upstream object
type GeometryType string

const (
	GeometryPoint   GeometryType = "Point"
	GeometryPolygon GeometryType = "Polygon"
)

var (
	// ErrNotFound means the upstream answered but has no matching object
	ErrNotFound = errors.New("cadastral object not found")
	// ErrCircuitOpen means the call was rejected without reaching the upstream
	ErrCircuitOpen = errors.New("circuit open")
)

// StatusError is returned when the upstream answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Object is the normalized result of a cadastral lookup
type Object struct {
	CadastralNumber string       `json:"cadastral_number"`
	CategoryName    *string      `json:"category_name,omitempty"`
	Address         *string      `json:"address,omitempty"`
	AreaSqM         *float64     `json:"area_sq_m,omitempty"`
	ExtensionM      *float64     `json:"extension_m,omitempty"`
	GeometryType    GeometryType `json:"geometry_type,omitempty"`

	// Polygon holds WGS84 rings when GeometryType is Polygon
	Polygon [][]geo.Position `json:"-"`
	// Point holds the WGS84 position when GeometryType is Point
	Point *geo.Position `json:"-"`

	Centroid         *geo.Position   `json:"centroid_wgs84,omitempty"`
	OriginalGeometry json.RawMessage `json:"original_geometry,omitempty"`
}

// HasPolygon reports whether the object carries usable polygon coordinates
func (o *Object) HasPolygon() bool {
	return o.GeometryType == GeometryPolygon && len(o.Polygon) > 0 && len(o.Polygon[0]) > 0
}

// CoordinatesWGS84 returns the rings for a polygon, the pair for a point, or nil
func (o *Object) CoordinatesWGS84() any {
	switch {
	case o.GeometryType == GeometryPolygon && o.Polygon != nil:
		return o.Polygon
	case o.GeometryType == GeometryPoint && o.Point != nil:
		return o.Point
	}
	return nil
}

// MarshalJSON adds coordinates_wgs84 in the shape matching the geometry type
func (o Object) MarshalJSON() ([]byte, error) {
	type plain Object
	return json.Marshal(struct {
		plain
		Coordinates any `json:"coordinates_wgs84,omitempty"`
	}{
		plain:       plain(o),
		Coordinates: o.CoordinatesWGS84(),
	})
}
