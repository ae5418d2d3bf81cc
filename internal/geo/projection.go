package geo

import (
	"math"
)

const (
	// Semi-major axis used by spherical Web Mercator (EPSG:3857)
	webMercatorRadius = 6378137.0

	maxMercatorLat = 85.0511287798066
)

// Position is a coordinate pair. WGS84 positions are [lon, lat], Web Mercator
// positions are [x, y] in meters.
type Position [2]float64

// Lon returns the longitude (or x) component
func (p Position) Lon() float64 { return p[0] }

// Lat returns the latitude (or y) component
func (p Position) Lat() float64 { return p[1] }

// WebMercatorToWGS84 converts an EPSG:3857 point to EPSG:4326 [lon, lat]
func WebMercatorToWGS84(x, y float64) Position {
	lon := x / webMercatorRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/webMercatorRadius)) - math.Pi/2) * 180 / math.Pi
	return Position{lon, lat}
}

// WGS84ToWebMercator converts an EPSG:4326 [lon, lat] point to EPSG:3857.
// Latitudes are clamped to the Mercator validity range.
func WGS84ToWebMercator(lon, lat float64) Position {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x := webMercatorRadius * lon * math.Pi / 180
	y := webMercatorRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return Position{x, y}
}

// TransformPoint converts a single Web Mercator pair to WGS84
func TransformPoint(p Position) Position {
	return WebMercatorToWGS84(p[0], p[1])
}

// TransformPolygon converts every ring of a Web Mercator polygon to WGS84.
// Ring 0 is the outer boundary, further rings are holes; order is preserved.
func TransformPolygon(rings [][]Position) [][]Position {
	out := make([][]Position, len(rings))
	for i, ring := range rings {
		converted := make([]Position, len(ring))
		for j, pt := range ring {
			converted[j] = TransformPoint(pt)
		}
		out[i] = converted
	}
	return out
}
