package geo

// PolygonCentroid returns the mean of the outer ring vertices, skipping the
// closing point. It is a vertex average, not an area-weighted centroid; stored
// plot centroids were produced this way and must stay comparable.
func PolygonCentroid(rings [][]Position) (Position, bool) {
	if len(rings) == 0 {
		return Position{}, false
	}
	outer := rings[0]
	n := len(outer) - 1
	if n < 1 {
		return Position{}, false
	}

	var sumLon, sumLat float64
	for _, pt := range outer[:n] {
		sumLon += pt[0]
		sumLat += pt[1]
	}
	return Position{sumLon / float64(n), sumLat / float64(n)}, true
}
