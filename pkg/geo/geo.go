// Package geo provides the small set of geographic helpers shared by
// VectorStore's bounding-box prefilter and DivergenceCapturer's region
// tagging: Haversine distance and rectangular membership. It
// deliberately does not handle antimeridian wraparound (see
// BoundingBox.Contains) — that limitation is documented in spec §4.2.
package geo

import "math"

// EarthRadiusNM is the mean Earth radius in nautical miles, per spec §4.2.
const EarthRadiusNM = 3440.065

// HaversineNM returns the great-circle distance between two WGS84
// points, in nautical miles.
func HaversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusNM * c
}

// BoundingBox is the rectangular prefilter region of spec §4.2:
// [lat-r, lat+r] x [lon-r, lon+r]. It does not wrap across the
// antimeridian (a radius that crosses +/-180 longitude simply clips).
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// NewBoundingBox builds the box for a center point and radius in degrees.
func NewBoundingBox(lat, lon, radiusDeg float64) BoundingBox {
	return BoundingBox{
		MinLat: lat - radiusDeg,
		MaxLat: lat + radiusDeg,
		MinLon: lon - radiusDeg,
		MaxLon: lon + radiusDeg,
	}
}

// Contains is a membership test, not a distance test; callers still
// compute Haversine distance on the surviving candidates.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
