package domain

import "math"

// EarthRadiusMeters is the mean sphere radius used for great-circle math.
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two
// coordinate pairs on a sphere of radius EarthRadiusMeters.
func Haversine(a, b Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// IsWithin reports whether p lies inside cp's geofence. The boundary is
// inclusive: a point exactly radius_meters away is still within.
func IsWithin(p Position, cp ControlPoint) bool {
	return Haversine(p, Position{Latitude: cp.Latitude, Longitude: cp.Longitude}) <= cp.RadiusMeters
}

// CheckProximity evaluates p against cp's geofence without side effects.
func CheckProximity(p Position, cp ControlPoint) ProximityCheck {
	d := Haversine(p, Position{Latitude: cp.Latitude, Longitude: cp.Longitude})
	return ProximityCheck{
		Valid:          d <= cp.RadiusMeters,
		DistanceMeters: d,
		RadiusMeters:   cp.RadiusMeters,
	}
}

// TrajectoryDistance sums consecutive pairwise great-circle distances over
// samples in the order given. Fewer than two samples yield zero.
func TrajectoryDistance(samples []PositionSample) float64 {
	total := 0.0
	for i := 1; i < len(samples); i++ {
		total += Haversine(
			Position{Latitude: samples[i-1].Latitude, Longitude: samples[i-1].Longitude},
			Position{Latitude: samples[i].Latitude, Longitude: samples[i].Longitude},
		)
	}
	return total
}

// ValidCoordinate reports whether lat/lon form a representable WGS84 pair.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
