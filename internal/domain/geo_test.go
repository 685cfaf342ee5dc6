package domain

import (
	"math"
	"testing"
	"time"
)

func TestHaversineIdentityAndSymmetry(t *testing.T) {
	points := []Position{
		{Latitude: 0, Longitude: 0},
		{Latitude: -23.5505, Longitude: -46.6333},
		{Latitude: 51.5074, Longitude: -0.1278},
		{Latitude: 89.9, Longitude: 179.9},
	}

	for _, p := range points {
		if d := Haversine(p, p); d != 0 {
			t.Fatalf("distance(p, p) = %v, want 0 for %+v", d, p)
		}
	}

	for i := range points {
		for j := range points {
			ab := Haversine(points[i], points[j])
			ba := Haversine(points[j], points[i])
			if math.Abs(ab-ba) > 1e-9 {
				t.Fatalf("asymmetric distance: %v vs %v", ab, ba)
			}
			if ab < 0 {
				t.Fatalf("negative distance %v", ab)
			}
		}
	}
}

func TestHaversineOneDegreeOfLongitudeAtEquator(t *testing.T) {
	d := Haversine(Position{0, 0}, Position{Latitude: 0, Longitude: 1})
	want := 111195.0
	if math.Abs(d-want) > want*0.01 {
		t.Fatalf("distance (0,0)-(0,1) = %v, want ~%v (±1%%)", d, want)
	}
}

func TestIsWithinBoundaryInclusive(t *testing.T) {
	cp := ControlPoint{Latitude: 0, Longitude: 0, RadiusMeters: 0}
	if !IsWithin(Position{0, 0}, cp) {
		t.Fatalf("point on center with zero radius must be within")
	}

	// A point ~111195m east with the radius set to the exact distance.
	p := Position{Latitude: 0, Longitude: 1}
	cp.RadiusMeters = Haversine(p, Position{0, 0})
	if !IsWithin(p, cp) {
		t.Fatalf("distance == radius must be within (inclusive boundary)")
	}
	cp.RadiusMeters -= 0.001
	if IsWithin(p, cp) {
		t.Fatalf("distance > radius must not be within")
	}
}

func TestCheckProximityReportsDistanceAndRadius(t *testing.T) {
	cp := ControlPoint{Latitude: 10.0, Longitude: 10.0, RadiusMeters: 30}
	out := CheckProximity(Position{Latitude: 10.00045, Longitude: 10.0}, cp)
	if out.Valid {
		t.Fatalf("a ~50m offset must fail a 30m geofence: %+v", out)
	}
	if out.RadiusMeters != 30 {
		t.Fatalf("radius echoed back wrong: %v", out.RadiusMeters)
	}
	if math.Abs(out.DistanceMeters-50) > 2 {
		t.Fatalf("distance ~50m expected, got %v", out.DistanceMeters)
	}
}

func TestTrajectoryDistance(t *testing.T) {
	if d := TrajectoryDistance(nil); d != 0 {
		t.Fatalf("empty trajectory distance = %v, want 0", d)
	}
	single := []PositionSample{{Latitude: 1, Longitude: 1}}
	if d := TrajectoryDistance(single); d != 0 {
		t.Fatalf("single-sample trajectory distance = %v, want 0", d)
	}

	// Three samples on a ~100m straight line heading north.
	base := time.Now()
	line := []PositionSample{
		{Latitude: 10.0, Longitude: 10.0, RecordedAt: base},
		{Latitude: 10.00045, Longitude: 10.0, RecordedAt: base.Add(30 * time.Second)},
		{Latitude: 10.0009, Longitude: 10.0, RecordedAt: base.Add(60 * time.Second)},
	}
	d := TrajectoryDistance(line)
	if math.Abs(d-100) > 2 {
		t.Fatalf("straight 100m line summed to %v", d)
	}

	// Duplicate points contribute ~0.
	dup := append(line, line[2])
	if extra := TrajectoryDistance(dup) - d; extra > 1e-6 {
		t.Fatalf("duplicate sample added %v meters", extra)
	}
}

func TestValidCoordinate(t *testing.T) {
	valid := [][2]float64{{0, 0}, {-90, -180}, {90, 180}, {-23.5505, -46.6333}}
	for _, c := range valid {
		if !ValidCoordinate(c[0], c[1]) {
			t.Fatalf("expected valid: %v", c)
		}
	}
	invalid := [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}, {math.NaN(), 0}, {0, math.Inf(1)}}
	for _, c := range invalid {
		if ValidCoordinate(c[0], c[1]) {
			t.Fatalf("expected invalid: %v", c)
		}
	}
}
