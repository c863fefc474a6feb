package geo

import (
	"hash/fnv"
	"math"
	"strings"

	"kisantrack/models"
)

const (
	// EarthRadiusKm is Earth's mean radius used by the haversine formula.
	EarthRadiusKm = 6371.0088
	// MaxJitter bounds the per-address offset applied to a gazetteer match, in degrees.
	MaxJitter = 0.05
)

type place struct {
	names []string
	at    models.LatLng
}

// gazetteer is matched in order; the first place whose name occurs in the address wins.
var gazetteer = []place{
	{[]string{"madurai"}, models.LatLng{Lat: 9.9252, Lng: 78.1198}},
	{[]string{"bengaluru", "bangalore"}, models.LatLng{Lat: 12.9716, Lng: 77.5946}},
	{[]string{"chennai", "madras"}, models.LatLng{Lat: 13.0827, Lng: 80.2707}},
	{[]string{"coimbatore"}, models.LatLng{Lat: 11.0168, Lng: 76.9558}},
	{[]string{"mumbai", "bombay"}, models.LatLng{Lat: 19.0760, Lng: 72.8777}},
	{[]string{"nashik"}, models.LatLng{Lat: 19.9975, Lng: 73.7898}},
	{[]string{"pune"}, models.LatLng{Lat: 18.5204, Lng: 73.8567}},
	{[]string{"hyderabad"}, models.LatLng{Lat: 17.3850, Lng: 78.4867}},
	{[]string{"delhi"}, models.LatLng{Lat: 28.6139, Lng: 77.2090}},
	{[]string{"kolkata", "calcutta"}, models.LatLng{Lat: 22.5726, Lng: 88.3639}},
}

// Fallback is used for addresses that match no known place.
var Fallback = models.LatLng{Lat: 12.9716, Lng: 77.5946}

// Locate maps a free-form address to a coordinate. The result is deterministic:
// the same address always yields the same point, and different addresses in the
// same city are spread by a small hash-derived offset.
func Locate(address string) models.LatLng {
	norm := strings.ToLower(strings.TrimSpace(address))
	if norm == "" {
		return Fallback
	}
	base := Fallback
	for _, p := range gazetteer {
		if matches(norm, p.names) {
			base = p.at
			break
		}
	}
	dLat, dLng := jitter(norm)
	return models.LatLng{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func matches(address string, names []string) bool {
	for _, n := range names {
		if strings.Contains(address, n) {
			return true
		}
	}
	return false
}

func jitter(s string) (float64, float64) {
	h := fnv.New64a()
	h.Write([]byte(s))
	sum := h.Sum64()
	// two independent 32-bit halves mapped onto [-MaxJitter, MaxJitter]
	a := float64(uint32(sum>>32)) / math.MaxUint32
	b := float64(uint32(sum)) / math.MaxUint32
	return (a*2 - 1) * MaxJitter, (b*2 - 1) * MaxJitter
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b models.LatLng) float64 {
	const degToRad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
