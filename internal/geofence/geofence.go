package geofence

import (
	"fmt"
	"math"
	"time"

	"campusattend/internal/apperr"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// RegisteredRadiusMeters is the radius applied around a student's own
// registered coordinates when no campus zone applies.
const RegisteredRadiusMeters = 1000.0

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// Validate rejects non-finite and out-of-range coordinates.
func (p GeoPoint) Validate() error {
	for _, v := range []float64{p.Lat, p.Lng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("coordinate %v is not a number: %w", v, apperr.ErrInputInvalid)
		}
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range: %w", p.Lat, apperr.ErrInputInvalid)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range: %w", p.Lng, apperr.ErrInputInvalid)
	}
	return nil
}

// Window is a local time-of-day range in zero-padded "HH:MM", compared
// lexically against the clock. Zero value means all day.
type Window struct {
	Start string `json:"start" yaml:"start" validate:"omitempty,len=5,datetime=15:04"`
	End   string `json:"end" yaml:"end" validate:"omitempty,len=5,datetime=15:04"`
}

// Contains reports whether hhmm falls inside the window, both ends inclusive.
// A window whose start is after its end wraps past midnight.
func (w Window) Contains(hhmm string) bool {
	if w.Start == "" && w.End == "" {
		return true
	}
	if w.Start <= w.End {
		return hhmm >= w.Start && hhmm <= w.End
	}
	return hhmm >= w.Start || hhmm <= w.End
}

// Zone is a circular campus geofence with allowed hours.
type Zone struct {
	ID           string   `json:"id" yaml:"id" validate:"required"`
	Name         string   `json:"name" yaml:"name"`
	Center       GeoPoint `json:"center" yaml:"center"`
	RadiusMeters float64  `json:"radius_meters" yaml:"radius_meters" validate:"gt=0"`
	AllowedHours Window   `json:"allowed_hours" yaml:"allowed_hours"`
}

// Result is the outcome of evaluating a position against a zone.
type Result struct {
	Distance     float64 `json:"distance_meters"`
	WithinRadius bool    `json:"within_radius"`
	WithinHours  bool    `json:"within_hours"`
}

// OK reports whether both checks passed.
func (r Result) OK() bool { return r.WithinRadius && r.WithinHours }

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Evaluate checks current against zone at the given local time. Callers
// must validate current first.
func Evaluate(current GeoPoint, zone Zone, now time.Time) Result {
	d := Distance(current, zone.Center)
	return Result{
		Distance:     d,
		WithinRadius: d <= zone.RadiusMeters,
		WithinHours:  zone.AllowedHours.Contains(now.Format("15:04")),
	}
}

// RegisteredZone builds the fallback zone around a student's registered location.
func RegisteredZone(studentID string, home GeoPoint) Zone {
	return Zone{
		ID:           "registered:" + studentID,
		Name:         "registered location",
		Center:       home,
		RadiusMeters: RegisteredRadiusMeters,
	}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
