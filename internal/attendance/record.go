package attendance

import (
	"fmt"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
)

// DateLayout is the calendar-day format used in keys and queries.
const DateLayout = "2006-01-02"

// Status is the attendance outcome for one student, class and day.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Record is the durable attendance entry. At most one exists per Key.
type Record struct {
	Key              string             `json:"id"`
	StudentID        string             `json:"student_id"`
	ClassID          string             `json:"class_id"`
	Date             string             `json:"date"`
	Time             string             `json:"time"`
	Status           Status             `json:"status"`
	LocationVerified bool               `json:"location_verified"`
	FaceVerified     bool               `json:"face_verified"`
	FaceConfidence   float64            `json:"face_confidence"`
	Location         *geofence.GeoPoint `json:"location,omitempty"`
	CapturedImageRef string             `json:"captured_image_ref,omitempty"`
	MarkedBy         string             `json:"marked_by,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// DeriveStatus maps the two verification flags to a status. Partial
// verification counts as late.
func DeriveStatus(locationVerified, faceVerified bool) Status {
	switch {
	case locationVerified && faceVerified:
		return StatusPresent
	case locationVerified || faceVerified:
		return StatusLate
	default:
		return StatusAbsent
	}
}

// Key builds the idempotency key for a student, class and calendar day.
func Key(studentID, classID, date string) string {
	return studentID + "_" + classID + "_" + date
}

// Day formats t as a calendar day in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ValidateID rejects empty ids and ids containing the key separator or
// whitespace, which would make keys ambiguous.
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s required: %w", field, apperr.ErrInputInvalid)
	}
	if strings.ContainsAny(id, "_ \t\n") {
		return fmt.Errorf("%s %q contains reserved characters: %w", field, id, apperr.ErrInputInvalid)
	}
	return nil
}

// ValidateDate checks a YYYY-MM-DD string.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("date %q: %w", date, apperr.ErrInputInvalid)
	}
	return nil
}

// Filter selects records for a student or class within an inclusive day range.
// Empty bounds are open.
type Filter struct {
	StudentID string
	ClassID   string
	From      string
	To        string
}

// Validate checks that the filter names a subject and well-formed bounds.
func (f Filter) Validate() error {
	if f.StudentID == "" && f.ClassID == "" {
		return fmt.Errorf("student or class required: %w", apperr.ErrInputInvalid)
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if err := ValidateDate(d); err != nil {
			return err
		}
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return fmt.Errorf("range %s..%s is inverted: %w", f.From, f.To, apperr.ErrInputInvalid)
	}
	return nil
}

// Matches applies the filter to r in memory.
func (f Filter) Matches(r Record) bool {
	if f.StudentID != "" && r.StudentID != f.StudentID {
		return false
	}
	if f.ClassID != "" && r.ClassID != f.ClassID {
		return false
	}
	if f.From != "" && r.Date < f.From {
		return false
	}
	if f.To != "" && r.Date > f.To {
		return false
	}
	return true
}
