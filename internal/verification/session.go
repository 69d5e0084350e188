package verification

import (
	"time"

	"campusattend/internal/geofence"
)

// Kind names a verification signal.
type Kind string

const (
	KindLocation Kind = "location"
	KindFace     Kind = "face"
)

// Status is the state of one verification signal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// Outcome is the latest result of one verification signal.
type Outcome struct {
	Kind       Kind      `json:"kind"`
	Status     Status    `json:"status"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
	Detail     string    `json:"detail,omitempty"`
}

// Verified reports whether the outcome passed.
func (o Outcome) Verified() bool { return o.Status == StatusVerified }

func pending(k Kind) Outcome { return Outcome{Kind: k, Status: StatusPending} }

// Session is one student's attempt to mark attendance for one class.
type Session struct {
	ID        string             `json:"id"`
	StudentID string             `json:"student_id"`
	ClassID   string             `json:"class_id"`
	Location  Outcome            `json:"location"`
	Face      Outcome            `json:"face"`
	Point     *geofence.GeoPoint `json:"point,omitempty"`
	ImageRef  string             `json:"image_ref,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewSession creates a session with both outcomes pending.
func NewSession(id, studentID, classID string, now time.Time) Session {
	return Session{
		ID:        id,
		StudentID: studentID,
		ClassID:   classID,
		Location:  pending(KindLocation),
		Face:      pending(KindFace),
		CreatedAt: now,
	}
}

// Set replaces the outcome of o's kind and leaves the other untouched.
func (s *Session) Set(o Outcome) {
	switch o.Kind {
	case KindLocation:
		s.Location = o
	case KindFace:
		s.Face = o
	}
}

// CanMark reports whether both outcomes are verified and, when maxAge is
// positive, neither was captured more than maxAge before now.
func (s Session) CanMark(now time.Time, maxAge time.Duration) bool {
	return s.blocker(now, maxAge) == ""
}

// blocker explains why CanMark is false, or returns "".
func (s Session) blocker(now time.Time, maxAge time.Duration) string {
	for _, o := range []Outcome{s.Location, s.Face} {
		if !o.Verified() {
			return string(o.Kind) + " " + string(o.Status)
		}
		if maxAge > 0 && now.Sub(o.CapturedAt) > maxAge {
			return string(o.Kind) + " verification is stale"
		}
	}
	return ""
}
