package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
	"campusattend/internal/metrics"
	"campusattend/internal/queue"
)

// MarkedMessageType is the queue message type published after a record commits.
const MarkedMessageType = "attendance.marked"

// MarkedEvent is the body of a MarkedMessageType message.
type MarkedEvent struct {
	Key       string `json:"key"`
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	Date      string `json:"date"`
	Status    Status `json:"status"`
}

// Publisher is the part of queue.Queue the marker needs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// MarkRequest carries everything needed to commit one record.
// An empty Date means today in the marker's location.
type MarkRequest struct {
	StudentID        string
	ClassID          string
	Date             string
	LocationVerified bool
	FaceVerified     bool
	FaceConfidence   float64
	Location         *geofence.GeoPoint
	CapturedImageRef string
	MarkedBy         string
	Notes            string
}

// Marker is the idempotent write path for attendance records.
type Marker struct {
	repo Repository
	pub  Publisher
	now  func() time.Time
	loc  *time.Location
}

// NewMarker creates a marker. pub may be nil.
func NewMarker(repo Repository, pub Publisher, loc *time.Location) *Marker {
	if loc == nil {
		loc = time.UTC
	}
	return &Marker{repo: repo, pub: pub, now: time.Now, loc: loc}
}

// Today returns the current calendar day in the marker's location.
func (m *Marker) Today() string { return Day(m.now(), m.loc) }

// Existing returns today's record for the student and class, or
// apperr.ErrNotFound.
func (m *Marker) Existing(ctx context.Context, studentID, classID string) (Record, error) {
	return m.repo.Get(ctx, Key(studentID, classID, m.Today()))
}

// Mark derives the status and creates the record under its deterministic
// key. A second call for the same key fails with apperr.ErrAlreadyMarked
// and does not modify the first record. Store failures are returned as
// apperr.ErrStoreUnavailable and are safe to retry with the same request.
func (m *Marker) Mark(ctx context.Context, req MarkRequest) (Record, error) {
	rec, err := m.build(req)
	if err != nil {
		metrics.Marks.WithLabelValues("invalid").Inc()
		return Record{}, err
	}

	saved, err := m.repo.CreateIfAbsent(ctx, rec)
	if err != nil {
		metrics.Marks.WithLabelValues(markResult(err)).Inc()
		return Record{}, err
	}
	metrics.Marks.WithLabelValues("created").Inc()
	log.Printf("attendance %s marked %s", saved.Key, saved.Status)

	m.publish(ctx, saved)
	return saved, nil
}

func (m *Marker) build(req MarkRequest) (Record, error) {
	if err := ValidateID("student id", req.StudentID); err != nil {
		return Record{}, err
	}
	if err := ValidateID("class id", req.ClassID); err != nil {
		return Record{}, err
	}
	date := req.Date
	if date == "" {
		date = m.Today()
	}
	if err := ValidateDate(date); err != nil {
		return Record{}, err
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return Record{}, err
		}
	}

	return Record{
		Key:              Key(req.StudentID, req.ClassID, date),
		StudentID:        req.StudentID,
		ClassID:          req.ClassID,
		Date:             date,
		Status:           DeriveStatus(req.LocationVerified, req.FaceVerified),
		LocationVerified: req.LocationVerified,
		FaceVerified:     req.FaceVerified,
		FaceConfidence:   clamp01(req.FaceConfidence),
		Location:         req.Location,
		CapturedImageRef: req.CapturedImageRef,
		MarkedBy:         req.MarkedBy,
		Notes:            req.Notes,
	}, nil
}

// publish is best effort; the record is already committed.
func (m *Marker) publish(ctx context.Context, rec Record) {
	if m.pub == nil {
		return
	}
	body, err := json.Marshal(MarkedEvent{
		Key:       rec.Key,
		StudentID: rec.StudentID,
		ClassID:   rec.ClassID,
		Date:      rec.Date,
		Status:    rec.Status,
	})
	if err != nil {
		log.Printf("encode marked event %s: %v", rec.Key, err)
		return
	}
	if err := m.pub.Publish(ctx, queue.Message{Type: MarkedMessageType, Body: body}); err != nil {
		log.Printf("queue publish failed for %s: %v", rec.Key, err)
	}
}

func markResult(err error) string {
	switch {
	case errors.Is(err, apperr.ErrAlreadyMarked):
		return "already_marked"
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
