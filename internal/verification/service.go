package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/enrollment"
	"campusattend/internal/face"
	"campusattend/internal/frame"
	"campusattend/internal/geofence"
	"campusattend/internal/geolocation"
	"campusattend/internal/metrics"
)

// MaxFrameBytes caps the size of a captured frame.
const MaxFrameBytes = 5 << 20

// BlobStore stores captured frames and returns a retrieval URL.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

// FaceVerifier is the part of face.Evaluator the service needs.
type FaceVerifier interface {
	Verify(ctx context.Context, imageURL string, reference face.Embedding) (face.Match, face.Detection, error)
}

// Options tunes a Service.
type Options struct {
	// MaxAge rejects marking when an outcome is older than this. Zero disables the check.
	MaxAge time.Duration
	// LocationTimeout bounds the wait for a location fix.
	LocationTimeout time.Duration
	// Location is the campus time zone used for allowed hours.
	Location *time.Location
}

// Service drives a verification session from start to mark.
type Service struct {
	sessions Store
	zones    *geofence.Registry
	faces    FaceVerifier
	enroll   enrollment.Store
	blobs    BlobStore
	marker   *attendance.Marker
	opts     Options
	now      func() time.Time
	newID    func() string
}

// NewService wires a Service.
func NewService(sessions Store, zones *geofence.Registry, faces FaceVerifier, enroll enrollment.Store, blobs BlobStore, marker *attendance.Marker, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = geolocation.DefaultTimeout
	}
	return &Service{
		sessions: sessions,
		zones:    zones,
		faces:    faces,
		enroll:   enroll,
		blobs:    blobs,
		marker:   marker,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Start opens a session. It fails early with apperr.ErrAlreadyMarked when
// today's record already exists; the conditional write in Mark remains the
// authority.
func (s *Service) Start(ctx context.Context, studentID, classID string) (Session, error) {
	if err := attendance.ValidateID("student id", studentID); err != nil {
		return Session{}, err
	}
	if err := attendance.ValidateID("class id", classID); err != nil {
		return Session{}, err
	}
	if _, err := s.marker.Existing(ctx, studentID, classID); err == nil {
		return Session{}, fmt.Errorf("student %s class %s: %w", studentID, classID, apperr.ErrAlreadyMarked)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Session{}, err
	}

	sess := NewSession(s.newID(), studentID, classID, s.now())
	if err := s.sessions.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get returns a session.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.sessions.Get(ctx, id)
}

// CanMark reports whether Mark would accept sess right now, staleness included.
func (s *Service) CanMark(sess Session) bool {
	return sess.CanMark(s.now(), s.opts.MaxAge)
}

// VerifyLocation acquires a fix from src and checks it against zoneID, or
// against every configured zone and then the student's registered location
// when zoneID is empty. A failed check is recorded as a failed outcome, not
// returned as an error.
func (s *Service) VerifyLocation(ctx context.Context, id string, src geolocation.Source, zoneID string) (Outcome, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	point, err := geolocation.Acquire(ctx, src, s.opts.LocationTimeout)
	if err != nil {
		if errors.Is(err, apperr.ErrInputInvalid) {
			return Outcome{}, err
		}
		return s.record(ctx, sess, Update{Outcome: s.failed(KindLocation, 0, err.Error())})
	}

	zones, err := s.candidateZones(ctx, sess.StudentID, zoneID)
	if err != nil {
		return Outcome{}, err
	}
	if len(zones) == 0 {
		return s.record(ctx, sess, Update{
			Outcome: s.failed(KindLocation, 0, "no campus zone or registered location"),
			Point:   &point,
		})
	}

	now := s.now().In(s.opts.Location)
	var best geofence.Result
	var bestZone geofence.Zone
	for i, z := range zones {
		res := geofence.Evaluate(point, z, now)
		if i == 0 || better(res, best) {
			best, bestZone = res, z
		}
		if res.OK() {
			break
		}
	}

	out := Outcome{
		Kind:       KindLocation,
		Confidence: proximity(best.Distance, bestZone.RadiusMeters),
		CapturedAt: s.now(),
	}
	switch {
	case best.OK():
		out.Status = StatusVerified
		out.Detail = fmt.Sprintf("%.0fm from %s", best.Distance, bestZone.ID)
	case !best.WithinRadius:
		out.Status = StatusFailed
		out.Detail = fmt.Sprintf("%.0fm from %s, allowed %.0fm", best.Distance, bestZone.ID, bestZone.RadiusMeters)
	default:
		out.Status = StatusFailed
		out.Detail = fmt.Sprintf("outside allowed hours %s-%s for %s", bestZone.AllowedHours.Start, bestZone.AllowedHours.End, bestZone.ID)
	}
	return s.record(ctx, sess, Update{Outcome: out, Point: &point})
}

func (s *Service) candidateZones(ctx context.Context, studentID, zoneID string) ([]geofence.Zone, error) {
	if zoneID != "" {
		z, ok := s.zones.Lookup(zoneID)
		if !ok {
			return nil, fmt.Errorf("zone %q: %w", zoneID, apperr.ErrInputInvalid)
		}
		return []geofence.Zone{z}, nil
	}
	zones := s.zones.Zones()
	home, err := s.enroll.RegisteredLocation(ctx, studentID)
	switch {
	case err == nil:
		zones = append(zones, geofence.RegisteredZone(studentID, home))
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	return zones, nil
}

// VerifyFace uploads the captured frame and compares it with the student's
// enrolled face. img is always closed.
func (s *Service) VerifyFace(ctx context.Context, id string, img io.ReadCloser) (Outcome, error) {
	defer img.Close()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	data, err := io.ReadAll(io.LimitReader(img, MaxFrameBytes+1))
	if err != nil {
		return Outcome{}, fmt.Errorf("read frame: %w: %v", apperr.ErrInputInvalid, err)
	}
	if len(data) == 0 || len(data) > MaxFrameBytes {
		return Outcome{}, fmt.Errorf("frame size %d: %w", len(data), apperr.ErrInputInvalid)
	}
	if data, err = frame.Normalize(data, frame.MaxSide); err != nil {
		return Outcome{}, err
	}

	reference, err := s.enroll.FaceEmbedding(ctx, sess.StudentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return s.record(ctx, sess, Update{Outcome: s.failed(KindFace, 0, "no enrolled face")})
		}
		return Outcome{}, err
	}

	path := fmt.Sprintf("captures/%s/%s/%s-%d.jpg", sess.ClassID, sess.StudentID, sess.ID, s.now().UnixNano())
	url, err := s.blobs.Upload(ctx, path, data)
	if err != nil {
		return Outcome{}, err
	}

	m, det, err := s.faces.Verify(ctx, url, reference)
	if det.Found {
		metrics.FaceSimilarity.Observe(m.Similarity)
	}
	if err != nil {
		return s.record(ctx, sess, Update{Outcome: s.failed(KindFace, m.Similarity, err.Error()), ImageRef: url})
	}
	out := Outcome{
		Kind:       KindFace,
		Status:     StatusVerified,
		Confidence: clamp01(m.Similarity),
		CapturedAt: s.now(),
		Detail:     fmt.Sprintf("similarity %.3f", m.Similarity),
	}
	return s.record(ctx, sess, Update{Outcome: out, ImageRef: url})
}

// Mark commits the attendance record once both checks are verified and
// fresh. The session is discarded once the attempt is settled; it is kept
// when the store is unavailable so the caller can retry.
func (s *Service) Mark(ctx context.Context, id string) (attendance.Record, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return attendance.Record{}, err
	}
	if reason := sess.blocker(s.now(), s.opts.MaxAge); reason != "" {
		return attendance.Record{}, fmt.Errorf("session %s: %s: %w", id, reason, apperr.ErrVerificationIncomplete)
	}

	rec, err := s.marker.Mark(ctx, attendance.MarkRequest{
		StudentID:        sess.StudentID,
		ClassID:          sess.ClassID,
		LocationVerified: sess.Location.Verified(),
		FaceVerified:     sess.Face.Verified(),
		FaceConfidence:   sess.Face.Confidence,
		Location:         sess.Point,
		CapturedImageRef: sess.ImageRef,
	})
	if err != nil && !errors.Is(err, apperr.ErrAlreadyMarked) {
		return attendance.Record{}, err
	}
	if derr := s.sessions.Delete(ctx, id); derr != nil {
		log.Printf("discard session %s: %v", id, derr)
	}
	return rec, err
}

// Abandon discards a session. Committed records are unaffected.
func (s *Service) Abandon(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}

func (s *Service) record(ctx context.Context, sess Session, u Update) (Outcome, error) {
	if err := s.sessions.Update(ctx, sess.ID, u); err != nil {
		return Outcome{}, err
	}
	metrics.Verifications.WithLabelValues(string(u.Outcome.Kind), string(u.Outcome.Status)).Inc()
	return u.Outcome, nil
}

func (s *Service) failed(k Kind, confidence float64, detail string) Outcome {
	return Outcome{Kind: k, Status: StatusFailed, Confidence: clamp01(confidence), CapturedAt: s.now(), Detail: detail}
}

// better prefers a passing result, then one inside the radius, then the nearer one.
func better(a, b geofence.Result) bool {
	rank := func(r geofence.Result) int {
		switch {
		case r.OK():
			return 2
		case r.WithinRadius:
			return 1
		default:
			return 0
		}
	}
	if rank(a) != rank(b) {
		return rank(a) > rank(b)
	}
	return a.Distance < b.Distance
}

// proximity is 1 inside the radius and radius/distance outside it.
func proximity(distance, radius float64) float64 {
	if distance <= radius {
		return 1
	}
	return clamp01(radius / distance)
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
