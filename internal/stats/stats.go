package stats

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"campusattend/internal/attendance"
	"campusattend/internal/metrics"
)

// Stats summarises a set of attendance records.
type Stats struct {
	TotalDays      int     `json:"total_days"`
	PresentDays    int     `json:"present_days"`
	AbsentDays     int     `json:"absent_days"`
	LateDays       int     `json:"late_days"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// Aggregate counts records by status. The rate is the present share as a
// percentage rounded to two decimals, and zero for an empty set.
func Aggregate(records []attendance.Record) Stats {
	var s Stats
	for _, r := range records {
		s.TotalDays++
		switch r.Status {
		case attendance.StatusPresent:
			s.PresentDays++
		case attendance.StatusLate:
			s.LateDays++
		case attendance.StatusAbsent:
			s.AbsentDays++
		}
	}
	if s.TotalDays > 0 {
		s.AttendanceRate = math.Round(float64(s.PresentDays)/float64(s.TotalDays)*100*100) / 100
	}
	return s
}

// queryTimeout bounds a shared stats query once it is detached from the
// caller that started it.
const queryTimeout = 15 * time.Second

// Querier is the read side of the attendance repository.
type Querier interface {
	Query(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
}

// Service computes stats for a student or class over a day range, caching
// results until the subject's records change.
type Service struct {
	records Querier
	cache   Cache
	group   singleflight.Group
}

// NewService creates a Service. A nil cache disables caching.
func NewService(records Querier, cache Cache) *Service {
	return &Service{records: records, cache: cache}
}

// ForStudent returns stats for one student across all classes.
func (s *Service) ForStudent(ctx context.Context, studentID, from, to string) (Stats, error) {
	return s.compute(ctx, StudentSubject(studentID), attendance.Filter{StudentID: studentID, From: from, To: to})
}

// ForClass returns stats for every student of one class.
func (s *Service) ForClass(ctx context.Context, classID, from, to string) (Stats, error) {
	return s.compute(ctx, ClassSubject(classID), attendance.Filter{ClassID: classID, From: from, To: to})
}

// Invalidate drops cached stats for the student and the class.
func (s *Service) Invalidate(ctx context.Context, studentID, classID string) error {
	if s.cache == nil {
		return nil
	}
	var subjects []string
	if studentID != "" {
		subjects = append(subjects, StudentSubject(studentID))
	}
	if classID != "" {
		subjects = append(subjects, ClassSubject(classID))
	}
	if len(subjects) == 0 {
		return nil
	}
	return s.cache.Delete(ctx, subjects...)
}

func (s *Service) compute(ctx context.Context, subject string, f attendance.Filter) (Stats, error) {
	if err := f.Validate(); err != nil {
		return Stats{}, err
	}
	field := rangeField(f.From, f.To)

	if s.cache != nil {
		st, ok, err := s.cache.Get(ctx, subject, field)
		switch {
		case err != nil:
			log.Printf("stats cache get %s: %v", subject, err)
		case ok:
			metrics.StatsCache.WithLabelValues("hit").Inc()
			return st, nil
		}
		metrics.StatsCache.WithLabelValues("miss").Inc()
	}

	// The generation is read before the query starts. An invalidation that
	// lands while the query runs advances it, and the stale result is then
	// returned to this caller but not cached.
	gen, cacheable := int64(0), s.cache != nil
	if cacheable {
		var err error
		if gen, err = s.cache.Generation(ctx, subject); err != nil {
			log.Printf("stats cache generation %s: %v", subject, err)
			cacheable = false
		}
	}

	key := fmt.Sprintf("%s|%s|%d", subject, field, gen)
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Waiters share this query, so it outlives the first caller's cancellation.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryTimeout)
		defer cancel()
		recs, err := s.records.Query(shared, f)
		if err != nil {
			return Stats{}, err
		}
		st := Aggregate(recs)
		if cacheable {
			if err := s.cache.Set(shared, subject, field, gen, st); err != nil {
				log.Printf("stats cache set %s: %v", subject, err)
			}
		}
		return st, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

// StudentSubject names the cache entry for a student.
func StudentSubject(id string) string { return "student:" + id }

// ClassSubject names the cache entry for a class.
func ClassSubject(id string) string { return "class:" + id }

func rangeField(from, to string) string {
	return fmt.Sprintf("%s..%s", from, to)
}
