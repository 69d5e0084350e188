package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
)

func rec(student, class, date string, st attendance.Status) attendance.Record {
	return attendance.Record{
		Key:       attendance.Key(student, class, date),
		StudentID: student,
		ClassID:   class,
		Date:      date,
		Status:    st,
	}
}

func TestAggregateEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, Aggregate(nil))
	assert.Equal(t, Stats{}, Aggregate([]attendance.Record{}))
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]attendance.Record{
		rec("s1", "c1", "2024-05-01", attendance.StatusPresent),
		rec("s1", "c1", "2024-05-02", attendance.StatusPresent),
		rec("s1", "c1", "2024-05-03", attendance.StatusLate),
	})
	assert.Equal(t, Stats{TotalDays: 3, PresentDays: 2, LateDays: 1, AttendanceRate: 66.67}, got)

	got = Aggregate([]attendance.Record{
		rec("s1", "c1", "2024-05-01", attendance.StatusAbsent),
		rec("s1", "c2", "2024-05-01", attendance.StatusPresent),
	})
	assert.Equal(t, 50.0, got.AttendanceRate)
	assert.Equal(t, 1, got.AbsentDays)
}

type countingQuerier struct {
	calls atomic.Int32
	mu    sync.Mutex
	recs  []attendance.Record
	err   error
}

func (q *countingQuerier) Query(_ context.Context, f attendance.Filter) ([]attendance.Record, error) {
	q.calls.Add(1)
	if q.err != nil {
		return nil, q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []attendance.Record
	for _, r := range q.recs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q *countingQuerier) add(r attendance.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recs = append(q.recs, r)
}

func TestServiceCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	q := &countingQuerier{recs: []attendance.Record{
		rec("s1", "c1", "2024-05-01", attendance.StatusPresent),
		rec("s1", "c1", "2024-05-02", attendance.StatusLate),
		rec("s2", "c1", "2024-05-01", attendance.StatusAbsent),
	}}
	svc := NewService(q, NewMemoryCache())

	st, err := svc.ForStudent(ctx, "s1", "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalDays: 2, PresentDays: 1, LateDays: 1, AttendanceRate: 50}, st)

	_, err = svc.ForStudent(ctx, "s1", "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	assert.Equal(t, int32(1), q.calls.Load(), "second read served from cache")

	cls, err := svc.ForClass(ctx, "c1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, cls.TotalDays)
	assert.Equal(t, int32(2), q.calls.Load())

	q.add(rec("s1", "c1", "2024-05-03", attendance.StatusPresent))
	require.NoError(t, svc.Invalidate(ctx, "s1", "c1"))

	st, err = svc.ForStudent(ctx, "s1", "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalDays)
	assert.Equal(t, 66.67, st.AttendanceRate)

	cls, err = svc.ForClass(ctx, "c1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 4, cls.TotalDays)
	assert.Equal(t, int32(4), q.calls.Load())
}

func TestServiceRangesCachedSeparately(t *testing.T) {
	ctx := context.Background()
	q := &countingQuerier{recs: []attendance.Record{
		rec("s1", "c1", "2024-05-01", attendance.StatusPresent),
		rec("s1", "c1", "2024-06-01", attendance.StatusAbsent),
	}}
	svc := NewService(q, NewMemoryCache())

	may, err := svc.ForStudent(ctx, "s1", "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	june, err := svc.ForStudent(ctx, "s1", "2024-06-01", "2024-06-30")
	require.NoError(t, err)
	assert.Equal(t, 100.0, may.AttendanceRate)
	assert.Equal(t, 0.0, june.AttendanceRate)
	assert.Equal(t, 1, june.TotalDays)
}

func TestServiceWithoutCache(t *testing.T) {
	ctx := context.Background()
	q := &countingQuerier{}
	svc := NewService(q, nil)

	st, err := svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
	_, err = svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), q.calls.Load())
	assert.NoError(t, svc.Invalidate(ctx, "s1", "c1"))
}

func TestServiceErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&countingQuerier{}, NewMemoryCache())

	_, err := svc.ForStudent(ctx, "s1", "2024-05-31", "2024-05-01")
	assert.True(t, errors.Is(err, apperr.ErrInputInvalid))
	_, err = svc.ForClass(ctx, "c1", "May 1", "")
	assert.True(t, errors.Is(err, apperr.ErrInputInvalid))

	down := &countingQuerier{err: apperr.ErrStoreUnavailable}
	svc = NewService(down, NewMemoryCache())
	_, err = svc.ForStudent(ctx, "s1", "", "")
	assert.True(t, errors.Is(err, apperr.ErrStoreUnavailable))

	_, err = svc.ForStudent(ctx, "s1", "", "")
	assert.True(t, errors.Is(err, apperr.ErrStoreUnavailable), "failures are not cached")
	assert.Equal(t, int32(2), down.calls.Load())
}

func TestServiceConcurrentReads(t *testing.T) {
	ctx := context.Background()
	q := &countingQuerier{recs: []attendance.Record{rec("s1", "c1", "2024-05-01", attendance.StatusPresent)}}
	svc := NewService(q, NewMemoryCache())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := svc.ForStudent(ctx, "s1", "", "")
			assert.NoError(t, err)
			assert.Equal(t, 1, st.PresentDays)
		}()
	}
	wg.Wait()

	_, err := svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, q.calls.Load(), int32(16))
}

// gatedQuerier holds its first query after reading until release closes.
type gatedQuerier struct {
	inner   Querier
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedQuerier(inner Querier) *gatedQuerier {
	return &gatedQuerier{inner: inner, started: make(chan struct{}), release: make(chan struct{})}
}

func (q *gatedQuerier) Query(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	recs, err := q.inner.Query(ctx, f)
	first := false
	q.once.Do(func() { first = true })
	if first {
		close(q.started)
		<-q.release
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return recs, err
}

func TestServiceSkipsCachingReadOverlappingInvalidation(t *testing.T) {
	ctx := context.Background()
	inner := &countingQuerier{}
	q := newGatedQuerier(inner)
	svc := NewService(q, NewMemoryCache())

	done := make(chan Stats, 1)
	go func() {
		st, err := svc.ForStudent(ctx, "s1", "", "")
		assert.NoError(t, err)
		done <- st
	}()
	<-q.started

	inner.add(rec("s1", "c1", "2024-05-01", attendance.StatusPresent))
	require.NoError(t, svc.Invalidate(ctx, "s1", "c1"))

	fresh, err := svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.TotalDays, "read after invalidation does not join the older query")

	close(q.release)
	assert.Equal(t, 0, (<-done).TotalDays)

	st, err := svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalDays)
	assert.Equal(t, int32(2), inner.calls.Load(), "fresh result was cached, stale one was not")
}

func TestServiceSharedQuerySurvivesCallerCancel(t *testing.T) {
	q := newGatedQuerier(&countingQuerier{recs: []attendance.Record{rec("s1", "c1", "2024-05-01", attendance.StatusPresent)}})
	svc := NewService(q, NewMemoryCache())

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		st  Stats
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := svc.ForStudent(ctx, "s1", "", "")
		done <- result{st, err}
	}()
	<-q.started
	cancel()
	close(q.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.st.PresentDays)

	cached, ok, err := svc.cache.Get(context.Background(), StudentSubject("s1"), rangeField("", ""))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res.st, cached)
}

func TestMemoryCacheGenerations(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	subject := StudentSubject("s1")

	gen, err := c.Generation(ctx, subject)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, subject))
	require.NoError(t, c.Set(ctx, subject, "..", gen, Stats{TotalDays: 9}))
	_, ok, err := c.Get(ctx, subject, "..")
	require.NoError(t, err)
	assert.False(t, ok, "write from an older generation is dropped")

	gen, err = c.Generation(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	require.NoError(t, c.Set(ctx, subject, "..", gen, Stats{TotalDays: 1}))
	st, ok, err := c.Get(ctx, subject, "..")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, st.TotalDays)
}
