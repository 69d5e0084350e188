package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
	"campusattend/internal/queue"
)

var (
	testLoc   = time.FixedZone("IST", 5*3600+1800)
	commitAt  = time.Date(2024, 5, 1, 3, 45, 10, 0, time.UTC) // 09:15:10 IST
	clientLie = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestMarker(pub Publisher) (*Marker, *MemoryRepository) {
	repo := NewMemoryRepository(func() time.Time { return commitAt }, testLoc)
	m := NewMarker(repo, pub, testLoc)
	m.now = func() time.Time { return commitAt }
	return m, repo
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, StatusPresent, DeriveStatus(true, true))
	assert.Equal(t, StatusLate, DeriveStatus(true, false))
	assert.Equal(t, StatusLate, DeriveStatus(false, true))
	assert.Equal(t, StatusAbsent, DeriveStatus(false, false))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "s1_c9_2024-05-01", Key("s1", "c9", "2024-05-01"))
}

func TestMarkPresent(t *testing.T) {
	m, repo := newTestMarker(nil)
	loc := &geofence.GeoPoint{Lat: 12.97, Lng: 77.59}

	rec, err := m.Mark(context.Background(), MarkRequest{
		StudentID:        "s1",
		ClassID:          "c1",
		LocationVerified: true,
		FaceVerified:     true,
		FaceConfidence:   0.8,
		Location:         loc,
		CapturedImageRef: "https://cdn/frame.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, "s1_c1_2024-05-01", rec.Key)
	assert.Equal(t, "2024-05-01", rec.Date)
	assert.Equal(t, "09:15:10", rec.Time)
	assert.Equal(t, 0.8, rec.FaceConfidence)
	assert.Equal(t, 1, repo.Len())

	stored, err := repo.Get(context.Background(), rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestMarkLateWhenLocationFails(t *testing.T) {
	m, _ := newTestMarker(nil)
	rec, err := m.Mark(context.Background(), MarkRequest{
		StudentID:      "s1",
		ClassID:        "c1",
		FaceVerified:   true,
		FaceConfidence: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)
	assert.False(t, rec.LocationVerified)
}

func TestMarkTwiceIsAlreadyMarked(t *testing.T) {
	m, repo := newTestMarker(nil)
	ctx := context.Background()

	first, err := m.Mark(ctx, MarkRequest{StudentID: "s1", ClassID: "c1", LocationVerified: true, FaceVerified: true, FaceConfidence: 0.8})
	require.NoError(t, err)

	repo.now = func() time.Time { return clientLie }
	_, err = m.Mark(ctx, MarkRequest{StudentID: "s1", ClassID: "c1", FaceConfidence: 0.1, Notes: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyMarked))

	stored, err := repo.Get(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Equal(t, 1, repo.Len())
}

func TestMarkConcurrentRace(t *testing.T) {
	m, repo := newTestMarker(nil)
	const attempts = 32

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Mark(context.Background(), MarkRequest{StudentID: "s1", ClassID: "c1", Date: "2024-05-02", LocationVerified: true, FaceVerified: true})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperr.ErrAlreadyMarked):
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, 1, repo.Len())
}

func TestMarkDifferentDaysAndClasses(t *testing.T) {
	m, repo := newTestMarker(nil)
	ctx := context.Background()
	for _, req := range []MarkRequest{
		{StudentID: "s1", ClassID: "c1", Date: "2024-05-01"},
		{StudentID: "s1", ClassID: "c1", Date: "2024-05-02"},
		{StudentID: "s1", ClassID: "c2", Date: "2024-05-01"},
		{StudentID: "s2", ClassID: "c1", Date: "2024-05-01"},
	} {
		_, err := m.Mark(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, repo.Len())
}

func TestMarkRejectsInvalidInput(t *testing.T) {
	m, repo := newTestMarker(nil)
	bad := []MarkRequest{
		{ClassID: "c1"},
		{StudentID: "s1"},
		{StudentID: "s_1", ClassID: "c1"},
		{StudentID: "s1", ClassID: "c1", Date: "01/05/2024"},
		{StudentID: "s1", ClassID: "c1", Location: &geofence.GeoPoint{Lat: 200}},
	}
	for _, req := range bad {
		_, err := m.Mark(context.Background(), req)
		assert.True(t, errors.Is(err, apperr.ErrInputInvalid), "%+v", req)
	}
	assert.Equal(t, 0, repo.Len())
}

func TestMarkClampsConfidence(t *testing.T) {
	m, _ := newTestMarker(nil)
	rec, err := m.Mark(context.Background(), MarkRequest{StudentID: "s1", ClassID: "c1", FaceVerified: true, FaceConfidence: 1.7})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.FaceConfidence)
}

func TestMarkPublishesEvent(t *testing.T) {
	q := queue.NewInMemory(4)
	m, _ := newTestMarker(q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	_, err = m.Mark(ctx, MarkRequest{StudentID: "s1", ClassID: "c1", LocationVerified: true})
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, MarkedMessageType, msg.Type)
		var evt MarkedEvent
		require.NoError(t, json.Unmarshal(msg.Body, &evt))
		assert.Equal(t, "s1_c1_2024-05-01", evt.Key)
		assert.Equal(t, StatusLate, evt.Status)
	case <-time.After(time.Second):
		t.Fatal("no marked event published")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, queue.Message) error {
	return errors.New("redis down")
}

func TestMarkSucceedsWhenPublishFails(t *testing.T) {
	m, repo := newTestMarker(failingPublisher{})
	_, err := m.Mark(context.Background(), MarkRequest{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Len())
}

func TestMarkStoreUnavailable(t *testing.T) {
	m, repo := newTestMarker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Mark(ctx, MarkRequest{StudentID: "s1", ClassID: "c1"})
	assert.True(t, errors.Is(err, apperr.ErrStoreUnavailable))
	assert.Equal(t, 0, repo.Len())
}

func TestFilter(t *testing.T) {
	assert.Error(t, Filter{}.Validate())
	assert.Error(t, Filter{StudentID: "s1", From: "2024-05-03", To: "2024-05-01"}.Validate())
	assert.Error(t, Filter{StudentID: "s1", From: "May 1"}.Validate())
	assert.NoError(t, Filter{ClassID: "c1", From: "2024-05-01"}.Validate())

	f := Filter{StudentID: "s1", From: "2024-05-01", To: "2024-05-31"}
	assert.True(t, f.Matches(Record{StudentID: "s1", Date: "2024-05-01"}))
	assert.True(t, f.Matches(Record{StudentID: "s1", Date: "2024-05-31"}))
	assert.False(t, f.Matches(Record{StudentID: "s1", Date: "2024-06-01"}))
	assert.False(t, f.Matches(Record{StudentID: "s2", Date: "2024-05-10"}))
}

func TestMemoryQueryOrdered(t *testing.T) {
	m, repo := newTestMarker(nil)
	ctx := context.Background()
	for _, d := range []string{"2024-05-03", "2024-05-01", "2024-05-02", "2024-06-01"} {
		_, err := m.Mark(ctx, MarkRequest{StudentID: "s1", ClassID: "c1", Date: d})
		require.NoError(t, err)
	}
	recs, err := repo.Query(ctx, Filter{StudentID: "s1", From: "2024-05-01", To: "2024-05-31"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "2024-05-01", recs[0].Date)
	assert.Equal(t, "2024-05-03", recs[2].Date)
}

func TestMemoryRepositoryCopiesLocation(t *testing.T) {
	repo := NewMemoryRepository(func() time.Time { return commitAt }, testLoc)
	ctx := context.Background()
	point := &geofence.GeoPoint{Lat: 12.97, Lng: 77.59}

	created, err := repo.CreateIfAbsent(ctx, Record{Key: Key("s1", "c1", "2024-05-01"), StudentID: "s1", ClassID: "c1", Date: "2024-05-01", Location: point})
	require.NoError(t, err)
	point.Lat = 0
	created.Location.Lng = 0

	stored, err := repo.Get(ctx, created.Key)
	require.NoError(t, err)
	require.NotNil(t, stored.Location)
	assert.Equal(t, geofence.GeoPoint{Lat: 12.97, Lng: 77.59}, *stored.Location)

	stored.Location.Lat = 1
	recs, err := repo.Query(ctx, Filter{StudentID: "s1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 12.97, recs[0].Location.Lat)
}
