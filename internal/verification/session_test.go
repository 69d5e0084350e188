package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
)

func TestCanMark(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewSession("id", "s1", "c1", now)
	assert.False(t, s.CanMark(now, 0))

	s.Set(Outcome{Kind: KindFace, Status: StatusVerified, CapturedAt: now})
	assert.False(t, s.CanMark(now, 0), "location still pending")

	s.Set(Outcome{Kind: KindLocation, Status: StatusFailed, CapturedAt: now})
	assert.False(t, s.CanMark(now, 0))

	s.Set(Outcome{Kind: KindLocation, Status: StatusVerified, CapturedAt: now})
	assert.True(t, s.CanMark(now, 0))
	assert.Equal(t, StatusVerified, s.Face.Status, "location retry must not touch face")
}

func TestCanMarkStaleness(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewSession("id", "s1", "c1", t0)
	s.Set(Outcome{Kind: KindLocation, Status: StatusVerified, CapturedAt: t0})
	s.Set(Outcome{Kind: KindFace, Status: StatusVerified, CapturedAt: t0.Add(time.Minute)})

	assert.True(t, s.CanMark(t0.Add(2*time.Minute), 2*time.Minute))
	assert.False(t, s.CanMark(t0.Add(2*time.Minute+time.Second), 2*time.Minute))
	assert.True(t, s.CanMark(t0.Add(time.Hour), 0), "zero max age disables staleness")
	assert.Contains(t, s.blocker(t0.Add(time.Hour), time.Minute), "stale")
}

func TestMemoryStoreUpdateIsolatesKinds(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	now := time.Now()
	require.NoError(t, st.Create(ctx, NewSession("a", "s1", "c1", now)))

	p := &geofence.GeoPoint{Lat: 1, Lng: 2}
	require.NoError(t, st.Update(ctx, "a", Update{Outcome: Outcome{Kind: KindLocation, Status: StatusVerified}, Point: p}))
	require.NoError(t, st.Update(ctx, "a", Update{Outcome: Outcome{Kind: KindFace, Status: StatusFailed}, ImageRef: "mem://1"}))
	require.NoError(t, st.Update(ctx, "a", Update{Outcome: Outcome{Kind: KindFace, Status: StatusVerified}, ImageRef: "mem://2"}))

	got, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Location.Status)
	assert.Equal(t, p, got.Point)
	assert.Equal(t, StatusVerified, got.Face.Status)
	assert.Equal(t, "mem://2", got.ImageRef)

	err = st.Update(ctx, "missing", Update{Outcome: Outcome{Kind: KindFace}})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, st.Delete(ctx, "a"))
	_, err = st.Get(ctx, "a")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
