package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/attendance"
	"campusattend/internal/queue"
)

func TestMarkedEventsInvalidateCache(t *testing.T) {
	ctx := context.Background()
	repo := attendance.NewMemoryRepository(time.Now, time.UTC)
	events := queue.NewInMemory(8)
	marker := attendance.NewMarker(repo, events, time.UTC)
	svc := NewService(repo, NewMemoryCache())

	st, err := svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalDays)

	_, err = marker.Mark(ctx, attendance.MarkRequest{StudentID: "s1", ClassID: "c1", Date: "2024-05-01", LocationVerified: true, FaceVerified: true})
	require.NoError(t, err)

	st, err = svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalDays, "stale until the event is handled")

	consumeCtx, cancel := context.WithCancel(ctx)
	msgs, err := events.Consume(consumeCtx)
	require.NoError(t, err)
	require.NoError(t, svc.HandleMarked(ctx, <-msgs))
	cancel()

	st, err = svc.ForStudent(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalDays)
	assert.Equal(t, 100.0, st.AttendanceRate)
}

func TestHandleMarkedIgnoresOtherTypes(t *testing.T) {
	svc := NewService(&countingQuerier{}, NewMemoryCache())
	assert.NoError(t, svc.HandleMarked(context.Background(), queue.Message{Type: "checkin", Body: []byte("x")}))
	assert.Error(t, svc.HandleMarked(context.Background(), queue.Message{Type: attendance.MarkedMessageType, Body: []byte("{")}))
}

func TestRun(t *testing.T) {
	svc := NewService(&countingQuerier{}, NewMemoryCache())
	ch := make(chan queue.Message, 3)
	ch <- queue.Message{Type: attendance.MarkedMessageType, Body: []byte(`{"student_id":"s1","class_id":"c1"}`)}
	ch <- queue.Message{Type: attendance.MarkedMessageType, Body: []byte("not json")}
	ch <- queue.Message{Type: "other"}
	close(ch)
	assert.Equal(t, 2, svc.Run(context.Background(), ch))
}
