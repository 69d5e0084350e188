package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
)

func TestMemoryUpload(t *testing.T) {
	m := NewMemory()
	data := []byte("frame")

	url, err := m.Upload(context.Background(), "captures/c1/s1/a.jpg", data)
	require.NoError(t, err)
	assert.Equal(t, "mem://captures/c1/s1/a.jpg", url)

	data[0] = 'X'
	got, ok := m.Get("captures/c1/s1/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "frame", string(got))
	assert.Equal(t, 1, m.Len())

	_, err = m.Upload(context.Background(), "empty.jpg", nil)
	assert.True(t, errors.Is(err, apperr.ErrInputInvalid))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Upload(ctx, "late.jpg", []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrStoreUnavailable))
	assert.Equal(t, 1, m.Len())
}
