package cloudinary

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/apperr"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "api_key": "key", "folder": "att"})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=att&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "captures/s1/abc", r.FormValue("public_id"))
		assert.Equal(t, "attendance", r.FormValue("folder"))
		assert.NotEmpty(t, r.FormValue("signature"))
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "jpegbytes", string(data))
		_, _ = w.Write([]byte(`{"public_id":"attendance/captures/s1/abc","secure_url":"https://res.cloudinary.com/demo/abc.jpg"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "attendance")
	c.APIBase = srv.URL
	c.now = func() time.Time { return time.Unix(100, 0) }

	url, err := c.Upload(context.Background(), "captures/s1/abc.jpg", []byte("jpegbytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/abc.jpg", url)
}

func TestUploadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New("demo", "key", "secret", "")
	c.APIBase = srv.URL

	_, err := c.Upload(context.Background(), "x.jpg", []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrStoreUnavailable))

	_, err = c.Upload(context.Background(), "x.jpg", nil)
	assert.True(t, errors.Is(err, apperr.ErrInputInvalid))
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid image file"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	c := New("demo", "key", "secret", "")
	c.APIBase = srv.URL

	_, err := c.Upload(context.Background(), "x.jpg", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInputInvalid))
	assert.False(t, errors.Is(err, apperr.ErrStoreUnavailable))
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
}
