package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		err       error
		code      string
		status    int
		retryable bool
	}{
		{ErrInputInvalid, "input_invalid", http.StatusBadRequest, false},
		{ErrProviderUnavailable, "provider_unavailable", http.StatusServiceUnavailable, true},
		{ErrVerificationFailed, "verification_failed", http.StatusUnprocessableEntity, false},
		{ErrVerificationIncomplete, "verification_incomplete", http.StatusConflict, false},
		{ErrAlreadyMarked, "already_marked", http.StatusConflict, false},
		{ErrStoreUnavailable, "store_unavailable", http.StatusServiceUnavailable, true},
		{ErrNotFound, "not_found", http.StatusNotFound, false},
		{errors.New("boom"), "internal", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			wrapped := fmt.Errorf("mark s1_c1_2024-05-01: %w", tt.err)
			assert.Equal(t, tt.code, Code(wrapped))
			assert.Equal(t, tt.status, HTTPStatus(wrapped))
			assert.Equal(t, tt.retryable, Retryable(wrapped))
		})
	}
}
