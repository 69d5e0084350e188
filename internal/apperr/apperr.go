package apperr

import (
	"errors"
	"net/http"
)

// Error kinds shared by the verification and marking paths.
var (
	ErrInputInvalid           = errors.New("input invalid")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrVerificationFailed     = errors.New("verification failed")
	ErrVerificationIncomplete = errors.New("verification incomplete")
	ErrAlreadyMarked          = errors.New("attendance already marked")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrNotFound               = errors.New("not found")
)

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInputInvalid):
		return "input_invalid"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrVerificationIncomplete):
		return "verification_incomplete"
	case errors.Is(err, ErrAlreadyMarked):
		return "already_marked"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInputInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrVerificationIncomplete), errors.Is(err, ErrAlreadyMarked):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrProviderUnavailable)
}
