package api

import (
	"errors"
	"net/http"

	"github.com/okian/versus/internal/domain/errs"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// statusFor maps an error to its HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	if errors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest, "bad_request"
	}
	switch errs.KindOf(err) {
	case errs.ErrInvalidArgument:
		return http.StatusBadRequest, "invalid_argument"
	case errs.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case errs.ErrNoActiveGame:
		return http.StatusNotFound, "no_active_game"
	case errs.ErrAlreadyUndone:
		return http.StatusConflict, "already_undone"
	case errs.ErrConflict:
		return http.StatusConflict, "conflict"
	case errs.ErrTimeout:
		return http.StatusServiceUnavailable, "timeout"
	case errs.ErrTransaction:
		return http.StatusInternalServerError, "transaction_failed"
	case errs.ErrStorage:
		return http.StatusInternalServerError, "storage_error"
	}
	return http.StatusInternalServerError, "internal_error"
}
