package httpx

import (
	"errors"
	"net/http"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. The
// problem "type" token is stable per error kind so clients can render
// insufficient-stock differently from not-found.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "not-found", "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "conflict", "Conflict", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrDependentRecords):
		Problem(w, http.StatusConflict, "dependent-records", "Dependent Records Exist", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvalidArgument):
		Problem(w, http.StatusBadRequest, "invalid-argument", "Invalid Argument", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "insufficient-stock", "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "invalid-credentials", "Invalid Credentials", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "unauthenticated", "Unauthenticated", "")
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "forbidden", "Forbidden", "")
	default:
		Problem(w, http.StatusInternalServerError, "internal", "Internal Error", "")
	}
}
