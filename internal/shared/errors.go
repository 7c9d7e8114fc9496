package shared

import "errors"

var (
	// ErrNotFound indicates a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates the request carried an invalid value.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict indicates a uniqueness violation, e.g. a duplicate code.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock indicates an outbound movement exceeds the balance.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDependentRecords blocks deletion while other rows still reference the entity.
	ErrDependentRecords = errors.New("dependent records exist")
	// ErrUnauthenticated indicates a missing or invalid caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the caller's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserSafeMessage converts known errors to a message safe for API clients.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid request"
	case errors.Is(err, ErrConflict):
		return "duplicate entry"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient stock for this movement"
	case errors.Is(err, ErrDependentRecords):
		return "record is still referenced and cannot be deleted"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid email or password"
	default:
		return "internal error"
	}
}
