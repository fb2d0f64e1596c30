package service

import "errors"

// ErrUnauthorized matches every *UnauthorizedError via errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// Reasons reported by UnauthorizedError.
const (
	ReasonMissingToken = "missing token"
	ReasonInvalidToken = "invalid token"
)

// UnauthorizedError is returned by Connect when no identity could be
// established from the supplied credentials.
type UnauthorizedError struct {
	Reason string
	Err    error
}

func (e *UnauthorizedError) Error() string {
	if e.Err != nil {
		return "unauthorized: " + e.Reason + ": " + e.Err.Error()
	}
	return "unauthorized: " + e.Reason
}

func (e *UnauthorizedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnauthorized) match regardless of the reason.
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
