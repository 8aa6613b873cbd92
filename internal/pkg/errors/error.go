package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal server error")
	ErrRateLimited    = errors.New("too many requests")
	ErrSessionExpired = errors.New("session expired or invalid")
	ErrAccountBlocked = errors.New("account is inactive or suspended")
)

// Session authority errors
var (
	// ErrRecordRead is a transient failure reading the authority record.
	// It never counts as a token mismatch.
	ErrRecordRead = errors.New("authority record read failed")

	// ErrRecordWrite means the issuer could not write a new token; the prior
	// record is still authoritative.
	ErrRecordWrite = errors.New("authority record write failed")

	// ErrRecordNotFound means no authority record exists for the account.
	ErrRecordNotFound = errors.New("authority record not found")

	// ErrSubscriptionDrop is reported when a change subscription closes.
	ErrSubscriptionDrop = errors.New("authority subscription dropped")

	// ErrSessionConflict is returned by a login that found another device
	// holding the session and did not ask to override it.
	ErrSessionConflict = errors.New("account already has an active session")

	// ErrLoginCancelled is returned when the user aborts the hand-off prompt.
	ErrLoginCancelled = errors.New("login cancelled")

	// ErrSessionSuperseded means the presented session token is no longer the
	// account's active token.
	ErrSessionSuperseded = errors.New("session superseded by another device")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
