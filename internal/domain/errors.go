package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced drop, share, user or
	// conversation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller is neither the owner nor a
	// recipient (or participant) of the requested resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidLocation is returned when claimed coordinates are missing,
	// non-numeric or out of range.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidContentLocation is returned when a drop's stored coordinate
	// cannot be parsed. It is a data integrity problem, not a caller error.
	ErrInvalidContentLocation = errors.New("invalid content location")

	// ErrInvalidInput is returned for malformed request data other than
	// locations.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("conflict")
)
