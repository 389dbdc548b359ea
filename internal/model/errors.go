package model

import "errors"

var (
	// ErrNotFound is returned on a lookup miss. It is an expected outcome,
	// not a failure.
	ErrNotFound = errors.New("record not found")

	// ErrValidation is returned when an ingested record is malformed.
	// Nothing is stored on a validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable is returned when the backing store cannot be
	// reached. Callers should retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
