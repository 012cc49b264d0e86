package chat

import "errors"

var (
	// ErrNotFound is returned when a message or user id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps every persistence failure other than a missing row.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrForbidden        = errors.New("forbidden")
	// ErrAttachment is returned when the image host rejects an upload.
	ErrAttachment = errors.New("attachment upload failed")
)
