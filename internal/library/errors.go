package library

import "errors"

var (
	ErrNotFound        = errors.New("library: not found")
	ErrForbidden       = errors.New("library: forbidden")
	ErrDuplicateReview = errors.New("library: resource already reviewed by this user")
	ErrInvalidRating   = errors.New("library: rating must be between 1 and 5")
	ErrInvalidInput    = errors.New("library: invalid input")
)
