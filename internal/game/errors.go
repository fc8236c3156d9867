package game

import "errors"

// Rejection reasons shared by the stores. Callers compare with errors.Is.
var (
	// ErrOutOfBounds is returned for coordinates outside the grid.
	ErrOutOfBounds = errors.New("coordinate out of bounds")

	// ErrNotFound is returned when an operation names an unknown participant.
	ErrNotFound = errors.New("participant not found")

	// ErrInsufficientResource is returned when energy or tokens are too low.
	ErrInsufficientResource = errors.New("insufficient resource")
)
