package models

import "errors"

var (
	// ErrInvalidConfiguration reports a parameter outside its accepted domain
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrShapeMismatch reports grids or vectors whose extents disagree
	ErrShapeMismatch = errors.New("shape mismatch")
)
