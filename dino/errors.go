package dino

import "errors"

var (
	// ErrUnknownUpdateMode is returned when constructing a teacher
	// update rule with a mode other than EMA or copy.
	ErrUnknownUpdateMode = errors.New("dino: unknown teacher update mode")

	// ErrHeadConfig is returned for invalid projection-head dimensions.
	ErrHeadConfig = errors.New("dino: invalid head configuration")

	// ErrShapeMismatch is returned when a crop batch list disagrees
	// with the configured routing or when tensor dimensions disagree
	// with the model configuration.
	ErrShapeMismatch = errors.New("dino: shape mismatch")

	// ErrNoValidPairs is returned when every (teacher, student) crop
	// pair shares an original index, leaving the loss undefined.
	ErrNoValidPairs = errors.New("dino: no valid crop pairs")
)
