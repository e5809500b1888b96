package models

import (
	"github.com/google/uuid"
)

// NewHandle mints an opaque entity handle. Handles are canonical 36-character
// uuids, so a derived blob handle (38 characters, trailing "-<size id>") can
// never collide with an unrelated original handle.
func NewHandle() string {
	return uuid.NewString()
}

// DerivedBlobHandle deterministically names the resized child of an original
// image blob. Determinism is what makes the fan-out retryable: a retry writes
// the same bytes to the same handle.
func DerivedBlobHandle(original string, sizeID byte) string {
	return original + "-" + string(sizeID)
}
