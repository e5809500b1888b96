package models

import (
	"errors"
)

// Shared error taxonomy for the pipeline. Callers branch with errors.Is;
// wrapped context is added at each layer with fmt.Errorf("...: %w", err).
var (
	// entity absent from the store or blobstore
	ErrNotFound = errors.New("not found")

	// state-machine transition attempted from the wrong state
	ErrConflict = errors.New("conflicting state transition")

	// external provider call failed or timed out; safe to retry
	ErrProviderUnavailable = errors.New("provider unavailable")

	// malformed handle, or unsupported content/image/platform type
	ErrInvalidInput = errors.New("invalid input")

	// content itself is broken (eg, undecodable image); retrying won't help
	ErrPermanentContent = errors.New("permanent content error")
)
