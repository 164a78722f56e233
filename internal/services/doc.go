// Package services defines the shared error taxonomy and context annotations
// used by pipeline stage adapters.
//
// Adapters classify failures by wrapping them with one of the sentinel
// markers (ErrInvalidMedia, ErrToolFailure, ErrTimeout, ErrRemote,
// ErrPartialBatch, ErrValidation, ErrConfiguration). They never retry
// internally; the workflow manager inspects the marker via Retryable and
// owns the retry-or-fail decision.
package services
