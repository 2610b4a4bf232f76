// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed structural validation.
var ErrValidation = errors.New("validation failed")

// ErrInvalidInput indicates a malformed task submission. It is returned
// before any task state is created.
var ErrInvalidInput = errors.New("invalid input")

// ErrTimeout indicates a backend call exceeded its time bound.
var ErrTimeout = errors.New("timeout")

// ErrBackend indicates the generation backend reported a failure.
var ErrBackend = errors.New("backend error")

// ErrPipelineAbort indicates a generation stage failed and the run was discarded.
var ErrPipelineAbort = errors.New("pipeline aborted")

// ErrEscalated indicates the review loop ended without meeting the threshold.
// Escalated runs still carry their last artifact and score history.
var ErrEscalated = errors.New("pipeline escalated")

// ErrQuotaExceeded indicates the daily pipeline quota is used up.
var ErrQuotaExceeded = errors.New("daily quota exceeded")
