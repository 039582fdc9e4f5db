package pipeline

import (
	"errors"

	"github.com/avolkov/cryptoflow/internal/crypto"
	"github.com/avolkov/cryptoflow/internal/keystore"
)

// FailureKind classifies a per-file or batch failure for reporting.
type FailureKind string

const (
	FailureValidation     FailureKind = "validation"
	FailureAuthentication FailureKind = "authentication"
	FailureKeyDerivation  FailureKind = "key_derivation"
	FailureCapacity       FailureKind = "capacity"
	FailureTransientIO    FailureKind = "transient_io"
)

var (
	// ErrMissingPassword aborts a batch before any file is touched.
	ErrMissingPassword = errors.New("validation failed: password is required")
	// ErrEmptyBatch is returned for a batch with no files.
	ErrEmptyBatch = errors.New("validation failed: no files submitted")
	// ErrCapacity is returned when the worker pool cannot be sized.
	ErrCapacity = errors.New("capacity: failed to size worker pool")
)

// classify maps an error to its failure kind. Unrecognized errors are
// treated as collaborator I/O failures.
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, crypto.ErrAuthentication):
		return FailureAuthentication
	case errors.Is(err, crypto.ErrKeyDerivation):
		return FailureKeyDerivation
	case errors.Is(err, ErrMissingPassword), errors.Is(err, ErrEmptyBatch):
		return FailureValidation
	case errors.Is(err, keystore.ErrNotFound):
		return FailureValidation
	case errors.Is(err, ErrCapacity):
		return FailureCapacity
	default:
		return FailureTransientIO
	}
}
