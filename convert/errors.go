package convert

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is(err, ErrXxx) to classify conversion failures.
var (
	// ErrMissingArtifact indicates a candidate artifact does not exist. It is
	// never fatal; the artifact is dropped from consideration.
	ErrMissingArtifact = errors.New("artifact does not exist")

	// ErrShapeIncompatible indicates an artifact's pixel shape differs from the
	// reference. The artifact is excluded from the output.
	ErrShapeIncompatible = errors.New("artifact shape is incompatible with the reference")

	// ErrNoCompatibleArtifacts indicates no artifact could establish a
	// reference. Conversion aborts before anything is written.
	ErrNoCompatibleArtifacts = errors.New("no compatible artifacts")

	// ErrDuplicateVariable indicates an artifact maps to an output variable
	// already taken by an earlier candidate, e.g. fits and image. The later
	// artifact is skipped.
	ErrDuplicateVariable = errors.New("output variable already taken")

	// ErrReadFailure indicates the legacy reader failed while reading a batch.
	ErrReadFailure = errors.New("artifact read failed")

	// ErrStoreWrite indicates the destination store rejected a write.
	ErrStoreWrite = errors.New("store write failed")
)

// Error wraps an underlying error with its kind and the artifact involved.
type Error struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the step that failed, e.g. "open", "read", "append".
	Op string
	// Artifact is the artifact type involved, if any.
	Artifact string
	// Err is the underlying error, possibly nil.
	Err error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Artifact != "" {
		msg += " " + e.Artifact
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target kind.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newError(kind error, op, artifact string, err error) *Error {
	return &Error{
		Kind:     kind,
		Op:       op,
		Artifact: artifact,
		Err:      err,
	}
}
