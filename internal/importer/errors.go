package importer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIntegrity matches every IntegrityError.
var ErrIntegrity = errors.New("artifact integrity check failed")

// IntegrityError reports a checksum mismatch after upload. The artifact must
// be regenerated; it is never retried as-is.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("artifact %s: uploaded checksum %q does not match %q", e.Path, e.Actual, e.Expected)
}

// Is reports ErrIntegrity as the error class.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// StateError records the state an attempt failed in.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", strings.ToLower(e.State.String()), e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }
