package workspace

import (
	"errors"
	"fmt"
)

// Path security errors.
var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrPathTraversal   = errors.New("path traversal detected")
	ErrInvalidIdentity = errors.New("invalid identity name")
	ErrRootOperation   = errors.New("operation not permitted on storage root")
)

// PathSecurityError wraps path security errors with context.
type PathSecurityError struct {
	Op      string
	Path    string
	Wrapped error
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, e.Wrapped)
}

func (e *PathSecurityError) Unwrap() error {
	return e.Wrapped
}

func IsPathTraversal(err error) bool {
	return errors.Is(err, ErrPathTraversal)
}

// IsInvalidPath reports malformed virtual paths, bad identity names and
// attempts to mutate a storage root.
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath) || errors.Is(err, ErrInvalidIdentity) || errors.Is(err, ErrRootOperation)
}
