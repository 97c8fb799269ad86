package files

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"syscall"

	"file-server-go/internal/workspace"
)

// File operation errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrConflict       = errors.New("destination already exists")
	ErrNotADirectory  = errors.New("not a directory")
	ErrIsADirectory   = errors.New("is a directory")
	ErrUnsupported    = errors.New("unsupported operation")
	ErrUnknownTarget  = errors.New("unknown share target")
	ErrStorageFailure = errors.New("storage failure")
)

// OpError records a failed file operation.
type OpError struct {
	Op   string
	Path string
	Name string
	Err  error
}

func (e *OpError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Path, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op, path string, err error) error {
	return &OpError{Op: op, Path: path, Err: err}
}

// storageErr wraps an unexpected filesystem error so that both the sentinel
// and the underlying cause remain inspectable.
func storageErr(op, path string, cause error) error {
	return &OpError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrStorageFailure, cause)}
}

// Kind classifies an error for the transport boundary.
type Kind string

const (
	KindInvalidPath   Kind = "InvalidPath"
	KindTraversal     Kind = "TraversalError"
	KindNotFound      Kind = "NotFound"
	KindAlreadyExists Kind = "AlreadyExists"
	KindConflict      Kind = "Conflict"
	KindNotADirectory Kind = "NotADirectory"
	KindIsADirectory  Kind = "IsADirectory"
	KindUnsupported   Kind = "UnsupportedOperation"
	KindUnknownTarget Kind = "UnknownTarget"
	KindStorage       Kind = "StorageFailure"
)

// KindOf maps err to its Kind. Unrecognised errors are storage failures.
func KindOf(err error) Kind {
	switch {
	case workspace.IsPathTraversal(err):
		return KindTraversal
	case workspace.IsInvalidPath(err):
		return KindInvalidPath
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotADirectory):
		return KindNotADirectory
	case errors.Is(err, ErrIsADirectory):
		return KindIsADirectory
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrUnknownTarget):
		return KindUnknownTarget
	default:
		return KindStorage
	}
}

// StatusFor returns the HTTP status code for err.
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindInvalidPath, KindTraversal, KindNotADirectory, KindIsADirectory:
		return http.StatusBadRequest
	case KindNotFound, KindUnknownTarget:
		return http.StatusNotFound
	case KindAlreadyExists, KindConflict:
		return http.StatusConflict
	case KindUnsupported:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// classify turns a raw filesystem error into one of the sentinels.
func classify(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return opErr(op, path, ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return opErr(op, path, ErrAlreadyExists)
	case errors.Is(err, syscall.ENOTDIR):
		return opErr(op, path, ErrNotADirectory)
	case errors.Is(err, syscall.EISDIR):
		return opErr(op, path, ErrIsADirectory)
	default:
		return storageErr(op, path, err)
	}
}
