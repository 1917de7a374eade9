package store

import (
	"errors"
	"fmt"
)

var (
	ErrRead             = errors.New("read failure")
	ErrWrite            = errors.New("write failure")
	ErrDecode           = errors.New("decode failure")
	ErrNotFound         = errors.New("not found")
	ErrDirectoryMissing = errors.New("directory missing")
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidName      = errors.New("invalid file name")
)

// NotFoundError carries the identifier that was looked up.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(kind Kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
