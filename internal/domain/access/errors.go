package access

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownApplication = errors.New("unknown application")
	ErrInvalidRole        = errors.New("invalid role for application")
	ErrEmptySubject       = errors.New("subject identifier is empty")
	ErrGrantNotFound      = errors.New("access grant not found")
	ErrStore              = errors.New("access store failure")
)

// StoreError reports a failed grant or revoke. It is always surfaced to the
// caller because the operator must know the write did not happen.
type StoreError struct {
	Op     string
	UserID string
	App    AppName
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s access for user %s on %s: %v", e.Op, e.UserID, e.App, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}
