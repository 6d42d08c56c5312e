package engine

import (
	"errors"
	"fmt"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrParentFinished    = errors.New("parent task finished")
	ErrAlreadyActive     = errors.New("task already active")
	ErrFinished          = errors.New("task finished")
	ErrNotActive         = errors.New("task not active")
	ErrAlreadyFinished   = errors.New("task already finished")
	ErrCycle             = errors.New("task hierarchy cycle")
	ErrCategoryNotFound  = errors.New("time category not found")
	ErrCodeNotFound      = errors.New("time code not found")
	ErrInUse             = errors.New("time entry in use")
	ErrInvalidName       = errors.New("invalid name")
	ErrDuplicateCategory = errors.New("duplicate time category")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidSnapshot   = errors.New("invalid snapshot")
)

// Error is a rejected domain operation. Its text is shown to clients
// verbatim; Kind identifies the failure for errors.Is.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func taskNotFound(id domain.TaskID) error {
	return fail(ErrTaskNotFound, "Task with ID %d does not exist.", id)
}
