package pipeline

import (
	"errors"
	"fmt"

	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// ValidationError reports caller input the pipeline rejects before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names which of several looked-up records was missing. It
// matches storage.ErrNotFound under errors.Is.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return storage.ErrNotFound }

func missing(entity string, id int64, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}
