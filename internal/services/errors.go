package services

// Errors returned to handlers, mapped to HTTP statuses there.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

// UnavailableError means a dependency the operation needs did not answer,
// e.g. the quiz surface never returned the answers.
type UnavailableError struct{ Message string }

func (e *UnavailableError) Error() string { return e.Message }
