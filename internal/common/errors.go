package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by code so callers can compare against the
// precondition values without caring about the message.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
)

// Error codes surfaced to users.
const (
	CodeConfig      = "CONFIG_ERROR"
	CodeNoSource    = "NO_SOURCE"
	CodeNoModel     = "NO_MODEL"
	CodePDFBlocked  = "PDF_BLOCKED"
	CodeNothingToDo = "NOTHING_TO_DO"
	CodeBusy        = "RUN_IN_PROGRESS"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeParse       = "PARSE_ERROR"
	CodeValidation  = "VALIDATION_ERROR"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// CodeOf returns the AppError code carried by err, or "" if there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ToStatus maps an application error onto a gRPC status. Scan preconditions
// become FailedPrecondition, a concurrent run is Aborted.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	switch CodeOf(err) {
	case CodeNoSource, CodeNoModel, CodePDFBlocked, CodeConfig:
		return status.New(codes.FailedPrecondition, err.Error())
	case CodeNothingToDo:
		return status.New(codes.OK, err.Error())
	case CodeBusy, CodeConflict:
		return status.New(codes.Aborted, err.Error())
	case CodeNotFound:
		return status.New(codes.NotFound, err.Error())
	case CodeValidation:
		return status.New(codes.InvalidArgument, err.Error())
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return status.New(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrConflict):
		return status.New(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	}
	return status.New(codes.Internal, err.Error())
}
