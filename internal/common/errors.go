package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"

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

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
)

// Pipeline error taxonomy
var (
	// ErrConversionFailure is reported per file by the conversion stage.
	ErrConversionFailure = errors.New("conversion failure")
	// ErrExtractionTransport is a batch-level service or network failure; retried.
	ErrExtractionTransport = errors.New("extraction transport error")
	// ErrExtractionFailure marks every item of a batch whose retries were exhausted.
	ErrExtractionFailure = errors.New("extraction failure")
	// ErrExtractionSemantic is one item whose content could not be mapped to the schema.
	ErrExtractionSemantic = errors.New("extraction semantic error")
	// ErrInvalidContext is run-wide and aborts the run.
	ErrInvalidContext = errors.New("invalid processing context")

	ErrSessionExpired       = errors.New("session expired")
	ErrVersionLimitExceeded = errors.New("version limit exceeded")
	ErrModelAlreadyUsed     = errors.New("model already used in session")
	ErrRunCancelled         = errors.New("run cancelled")
	ErrSchedulerClosed      = errors.New("scheduler is shutting down")
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

// IsFatal reports whether err must abort a whole run rather than a single file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidContext)
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	var appErr *AppError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &appErr):
		return appErr.Code
	case errors.Is(err, ErrSessionExpired):
		return "SESSION_EXPIRED"
	case errors.Is(err, ErrVersionLimitExceeded):
		return "VERSION_LIMIT_EXCEEDED"
	case errors.Is(err, ErrModelAlreadyUsed):
		return "MODEL_ALREADY_USED"
	case errors.Is(err, ErrInvalidContext):
		return "INVALID_CONTEXT"
	case errors.Is(err, ErrConversionFailure):
		return "CONVERSION_FAILURE"
	case errors.Is(err, ErrExtractionFailure):
		return "EXTRACTION_FAILURE"
	case errors.Is(err, ErrExtractionSemantic):
		return "EXTRACTION_SEMANTIC"
	case errors.Is(err, ErrExtractionTransport):
		return "EXTRACTION_TRANSPORT"
	case errors.Is(err, ErrRunCancelled), errors.Is(err, context.Canceled):
		return "CANCELLED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return "INVALID_INPUT"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus maps an error to the HTTP status returned by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidContext):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, ErrVersionLimitExceeded), errors.Is(err, ErrModelAlreadyUsed), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCError converts an error into a gRPC status error.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidContext):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrVersionLimitExceeded), errors.Is(err, ErrModelAlreadyUsed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrSchedulerClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, ErrRunCancelled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}
