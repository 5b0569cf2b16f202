package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	CodeRemote           ErrorCode = "REMOTE"
)

var (
	ErrUnknownTool         = errors.New("unknown tool")
	ErrInvalidArguments    = errors.New("invalid arguments")
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrHallucinatedTool    = errors.New("classifier chose a tool not in the registry")
	ErrDuplicateCorrelation = errors.New("correlation id already in flight")
	ErrUnknownEndpoint     = errors.New("unknown endpoint")
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrInvalidArguments):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrHallucinatedTool), errors.Is(err, ErrUnknownEndpoint):
		return CodeNotFound, true
	case errors.Is(err, ErrEndpointUnavailable), errors.Is(err, ErrConnectionClosed):
		return CodeUnavailable, true
	case errors.Is(err, ErrAuthRejected):
		return CodeUnauthenticated, true
	case errors.Is(err, ErrDuplicateCorrelation):
		return CodeFailedPrecond, true
	default:
		return "", false
	}
}

// FailureKindFrom maps an error to the dispatch failure classification.
func FailureKindFrom(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownTool):
		return FailureUnknownTool
	case errors.Is(err, ErrInvalidArguments):
		return FailureInvalidArguments
	case errors.Is(err, ErrDuplicateCorrelation):
		return FailurePrecondition
	case errors.Is(err, ErrEndpointUnavailable):
		return FailureUnavailable
	case errors.Is(err, ErrAuthRejected):
		return FailureAuth
	case errors.Is(err, ErrConnectionClosed):
		return FailureConnection
	default:
		return FailureRemote
	}
}
