package kbservice

import (
	"errors"
	"fmt"
)

// ErrorCode classifies service failures so transports can map them to their
// own error space.
type ErrorCode int

const (
	// CodeInvalidArgument marks failures caused by the caller's input.
	CodeInvalidArgument ErrorCode = iota + 1
	// CodeInternal marks failures inside the service or its stores.
	CodeInternal
)

// Error is the failure type returned by all service operations.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// InvalidArgument returns a caller-input error with the given message.
func InvalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}

// Internal returns an internal error with the given message.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf returns an internal error with a formatted message.
func Internalf(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err is a caller-input service error.
func IsInvalidArgument(err error) bool {
	var svcErr *Error
	return errors.As(err, &svcErr) && svcErr.Code == CodeInvalidArgument
}
