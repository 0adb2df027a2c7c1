// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"errors"
	"fmt"
)

// Error codes for machine-readable error classification.
const (
	CodeConfiguration = "configuration_error"
	CodeTransport     = "transport_error"
	CodeTimeout       = "timeout"
	CodeProtocol      = "protocol_error"
	CodeSource        = "source_error"
)

// Error is the error type returned by every failing operation of this package.
//
// A daemon-reported error is not an Error; it is a ScanResult with StatusError.
type Error struct {
	// Code is one of the Code* constants.
	Code string
	// Message is a human-readable error description.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("clamd: %s: %v", e.Message, e.Cause)
	}
	return "clamd: " + e.Message
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newConfigurationError(msg string, cause error) *Error {
	return &Error{Code: CodeConfiguration, Message: msg, Cause: cause}
}

func newTransportError(msg string, cause error) *Error {
	return &Error{Code: CodeTransport, Message: msg, Cause: cause}
}

func newTimeoutError(msg string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: msg, Cause: cause}
}

func newProtocolError(msg string, cause error) *Error {
	return &Error{Code: CodeProtocol, Message: msg, Cause: cause}
}

func newSourceError(msg string, cause error) *Error {
	return &Error{Code: CodeSource, Message: msg, Cause: cause}
}

// ErrorCode returns the Code of err if it is or wraps an *Error, or "".
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigurationError reports whether err is or wraps a configuration error.
func IsConfigurationError(err error) bool {
	return ErrorCode(err) == CodeConfiguration
}

// IsTransportError reports whether err is or wraps a transport error.
func IsTransportError(err error) bool {
	return ErrorCode(err) == CodeTransport
}

// IsTimeoutError reports whether err is or wraps a timeout error.
func IsTimeoutError(err error) bool {
	return ErrorCode(err) == CodeTimeout
}

// IsProtocolError reports whether err is or wraps a protocol error.
func IsProtocolError(err error) bool {
	return ErrorCode(err) == CodeProtocol
}

// IsSourceError reports whether err is or wraps an error of the scanned input.
func IsSourceError(err error) bool {
	return ErrorCode(err) == CodeSource
}
