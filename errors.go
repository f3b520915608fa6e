// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import "fmt"

// ErrorCode is one of the twelve wire error codes a request can fail with.
type ErrorCode int

const (
	ErrCodeNoMessage      ErrorCode = 440
	ErrCodeInvalidJSON    ErrorCode = 441
	ErrCodeInvalidRequest ErrorCode = 442
	ErrCodeMissingElement ErrorCode = 443
	ErrCodeInvalidElement ErrorCode = 444
	ErrCodeWrongState     ErrorCode = 445
	ErrCodeMissingSDP     ErrorCode = 446
	ErrCodeInvalidSDP     ErrorCode = 447
	ErrCodeIOError        ErrorCode = 448
	ErrCodeRecordingError ErrorCode = 449
	ErrCodeTooStrict      ErrorCode = 450
	ErrCodeUnknown        ErrorCode = 499
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNoMessage:
		return "no-message"
	case ErrCodeInvalidJSON:
		return "invalid-json"
	case ErrCodeInvalidRequest:
		return "invalid-request"
	case ErrCodeMissingElement:
		return "missing-element"
	case ErrCodeInvalidElement:
		return "invalid-element"
	case ErrCodeWrongState:
		return "wrong-state"
	case ErrCodeMissingSDP:
		return "missing-sdp"
	case ErrCodeInvalidSDP:
		return "invalid-sdp"
	case ErrCodeIOError:
		return "io-error"
	case ErrCodeRecordingError:
		return "recording-error"
	case ErrCodeTooStrict:
		return "too-strict"
	default:
		return "unknown"
	}
}

// RequestError is the per-request rejection described in §7: it never tears
// the session down, only bubbles up through the Dispatcher's event channel.
type RequestError struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nosip: %s (%d): %s: %v", e.Code, e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("nosip: %s (%d): %s", e.Code, e.Code, e.Reason)
}

func (e *RequestError) Unwrap() error { return e.Err }

func newRequestError(code ErrorCode, reason string, err error) *RequestError {
	return &RequestError{Code: code, Reason: reason, Err: err}
}
