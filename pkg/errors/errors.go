/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	transientType = &transient{} //nolint:gochecknoglobals

	invalidRequestType = &badRequest{} //nolint:gochecknoglobals

	authType = &authError{} //nolint:gochecknoglobals

	throttledType = &throttled{} //nolint:gochecknoglobals

	// ErrNotFound is used to indicate that an entity with the given identifier could not be found.
	ErrNotFound = errors.New("not found")

	// ErrCancelled is used to indicate that an operation was cancelled by the caller.
	ErrCancelled = errors.New("operation cancelled")
)

// NewTransient returns a transient error that wraps the given error in order to indicate to the
// caller that a retry may resolve the problem, whereas a non-transient (persistent) error will
// always fail with the same outcome if retried.
func NewTransient(err error) error {
	return &transient{err: err}
}

// NewTransientf returns a transient error in order to indicate to the caller that a retry may
// resolve the problem.
func NewTransientf(format string, a ...interface{}) error {
	return &transient{err: fmt.Errorf(format, a...)}
}

// IsTransient returns true if the given error is a 'transient' error.
func IsTransient(err error) bool {
	return errors.As(err, &transientType)
}

// NewBadRequest returns a 'bad request' error that wraps the given error in order to indicate to
// the caller that the request was invalid.
func NewBadRequest(err error) error {
	return &badRequest{err: err}
}

// NewBadRequestf returns a 'bad request' error in order to indicate to the caller that the request
// was invalid.
func NewBadRequestf(format string, a ...interface{}) error {
	return &badRequest{err: fmt.Errorf(format, a...)}
}

// IsBadRequest returns true if the given error is a 'bad request' error.
func IsBadRequest(err error) bool {
	return errors.As(err, &invalidRequestType)
}

// NewAuthError returns an authentication/authorization error. Auth errors are never retried:
// the cached security token must be invalidated and the error surfaced to the caller.
func NewAuthError(err error) error {
	return &authError{err: err}
}

// NewAuthErrorf returns an authentication/authorization error.
func NewAuthErrorf(format string, a ...interface{}) error {
	return &authError{err: fmt.Errorf(format, a...)}
}

// IsAuthError returns true if the given error is an auth error.
func IsAuthError(err error) bool {
	return errors.As(err, &authType)
}

// NewThrottled returns a 'throttled' error carrying the duration after which the caller may
// retry. A zero retryAfter means the server did not say; callers apply their own default.
func NewThrottled(err error, retryAfter time.Duration) error {
	return &throttled{err: err, retryAfter: retryAfter}
}

// IsThrottled returns true if the given error is a 'throttled' error.
func IsThrottled(err error) bool {
	return errors.As(err, &throttledType)
}

// RetryAfter returns the server-provided retry delay of a 'throttled' error, or zero.
func RetryAfter(err error) time.Duration {
	var t *throttled
	if errors.As(err, &t) {
		return t.retryAfter
	}

	return 0
}

// IsNotFound returns true if the given error indicates that an entity could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type transient struct {
	err error
}

func (e *transient) Error() string {
	return e.err.Error()
}

func (e *transient) Unwrap() error {
	return e.err
}

type badRequest struct {
	err error
}

func (e *badRequest) Error() string {
	return e.err.Error()
}

func (e *badRequest) Unwrap() error {
	return e.err
}

type authError struct {
	err error
}

func (e *authError) Error() string {
	return e.err.Error()
}

func (e *authError) Unwrap() error {
	return e.err
}

type throttled struct {
	err        error
	retryAfter time.Duration
}

func (e *throttled) Error() string {
	return e.err.Error()
}

func (e *throttled) Unwrap() error {
	return e.err
}
