// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and adds error codes, so callers can
// classify a failure (for example a connection failure versus a malformed
// store response) no matter how many times it has been wrapped.
package errors

import (
	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// ErrConnection covers transport failures: the target could not be
	// reached, or it answered a whole request with a non-success status.
	ErrConnection Code = "Connection"

	// ErrMalformedResponse is returned when a store response does not have
	// the expected shape, e.g. an operation result which is neither a
	// success nor a failure, or a result for an id that was never sent.
	ErrMalformedResponse Code = "MalformedResponse"

	// ErrInvalidConfig is returned when a configuration is rejected.
	ErrInvalidConfig Code = "InvalidConfig"

	// ErrSource is returned when records could not be read.
	ErrSource Code = "Source"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is like New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, errors.Errorf(format, args...).Error())
}

// Mark attaches code to err, keeping err's message. A nil err stays nil.
func Mark(err error, code Code) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(codedError{
		Code:    code,
		Message: err.Error(),
		cause:   err,
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// the empty Code if there is none.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string

	// cause is set by Mark so the original error stays reachable through
	// errors.As and errors.Unwrap.
	cause error
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Unwrap() error {
	return ce.cause
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
