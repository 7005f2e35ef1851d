// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package apierrors defines the small error taxonomy described in spec §7:
// NotFound, PermissionMismatch, Validation, ProviderUnavailable,
// ProviderTransient, PluginFailure and Cancelled. Handlers and core callers
// can classify an error with the Is* helpers instead of string matching.
package apierrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates the error taxonomy.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindPermissionMismatch  Kind = "PermissionMismatch"
	KindValidation          Kind = "Validation"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindProviderTransient   Kind = "ProviderTransient"
	KindPluginFailure       Kind = "PluginFailure"
	KindCancelled           Kind = "Cancelled"
)

// Error is a typed, wrapped error carrying a Kind for classification.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound builds a NotFound error, e.g. a missing job/workflow/provider.
func NewNotFound(format string, args ...interface{}) error { return newErr(KindNotFound, format, args...) }

// NewPermissionMismatch builds a PermissionMismatch error: the resource
// exists but does not belong to the requesting experiment/team.
func NewPermissionMismatch(format string, args ...interface{}) error {
	return newErr(KindPermissionMismatch, format, args...)
}

// NewValidation builds a Validation error for malformed input.
func NewValidation(format string, args ...interface{}) error { return newErr(KindValidation, format, args...) }

// NewProviderUnavailable builds a ProviderUnavailable error (check() is false).
func NewProviderUnavailable(format string, args ...interface{}) error {
	return newErr(KindProviderUnavailable, format, args...)
}

// NewProviderTransient wraps a transient provider-side failure (timeouts, 5xx).
func NewProviderTransient(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindProviderTransient, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NewPluginFailure wraps a non-zero plugin exit.
func NewPluginFailure(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindPluginFailure, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NewCancelled builds a Cancelled error for voluntary user cancellation.
func NewCancelled(format string, args ...interface{}) error { return newErr(KindCancelled, format, args...) }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Wrap adds stack context to an arbitrary error via github.com/pkg/errors,
// used at package boundaries where a plain error crosses into core code.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}
