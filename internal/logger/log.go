// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

// Package logger provides the thin klog wrapper used by every package in
// this module, so call sites never import k8s.io/klog/v2 directly.
package logger

import (
	"k8s.io/klog/v2"
)

// Infof logs an informational message.
func Infof(format string, args ...interface{}) {
	klog.Infof(format, args...)
}

// Warningf logs a warning.
func Warningf(format string, args ...interface{}) {
	klog.Warningf(format, args...)
}

// Errorf logs an error message without a structured error value.
func Errorf(format string, args ...interface{}) {
	klog.Errorf(format, args...)
}

// ErrorS logs an error with structured key/value pairs.
func ErrorS(err error, msg string, keysAndValues ...interface{}) {
	klog.ErrorS(err, msg, keysAndValues...)
}

// Info logs an informational message built from its arguments.
func Info(args ...interface{}) {
	klog.Info(args...)
}
