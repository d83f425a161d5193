// Copyright 2021 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"log"
	"os"
	"sync/atomic"
)

// Logger describes a logger to be used in sbsfu.
type Logger interface {
	// Debugf logs a debug message. It is dropped unless debugging is enabled.
	Debugf(format string, args ...interface{})

	// Infof logs an informational message.
	Infof(format string, args ...interface{})

	// Warnf logs an warning message.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})

	// Fatalf logs a fatal message and immediately exits the application
	// with os.Exit.
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere within sbsfu.
var DefaultLogger Logger

var debug atomic.Bool

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

// SetDebug enables or disables debug messages of the DefaultLogger.
func SetDebug(enabled bool) {
	debug.Store(enabled)
}

type logWrapper struct {
	Logger *log.Logger
}

// Debugf implements Logger.
func (logger logWrapper) Debugf(format string, args ...interface{}) {
	if !debug.Load() {
		return
	}
	logger.Logger.Printf("[sbsfu][DEBUG] "+format, args...)
}

// Infof implements Logger.
func (logger logWrapper) Infof(format string, args ...interface{}) {
	logger.Logger.Printf("[sbsfu][INFO] "+format, args...)
}

// Warnf implements Logger.
func (logger logWrapper) Warnf(format string, args ...interface{}) {
	logger.Logger.Printf("[sbsfu][WARN] "+format, args...)
}

// Errorf implements Logger.
func (logger logWrapper) Errorf(format string, args ...interface{}) {
	logger.Logger.Printf("[sbsfu][ERROR] "+format, args...)
}

// Fatalf implements Logger.
func (logger logWrapper) Fatalf(format string, args ...interface{}) {
	logger.Logger.Fatalf("[sbsfu][FATAL] "+format, args...)
}

// Nop is a Logger which drops everything except Fatalf, which still exits.
type Nop struct{}

// Debugf implements Logger.
func (Nop) Debugf(string, ...interface{}) {}

// Infof implements Logger.
func (Nop) Infof(string, ...interface{}) {}

// Warnf implements Logger.
func (Nop) Warnf(string, ...interface{}) {}

// Errorf implements Logger.
func (Nop) Errorf(string, ...interface{}) {}

// Fatalf implements Logger.
func (Nop) Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	DefaultLogger.Debugf(format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...interface{}) {
	DefaultLogger.Infof(format, args...)
}

// Warnf logs an warning message.
func Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf(format, args...)
}

// Fatalf logs a fatal message and immediately exits the application
// with os.Exit (which is expected to be called by the DefaultLogger.Fatalf).
func Fatalf(format string, args ...interface{}) {
	DefaultLogger.Fatalf(format, args...)
}
