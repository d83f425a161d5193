// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
	"github.com/linuxboot/sbsfu/pkg/log"
)

// Launcher transfers control to an image. Jump does not return on success.
type Launcher interface {
	Jump(stackPointer, entryPoint uint32)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(stackPointer, entryPoint uint32)

// Jump implements Launcher.
func (f LauncherFunc) Jump(stackPointer, entryPoint uint32) {
	f(stackPointer, entryPoint)
}

// Progress describes the advance of a long running operation.
type Progress struct {
	// Phase is one of "prepare", "install" and "rollback".
	Phase string
	Done  int
	Total int
}

// ProgressCallback is called after every step of a long running operation.
type ProgressCallback func(Progress)

// Config holds the Manager configuration.
type Config struct {
	Logger   log.Logger
	Hasher   fwcrypto.Hasher
	Verifier fwcrypto.Verifier

	// Watchdog is refreshed between the steps of long running operations.
	Watchdog func()

	Launcher Launcher

	// SecretScrubber clears boot stage secrets before a launch.
	SecretScrubber func()

	ProgressCallback ProgressCallback

	// MinVersion is the lowest version accepted when no image is active.
	MinVersion uint32

	// Encodings lists the payload encodings a candidate may use.
	Encodings map[compression.ID]bool
}

func defaultConfig() Config {
	return Config{
		Logger: log.DefaultLogger,
		Hasher: fwcrypto.SHA256,
		Encodings: map[compression.ID]bool{
			compression.None:   true,
			compression.IDLZ4:  true,
			compression.IDXZ:   true,
			compression.IDZstd: true,
			compression.IDLZMA: true,
			compression.IDZLIB: true,
		},
	}
}

// Option is a functional option for configuring the Manager.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithHasher sets the digest used for tags and fingerprints.
func WithHasher(h fwcrypto.Hasher) Option {
	return func(c *Config) {
		c.Hasher = h
	}
}

// WithVerifier sets the header signature verifier. It is mandatory.
func WithVerifier(v fwcrypto.Verifier) Option {
	return func(c *Config) {
		c.Verifier = v
	}
}

// WithWatchdog sets the function refreshing the watchdog.
func WithWatchdog(refresh func()) Option {
	return func(c *Config) {
		c.Watchdog = refresh
	}
}

// WithLauncher sets how the active image is started.
func WithLauncher(l Launcher) Option {
	return func(c *Config) {
		c.Launcher = l
	}
}

// WithSecretScrubber sets the function clearing secrets before a launch.
func WithSecretScrubber(scrub func()) Option {
	return func(c *Config) {
		c.SecretScrubber = scrub
	}
}

// WithProgressCallback sets a callback to track long running operations.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}

// WithMinVersion sets the lowest version accepted on an empty device.
func WithMinVersion(v uint32) Option {
	return func(c *Config) {
		c.MinVersion = v
	}
}

// WithEncodings restricts the accepted candidate encodings. Raw candidates
// are always accepted.
func WithEncodings(ids ...compression.ID) Option {
	return func(c *Config) {
		c.Encodings = map[compression.ID]bool{compression.None: true}
		for _, id := range ids {
			c.Encodings[id] = true
		}
	}
}
