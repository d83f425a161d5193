// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"errors"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/flash"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid firmware state transition")

	// ErrGlitchDetected means the redundant reads of a firmware state
	// disagreed.
	ErrGlitchDetected = errors.New("firmware state reads disagree, glitch detected")

	// ErrStateCorrupt means a state sub-region is neither erased nor
	// cleared.
	ErrStateCorrupt = errors.New("firmware state sub-region is corrupt")

	// ErrVersionRejected is matched by every *VersionRejectedError.
	ErrVersionRejected = errors.New("firmware version rejected")

	// ErrHeaderCorrupt is matched by every *HeaderCorruptError.
	ErrHeaderCorrupt = errors.New("firmware header is corrupt")

	// ErrZeroFingerprint means the active image does not permit a rollback.
	ErrZeroFingerprint = errors.New("update source fingerprint is zero")

	// ErrFingerprintMismatch means the backup image is not the one the
	// active image was installed from.
	ErrFingerprintMismatch = errors.New("update source fingerprint mismatch")

	ErrBackupNotFound    = errors.New("no backup firmware header found")
	ErrNoActiveFirmware  = errors.New("no active firmware")
	ErrSlotNotEmpty      = errors.New("slot is not empty")
	ErrTagMismatch       = errors.New("firmware tag mismatch")
	ErrBadSignature      = errors.New("firmware header signature is invalid")
	ErrImageTooLarge     = errors.New("firmware image does not fit")
	ErrEncoding          = errors.New("unsupported firmware encoding")
	ErrImageRejected     = errors.New("active firmware image rejected")
	ErrLaunchReturned    = errors.New("launched image returned control")
	ErrNoLauncher        = errors.New("no launcher configured")
	ErrNoInstallation    = errors.New("no installation to resume")
	ErrRollbackForbidden = errors.New("rollback not permitted")
)

// FlashIOError reports a failed flash primitive.
type FlashIOError struct {
	Op   string
	Addr flash.Address
	Len  uint32
	Err  error
}

func (err *FlashIOError) Error() string {
	return fmt.Sprintf("flash %s of 0x%x bytes at %s failed: %v", err.Op, err.Len, err.Addr, err.Err)
}

func (err *FlashIOError) Unwrap() error {
	return err.Err
}

// InvalidTransitionError is returned when a state change is not permitted.
// Current is the persisted state when it was the reason of the rejection.
type InvalidTransitionError struct {
	From, To State
	Current  State
}

func (err *InvalidTransitionError) Error() string {
	if err.Current != err.From {
		return fmt.Sprintf("cannot switch firmware state from %s to %s: current state is %s", err.From, err.To, err.Current)
	}
	return fmt.Sprintf("cannot switch firmware state from %s to %s", err.From, err.To)
}

// Is implements errors.Is.
func (err *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// VersionRejectedError is returned when a candidate violates the
// anti-rollback rule.
type VersionRejectedError struct {
	Candidate uint32
	// Current is only meaningful when HasCurrent is set, otherwise Min was
	// the bound.
	Current    uint32
	HasCurrent bool
	Min        uint32
}

func (err *VersionRejectedError) Error() string {
	if err.HasCurrent {
		return fmt.Sprintf("candidate version %d is not greater than active version %d", err.Candidate, err.Current)
	}
	return fmt.Sprintf("candidate version %d is lower than minimum version %d", err.Candidate, err.Min)
}

// Is implements errors.Is.
func (err *VersionRejectedError) Is(target error) bool {
	return target == ErrVersionRejected
}

// HeaderCorruptError is returned when no valid header magic is found where a
// header is expected.
type HeaderCorruptError struct {
	Addr  flash.Address
	Magic [4]byte
}

func (err *HeaderCorruptError) Error() string {
	return fmt.Sprintf("invalid firmware header magic %q at %s", err.Magic[:], err.Addr)
}

// Is implements errors.Is.
func (err *HeaderCorruptError) Is(target error) bool {
	return target == ErrHeaderCorrupt
}
