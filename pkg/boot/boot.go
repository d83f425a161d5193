// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boot runs the boot cycle of the secure bootloader on top of
// fwimg: install or resume a pending update, authenticate the active image,
// advance its state and launch it.
package boot

import (
	"errors"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/fwimg"
	"github.com/linuxboot/sbsfu/pkg/log"
)

// Step is a step of the boot cycle.
type Step int

// Boot cycle steps, in execution order.
const (
	StepCheckPending Step = iota
	StepInstall
	StepResume
	StepVerifyActive
	StepCheckImageState
	StepLaunch
)

func (s Step) String() string {
	switch s {
	case StepCheckPending:
		return "CheckPending"
	case StepInstall:
		return "Install"
	case StepResume:
		return "Resume"
	case StepVerifyActive:
		return "VerifyActive"
	case StepCheckImageState:
		return "CheckImageState"
	case StepLaunch:
		return "Launch"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// ErrResetRequired is returned when the cycle changed the active image and
// the device has to be reset before booting again.
var ErrResetRequired = errors.New("reset required")

// StepError records the step a boot cycle failed at.
type StepError struct {
	Step Step
	Err  error
}

func (err *StepError) Error() string {
	return fmt.Sprintf("boot step %s failed: %v", err.Step, err.Err)
}

func (err *StepError) Unwrap() error {
	return err.Err
}

// Bootloader runs boot cycles.
type Bootloader struct {
	m   *fwimg.Manager
	log log.Logger

	// LastExecError is the outcome of the last cycle.
	LastExecError error
	// Cycles counts the cycles run.
	Cycles int
}

// New returns a Bootloader driving m.
func New(m *fwimg.Manager, logger log.Logger) *Bootloader {
	if logger == nil {
		logger = log.DefaultLogger
	}
	return &Bootloader{m: m, log: logger}
}

// Run performs one boot cycle. It only returns if the active image could
// not be launched; the error tells at which step.
func (b *Bootloader) Run() error {
	b.Cycles++
	if b.LastExecError != nil {
		b.log.Warnf("previous boot cycle failed: %v", b.LastExecError)
	}
	err := b.cycle()
	b.LastExecError = err
	return err
}

// RunUntilLaunch runs boot cycles as long as they request a reset, at most
// maxCycles times.
func (b *Bootloader) RunUntilLaunch(maxCycles int) error {
	var err error
	for i := 0; i < maxCycles; i++ {
		if err = b.Run(); !errors.Is(err, ErrResetRequired) {
			return err
		}
		b.log.Infof("resetting")
	}
	return err
}

func fail(step Step, err error) error {
	return &StepError{Step: step, Err: err}
}

func (b *Bootloader) cycle() error {
	m := b.m
	m.ResetSession()

	pending, err := m.CheckPendingInstallation()
	if err != nil {
		return fail(StepCheckPending, err)
	}
	switch pending {
	case fwimg.StoppedUpdate:
		if err := m.TriggerResumeInstallation(); err != nil {
			return fail(StepResume, err)
		}
	case fwimg.ReadyToInstall:
		if err := b.install(); err != nil {
			return err
		}
	}

	if err := m.VerifyActiveMetadata(); err != nil {
		return fail(StepVerifyActive, err)
	}
	if err := m.CheckImageState(); err != nil {
		if m.Session().RollbackDone {
			return fail(StepCheckImageState, fmt.Errorf("%w: %w", ErrResetRequired, err))
		}
		return fail(StepCheckImageState, err)
	}
	for _, verify := range []func() error{m.VerifyActiveImage, m.VerifyActiveSlot} {
		if err := verify(); err != nil {
			b.log.Errorf("active image rejected, invalidating it: %v", err)
			if invErr := m.InvalidateCurrentFirmware(); invErr != nil {
				b.log.Errorf("unable to invalidate the active image: %v", invErr)
			}
			return fail(StepVerifyActive, err)
		}
	}
	if err := m.ControlActiveTag(); err != nil {
		return fail(StepVerifyActive, err)
	}
	return fail(StepLaunch, m.LaunchActiveImage())
}

// install installs the candidate found in the download slot. A candidate
// which is not acceptable is dropped and the current image is booted.
func (b *Bootloader) install() error {
	m := b.m
	if err := m.CheckCandidateMetadata(); err != nil {
		b.log.Errorf("candidate rejected: %v", err)
		if !errors.Is(err, fwimg.ErrVersionRejected) {
			if eraseErr := m.EraseDownloadedImage(); eraseErr != nil {
				return fail(StepInstall, eraseErr)
			}
		}
		return nil
	}
	if err := m.TriggerInstallation(); err != nil {
		return fail(StepInstall, err)
	}
	return nil
}
