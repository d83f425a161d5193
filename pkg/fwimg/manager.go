// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fwimg implements the secure firmware update state machine: the
// firmware state persisted in the active slot, candidate validation, the
// power-loss tolerant installation, and the rollback to the image an update
// was installed over.
//
// Every multi-step flash mutation leaves the flash decodable as a safe state
// when it is interrupted at any point. Operations are not safe for
// concurrent use.
package fwimg

import (
	"errors"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/layout"
	"github.com/linuxboot/sbsfu/pkg/log"
)

// Session is the RAM-only context of one boot cycle.
type Session struct {
	// HeaderToTest is the candidate found by CheckPendingInstallation.
	HeaderToTest *Header
	// HeaderValidated is the active header once VerifyActiveMetadata
	// succeeded.
	HeaderValidated *Header
	// RollbackDone is set once a rollback restored the previous image.
	RollbackDone bool
}

// Manager drives the firmware slots of a flash device.
type Manager struct {
	dev    flash.Device
	layout layout.Layout
	cfg    Config
	log    log.Logger

	active    flash.Access
	protected flash.Access
	download  flash.Access
	swap     flash.Access
	trailer  flash.Access

	state   *StateCodec
	session Session
}

// New returns a Manager for the slots of l on dev.
func New(dev flash.Device, l layout.Layout, opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop{}
	}
	if cfg.Verifier == nil {
		return nil, errors.New("no header signature verifier configured")
	}
	if cfg.Hasher == nil {
		return nil, errors.New("no hasher configured")
	}
	if l.PageSize != dev.PageSize() {
		return nil, fmt.Errorf("layout page size 0x%x does not match flash page size 0x%x", l.PageSize, dev.PageSize())
	}
	if err := l.Validate(dev.Size()); err != nil {
		return nil, fmt.Errorf("invalid slot layout: %w", err)
	}
	if l.PageSize/2 < ImageOffset {
		return nil, fmt.Errorf("half a page (0x%x) cannot hold the firmware header (0x%x)", l.PageSize/2, ImageOffset)
	}
	if trailerSize(l.MaxSwapBlocks()) > l.SwapSize() {
		return nil, fmt.Errorf("swap size 0x%x cannot hold the installation trailer", l.SwapSize())
	}
	protected, err := l.Active.Sub(ProtectedArea, 0, l.PageSize/2)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		dev:       dev,
		layout:    l,
		cfg:       cfg,
		log:       cfg.Logger,
		active:    flash.NewAccess(dev, l.Active),
		protected: flash.NewAccess(dev, protected),
		download:  flash.NewAccess(dev, l.Download),
		swap:      flash.NewAccess(dev, l.Swap),
		trailer:   flash.NewAccess(dev, l.Trailer()),
		state:     NewStateCodec(dev, l.Active, cfg.Logger),
	}
	return m, nil
}

// Layout returns the slot layout.
func (m *Manager) Layout() layout.Layout {
	return m.layout
}

// Session returns a copy of the current boot cycle context.
func (m *Manager) Session() Session {
	return m.session
}

// ResetSession drops every cached header, as done on a new boot cycle.
func (m *Manager) ResetSession() {
	m.session = Session{}
}

// StateCodec returns the codec of the active slot state.
func (m *Manager) StateCodec() *StateCodec {
	return m.state
}

func (m *Manager) refreshWatchdog() {
	if m.cfg.Watchdog != nil {
		m.cfg.Watchdog()
	}
}

func (m *Manager) progress(phase string, done, total int) {
	m.refreshWatchdog()
	if m.cfg.ProgressCallback != nil {
		m.cfg.ProgressCallback(Progress{Phase: phase, Done: done, Total: total})
	}
}

// maxImageSize is the largest TotalSize an installation can swap.
func (m *Manager) maxImageSize() uint32 {
	return m.layout.MaxSwapBlocks() * m.layout.SwapSize()
}
