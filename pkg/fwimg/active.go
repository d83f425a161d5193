// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ActiveInfo is the unauthenticated description of the active image.
type ActiveInfo struct {
	Version uint32
	Size    uint32
	State   State
}

// GetActiveInfo reads the active header without authenticating it.
func (m *Manager) GetActiveInfo() (*ActiveInfo, error) {
	h, err := readHeader(m.active, 0)
	if err != nil {
		return nil, err
	}
	if !h.ValidMagic() {
		return nil, ErrNoActiveFirmware
	}
	info := &ActiveInfo{Version: h.Version, Size: h.Size}
	info.State, err = m.state.ReadState()
	if err != nil && !errors.Is(err, ErrStateCorrupt) {
		return nil, err
	}
	return info, nil
}

// GetActiveVersion returns the version of the authenticated active image.
// The boolean is false if there is no such image.
func (m *Manager) GetActiveVersion() (uint32, bool, error) {
	h, err := readHeader(m.active, 0)
	if err != nil {
		return 0, false, err
	}
	if !h.ValidMagic() {
		return 0, false, nil
	}
	if err := h.VerifySignature(m.cfg.Verifier); err != nil {
		m.log.Warnf("active header of version %d is not authentic: %v", h.Version, err)
		return 0, false, nil
	}
	return h.Version, true, nil
}

// VerifyActiveMetadata authenticates the active header and caches it in the
// session.
func (m *Manager) VerifyActiveMetadata() error {
	m.session.HeaderValidated = nil
	h, err := readValidHeader(m.active, 0)
	if err != nil {
		return err
	}
	if h.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: protocol version %d, expected %d", ErrHeaderCorrupt, h.ProtocolVersion, ProtocolVersion)
	}
	if err := h.VerifySignature(m.cfg.Verifier); err != nil {
		return err
	}
	if uint64(h.TotalSize()) > uint64(m.layout.Active.Size) || h.Size < VectorTableSize {
		return fmt.Errorf("%w: image size 0x%x", ErrHeaderCorrupt, h.Size)
	}
	m.session.HeaderValidated = h
	m.log.Debugf("active header %s authenticated", h)
	return nil
}

func (m *Manager) validatedHeader() (*Header, error) {
	if m.session.HeaderValidated == nil {
		return nil, fmt.Errorf("%w: active metadata not verified", ErrNoActiveFirmware)
	}
	return m.session.HeaderValidated, nil
}

// VerifyActiveImage checks the active body against the validated tag.
func (m *Manager) VerifyActiveImage() error {
	h, err := m.validatedHeader()
	if err != nil {
		return err
	}
	body, err := readBytes(m.active, ImageOffset, h.Size)
	if err != nil {
		return err
	}
	if m.cfg.Hasher.Sum(body) != h.Tag {
		return fmt.Errorf("%w: active version %d", ErrTagMismatch, h.Version)
	}
	return nil
}

// ControlActiveTag checks the active tag a second time, right before a
// launch.
func (m *Manager) ControlActiveTag() error {
	return m.VerifyActiveImage()
}

// VerifyActiveSlot checks that nothing is stored in the active slot after
// the validated image.
func (m *Manager) VerifyActiveSlot() error {
	h, err := m.validatedHeader()
	if err != nil {
		return err
	}
	end := h.TotalSize()
	ok, err := isErased(m.active, end, m.layout.Active.Size-end)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: data after the active image at offset 0x%x", ErrSlotNotEmpty, end)
	}
	return nil
}

// VerifyEmptyActiveSlot checks that the active slot is fully erased.
func (m *Manager) VerifyEmptyActiveSlot() error {
	ok, err := isErased(m.active, 0, m.layout.Active.Size)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotNotEmpty, m.layout.Active)
	}
	return nil
}

// VerifyDownloadSlotEmpty checks that the download slot is fully erased.
func (m *Manager) VerifyDownloadSlotEmpty() error {
	ok, err := isErased(m.download, 0, m.layout.Download.Size)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotNotEmpty, m.layout.Download)
	}
	return nil
}

// HasValidActiveFirmware returns true if the active image is authentic,
// matches its tag and is in state Valid.
func (m *Manager) HasValidActiveFirmware() bool {
	if err := m.VerifyActiveMetadata(); err != nil {
		m.log.Debugf("no valid active firmware: %v", err)
		return false
	}
	if err := m.VerifyActiveImage(); err != nil {
		m.log.Debugf("no valid active firmware: %v", err)
		return false
	}
	s, err := m.state.ReadStateGlitchResistant()
	if err != nil {
		m.log.Debugf("no valid active firmware: %v", err)
		return false
	}
	return s == StateValid
}

// CheckImageState advances the active image through its life cycle at boot:
//
//	New      -> SelfTest, the image runs under test
//	SelfTest -> Invalid and rollback, the previous self-test never completed
//	Valid    -> nothing to do
//	Invalid  -> rollback
//	Unknown  -> rollback
//
// It returns nil if the active image may be launched. A disagreement of the
// redundant state reads is returned as is, without any action.
func (m *Manager) CheckImageState() error {
	s, err := m.state.ReadStateGlitchResistant()
	switch {
	case err == nil:
	case errors.Is(err, ErrStateCorrupt):
		m.log.Errorf("active firmware state: %v", err)
		s = StateUnknown
	default:
		return err
	}
	m.log.Infof("active firmware state is %s", s)

	switch s {
	case StateNew:
		return m.SetBootloaderState(StateSelfTest)
	case StateValid:
		return nil
	case StateSelfTest:
		m.log.Warnf("self-test of the active image did not complete")
		if err := m.SetBootloaderState(StateInvalid); err != nil {
			return err
		}
	}
	rejected := fmt.Errorf("%w: state %s", ErrImageRejected, s)
	if err := m.RollbackFirmwareUpdate(); err != nil {
		m.log.Errorf("rollback failed: %v", err)
		return multierror.Append(rejected, err)
	}
	return rejected
}

// LaunchActiveImage scrubs the boot stage secrets and jumps to the entry
// point of the active image. It only returns on failure.
func (m *Manager) LaunchActiveImage() error {
	h, err := m.validatedHeader()
	if err != nil {
		return err
	}
	if m.cfg.Launcher == nil {
		return ErrNoLauncher
	}
	vt, err := readBytes(m.active, ImageOffset, VectorTableSize)
	if err != nil {
		return err
	}
	sp := binary.LittleEndian.Uint32(vt[0:4])
	entry := binary.LittleEndian.Uint32(vt[4:8])
	m.log.Infof("launching version %d at 0x%08x", h.Version, entry)

	if m.cfg.SecretScrubber != nil {
		m.cfg.SecretScrubber()
	}
	m.session = Session{}
	m.cfg.Launcher.Jump(sp, entry)
	return ErrLaunchReturned
}

// InvalidateCurrentFirmware destroys the active image but keeps its header,
// so its version still bounds the anti-rollback check. The body of the
// first page is cleared to zero instead of erased, the header page is never
// erased.
func (m *Manager) InvalidateCurrentFirmware() error {
	ps := m.layout.PageSize
	if err := eraseIfNeeded(m.active, ps, m.layout.Active.Size-ps); err != nil {
		return err
	}
	if err := writeAt(m.active, ImageOffset, make([]byte, ps-ImageOffset)); err != nil {
		return err
	}
	m.session.HeaderValidated = nil
	m.log.Warnf("active firmware invalidated")
	return nil
}
