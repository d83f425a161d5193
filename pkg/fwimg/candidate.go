// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/sbsfu/pkg/compression"
)

// PendingState tells whether an installation has to be performed.
type PendingState int

const (
	// NoPendingInstallation means the download slot holds no candidate.
	NoPendingInstallation PendingState = iota
	// StoppedUpdate means an installation was interrupted and has to be
	// resumed.
	StoppedUpdate
	// ReadyToInstall means a candidate waits in the download slot.
	ReadyToInstall
)

func (s PendingState) String() string {
	switch s {
	case NoPendingInstallation:
		return "NoPendingInstallation"
	case StoppedUpdate:
		return "StoppedUpdate"
	case ReadyToInstall:
		return "ReadyToInstall"
	}
	return fmt.Sprintf("PendingState(%d)", int(s))
}

// CheckPendingInstallation looks for an interrupted installation first and
// then for a candidate in the download slot. The candidate header is kept in
// the session.
func (m *Manager) CheckPendingInstallation() (PendingState, error) {
	m.session.HeaderToTest = nil

	t, err := m.readTrailer()
	if err != nil {
		return NoPendingInstallation, err
	}
	if t != nil {
		m.log.Infof("interrupted installation of version %d found (%d swap blocks)", t.Header.Version, t.Blocks)
		m.session.HeaderToTest = &t.Header
		return StoppedUpdate, nil
	}

	h, err := readHeader(m.download, 0)
	if err != nil {
		return NoPendingInstallation, err
	}
	if !h.ValidMagic() {
		m.log.Debugf("no candidate in the download slot")
		return NoPendingInstallation, nil
	}
	m.log.Infof("candidate %s ready to install", h)
	m.session.HeaderToTest = h
	return ReadyToInstall, nil
}

// ValidateVersion applies the anti-rollback rule: a candidate must be newer
// than the active image, or not older than minVersion if there is none.
func ValidateVersion(current uint32, hasCurrent bool, candidate, minVersion uint32) error {
	if hasCurrent {
		if candidate > current {
			return nil
		}
	} else if candidate >= minVersion {
		return nil
	}
	return &VersionRejectedError{
		Candidate:  candidate,
		Current:    current,
		HasCurrent: hasCurrent,
		Min:        minVersion,
	}
}

// CheckCandidateMetadata authenticates the candidate header and checks it
// against the slot geometry and the anti-rollback rule. A rejected version
// erases the candidate header and the swap region, so the same candidate is
// not retried on every boot.
func (m *Manager) CheckCandidateMetadata() error {
	h := m.session.HeaderToTest
	if h == nil {
		var err error
		if h, err = readValidHeader(m.download, 0); err != nil {
			return err
		}
		m.session.HeaderToTest = h
	}
	if err := m.checkCandidateHeader(h); err != nil {
		return err
	}

	current, hasCurrent, err := m.GetActiveVersion()
	if err != nil {
		return err
	}
	if err := ValidateVersion(current, hasCurrent, h.Version, m.cfg.MinVersion); err != nil {
		m.log.Errorf("candidate rejected: %v", err)
		if eraseErr := m.eraseRejectedCandidate(); eraseErr != nil {
			return multierror.Append(err, eraseErr)
		}
		return err
	}
	return nil
}

func (m *Manager) checkCandidateHeader(h *Header) error {
	if !h.ValidMagic() {
		return &HeaderCorruptError{Addr: m.layout.Download.Base, Magic: h.Magic}
	}
	if h.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: protocol version %d, expected %d", ErrHeaderCorrupt, h.ProtocolVersion, ProtocolVersion)
	}
	if err := h.VerifySignature(m.cfg.Verifier); err != nil {
		return err
	}
	if h.Size < VectorTableSize {
		return fmt.Errorf("%w: image of 0x%x bytes has no vector table", ErrHeaderCorrupt, h.Size)
	}
	if uint64(h.TotalSize()) > uint64(m.maxImageSize()) {
		return fmt.Errorf("%w: 0x%x bytes, at most 0x%x can be installed", ErrImageTooLarge, h.TotalSize(), m.maxImageSize())
	}
	if !m.cfg.Encodings[h.Encoding] || (h.Encoding != compression.None && compression.FromID(h.Encoding) == nil) {
		return fmt.Errorf("%w: %s", ErrEncoding, h.Encoding)
	}
	if uint64(ImageOffset)+uint64(h.PayloadSize()) > uint64(m.maxImageSize()) {
		return fmt.Errorf("%w: payload of 0x%x bytes", ErrImageTooLarge, h.PayloadSize())
	}
	return nil
}

// eraseRejectedCandidate erases the swap region and the candidate header
// page.
func (m *Manager) eraseRejectedCandidate() error {
	var result *multierror.Error
	if err := eraseAt(m.swap, 0, m.layout.Swap.Size); err != nil {
		result = multierror.Append(result, err)
	}
	if err := eraseAt(m.download, 0, m.layout.PageSize); err != nil {
		result = multierror.Append(result, err)
	}
	m.session.HeaderToTest = nil
	return result.ErrorOrNil()
}
