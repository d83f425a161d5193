// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"github.com/hashicorp/go-multierror"
)

// TriggerInstallation prepares the candidate found by
// CheckPendingInstallation and swaps it into the active slot. A candidate
// which cannot be prepared is erased together with the swap region.
//
// Once it returns nil the active slot holds the candidate in state New.
// If it fails during the swap, TriggerResumeInstallation completes it.
func (m *Manager) TriggerInstallation() error {
	h := m.session.HeaderToTest
	if h == nil {
		var err error
		if h, err = readValidHeader(m.download, 0); err != nil {
			return err
		}
	}
	prepared, err := m.prepareCandidate(h)
	if err != nil {
		m.log.Errorf("candidate version %d cannot be prepared: %v", h.Version, err)
		if eraseErr := m.EraseDownloadedImage(); eraseErr != nil {
			return multierror.Append(err, eraseErr)
		}
		return err
	}
	m.session.HeaderToTest = prepared
	return m.startInstallation(prepared)
}

// TriggerResumeInstallation completes an interrupted installation from the
// first step its trailer does not mark as done. It may be called any number
// of times.
func (m *Manager) TriggerResumeInstallation() error {
	t, err := m.readTrailer()
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNoInstallation
	}
	m.log.Infof("resuming installation of version %d", t.Header.Version)
	return m.runInstallation(t)
}

// EraseDownloadedImage erases the download slot and the swap region.
func (m *Manager) EraseDownloadedImage() error {
	var result *multierror.Error
	if err := eraseAt(m.download, 0, m.layout.Download.Size); err != nil {
		result = multierror.Append(result, err)
	}
	if err := eraseAt(m.swap, 0, m.layout.Swap.Size); err != nil {
		result = multierror.Append(result, err)
	}
	m.session.HeaderToTest = nil
	return result.ErrorOrNil()
}
