// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"bytes"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

// FindBackupHeader returns the download slot offset of the header of the
// image saved by the last installation. It probes swap block boundaries
// from the block below the trailer downwards and stops at the first magic.
//
// The probe locations are a fixed format: an installation always saves the
// previous image one swap block above the start of the download slot. A
// body block starting with the magic is taken for a header, the
// fingerprint check rejects it then.
func (m *Manager) FindBackupHeader() (uint32, error) {
	w := int64(m.layout.SwapSize())
	magic := make([]byte, len(Magic))
	for off := int64(m.layout.Download.Size) - 2*w; off >= 0; off -= w {
		if err := readAt(m.download, uint32(off), magic); err != nil {
			return 0, err
		}
		if bytes.Equal(magic, Magic[:]) {
			m.log.Debugf("backup header candidate at download offset 0x%x", off)
			return uint32(off), nil
		}
	}
	return 0, ErrBackupNotFound
}

// RollbackFirmwareUpdate restores the image the active one was installed
// over. The active pages beyond the restored image are erased first, then
// the copy runs page by page from the end of the image to its start, so the
// header is rewritten last. The restored header gets a zero
// fingerprint, which forbids rolling back any further.
//
// On success the session records the rollback and the download slot is
// erased. On failure nothing is retried; the caller has to treat it as a
// fatal boot failure.
func (m *Manager) RollbackFirmwareUpdate() error {
	m.session.RollbackDone = false

	current, err := readValidHeader(m.active, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRollbackForbidden, err)
	}
	off, err := m.FindBackupHeader()
	if err != nil {
		return err
	}
	backup, err := readValidHeader(m.download, off)
	if err != nil {
		return err
	}
	if err := CheckUpdateSourceFingerprint(m.cfg.Hasher, current, backup); err != nil {
		m.log.Errorf("rollback to version %d refused: %v", backup.Version, err)
		return err
	}
	total := backup.TotalSize()
	if uint64(total) > uint64(m.layout.Active.Size) || uint64(off)+uint64(total) > uint64(m.layout.Download.Size) {
		return fmt.Errorf("%w: backup image of 0x%x bytes at 0x%x", ErrImageTooLarge, total, off)
	}
	m.log.Infof("rolling back from version %d to version %d", current.Version, backup.Version)

	// The pages beyond the restored image go first: once the header page is
	// rewritten the slot has to hold nothing but the restored image.
	ps := m.layout.PageSize
	tail := alignUp(total, ps)
	if err := eraseIfNeeded(m.active, tail, m.layout.Active.Size-tail); err != nil {
		return err
	}
	pages := int(tail / ps)
	for p := pages - 1; p >= 0; p-- {
		start := uint32(p) * ps
		n := ps
		if start+n > total {
			n = total - start
		}
		buf, err := readBytes(m.download, off+start, n)
		if err != nil {
			return err
		}
		if p == 0 {
			err = m.restoreHeaderPage(buf)
		} else {
			err = m.restorePage(start, buf)
		}
		if err != nil {
			return err
		}
		m.log.Debugf("rollback page %d/%d restored", pages-p, pages)
		m.progress("rollback", pages-p, pages)
	}

	m.session.RollbackDone = true
	m.session.HeaderValidated = nil
	m.log.Infof("version %d restored", backup.Version)
	if err := m.EraseDownloadedImage(); err != nil {
		return fmt.Errorf("rollback done, erasing the download slot failed: %w", err)
	}
	return nil
}

func (m *Manager) restorePage(start uint32, buf []byte) error {
	return eraseAndWriteAt(m.active, start, buf)
}

// restoreHeaderPage writes the first page of the restored image with a zero
// fingerprint. The page is written in two halves: the body half first, then
// the protected half holding the header.
func (m *Manager) restoreHeaderPage(buf []byte) error {
	page := make([]byte, m.layout.PageSize)
	for i := range page {
		page[i] = flash.ErasedValue
	}
	copy(page, buf)
	for i := fingerprintOffset; i < fingerprintOffset+fwcrypto.DigestSize; i++ {
		page[i] = 0
	}
	half := m.protectedSize()
	if err := m.EraseProtectedHeader(); err != nil {
		return err
	}
	if err := writeAt(m.active, half, page[half:]); err != nil {
		return err
	}
	return m.WriteProtectedHeader(0, page[:half])
}
