// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

// The protected area is the first half of the first page of the active slot.
// It holds the header and the state sub-regions. Accesses through the
// functions below go through an Access bound to it, so that a write to the
// active header can never spill over into the image body.

// ProtectedArea is the FMAP-style name of the protected header area.
const ProtectedArea = "PROTECTED_HEADER"

func (m *Manager) protectedSize() uint32 {
	return m.protected.Region.Size
}

// ReadProtectedHeader reads from the protected header area of the active
// slot.
func (m *Manager) ReadProtectedHeader(off uint32, buf []byte) error {
	return readAt(m.protected, off, buf)
}

// WriteProtectedHeader programs data into the protected header area of the
// active slot.
func (m *Manager) WriteProtectedHeader(off uint32, data []byte) error {
	return writeAt(m.protected, off, data)
}

// EraseProtectedHeader erases the page holding the protected header area.
// The first half page of the body is erased as well.
func (m *Manager) EraseProtectedHeader() error {
	return eraseAt(m.active, 0, m.layout.PageSize)
}
