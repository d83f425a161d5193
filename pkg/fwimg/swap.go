// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// The installation exchanges the active and the download slot one swap
// block at a time, from the highest block down to block 0:
//
//	(a) download block i -> swap
//	(b) active block i   -> download block i+1
//	(c) swap             -> active block i
//
// Afterwards the download slot holds the previous image shifted by one
// block, which is where a rollback finds it. Each completed step clears one
// marker byte in the trailer, the last swap block of the download slot, so
// an interrupted installation resumes at the first step not marked.

var trailerMagic = [8]byte{'S', 'F', 'U', 'T', 'R', 'A', 'I', 'L'}

const (
	trailerMarkersOffset = 256
	stepsPerBlock        = 3
	markerDone           = 0x00
)

func trailerSize(blocks uint32) uint32 {
	return trailerMarkersOffset + blocks*stepsPerBlock
}

type trailer struct {
	Magic    [8]byte
	Blocks   uint32
	Reserved uint32
	// Header is the candidate header as it is installed, except for the
	// update source fingerprint.
	Header Header
}

func alignUp(v, align uint32) uint32 {
	if v%align == 0 {
		return v
	}
	return v + align - v%align
}

// readTrailer returns the trailer of an interrupted installation, or nil if
// there is none.
func (m *Manager) readTrailer() (*trailer, error) {
	b, err := readBytes(m.trailer, 0, trailerMarkersOffset)
	if err != nil {
		return nil, err
	}
	var t trailer
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &t); err != nil {
		return nil, fmt.Errorf("unable to parse the installation trailer: %w", err)
	}
	if t.Magic != trailerMagic {
		return nil, nil
	}
	if t.Blocks == 0 || t.Blocks > m.layout.MaxSwapBlocks() || !t.Header.ValidMagic() {
		m.log.Warnf("ignoring inconsistent installation trailer (%d blocks)", t.Blocks)
		return nil, nil
	}
	return &t, nil
}

// writeTrailer persists t. The magic is programmed last, so a trailer is
// never considered valid before it is complete.
func (m *Manager) writeTrailer(t *trailer) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, t); err != nil {
		return fmt.Errorf("unable to serialize the installation trailer: %w", err)
	}
	b := buf.Bytes()
	if err := eraseAt(m.trailer, 0, m.layout.SwapSize()); err != nil {
		return err
	}
	if err := writeAt(m.trailer, uint32(len(t.Magic)), b[len(t.Magic):]); err != nil {
		return err
	}
	return writeAt(m.trailer, 0, b[:len(t.Magic)])
}

func (m *Manager) startInstallation(h *Header) error {
	var oldTotal uint32
	old, err := readHeader(m.active, 0)
	if err != nil {
		return err
	}
	if old.ValidMagic() {
		oldTotal = old.TotalSize()
	}
	total := h.TotalSize()
	if oldTotal > total {
		total = oldTotal
	}
	w := m.layout.SwapSize()
	blocks := alignUp(total, w) / w
	if blocks > m.layout.MaxSwapBlocks() {
		return fmt.Errorf("%w: swapping 0x%x bytes needs %d blocks, %d available",
			ErrImageTooLarge, total, blocks, m.layout.MaxSwapBlocks())
	}

	t := &trailer{Magic: trailerMagic, Blocks: blocks, Header: *h}
	t.Header.UpdateSourceFingerprint = [32]byte{}
	if err := m.writeTrailer(t); err != nil {
		return err
	}
	m.log.Infof("installing version %d: %d swap blocks of 0x%x bytes", h.Version, blocks, w)
	return m.runInstallation(t)
}

func (m *Manager) runInstallation(t *trailer) error {
	n := t.Blocks
	markers, err := readBytes(m.trailer, trailerMarkersOffset, n*stepsPerBlock)
	if err != nil {
		return err
	}
	for j := uint32(0); j < n; j++ {
		i := n - 1 - j
		for step := uint32(0); step < stepsPerBlock; step++ {
			idx := j*stepsPerBlock + step
			if markers[idx] == markerDone {
				continue
			}
			m.log.Debugf("swap block %d step %d", i, step)
			if err := m.swapStep(i, step); err != nil {
				return fmt.Errorf("swap block %d step %d: %w", i, step, err)
			}
			if err := writeAt(m.trailer, trailerMarkersOffset+idx, []byte{markerDone}); err != nil {
				return err
			}
		}
		m.progress("install", int(j+1), int(n))
	}
	return m.finishInstallation(t)
}

func (m *Manager) swapStep(block, step uint32) error {
	w := m.layout.SwapSize()
	off := block * w
	switch step {
	case 0:
		buf, err := readBytes(m.download, off, w)
		if err != nil {
			return err
		}
		if err := eraseAt(m.swap, 0, w); err != nil {
			return err
		}
		return writeAt(m.swap, 0, buf)
	case 1:
		buf, err := readBytes(m.active, off, w)
		if err != nil {
			return err
		}
		if err := eraseAt(m.download, off+w, w); err != nil {
			return err
		}
		return writeAt(m.download, off+w, buf)
	case 2:
		buf, err := readBytes(m.swap, 0, w)
		if err != nil {
			return err
		}
		if block == 0 {
			if err := m.patchInstalledHeader(buf); err != nil {
				return err
			}
		}
		if err := eraseAt(m.active, off, w); err != nil {
			return err
		}
		return writeAt(m.active, off, buf)
	}
	return fmt.Errorf("invalid swap step %d", step)
}

// patchInstalledHeader records the previous image, saved at download block
// 1 by then, as the update source of the header in buf and resets the state
// to New.
func (m *Manager) patchInstalledHeader(buf []byte) error {
	h, err := ParseHeader(buf)
	if err != nil {
		return err
	}
	old, err := readHeader(m.download, m.layout.SwapSize())
	if err != nil {
		return err
	}
	SetUpdateSourceFingerprint(m.cfg.Hasher, h, old)
	if old.ValidMagic() {
		m.log.Infof("update source fingerprint set to version %d", old.Version)
	} else {
		m.log.Warnf("no previous image, rollback will not be permitted")
	}
	copy(buf, h.Bytes())
	state, err := EncodeState(StateNew)
	if err != nil {
		return err
	}
	copy(buf[HeaderSize:ImageOffset], state)
	return nil
}

// finishInstallation cleans up after the last swap step. The trailer is
// erased last, so every step here is replayed if it is interrupted.
func (m *Manager) finishInstallation(t *trailer) error {
	tail := alignUp(t.Header.TotalSize(), m.layout.PageSize)
	if err := eraseIfNeeded(m.active, tail, m.layout.Active.Size-tail); err != nil {
		return err
	}
	if err := eraseIfNeeded(m.download, 0, m.layout.SwapSize()); err != nil {
		return err
	}
	if err := eraseIfNeeded(m.swap, 0, m.layout.Swap.Size); err != nil {
		return err
	}
	if err := eraseAt(m.trailer, 0, m.layout.SwapSize()); err != nil {
		return err
	}
	m.session.HeaderToTest = nil
	m.session.HeaderValidated = nil
	m.log.Infof("version %d installed", t.Header.Version)
	return nil
}
