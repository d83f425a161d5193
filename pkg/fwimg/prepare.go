// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/compression"
)

// prepareCandidate checks the candidate body against its tag. An encoded
// candidate is decoded in place first: the download slot is rewritten with
// the raw image, body pages first and the header page last, so that an
// interruption never leaves a valid header in front of a partial body.
func (m *Manager) prepareCandidate(h *Header) (*Header, error) {
	if err := m.checkCandidateHeader(h); err != nil {
		return nil, err
	}
	payload, err := readBytes(m.download, ImageOffset, h.PayloadSize())
	if err != nil {
		return nil, err
	}
	if h.Encoding == compression.None {
		if m.cfg.Hasher.Sum(payload) != h.Tag {
			return nil, fmt.Errorf("%w: candidate version %d", ErrTagMismatch, h.Version)
		}
		return h, nil
	}

	c := compression.FromID(h.Encoding)
	body, err := c.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s candidate: %w", c.Name(), err)
	}
	if uint32(len(body)) != h.Size {
		return nil, fmt.Errorf("%w: decoded candidate is 0x%x bytes, header says 0x%x", ErrHeaderCorrupt, len(body), h.Size)
	}
	if m.cfg.Hasher.Sum(body) != h.Tag {
		return nil, fmt.Errorf("%w: decoded candidate version %d", ErrTagMismatch, h.Version)
	}

	raw := *h
	raw.Encoding = compression.None
	raw.EncodedSize = 0
	image := make([]byte, raw.TotalSize())
	copy(image, raw.Bytes())
	state, err := EncodeState(StateNew)
	if err != nil {
		return nil, err
	}
	copy(image[HeaderSize:ImageOffset], state)
	copy(image[ImageOffset:], body)

	ps := m.layout.PageSize
	eraseLen := uint32(len(image))
	if encodedLen := ImageOffset + h.EncodedSize; encodedLen > eraseLen {
		eraseLen = encodedLen
	}
	if err := eraseAt(m.download, 0, alignUp(eraseLen, ps)); err != nil {
		return nil, err
	}
	pages := int(alignUp(uint32(len(image)), ps) / ps)
	for p := pages - 1; p >= 0; p-- {
		start := uint32(p) * ps
		end := start + ps
		if end > uint32(len(image)) {
			end = uint32(len(image))
		}
		if err := writeAt(m.download, start, image[start:end]); err != nil {
			return nil, err
		}
		m.progress("prepare", pages-p, pages)
	}
	m.log.Infof("candidate version %d decoded from %s: 0x%x -> 0x%x bytes", h.Version, c.Name(), h.EncodedSize, h.Size)
	return &raw, nil
}
