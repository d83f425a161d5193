// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"errors"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

// BuildImage builds a signed candidate image from body. The result is laid
// out as stored in a slot: header, state New, payload. The payload is body
// encoded with enc.
func BuildImage(body []byte, version uint32, enc compression.ID, hasher fwcrypto.Hasher, signer fwcrypto.Signer) (*Header, []byte, error) {
	if len(body) < VectorTableSize {
		return nil, nil, fmt.Errorf("image body of %d bytes has no vector table", len(body))
	}
	h := &Header{
		Magic:           Magic,
		ProtocolVersion: ProtocolVersion,
		Version:         version,
		Size:            uint32(len(body)),
		Tag:             hasher.Sum(body),
		Encoding:        enc,
	}
	payload := body
	if enc != compression.None {
		c := compression.FromID(enc)
		if c == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrEncoding, enc)
		}
		var err error
		if payload, err = c.Encode(body); err != nil {
			return nil, nil, fmt.Errorf("unable to encode with %s: %w", c.Name(), err)
		}
		h.EncodedSize = uint32(len(payload))
	}
	if err := h.Sign(signer); err != nil {
		return nil, nil, err
	}

	state, err := EncodeState(StateNew)
	if err != nil {
		return nil, nil, err
	}
	image := make([]byte, 0, ImageOffset+len(payload))
	image = append(image, h.Bytes()...)
	image = append(image, state...)
	image = append(image, payload...)
	return h, image, nil
}

// ErrInstallationPending is returned when a candidate cannot be staged
// because an installation has to be resumed first.
var ErrInstallationPending = errors.New("an interrupted installation is pending")

// StageCandidate erases the download slot and stores image, as built by
// BuildImage, in it. This is what the update agent does once a candidate is
// downloaded.
func (m *Manager) StageCandidate(image []byte) error {
	if uint64(len(image)) > uint64(m.maxImageSize()) {
		return fmt.Errorf("%w: candidate of 0x%x bytes, at most 0x%x", ErrImageTooLarge, len(image), m.maxImageSize())
	}
	t, err := m.readTrailer()
	if err != nil {
		return err
	}
	if t != nil {
		return ErrInstallationPending
	}
	if err := m.EraseDownloadedImage(); err != nil {
		return err
	}
	if err := writeAt(m.download, 0, image); err != nil {
		return err
	}
	m.log.Infof("candidate of 0x%x bytes staged", len(image))
	return nil
}
