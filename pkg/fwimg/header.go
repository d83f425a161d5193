// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

// Image layout constants. A slot starts with a Header, followed by the
// three state sub-regions and then the image body.
const (
	HeaderSize      = 208
	StateRegionSize = 32
	StateRegions    = 3
	StateSize       = StateRegions * StateRegionSize
	ImageOffset     = HeaderSize + StateSize

	// SignedSize is the length of the header prefix covered by the
	// signature.
	SignedSize = 96

	// VectorTableSize is the size of the body prefix holding the initial
	// stack pointer and the entry point.
	VectorTableSize = 8

	ProtocolVersion = 1

	fingerprintOffset = 160
)

// Magic identifies a firmware header.
var Magic = [4]byte{'S', 'F', 'U', 'M'}

// Header is the metadata prefixed to every firmware image.
type Header struct {
	Magic           [4]byte
	ProtocolVersion uint16
	Flags           uint16
	Version         uint32
	// Size is the size of the decoded body.
	Size      uint32
	Tag       fwcrypto.Digest
	Reserved0 [48]byte
	// Signature covers the first SignedSize bytes of the header.
	Signature fwcrypto.Signature

	// UpdateSourceFingerprint is the digest of the header of the image
	// which was active when this one was installed. Zero forbids any
	// rollback.
	UpdateSourceFingerprint fwcrypto.Digest

	// Encoding and EncodedSize describe the payload of a candidate in the
	// download slot. An installed image is always raw.
	Encoding    compression.ID
	Reserved1   uint16
	EncodedSize uint32
	Reserved2   [8]byte
}

// ValidMagic returns true if the header starts with Magic.
func (h *Header) ValidMagic() bool {
	return h.Magic == Magic
}

// MarshalBinary returns the persisted form of the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("unable to serialize firmware header: %w", err)
	}
	return buf.Bytes(), nil
}

// Bytes is MarshalBinary for callers which know the header is well formed.
func (h *Header) Bytes() []byte {
	b, err := h.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalBinary parses the first HeaderSize bytes of b.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("firmware header needs %d bytes, got %d", HeaderSize, len(b))
	}
	return binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, h)
}

// ParseHeader parses a header from b.
func ParseHeader(b []byte) (*Header, error) {
	var h Header
	if err := h.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &h, nil
}

// SignedBytes returns the part of the header covered by the signature.
func (h *Header) SignedBytes() []byte {
	return h.Bytes()[:SignedSize]
}

// Sign computes the header signature.
func (h *Header) Sign(s fwcrypto.Signer) error {
	sig, err := s.Sign(h.SignedBytes())
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}

// VerifySignature checks the header signature with v.
func (h *Header) VerifySignature(v fwcrypto.Verifier) error {
	if err := v.Verify(h.SignedBytes(), h.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// PayloadSize is the number of body bytes stored after the state
// sub-regions.
func (h *Header) PayloadSize() uint32 {
	if h.Encoding != compression.None {
		return h.EncodedSize
	}
	return h.Size
}

// TotalSize is the number of slot bytes the decoded image occupies.
func (h *Header) TotalSize() uint32 {
	return ImageOffset + h.Size
}

func (h *Header) String() string {
	return fmt.Sprintf("FirmwareHeader{Version: %d, Size: 0x%x, Encoding: %s, Tag: %s}",
		h.Version, h.Size, h.Encoding, h.Tag)
}
