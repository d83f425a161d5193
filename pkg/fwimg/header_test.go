// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

func TestHeaderLayout(t *testing.T) {
	require.Equal(t, HeaderSize, binary.Size(Header{}))
	require.Equal(t, 304, ImageOffset)

	h := Header{
		Magic:       Magic,
		Version:     0x01020304,
		Encoding:    compression.IDZstd,
		EncodedSize: 0x1234,
	}
	h.UpdateSourceFingerprint[0] = 0xAA
	b := h.Bytes()
	require.Len(t, b, HeaderSize)
	assert.Equal(t, []byte("SFUM"), b[0:4])
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(b[8:]))
	assert.Equal(t, byte(0xAA), b[fingerprintOffset])
	assert.Equal(t, uint16(compression.IDZstd), binary.LittleEndian.Uint16(b[192:]))
	assert.Equal(t, uint32(0x1234), binary.LittleEndian.Uint32(b[196:]))

	parsed, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, *parsed)

	_, err = ParseHeader(b[:HeaderSize-1])
	require.Error(t, err)
}

func TestSignatureIgnoresInstallFields(t *testing.T) {
	signer, err := fwcrypto.GenerateKey(fwcrypto.AlgSM2)
	require.NoError(t, err)
	h, _, err := BuildImage(testBody(0x40, 3), 7, compression.IDLZ4, fwcrypto.SM3, signer)
	require.NoError(t, err)
	require.NoError(t, h.VerifySignature(signer.Verifier()))

	h.UpdateSourceFingerprint[3] = 1
	h.Encoding = compression.None
	h.EncodedSize = 0
	require.NoError(t, h.VerifySignature(signer.Verifier()))

	h.Version++
	require.ErrorIs(t, h.VerifySignature(signer.Verifier()), ErrBadSignature)
}

func TestUpdateSourceFingerprint(t *testing.T) {
	signer, err := fwcrypto.GenerateKey(fwcrypto.AlgECDSAP256)
	require.NoError(t, err)
	oldHdr, _, err := BuildImage(testBody(0x40, 1), 1, compression.None, fwcrypto.SHA256, signer)
	require.NoError(t, err)
	newHdr, _, err := BuildImage(testBody(0x40, 2), 2, compression.None, fwcrypto.SHA256, signer)
	require.NoError(t, err)

	SetUpdateSourceFingerprint(fwcrypto.SHA256, newHdr, oldHdr)
	require.NoError(t, CheckUpdateSourceFingerprint(fwcrypto.SHA256, newHdr, oldHdr))

	mutated := *oldHdr
	mutated.Reserved0[0] ^= 1
	require.ErrorIs(t, CheckUpdateSourceFingerprint(fwcrypto.SHA256, newHdr, &mutated), ErrFingerprintMismatch)

	corrupt := *oldHdr
	corrupt.Magic[0] = 'X'
	require.ErrorIs(t, CheckUpdateSourceFingerprint(fwcrypto.SHA256, newHdr, &corrupt), ErrHeaderCorrupt)
	require.ErrorIs(t, CheckUpdateSourceFingerprint(fwcrypto.SHA256, &corrupt, oldHdr), ErrHeaderCorrupt)
}

func TestZeroFingerprintForbidsRollback(t *testing.T) {
	signer, err := fwcrypto.GenerateKey(fwcrypto.AlgECDSAP256)
	require.NoError(t, err)
	current, _, err := BuildImage(testBody(0x40, 1), 2, compression.None, fwcrypto.SHA256, signer)
	require.NoError(t, err)
	for _, backup := range []*Header{current, {Magic: Magic}, {Magic: Magic, Version: 1}} {
		require.ErrorIs(t, CheckUpdateSourceFingerprint(fwcrypto.SHA256, current, backup), ErrZeroFingerprint)
	}

	SetUpdateSourceFingerprint(fwcrypto.SHA256, current, nil)
	assert.True(t, current.UpdateSourceFingerprint.IsZero())
}

func TestValidateVersion(t *testing.T) {
	for _, tc := range []struct {
		current    uint32
		hasCurrent bool
		candidate  uint32
		min        uint32
		ok         bool
	}{
		{current: 5, hasCurrent: true, candidate: 5},
		{current: 5, hasCurrent: true, candidate: 4},
		{current: 5, hasCurrent: true, candidate: 6, ok: true},
		{current: 5, hasCurrent: true, candidate: 6, min: 10, ok: true},
		{candidate: 3, min: 3, ok: true},
		{candidate: 2, min: 3},
		{candidate: 0, ok: true},
	} {
		err := ValidateVersion(tc.current, tc.hasCurrent, tc.candidate, tc.min)
		if tc.ok {
			assert.NoError(t, err, "%+v", tc)
			continue
		}
		assert.ErrorIs(t, err, ErrVersionRejected, "%+v", tc)
	}
}

func TestBuildImage(t *testing.T) {
	signer, err := fwcrypto.GenerateKey(fwcrypto.AlgECDSAP256)
	require.NoError(t, err)
	body := testBody(0x800, 9)
	for _, enc := range []compression.ID{compression.None, compression.IDLZ4, compression.IDXZ, compression.IDZstd, compression.IDLZMA, compression.IDZLIB} {
		t.Run(enc.String(), func(t *testing.T) {
			h, img, err := BuildImage(body, 3, enc, fwcrypto.SHA256, signer)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(body)), h.Size)
			assert.Equal(t, int(ImageOffset+h.PayloadSize()), len(img))
			s, err := DecodeState(img[HeaderSize:ImageOffset])
			require.NoError(t, err)
			assert.Equal(t, StateNew, s)
			if enc != compression.None {
				decoded, err := compression.FromID(enc).Decode(img[ImageOffset:])
				require.NoError(t, err)
				assert.Equal(t, body, decoded)
			}
		})
	}
	_, _, err = BuildImage([]byte{1, 2}, 1, compression.None, fwcrypto.SHA256, signer)
	require.Error(t, err)
}
