// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

func TestCheckPendingInstallation(t *testing.T) {
	e := newTestEnv(t)
	st, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	assert.Equal(t, NoPendingInstallation, st)
	assert.Nil(t, e.m.Session().HeaderToTest)

	h := e.stage(2, testBody(0x1800, 2), compression.None)
	st, err = e.m.CheckPendingInstallation()
	require.NoError(t, err)
	assert.Equal(t, ReadyToInstall, st)
	assert.Equal(t, h.Version, e.m.Session().HeaderToTest.Version)
}

func TestInstallOverPreviousImage(t *testing.T) {
	e := newTestEnv(t)
	oldHdr, oldImg := e.provision(1, testBody(0x2a00, 1), StateValid, fwcrypto.Digest{})
	body := testBody(0x3100, 2)
	h := e.stage(2, body, compression.None)

	st, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	require.Equal(t, ReadyToInstall, st)
	require.NoError(t, e.m.CheckCandidateMetadata())
	require.NoError(t, e.m.TriggerInstallation())

	want := expectedInstalled(t, h, body, oldHdr)
	assert.Equal(t, want, e.read(e.layout.Active, 0, uint32(len(want))))
	e.requireErased(e.layout.Active, uint32(len(want)), testSlotSize-uint32(len(want)))
	assert.Equal(t, StateNew, e.activeState())
	assert.Equal(t, Fingerprint(fwcrypto.SHA256, oldHdr), e.activeHeader().UpdateSourceFingerprint)

	// The previous image is saved one swap block up.
	assert.Equal(t, oldImg, e.read(e.layout.Download, testSwapSize, uint32(len(oldImg))))
	e.requireErased(e.layout.Download, 0, testSwapSize)
	e.requireErased(e.layout.Swap, 0, testSwapSize)
	e.requireErased(e.layout.Trailer(), 0, testSwapSize)

	off, err := e.m.FindBackupHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(testSwapSize), off)

	st, err = e.m.CheckPendingInstallation()
	require.NoError(t, err)
	assert.Equal(t, NoPendingInstallation, st)
}

func TestInstallOnEmptyDevice(t *testing.T) {
	e := newTestEnv(t, WithMinVersion(3))
	body := testBody(0x900, 4)
	h := e.stage(3, body, compression.None)

	_, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	require.NoError(t, e.m.CheckCandidateMetadata())
	require.NoError(t, e.m.TriggerInstallation())

	assert.True(t, e.activeHeader().UpdateSourceFingerprint.IsZero())
	assert.Equal(t, expectedInstalled(t, h, body, nil), e.read(e.layout.Active, 0, ImageOffset+uint32(len(body))))
	_, err = e.m.FindBackupHeader()
	require.ErrorIs(t, err, ErrBackupNotFound)
}

func TestInstallEncodedCandidate(t *testing.T) {
	for _, enc := range []compression.ID{compression.IDLZ4, compression.IDXZ, compression.IDZstd, compression.IDLZMA, compression.IDZLIB} {
		t.Run(enc.String(), func(t *testing.T) {
			e := newTestEnv(t)
			oldHdr, _ := e.provision(1, testBody(0x1000, 1), StateValid, fwcrypto.Digest{})
			body := testBody(0x4000, 2)
			h := e.stage(2, body, enc)

			_, err := e.m.CheckPendingInstallation()
			require.NoError(t, err)
			require.NoError(t, e.m.CheckCandidateMetadata())
			require.NoError(t, e.m.TriggerInstallation())

			want := expectedInstalled(t, h, body, oldHdr)
			assert.Equal(t, want, e.read(e.layout.Active, 0, uint32(len(want))))
			assert.Equal(t, compression.None, e.activeHeader().Encoding)
		})
	}
}

func TestInstallRejectsDisabledEncoding(t *testing.T) {
	e := newTestEnv(t, WithEncodings(compression.IDZstd))
	e.provision(1, testBody(0x1000, 1), StateValid, fwcrypto.Digest{})
	e.stage(2, testBody(0x1000, 2), compression.IDLZ4)

	_, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	require.ErrorIs(t, e.m.CheckCandidateMetadata(), ErrEncoding)
}

func TestInstallTagMismatchErasesCandidate(t *testing.T) {
	e := newTestEnv(t)
	oldHdr, oldImg := e.provision(1, testBody(0x1000, 1), StateValid, fwcrypto.Digest{})
	e.stage(2, testBody(0x1000, 2), compression.None)
	// invert a body byte of the staged candidate
	e.flash.Bytes()[uint32(e.layout.Download.Base)+ImageOffset+0x20] ^= 0xFF

	_, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	require.NoError(t, e.m.CheckCandidateMetadata())
	require.ErrorIs(t, e.m.TriggerInstallation(), ErrTagMismatch)

	e.requireErased(e.layout.Download, 0, testSlotSize)
	e.requireErased(e.layout.Swap, 0, testSwapSize)
	assert.Equal(t, oldImg, e.read(e.layout.Active, 0, uint32(len(oldImg))))
	assert.Equal(t, oldHdr.Version, e.activeHeader().Version)
}

func TestCandidateVersionRejected(t *testing.T) {
	for _, version := range []uint32{4, 5} {
		e := newTestEnv(t)
		e.provision(5, testBody(0x1000, 1), StateValid, fwcrypto.Digest{})
		e.stage(version, testBody(0x1000, 2), compression.None)
		require.NoError(t, e.flash.Write(e.layout.Swap.Base, []byte{1, 2, 3}))

		st, err := e.m.CheckPendingInstallation()
		require.NoError(t, err)
		require.Equal(t, ReadyToInstall, st)
		err = e.m.CheckCandidateMetadata()
		var rejected *VersionRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, uint32(5), rejected.Current)

		e.requireErased(e.layout.Swap, 0, testSwapSize)
		st, err = e.m.CheckPendingInstallation()
		require.NoError(t, err)
		assert.Equal(t, NoPendingInstallation, st)
	}
}

func TestCandidateBadSignature(t *testing.T) {
	e := newTestEnv(t)
	other, err := fwcrypto.GenerateKey(fwcrypto.AlgECDSAP256)
	require.NoError(t, err)
	_, img, err := BuildImage(testBody(0x100, 1), 1, compression.None, fwcrypto.SHA256, other)
	require.NoError(t, err)
	require.NoError(t, e.m.StageCandidate(img))

	_, err = e.m.CheckPendingInstallation()
	require.NoError(t, err)
	require.ErrorIs(t, e.m.CheckCandidateMetadata(), ErrBadSignature)
}

func TestCandidateTooLarge(t *testing.T) {
	e := newTestEnv(t)
	h, img := e.build(1, testBody(0x100, 1), compression.None)
	h.Size = e.m.maxImageSize()
	require.NoError(t, h.Sign(e.signer))
	copy(img, h.Bytes())
	require.NoError(t, e.m.StageCandidate(img))

	_, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	require.ErrorIs(t, e.m.CheckCandidateMetadata(), ErrImageTooLarge)
	require.ErrorIs(t, e.m.StageCandidate(make([]byte, e.m.maxImageSize()+1)), ErrImageTooLarge)
}

// TestInstallPowerLoss cuts the power at every write of an installation and
// checks that the next boots always complete it.
func TestInstallPowerLoss(t *testing.T) {
	for _, torn := range []bool{false, true} {
		for failAt := 0; ; failAt++ {
			e := newTestEnv(t)
			oldHdr, _ := e.provision(1, testBody(0x2a00, 1), StateValid, fwcrypto.Digest{})
			body := testBody(0x3100, 2)
			h := e.stage(2, body, compression.None)

			_, err := e.m.CheckPendingInstallation()
			require.NoError(t, err)
			require.NoError(t, e.m.CheckCandidateMetadata())
			e.flash.ClearFaults()
			e.flash.FailWriteAfter = failAt
			e.flash.TornWrites = torn
			if e.m.TriggerInstallation() == nil {
				require.Greater(t, failAt, 10)
				break
			}

			for boot := 0; ; boot++ {
				require.Less(t, boot, 3, "fail at write %d", failAt)
				m := e.reboot()
				st, err := m.CheckPendingInstallation()
				require.NoError(t, err)
				if st == NoPendingInstallation {
					break
				}
				if st == StoppedUpdate {
					require.NoError(t, m.TriggerResumeInstallation(), "fail at write %d", failAt)
					continue
				}
				require.NoError(t, m.CheckCandidateMetadata())
				require.NoError(t, m.TriggerInstallation(), "fail at write %d", failAt)
			}

			want := expectedInstalled(t, h, body, oldHdr)
			require.Equal(t, want, e.read(e.layout.Active, 0, uint32(len(want))), "fail at write %d torn %v", failAt, torn)
			e.requireErased(e.layout.Trailer(), 0, testSwapSize)
		}
	}
}

func TestResumeWithoutInstallation(t *testing.T) {
	e := newTestEnv(t)
	require.ErrorIs(t, e.m.TriggerResumeInstallation(), ErrNoInstallation)
}

func TestStageRefusedWhileInstallationPending(t *testing.T) {
	e := newTestEnv(t)
	e.provision(1, testBody(0x1000, 1), StateValid, fwcrypto.Digest{})
	_, img := e.build(2, testBody(0x1000, 2), compression.None)
	require.NoError(t, e.m.StageCandidate(img))
	_, err := e.m.CheckPendingInstallation()
	require.NoError(t, err)
	e.flash.ClearFaults()
	e.flash.FailWriteAfter = 4
	require.Error(t, e.m.TriggerInstallation())

	m := e.reboot()
	st, err := m.CheckPendingInstallation()
	require.NoError(t, err)
	require.Equal(t, StoppedUpdate, st)
	require.ErrorIs(t, m.StageCandidate(img), ErrInstallationPending)
}

func TestEraseDownloadedImage(t *testing.T) {
	e := newTestEnv(t)
	e.stage(1, testBody(0x1000, 1), compression.None)
	require.NoError(t, e.flash.Write(e.layout.Swap.Base, []byte{0}))
	require.Error(t, e.m.VerifyDownloadSlotEmpty())

	e.flash.FailEraseAfter = 0
	err := e.m.EraseDownloadedImage()
	require.Error(t, err)
	var ioErr *FlashIOError
	require.ErrorAs(t, err, &ioErr)

	e.flash.ClearFaults()
	require.NoError(t, e.m.EraseDownloadedImage())
	require.NoError(t, e.m.VerifyDownloadSlotEmpty())
	e.requireErased(e.layout.Swap, 0, testSwapSize)
}
