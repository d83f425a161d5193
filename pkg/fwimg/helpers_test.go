// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
	"github.com/linuxboot/sbsfu/pkg/layout"
	"github.com/linuxboot/sbsfu/pkg/log"
)

const (
	testPageSize = 0x1000
	testSlotSize = 0x10000
	testSwapSize = 0x2000
)

type testEnv struct {
	t      *testing.T
	layout layout.Layout
	flash  *flash.Emulator
	signer fwcrypto.Signer
	opts   []Option
	m      *Manager
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	l := layout.Default(testPageSize, testSlotSize, testSwapSize)
	signer, err := fwcrypto.GenerateKey(fwcrypto.AlgECDSAP256)
	require.NoError(t, err)
	e := &testEnv{
		t:      t,
		layout: l,
		flash:  flash.NewEmulator(l.FlashSize(), testPageSize),
		signer: signer,
	}
	e.flash.Strict = true
	e.opts = append([]Option{
		WithLogger(log.Nop{}),
		WithVerifier(signer.Verifier()),
	}, opts...)
	e.m = e.reboot()
	return e
}

// reboot clears injected faults and returns a Manager with an empty
// session, as after a reset.
func (e *testEnv) reboot() *Manager {
	e.flash.ClearFaults()
	m, err := New(e.flash, e.layout, e.opts...)
	require.NoError(e.t, err)
	e.m = m
	return m
}

// body returns an image body with a vector table and a pattern derived
// from seed.
func testBody(size int, seed byte) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:], 0x20010000)
	binary.LittleEndian.PutUint32(b[4:], 0x08000100+uint32(seed))
	for i := VectorTableSize; i < size; i++ {
		b[i] = byte(i*7) ^ seed
	}
	return b
}

func (e *testEnv) build(version uint32, body []byte, enc compression.ID) (*Header, []byte) {
	h, img, err := BuildImage(body, version, enc, fwcrypto.SHA256, e.signer)
	require.NoError(e.t, err)
	return h, img
}

// provision writes an image directly into the active slot in state s, as a
// factory programmer would.
func (e *testEnv) provision(version uint32, body []byte, s State, fingerprint fwcrypto.Digest) (*Header, []byte) {
	h, img := e.build(version, body, compression.None)
	h.UpdateSourceFingerprint = fingerprint
	copy(img, h.Bytes())
	state, err := EncodeState(s)
	require.NoError(e.t, err)
	copy(img[HeaderSize:ImageOffset], state)
	require.NoError(e.t, e.flash.Write(e.layout.Active.Base, img))
	return h, img
}

func (e *testEnv) stage(version uint32, body []byte, enc compression.ID) *Header {
	h, img := e.build(version, body, enc)
	require.NoError(e.t, e.m.StageCandidate(img))
	return h
}

func (e *testEnv) read(r flash.Region, off, length uint32) []byte {
	buf := make([]byte, length)
	require.NoError(e.t, e.flash.Read(r.Base.Add(off), buf))
	return buf
}

func (e *testEnv) activeHeader() *Header {
	h, err := ParseHeader(e.read(e.layout.Active, 0, HeaderSize))
	require.NoError(e.t, err)
	return h
}

func (e *testEnv) activeState() State {
	s, err := DecodeState(e.read(e.layout.Active, HeaderSize, StateSize))
	require.NoError(e.t, err)
	return s
}

func (e *testEnv) requireErased(r flash.Region, off, length uint32) {
	ok, err := flash.NewAccess(e.flash, r).IsErased(off, length)
	require.NoError(e.t, err)
	require.True(e.t, ok, "%s at 0x%x+0x%x is not erased", r.Name, off, length)
}

// expectedInstalled returns the active slot content expected after
// installing candidate over previous.
func expectedInstalled(t *testing.T, candidate *Header, body []byte, previous *Header) []byte {
	h := *candidate
	h.Encoding = compression.None
	h.EncodedSize = 0
	SetUpdateSourceFingerprint(fwcrypto.SHA256, &h, previous)
	state, err := EncodeState(StateNew)
	require.NoError(t, err)
	img := append(h.Bytes(), state...)
	return append(img, body...)
}
