// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmulatorNORSemantics(t *testing.T) {
	e := NewEmulator(0x1000, 0x400)
	buf := make([]byte, 4)

	require.NoError(t, e.Write(0x10, []byte{0xF0, 0x0F, 0xAA, 0x00}))
	require.NoError(t, e.Write(0x10, []byte{0xFF, 0xFF, 0x0F, 0xFF}))
	require.NoError(t, e.Read(0x10, buf))
	require.Equal(t, []byte{0xF0, 0x0F, 0x0A, 0x00}, buf)

	require.ErrorIs(t, e.Erase(0x10, 0x400), ErrUnaligned)
	require.NoError(t, e.Erase(0, 0x400))
	require.NoError(t, e.Read(0x10, buf))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf)

	require.ErrorIs(t, e.Read(0xFFE, buf), ErrOutOfRegion)
}

func TestEmulatorStrict(t *testing.T) {
	e := NewEmulator(0x400, 0x400)
	e.Strict = true
	require.NoError(t, e.Write(0, []byte{0x00}))
	require.NoError(t, e.Write(0, []byte{0x00}))
	require.ErrorIs(t, e.Write(0, []byte{0x01}), ErrProgramOnes)
}

func TestEmulatorFaults(t *testing.T) {
	e := NewEmulator(0x800, 0x400)
	e.FailWriteAfter = 1
	e.TornWrites = true
	require.NoError(t, e.Write(0, []byte{0, 0}))
	require.ErrorIs(t, e.Write(0x10, []byte{0, 0, 0, 0}), ErrInjected)
	require.Equal(t, []byte{0, 0, 0xFF, 0xFF}, e.Bytes()[0x10:0x14])

	e.FailEraseAfter = 0
	require.ErrorIs(t, e.Erase(0, 0x400), ErrInjected)

	e.ClearFaults()
	require.NoError(t, e.Erase(0, 0x400))
	require.Equal(t, 1, e.Erases)
}

func TestEmulatorReadWriteSeeker(t *testing.T) {
	e := NewEmulator(0x400, 0x400)
	require.NoError(t, e.Write(4, []byte("SFUM")))
	rws := e.ReadWriteSeeker()
	_, err := rws.Seek(4, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(rws, buf)
	require.NoError(t, err)
	require.Equal(t, "SFUM", string(buf))
}

func TestRegionBounds(t *testing.T) {
	r := Region{Name: "slot", Base: 0x1000, Size: 0x800}
	addr, err := r.At(0x10)
	require.NoError(t, err)
	require.Equal(t, Address(0x1010), addr)
	_, err = r.At(0x801)
	require.ErrorIs(t, err, ErrOutOfRegion)

	sub, err := r.Sub("hdr", 0, 0x130)
	require.NoError(t, err)
	require.Equal(t, Address(0x1130), sub.End())
	_, err = r.Sub("bad", 0x700, 0x101)
	require.ErrorIs(t, err, ErrOutOfRegion)
}

func TestAccess(t *testing.T) {
	e := NewEmulator(0x2000, 0x400)
	a := NewAccess(e, Region{Name: "slot", Base: 0x800, Size: 0x800})

	require.NoError(t, a.WriteAt(0x7FC, []byte{1, 2, 3, 4}))
	require.ErrorIs(t, a.WriteAt(0x7FE, []byte{1, 2, 3, 4}), ErrOutOfRegion)
	got, err := a.Bytes(0x7FC, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, got)

	erased, err := a.IsErased(0, 0x800)
	require.NoError(t, err)
	require.False(t, erased)

	require.NoError(t, a.EraseAt(0x7FF, 1))
	erased, err = a.IsErased(0, 0x800)
	require.NoError(t, err)
	require.True(t, erased)
	require.Equal(t, byte(0xFF), e.Bytes()[0x7FF])
}

func TestEraseAndWriteSizeAligned(t *testing.T) {
	e := NewEmulator(0x1000, 0x400)
	require.NoError(t, e.Write(0x400, []byte{0}))
	require.NoError(t, EraseAndWriteSizeAligned(e, 0x3F0, make([]byte, 0x20)))
	require.Equal(t, byte(0xFF), e.Bytes()[0x3EF])
	require.Equal(t, byte(0), e.Bytes()[0x400])
	require.Equal(t, byte(0xFF), e.Bytes()[0x410])
	require.Equal(t, 1, e.Erases)
}

func TestAccessEraseAndWriteAt(t *testing.T) {
	e := NewEmulator(0x1000, 0x400)
	a := NewAccess(e, Region{Name: "slot", Base: 0x400, Size: 0x800})
	require.NoError(t, e.Write(0x500, []byte{0x12}))

	require.NoError(t, a.EraseAndWriteAt(0x10, []byte{0xA5, 0x5A}))
	require.Equal(t, []byte{0xA5, 0x5A}, e.Bytes()[0x410:0x412])
	require.Equal(t, byte(0xFF), e.Bytes()[0x500])

	require.ErrorIs(t, a.EraseAndWriteAt(0x7FF, []byte{0, 0}), ErrOutOfRegion)
	require.Equal(t, 1, e.Erases)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	d, err := CreateFile(path, 0x800, 0x400)
	require.NoError(t, err)
	require.NoError(t, d.Write(0x400, []byte{0x0F}))
	require.NoError(t, d.Write(0x400, []byte{0xF1}))
	require.NoError(t, d.Close())

	d, err = OpenFile(path, 0x400)
	require.NoError(t, err)
	defer d.Close()
	buf := make([]byte, 2)
	require.NoError(t, d.Read(0x400, buf))
	require.Equal(t, []byte{0x01, 0xFF}, buf)
	require.NoError(t, d.Erase(0x400, 0x400))
	require.NoError(t, d.Read(0x400, buf))
	require.Equal(t, []byte{0xFF, 0xFF}, buf)

	_, err = OpenFile(path, 0x300)
	require.Error(t, err)
}
