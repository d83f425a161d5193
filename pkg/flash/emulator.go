// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// ErrInjected is returned by an Emulator when a fault is injected.
var ErrInjected = errors.New("injected flash fault")

// ErrProgramOnes is returned by a strict Emulator when a write tries to
// set a bit which is currently cleared.
var ErrProgramOnes = errors.New("cannot program bits from 0 to 1 without erase")

// Emulator is an in-memory NOR flash. It is used by tests and by tools
// operating on flash dumps.
//
// Faults can be injected to simulate a power loss in the middle of a
// multi-step update: once FailWriteAfter (FailEraseAfter) successful writes
// (erases) happened, every subsequent write (erase) fails. With TornWrites
// the failing write still programs the first half of its data.
type Emulator struct {
	mem      []byte
	pageSize uint32

	// Strict rejects writes which would need to set a cleared bit.
	Strict bool

	// FailWriteAfter is the number of writes allowed to succeed before
	// every write fails. Negative disables the fault.
	FailWriteAfter int
	// FailEraseAfter is the same as FailWriteAfter for erases.
	FailEraseAfter int
	// TornWrites makes a failing write program half of its data.
	TornWrites bool

	// ReadHook, when set, may alter the data returned by every read.
	ReadHook func(addr Address, buf []byte)

	Reads, Writes, Erases int
}

// NewEmulator returns an erased flash of size bytes.
func NewEmulator(size, pageSize uint32) *Emulator {
	if pageSize == 0 || size%pageSize != 0 {
		panic(fmt.Sprintf("flash size 0x%x is not a multiple of page size 0x%x", size, pageSize))
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = ErasedValue
	}
	return &Emulator{
		mem:            mem,
		pageSize:       pageSize,
		FailWriteAfter: -1,
		FailEraseAfter: -1,
	}
}

// NewEmulatorFromBytes wraps an existing flash dump. The slice is used
// directly, not copied.
func NewEmulatorFromBytes(mem []byte, pageSize uint32) *Emulator {
	e := NewEmulator(0, pageSize)
	if uint32(len(mem))%pageSize != 0 {
		panic(fmt.Sprintf("flash size 0x%x is not a multiple of page size 0x%x", len(mem), pageSize))
	}
	e.mem = mem
	return e
}

// PageSize implements Device.
func (e *Emulator) PageSize() uint32 { return e.pageSize }

// Size implements Device.
func (e *Emulator) Size() uint32 { return uint32(len(e.mem)) }

func (e *Emulator) bounds(addr Address, length uint32) error {
	end := uint64(addr) + uint64(length)
	if end > uint64(len(e.mem)) {
		return fmt.Errorf("%w: 0x%x bytes at %s, flash size 0x%x", ErrOutOfRegion, length, addr, len(e.mem))
	}
	return nil
}

// Read implements Device.
func (e *Emulator) Read(addr Address, buf []byte) error {
	if err := e.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	e.Reads++
	copy(buf, e.mem[addr:])
	if e.ReadHook != nil {
		e.ReadHook(addr, buf)
	}
	return nil
}

// Write implements Device.
func (e *Emulator) Write(addr Address, data []byte) error {
	if err := e.bounds(addr, uint32(len(data))); err != nil {
		return err
	}
	if e.Strict {
		for i, b := range data {
			if b&^e.mem[int(addr)+i] != 0 {
				return fmt.Errorf("%w: at %s", ErrProgramOnes, addr.Add(uint32(i)))
			}
		}
	}
	if e.FailWriteAfter >= 0 && e.Writes >= e.FailWriteAfter {
		if e.TornWrites {
			e.program(addr, data[:len(data)/2])
		}
		return fmt.Errorf("%w: write of 0x%x bytes at %s", ErrInjected, len(data), addr)
	}
	e.Writes++
	e.program(addr, data)
	return nil
}

func (e *Emulator) program(addr Address, data []byte) {
	for i, b := range data {
		e.mem[int(addr)+i] &= b
	}
}

// Erase implements Device.
func (e *Emulator) Erase(addr Address, length uint32) error {
	if uint32(addr)%e.pageSize != 0 || length%e.pageSize != 0 {
		return fmt.Errorf("%w: 0x%x bytes at %s, page size 0x%x", ErrUnaligned, length, addr, e.pageSize)
	}
	if err := e.bounds(addr, length); err != nil {
		return err
	}
	if e.FailEraseAfter >= 0 && e.Erases >= e.FailEraseAfter {
		return fmt.Errorf("%w: erase of 0x%x bytes at %s", ErrInjected, length, addr)
	}
	e.Erases++
	for i := uint32(0); i < length; i++ {
		e.mem[uint32(addr)+i] = ErasedValue
	}
	return nil
}

// ClearFaults disables fault injection and resets the counters, as a
// reboot after a power loss would.
func (e *Emulator) ClearFaults() {
	e.FailWriteAfter = -1
	e.FailEraseAfter = -1
	e.TornWrites = false
	e.ReadHook = nil
	e.Reads, e.Writes, e.Erases = 0, 0, 0
}

// Bytes returns the backing memory. Modifying it bypasses NOR semantics,
// which tests use to corrupt flash content.
func (e *Emulator) Bytes() []byte {
	return e.mem
}

// ReadWriteSeeker exposes the flash content as a stream. Writes through it
// bypass NOR semantics.
func (e *Emulator) ReadWriteSeeker() io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(e.mem)
}
