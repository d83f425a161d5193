// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flash abstracts erase-block-granular NOR flash: a Device offers
// read, program and erase primitives, a Region is a bounds-checked address
// range on it.
//
// Programming can only clear bits (1 -> 0). Setting a bit back to 1 requires
// erasing the whole page containing it.
package flash

import (
	"errors"
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/bytes"
)

// ErasedValue is the value of every byte of an erased page.
const ErasedValue = 0xFF

// Address is an absolute offset in the flash address space of a Device.
type Address uint32

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// Add returns a+off. It panics on overflow, which is a programming error
// since every address is derived from a validated Region.
func (a Address) Add(off uint32) Address {
	r := a + Address(off)
	if r < a {
		panic(fmt.Sprintf("flash address overflow: %s + 0x%x", a, off))
	}
	return r
}

// Device is the set of raw flash primitives.
type Device interface {
	// Read fills buf with the content starting at addr.
	Read(addr Address, buf []byte) error

	// Write programs data at addr. Bits which are 0 in data are cleared,
	// bits which are 1 are left untouched.
	Write(addr Address, data []byte) error

	// Erase sets every byte of [addr, addr+length) to ErasedValue. Both
	// addr and length must be aligned to PageSize.
	Erase(addr Address, length uint32) error

	// PageSize returns the erase granularity in bytes.
	PageSize() uint32

	// Size returns the size of the address space in bytes.
	Size() uint32
}

// ErrOutOfRegion is returned when an access does not fit in its region.
var ErrOutOfRegion = errors.New("access out of region")

// ErrUnaligned is returned by Erase on unaligned arguments.
var ErrUnaligned = errors.New("unaligned erase")

// Region is a named address range on a Device.
type Region struct {
	Name string
	Base Address
	Size uint32
}

func (r Region) String() string {
	return fmt.Sprintf("%s[%s..%s)", r.Name, r.Base, r.End())
}

// End returns the first address after the region.
func (r Region) End() Address {
	return r.Base.Add(r.Size)
}

// Range returns the region as a bytes.Range.
func (r Region) Range() bytes.Range {
	return bytes.Range{Offset: uint64(r.Base), Length: uint64(r.Size)}
}

// Contains returns true if [addr, addr+length) lies within the region.
func (r Region) Contains(addr Address, length uint32) bool {
	return r.Range().Contains(bytes.Range{Offset: uint64(addr), Length: uint64(length)})
}

// At returns the address at offset off within the region.
func (r Region) At(off uint32) (Address, error) {
	if off > r.Size {
		return 0, fmt.Errorf("%w: offset 0x%x in %s", ErrOutOfRegion, off, r)
	}
	return r.Base + Address(off), nil
}

// Sub returns the sub-region [off, off+size) of r.
func (r Region) Sub(name string, off, size uint32) (Region, error) {
	addr, err := r.At(off)
	if err != nil {
		return Region{}, err
	}
	if !r.Contains(addr, size) {
		return Region{}, fmt.Errorf("%w: sub-region 0x%x+0x%x of %s", ErrOutOfRegion, off, size, r)
	}
	return Region{Name: name, Base: addr, Size: size}, nil
}

// Access is a Device bound to a Region. All offsets are relative to the
// region base and every access is bounds checked before it reaches the
// device.
type Access struct {
	Dev    Device
	Region Region
}

// NewAccess binds dev to r.
func NewAccess(dev Device, r Region) Access {
	return Access{Dev: dev, Region: r}
}

func (a Access) check(off, length uint32) (Address, error) {
	addr, err := a.Region.At(off)
	if err != nil {
		return 0, err
	}
	if !a.Region.Contains(addr, length) {
		return 0, fmt.Errorf("%w: 0x%x bytes at %s in %s", ErrOutOfRegion, length, addr, a.Region)
	}
	return addr, nil
}

// ReadAt reads len(buf) bytes at off.
func (a Access) ReadAt(off uint32, buf []byte) error {
	addr, err := a.check(off, uint32(len(buf)))
	if err != nil {
		return err
	}
	return a.Dev.Read(addr, buf)
}

// Bytes reads and returns length bytes at off.
func (a Access) Bytes(off, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if err := a.ReadAt(off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteAt programs data at off.
func (a Access) WriteAt(off uint32, data []byte) error {
	addr, err := a.check(off, uint32(len(data)))
	if err != nil {
		return err
	}
	return a.Dev.Write(addr, data)
}

// EraseAt erases every page overlapping [off, off+length).
func (a Access) EraseAt(off, length uint32) error {
	addr, err := a.check(off, length)
	if err != nil {
		return err
	}
	return EraseSize(a.Dev, addr, length)
}

// EraseAndWriteAt erases the pages covering [off, off+len(data)) and then
// programs data, see EraseAndWriteSizeAligned.
func (a Access) EraseAndWriteAt(off uint32, data []byte) error {
	addr, err := a.check(off, uint32(len(data)))
	if err != nil {
		return err
	}
	return EraseAndWriteSizeAligned(a.Dev, addr, data)
}

// IsErased reports whether [off, off+length) reads back as erased. The
// region is read page by page to bound memory use.
func (a Access) IsErased(off, length uint32) (bool, error) {
	chunk := a.Dev.PageSize()
	buf := make([]byte, chunk)
	for length > 0 {
		n := chunk
		if length < n {
			n = length
		}
		if err := a.ReadAt(off, buf[:n]); err != nil {
			return false, err
		}
		if !bytes.IsErased(buf[:n]) {
			return false, nil
		}
		off += n
		length -= n
	}
	return true, nil
}

// PageAlignDown rounds addr down to the page boundary of dev.
func PageAlignDown(dev Device, addr Address) Address {
	ps := Address(dev.PageSize())
	return addr - addr%ps
}

// PageAlignUp rounds addr up to the page boundary of dev.
func PageAlignUp(dev Device, addr Address) Address {
	ps := Address(dev.PageSize())
	if addr%ps == 0 {
		return addr
	}
	return addr.Add(uint32(ps - addr%ps))
}

// EraseSize erases all pages overlapping [addr, addr+length). Unlike
// Device.Erase it does not require aligned arguments.
func EraseSize(dev Device, addr Address, length uint32) error {
	if length == 0 {
		return nil
	}
	start := PageAlignDown(dev, addr)
	end := PageAlignUp(dev, addr.Add(length))
	return dev.Erase(start, uint32(end-start))
}

// EraseAndWriteSizeAligned erases the pages covering data at addr and then
// programs data. The page content outside of data is lost.
func EraseAndWriteSizeAligned(dev Device, addr Address, data []byte) error {
	if err := EraseSize(dev, addr, uint32(len(data))); err != nil {
		return err
	}
	return dev.Write(addr, data)
}
