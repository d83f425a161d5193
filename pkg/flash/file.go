// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"fmt"
	"os"
)

// File is a Device backed by a flash dump on disk. Writes keep NOR
// semantics: data is ANDed with the current content.
type File struct {
	f        *os.File
	size     uint32
	pageSize uint32
}

// OpenFile opens an existing flash dump.
func OpenFile(path string, pageSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to open flash image '%s': %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if pageSize == 0 || st.Size()%int64(pageSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("flash image size 0x%x is not a multiple of page size 0x%x", st.Size(), pageSize)
	}
	return &File{f: f, size: uint32(st.Size()), pageSize: pageSize}, nil
}

// CreateFile creates an erased flash dump of size bytes.
func CreateFile(path string, size, pageSize uint32) (*File, error) {
	if pageSize == 0 || size%pageSize != 0 {
		return nil, fmt.Errorf("flash size 0x%x is not a multiple of page size 0x%x", size, pageSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to create flash image '%s': %w", path, err)
	}
	dev := &File{f: f, size: size, pageSize: pageSize}
	if err := dev.Erase(0, size); err != nil {
		f.Close()
		return nil, err
	}
	return dev, nil
}

// Close closes the underlying file.
func (d *File) Close() error {
	return d.f.Close()
}

// PageSize implements Device.
func (d *File) PageSize() uint32 { return d.pageSize }

// Size implements Device.
func (d *File) Size() uint32 { return d.size }

func (d *File) bounds(addr Address, length uint32) error {
	if uint64(addr)+uint64(length) > uint64(d.size) {
		return fmt.Errorf("%w: 0x%x bytes at %s, flash size 0x%x", ErrOutOfRegion, length, addr, d.size)
	}
	return nil
}

// Read implements Device.
func (d *File) Read(addr Address, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	_, err := d.f.ReadAt(buf, int64(addr))
	return err
}

// Write implements Device.
func (d *File) Write(addr Address, data []byte) error {
	cur := make([]byte, len(data))
	if err := d.Read(addr, cur); err != nil {
		return err
	}
	for i := range cur {
		cur[i] &= data[i]
	}
	_, err := d.f.WriteAt(cur, int64(addr))
	return err
}

// Erase implements Device.
func (d *File) Erase(addr Address, length uint32) error {
	if uint32(addr)%d.pageSize != 0 || length%d.pageSize != 0 {
		return fmt.Errorf("%w: 0x%x bytes at %s, page size 0x%x", ErrUnaligned, length, addr, d.pageSize)
	}
	if err := d.bounds(addr, length); err != nil {
		return err
	}
	page := make([]byte, d.pageSize)
	for i := range page {
		page[i] = ErasedValue
	}
	for off := uint32(0); off < length; off += d.pageSize {
		if _, err := d.f.WriteAt(page, int64(addr)+int64(off)); err != nil {
			return err
		}
	}
	return nil
}
