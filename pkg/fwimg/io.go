// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"github.com/linuxboot/sbsfu/pkg/flash"
)

func ioError(op string, a flash.Access, off, length uint32, err error) error {
	return &FlashIOError{Op: op, Addr: a.Region.Base + flash.Address(off), Len: length, Err: err}
}

func readAt(a flash.Access, off uint32, buf []byte) error {
	if err := a.ReadAt(off, buf); err != nil {
		return ioError("read", a, off, uint32(len(buf)), err)
	}
	return nil
}

func readBytes(a flash.Access, off, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if err := readAt(a, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeAt(a flash.Access, off uint32, data []byte) error {
	if err := a.WriteAt(off, data); err != nil {
		return ioError("write", a, off, uint32(len(data)), err)
	}
	return nil
}

func eraseAt(a flash.Access, off, length uint32) error {
	if err := a.EraseAt(off, length); err != nil {
		return ioError("erase", a, off, length, err)
	}
	return nil
}

// eraseAndWriteAt replaces the pages covering [off, off+len(data)) with
// data. The rest of those pages reads back erased.
func eraseAndWriteAt(a flash.Access, off uint32, data []byte) error {
	if err := a.EraseAndWriteAt(off, data); err != nil {
		return ioError("erase+write", a, off, uint32(len(data)), err)
	}
	return nil
}

func isErased(a flash.Access, off, length uint32) (bool, error) {
	ok, err := a.IsErased(off, length)
	if err != nil {
		return false, ioError("read", a, off, length, err)
	}
	return ok, nil
}

// eraseIfNeeded erases [off, off+length) unless it already reads back as
// erased, sparing erase cycles when an operation is replayed.
func eraseIfNeeded(a flash.Access, off, length uint32) error {
	if length == 0 {
		return nil
	}
	ok, err := isErased(a, off, length)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return eraseAt(a, off, length)
}

func readHeader(a flash.Access, off uint32) (*Header, error) {
	b, err := readBytes(a, off, HeaderSize)
	if err != nil {
		return nil, err
	}
	return ParseHeader(b)
}

// readValidHeader reads a header and checks its magic.
func readValidHeader(a flash.Access, off uint32) (*Header, error) {
	h, err := readHeader(a, off)
	if err != nil {
		return nil, err
	}
	if !h.ValidMagic() {
		return nil, &HeaderCorruptError{Addr: a.Region.Base + flash.Address(off), Magic: h.Magic}
	}
	return h, nil
}
