// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64
// +build amd64

package bytes

import (
	"unsafe"
)

// isFilledWith compares b word by word against v repeated eight times.
func isFilledWith(b []byte, v byte) bool {
	length := len(b)
	if length == 0 {
		return true
	}
	ptr := unsafe.Pointer(&b[0])
	if uintptr(ptr)&0x07 != 0 {
		return isFilledWithSimple(b, v)
	}

	pattern := uint64(v) * 0x0101010101010101
	words := length / 8
	for i := 0; i < words; i++ {
		if *(*uint64)(unsafe.Add(ptr, i*8)) != pattern {
			return false
		}
	}
	return isFilledWithSimple(b[words*8:], v)
}
