// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

// ErasedValue is the value of an erased NOR flash byte.
const ErasedValue = 0xFF

//go:nosplit
func isFilledWithSimple(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}

// IsFilledWith returns true if every byte of b equals v. An empty slice is
// considered filled.
func IsFilledWith(b []byte, v byte) bool {
	return isFilledWith(b, v)
}

// IsZeroFilled returns true if b consists of zeros only: a fully programmed
// NOR flash area.
func IsZeroFilled(b []byte) bool {
	return isFilledWith(b, 0)
}

// IsErased returns true if b consists of ErasedValue only.
func IsErased(b []byte) bool {
	return isFilledWith(b, ErasedValue)
}
