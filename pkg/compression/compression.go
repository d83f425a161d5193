// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements the payload encodings a firmware candidate
// may be downloaded with. The bootloader decodes the candidate in place
// before installing it.
package compression

import (
	"fmt"
	"strings"
)

// Compressor defines a single compression scheme (such as LZ4).
type Compressor interface {
	// Name is typically the name of a class.
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

// ID is the identifier of an encoding as persisted in a firmware header.
type ID uint16

// Known encodings. None means the payload is stored as is.
const (
	None ID = iota
	IDLZ4
	IDXZ
	IDZstd
	IDLZMA
	IDZLIB
)

var compressors = map[ID]func() Compressor{
	IDLZ4:  func() Compressor { return &LZ4{} },
	IDXZ:   func() Compressor { return &XZ{} },
	IDZstd: func() Compressor { return &Zstd{} },
	IDLZMA: func() Compressor { return &LZMA{} },
	IDZLIB: func() Compressor { return &ZLIB{} },
}

// String implements fmt.Stringer.
func (id ID) String() string {
	if id == None {
		return "none"
	}
	if c := FromID(id); c != nil {
		return strings.ToLower(c.Name())
	}
	return fmt.Sprintf("unknown(%d)", uint16(id))
}

// FromID returns the Compressor for id, or nil for None and unknown ids.
func FromID(id ID) Compressor {
	ctor, ok := compressors[id]
	if !ok {
		return nil
	}
	return ctor()
}

// ParseID returns the ID for a case-insensitive encoding name.
func ParseID(name string) (ID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" || name == "raw" {
		return None, nil
	}
	for id := range compressors {
		if id.String() == name {
			return id, nil
		}
	}
	return None, fmt.Errorf("unknown encoding '%s'", name)
}
