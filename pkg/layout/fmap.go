// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Signature of the fmap structure.
var Signature = []byte("__FMAP__")

// Flags which can be applied to Area.Flags.
const (
	FmapAreaStatic = 1 << iota
	FmapAreaCompressed
	FmapAreaReadOnly
)

// String wraps around byte array to give us more control over how strings are
// serialized.
type String struct {
	Value [32]uint8
}

func (s *String) String() string {
	return strings.TrimRight(string(s.Value[:]), "\x00")
}

// NewString returns s as a fixed-size fmap string. Longer names are
// truncated, keeping a terminating null byte.
func NewString(s string) String {
	var r String
	copy(r.Value[:len(r.Value)-1], s)
	return r
}

// FMap structure serializable using encoding.Binary.
type FMap struct {
	Header
	Areas []Area
}

// Header describes the flash part.
type Header struct {
	Signature [8]uint8
	VerMajor  uint8
	VerMinor  uint8
	Base      uint64
	Size      uint32
	Name      String
	NAreas    uint16
}

// Area describes each area.
type Area struct {
	Offset uint32
	Size   uint32
	Name   String
	Flags  uint16
}

// Metadata contains additional data not part of the FMap.
type Metadata struct {
	Start uint64
}

// Size returns the serialized size of f.
func (f *FMap) Size() int {
	return binary.Size(f.Header) + len(f.Areas)*binary.Size(Area{})
}

func headerValid(h *Header) bool {
	if h.VerMajor != 1 {
		return false
	}
	if h.Size == 0 {
		return false
	}
	// Name is specified to be null terminated single-word string without spaces
	return bytes.Contains(h.Name.Value[:], []byte("\x00"))
}

var errSigNotFound = errors.New("cannot find FMAP signature")
var errMultipleFound = errors.New("found multiple fmap")

// Read an FMap into the data structure.
func Read(f io.Reader) (*FMap, *Metadata, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}

	start := 0
	validFmaps := 0
	var fmap FMap
	var fmapMetadata Metadata
	for start < len(data) {
		next := bytes.Index(data[start:], Signature)
		if next == -1 {
			break
		}
		start += next

		r := bytes.NewReader(data[start:])
		var testFmap FMap
		if err := binary.Read(r, binary.LittleEndian, &testFmap.Header); err != nil {
			return nil, nil, fmt.Errorf("unexpected EOF while parsing fmap: %w", err)
		}
		if !headerValid(&testFmap.Header) {
			start += len(Signature)
			continue
		}
		fmap = testFmap
		validFmaps++

		fmap.Areas = make([]Area, fmap.NAreas)
		if err := binary.Read(r, binary.LittleEndian, &fmap.Areas); err != nil {
			return nil, nil, fmt.Errorf("unexpected EOF while parsing fmap areas: %w", err)
		}
		fmapMetadata = Metadata{Start: uint64(start)}
		start += len(Signature)
	}
	switch {
	case validFmaps >= 2:
		return nil, nil, errMultipleFound
	case validFmaps == 1:
		return &fmap, &fmapMetadata, nil
	}
	return nil, nil, errSigNotFound
}

// Write overwrites the fmap in the flash file.
func Write(f io.WriteSeeker, fmap *FMap, m *Metadata) error {
	if _, err := f.Seek(int64(m.Start), io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, fmap.Header); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, fmap.Areas)
}

// Bytes serializes f.
func (f *FMap) Bytes() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, f.Header)
	_ = binary.Write(&buf, binary.LittleEndian, f.Areas)
	return buf.Bytes()
}

// IndexOfArea returns the index of an area in the fmap given its name. If no
// names match, -1 is returned.
func (f *FMap) IndexOfArea(name string) int {
	for i := 0; i < len(f.Areas); i++ {
		if f.Areas[i].Name.String() == name {
			return i
		}
	}
	return -1
}
