// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout describes where the firmware slots live in flash. The
// placement is persisted as a flash map (FMAP) so that tools and the
// bootloader agree on it.
package layout

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/sbsfu/pkg/bytes"
	"github.com/linuxboot/sbsfu/pkg/flash"
)

// FMAP area names of the firmware slots.
const (
	AreaActive   = "SLOT_ACTIVE"
	AreaDownload = "SLOT_DWL"
	AreaSwap     = "SWAP"
	AreaFMap     = "FMAP"
)

// Layout is the placement of the firmware slots.
type Layout struct {
	// PageSize is the erase granularity of the flash.
	PageSize uint32

	// Active is slot #0, the image which is executed.
	Active flash.Region
	// Download receives new candidates. After an installation it holds
	// the previous image, shifted by one swap block, and its trailer.
	Download flash.Region
	// Swap is the scratch block used while exchanging the slots.
	Swap flash.Region
}

// SwapSize is the size of one swap block.
func (l Layout) SwapSize() uint32 {
	return l.Swap.Size
}

// Blocks returns the number of swap blocks in a slot.
func (l Layout) Blocks() uint32 {
	if l.Swap.Size == 0 {
		return 0
	}
	return l.Download.Size / l.Swap.Size
}

// Trailer returns the region holding the installation trailer: the last
// swap block of the download slot.
func (l Layout) Trailer() flash.Region {
	return flash.Region{
		Name: "TRAILER",
		Base: l.Download.End() - flash.Address(l.Swap.Size),
		Size: l.Swap.Size,
	}
}

// MaxSwapBlocks is the largest number of blocks an installation can
// exchange: the previous image is stored one block higher and the last
// block is the trailer.
func (l Layout) MaxSwapBlocks() uint32 {
	if l.Blocks() < 2 {
		return 0
	}
	return l.Blocks() - 2
}

// Validate checks the geometry against a flash of flashSize bytes. All
// violations are reported at once.
func (l Layout) Validate(flashSize uint32) error {
	var result *multierror.Error
	if l.PageSize == 0 || l.PageSize&(l.PageSize-1) != 0 {
		result = multierror.Append(result, fmt.Errorf("page size 0x%x is not a power of two", l.PageSize))
		return result.ErrorOrNil()
	}
	regions := []flash.Region{l.Active, l.Download, l.Swap}
	ranges := make(bytes.Ranges, 0, len(regions))
	for _, r := range regions {
		if r.Size == 0 {
			result = multierror.Append(result, fmt.Errorf("region %s is empty", r.Name))
		}
		if uint32(r.Base)%l.PageSize != 0 || r.Size%l.PageSize != 0 {
			result = multierror.Append(result, fmt.Errorf("region %s is not aligned to page size 0x%x", r, l.PageSize))
		}
		if uint64(r.Base)+uint64(r.Size) > uint64(flashSize) {
			result = multierror.Append(result, fmt.Errorf("region %s exceeds flash size 0x%x", r, flashSize))
		}
		ranges = append(ranges, r.Range())
	}
	for _, pair := range ranges.Overlaps() {
		result = multierror.Append(result, fmt.Errorf("regions %s and %s overlap", regions[pair[0]], regions[pair[1]]))
	}
	if l.Active.Size != l.Download.Size {
		result = multierror.Append(result, fmt.Errorf("slot sizes differ: active 0x%x, download 0x%x", l.Active.Size, l.Download.Size))
	}
	if l.Swap.Size != 0 && l.Download.Size%l.Swap.Size != 0 {
		result = multierror.Append(result, fmt.Errorf("slot size 0x%x is not a multiple of swap size 0x%x", l.Download.Size, l.Swap.Size))
	}
	if l.Blocks() < 3 {
		result = multierror.Append(result, fmt.Errorf("slot holds %d swap blocks, at least 3 are needed", l.Blocks()))
	}
	return result.ErrorOrNil()
}

// FromFMap derives the layout from the areas of f.
func FromFMap(f *FMap, pageSize uint32) (Layout, error) {
	l := Layout{PageSize: pageSize}
	for _, a := range []struct {
		name string
		dst  *flash.Region
	}{
		{AreaActive, &l.Active},
		{AreaDownload, &l.Download},
		{AreaSwap, &l.Swap},
	} {
		i := f.IndexOfArea(a.name)
		if i == -1 {
			return Layout{}, fmt.Errorf("FMAP area %q not found", a.name)
		}
		*a.dst = flash.Region{
			Name: a.name,
			Base: flash.Address(f.Areas[i].Offset),
			Size: f.Areas[i].Size,
		}
	}
	return l, nil
}

// ReadFrom locates the FMAP in a flash dump and derives the layout.
func ReadFrom(r io.Reader, pageSize uint32) (Layout, *Metadata, error) {
	f, m, err := Read(r)
	if err != nil {
		return Layout{}, nil, err
	}
	l, err := FromFMap(f, pageSize)
	if err != nil {
		return Layout{}, nil, err
	}
	if err := l.Validate(f.Header.Size); err != nil {
		return Layout{}, nil, fmt.Errorf("invalid slot layout: %w", err)
	}
	return l, m, nil
}

// FMap builds the flash map describing l on a flash of flashSize bytes.
// The map itself is placed in an area of one page at fmapOffset.
func (l Layout) FMap(name string, flashSize, fmapOffset uint32) *FMap {
	f := &FMap{
		Header: Header{
			VerMajor: 1,
			VerMinor: 1,
			Size:     flashSize,
			Name:     NewString(name),
		},
	}
	copy(f.Signature[:], Signature)
	add := func(areaName string, offset, size uint32, flags uint16) {
		f.Areas = append(f.Areas, Area{
			Offset: offset,
			Size:   size,
			Name:   NewString(areaName),
			Flags:  flags,
		})
	}
	add(AreaFMap, fmapOffset, l.PageSize, FmapAreaStatic|FmapAreaReadOnly)
	add(AreaActive, uint32(l.Active.Base), l.Active.Size, 0)
	add(AreaDownload, uint32(l.Download.Base), l.Download.Size, 0)
	add(AreaSwap, uint32(l.Swap.Base), l.Swap.Size, 0)
	f.NAreas = uint16(len(f.Areas))
	return f
}

// Default returns a layout for a flash of the given page size: one page
// for the FMAP, then the active slot, the download slot and one swap block.
func Default(pageSize, slotSize, swapSize uint32) Layout {
	base := flash.Address(pageSize)
	return Layout{
		PageSize: pageSize,
		Active:   flash.Region{Name: AreaActive, Base: base, Size: slotSize},
		Download: flash.Region{Name: AreaDownload, Base: base.Add(slotSize), Size: slotSize},
		Swap:     flash.Region{Name: AreaSwap, Base: base.Add(2 * slotSize), Size: swapSize},
	}
}

// FlashSize returns the flash size needed to hold l as built by Default.
func (l Layout) FlashSize() uint32 {
	end := l.Active.End()
	for _, r := range []flash.Region{l.Download, l.Swap} {
		if r.End() > end {
			end = r.End()
		}
	}
	return uint32(end)
}
