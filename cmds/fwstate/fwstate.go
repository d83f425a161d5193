// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fwstate prints the state of the active firmware image in a flash image.
//
// Synopsis:
//     fwstate [--page-size SIZE] [--raw] FLASH_FILE
//
// Options:
//     --page-size: flash erase page size (default 4096)
//     --raw: also dump the state sub-regions
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/fwimg"
	"github.com/linuxboot/sbsfu/pkg/layout"
	sbsfulog "github.com/linuxboot/sbsfu/pkg/log"
)

var (
	pageSize = flag.Uint32("page-size", 4096, "flash erase page size")
	raw      = flag.Bool("raw", false, "also dump the state sub-regions")
)

func main() {
	flag.Parse()

	a := flag.Args()
	if len(a) != 1 {
		log.Fatal("Usage: fwstate [--page-size SIZE] [--raw] <flash-file>")
	}

	data, err := os.ReadFile(a[0])
	if err != nil {
		log.Fatal(err)
	}
	if *pageSize == 0 || uint32(len(data))%*pageSize != 0 {
		log.Fatalf("flash image size 0x%x is not a multiple of page size 0x%x", len(data), *pageSize)
	}
	dev := flash.NewEmulatorFromBytes(data, *pageSize)
	l, _, err := layout.ReadFrom(dev.ReadWriteSeeker(), *pageSize)
	if err != nil {
		log.Fatal(err)
	}

	active := flash.NewAccess(dev, l.Active)
	buf, err := active.Bytes(0, fwimg.HeaderSize)
	if err != nil {
		log.Fatal(err)
	}
	h, err := fwimg.ParseHeader(buf)
	if err != nil {
		log.Fatal(err)
	}
	if !h.ValidMagic() {
		fmt.Printf("%s: no firmware\n", l.Active.Name)
		return
	}

	state, err := fwimg.NewStateCodec(dev, l.Active, sbsfulog.Nop{}).ReadStateGlitchResistant()
	if err != nil {
		fmt.Printf("%s: version %d, %s, state %s (%v)\n", l.Active.Name, h.Version, humanize.IBytes(uint64(h.Size)), state, err)
	} else {
		fmt.Printf("%s: version %d, %s, state %s\n", l.Active.Name, h.Version, humanize.IBytes(uint64(h.Size)), state)
	}

	if *raw {
		regions, err := active.Bytes(fwimg.HeaderSize, fwimg.StateSize)
		if err != nil {
			log.Fatal(err)
		}
		for i := 0; i < fwimg.StateRegions; i++ {
			fmt.Printf("  sub-region %d: %x\n", i, regions[i*fwimg.StateRegionSize:(i+1)*fwimg.StateRegionSize])
		}
	}
}
