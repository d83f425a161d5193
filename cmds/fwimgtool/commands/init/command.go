// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package init

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/layout"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	FlashPath string `short:"f" long:"flash" description:"path to the flash image file to create" required:"true"`
	PageSize  uint32 `long:"page-size" description:"flash erase page size" default:"4096"`
	SlotSize  uint32 `long:"slot-size" description:"size of each firmware slot" default:"65536"`
	SwapSize  uint32 `long:"swap-size" description:"size of the swap block" default:"4096"`
	Name      string `long:"name" description:"FMAP name" default:"SBSFU"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "create an erased flash image with a slot layout"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "The first page holds the FMAP, it is followed by the active slot, the download slot and the swap block."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrExtraArgs
	}

	l := layout.Default(cmd.PageSize, cmd.SlotSize, cmd.SwapSize)
	flashSize := l.FlashSize()
	if err := l.Validate(flashSize); err != nil {
		return commands.ErrArgs{Err: err}
	}

	dev, err := flash.CreateFile(cmd.FlashPath, flashSize, cmd.PageSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmap := l.FMap(cmd.Name, flashSize, 0)
	if err := dev.Write(0, fmap.Bytes()); err != nil {
		return fmt.Errorf("unable to write the FMAP: %w", err)
	}

	fmt.Printf("created %s: %s flash, %s slots, %d swap blocks of %s\n",
		cmd.FlashPath, humanize.IBytes(uint64(flashSize)), humanize.IBytes(uint64(cmd.SlotSize)),
		l.Blocks(), humanize.IBytes(uint64(cmd.SwapSize)))
	return nil
}
