// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"errors"
	"fmt"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
	"github.com/linuxboot/sbsfu/pkg/boot"
	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwimg"
	"github.com/linuxboot/sbsfu/pkg/log"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.FlashOptions
	commands.KeyOptions

	MinVersion uint32   `long:"min-version" description:"lowest version accepted when no valid image is active"`
	Cycles     int      `long:"cycles" description:"maximal number of boot cycles to run before giving up" default:"4"`
	Encodings  []string `long:"encoding" description:"accepted candidate encoding, may be repeated (default: all)"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "run the bootloader on the flash image"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Installs a pending candidate, checks the active image and reports its entry point instead of jumping to it."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrExtraArgs
	}

	opts := []fwimg.Option{
		fwimg.WithMinVersion(cmd.MinVersion),
		fwimg.WithLauncher(fwimg.LauncherFunc(func(sp, entry uint32) {
			fmt.Printf("launch: stack pointer 0x%08x, entry point 0x%08x\n", sp, entry)
		})),
		fwimg.WithProgressCallback(func(p fwimg.Progress) {
			log.Debugf("%s: %d/%d", p.Phase, p.Done, p.Total)
		}),
	}
	if len(cmd.Encodings) != 0 {
		ids := make([]compression.ID, 0, len(cmd.Encodings))
		for _, name := range cmd.Encodings {
			id, err := compression.ParseID(name)
			if err != nil {
				return commands.ErrArgs{Err: err}
			}
			ids = append(ids, id)
		}
		opts = append(opts, fwimg.WithEncodings(ids...))
	}

	m, dev, err := commands.Manager(&cmd.FlashOptions, &cmd.KeyOptions, opts...)
	if err != nil {
		return err
	}
	defer dev.Close()

	b := boot.New(m, log.DefaultLogger)
	err = b.RunUntilLaunch(cmd.Cycles)
	if errors.Is(err, fwimg.ErrLaunchReturned) {
		// The launcher above only reports the entry point.
		return nil
	}
	if err != nil {
		return fmt.Errorf("boot failed after %d cycles: %w", b.Cycles, err)
	}
	return nil
}
