// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rollback

import (
	"fmt"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.FlashOptions
	commands.KeyOptions
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "restore the image which was active before the last installation"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return ""
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrExtraArgs
	}

	m, dev, err := commands.Manager(&cmd.FlashOptions, &cmd.KeyOptions)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := m.RollbackFirmwareUpdate(); err != nil {
		return fmt.Errorf("unable to roll back: %w", err)
	}
	info, err := m.GetActiveInfo()
	if err != nil {
		return err
	}
	fmt.Printf("restored version %d (%s)\n", info.Version, info.State)
	return nil
}
