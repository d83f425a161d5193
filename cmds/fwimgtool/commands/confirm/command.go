// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package confirm

import (
	"fmt"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.FlashOptions
	commands.KeyOptions

	Failed bool `long:"failed" description:"report a failed self-test instead"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "report the self-test result of the active image"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "A passed self-test marks the image valid. A failed one marks it invalid, the next boot rolls back to the previous image."
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

	if err := m.ConfirmSelfTest(!cmd.Failed); err != nil {
		return err
	}
	state, err := m.ActiveState()
	if err != nil {
		return err
	}
	fmt.Printf("active image is now %s\n", state)
	return nil
}
