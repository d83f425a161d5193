// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stage

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwimg"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.FlashOptions
	commands.KeyOptions

	Payload  string `short:"p" long:"payload" description:"path to the firmware body, starting with its vector table" required:"true"`
	Version  uint32 `short:"v" long:"version" description:"firmware version" required:"true"`
	Encoding string `short:"e" long:"encoding" description:"payload encoding [none, lz4, xz, lzma, zstd, zlib]" default:"none"`
	Output   string `short:"o" long:"output" description:"also write the signed image to this file"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "sign a firmware body and place it into the download slot"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "The key file has to hold a private key. The candidate is installed on the next boot."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrExtraArgs
	}

	enc, err := compression.ParseID(cmd.Encoding)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	hasher, err := cmd.Hasher()
	if err != nil {
		return err
	}
	signer, err := cmd.Signer()
	if err != nil {
		return err
	}
	body, err := os.ReadFile(cmd.Payload)
	if err != nil {
		return fmt.Errorf("unable to read the payload '%s': %w", cmd.Payload, err)
	}

	h, img, err := fwimg.BuildImage(body, cmd.Version, enc, hasher, signer)
	if err != nil {
		return fmt.Errorf("unable to build the image: %w", err)
	}
	if cmd.Output != "" {
		if err := os.WriteFile(cmd.Output, img, 0644); err != nil {
			return fmt.Errorf("unable to write the image '%s': %w", cmd.Output, err)
		}
	}

	m, dev, err := commands.Manager(&cmd.FlashOptions, &cmd.KeyOptions)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := m.StageCandidate(img); err != nil {
		return fmt.Errorf("unable to stage the candidate: %w", err)
	}

	fmt.Printf("staged version %d: %s body, %s in flash (%s)\n",
		h.Version, humanize.IBytes(uint64(h.Size)), humanize.IBytes(uint64(len(img))), h.Encoding)
	return nil
}
