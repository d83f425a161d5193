// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fwimgtool manages a flash image laid out for the secure firmware update
// bootloader: it stages signed candidates, runs boot cycles and reports the
// self-test verdict of the application.
//
// Synopsis:
//     fwimgtool init -f FLASH_FILE [--slot-size SIZE] [--swap-size SIZE]
//     fwimgtool keygen -o PREFIX [--alg ecdsa-p256|sm2]
//     fwimgtool stage -f FLASH_FILE -k KEY -p BODY -v VERSION [-e ENCODING]
//     fwimgtool boot -f FLASH_FILE -k KEY
//     fwimgtool confirm -f FLASH_FILE -k KEY [--failed]
//     fwimgtool rollback -f FLASH_FILE -k KEY
//     fwimgtool show -f FLASH_FILE
//
// An example:
//     fwimgtool init -f flash.bin
//     fwimgtool keygen -o vendor
//     fwimgtool stage -f flash.bin -k vendor.key -p app.bin -v 2 -e lz4
//     fwimgtool boot -f flash.bin -k vendor.pub
//     fwimgtool confirm -f flash.bin -k vendor.pub
//
// Description:
//     init:     Creates an erased flash image with an FMAP describing the slots
//     keygen:   Generates a header signing key pair
//     stage:    Signs a firmware body and writes it into the download slot
//     boot:     Runs the bootloader until the active image is launched
//     confirm:  Reports the self-test result of the active image
//     rollback: Restores the previously installed image
//     show:     Prints the layout and the firmware headers
package main

import (
	"log"

	"github.com/jessevdk/go-flags"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/boot"
	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/confirm"
	_init "github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/init"
	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/keygen"
	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/rollback"
	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/show"
	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands/stage"
)

var (
	knownCommands = map[string]commands.Command{
		"init":     &_init.Command{},
		"keygen":   &keygen.Command{},
		"stage":    &stage.Command{},
		"boot":     &boot.Command{},
		"confirm":  &confirm.Command{},
		"rollback": &rollback.Command{},
		"show":     &show.Command{},
	}
)

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for commandName, command := range knownCommands {
		_, err := flagsParser.AddCommand(commandName, command.ShortDescription(), command.LongDescription(), command)
		if err != nil {
			panic(err)
		}
	}

	// parse arguments and execute the appropriate command
	if _, err := flagsParser.Parse(); err != nil {
		log.Fatal(err)
	}
}
