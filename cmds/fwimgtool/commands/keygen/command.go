// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keygen

import (
	"bufio"
	"fmt"
	"os"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	Algorithm string `short:"a" long:"alg" description:"signature algorithm [ecdsa-p256, sm2]" default:"ecdsa-p256"`
	Out       string `short:"o" long:"out" description:"output path prefix, '.key' and '.pub' are appended" required:"true"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "generate a header signing key pair"
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

	alg, err := fwcrypto.ParseAlgorithm(cmd.Algorithm)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	signer, err := fwcrypto.GenerateKey(alg)
	if err != nil {
		return err
	}

	if err := writeKeyFile(cmd.Out+".key", 0600, alg, signer.PrivateKey()); err != nil {
		return err
	}
	return writeKeyFile(cmd.Out+".pub", 0644, alg, fwcrypto.PublicKeyBytes(signer.Verifier()))
}

func writeKeyFile(path string, perm os.FileMode, alg fwcrypto.Algorithm, key []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("unable to create key file '%s': %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := fwcrypto.WriteKey(w, alg, key); err != nil {
		f.Close()
		return fmt.Errorf("unable to write key file '%s': %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("unable to write key file '%s': %w", path, err)
	}
	return f.Close()
}
