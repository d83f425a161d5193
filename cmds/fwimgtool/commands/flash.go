// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"bufio"
	"fmt"
	"os"

	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
	"github.com/linuxboot/sbsfu/pkg/fwimg"
	"github.com/linuxboot/sbsfu/pkg/layout"
	"github.com/linuxboot/sbsfu/pkg/log"
)

// FlashOptions are the options shared by the verbs working on a flash
// image file.
type FlashOptions struct {
	FlashPath string `short:"f" long:"flash" description:"path to the flash image file" required:"true"`
	PageSize  uint32 `long:"page-size" description:"flash erase page size" default:"4096"`
	Debug     bool   `long:"debug" description:"print debug messages"`
}

// Load reads the flash image into memory and its slot layout from the
// FMAP. Changes to the returned device are not written back.
func (opts *FlashOptions) Load() (*flash.Emulator, layout.Layout, error) {
	log.SetDebug(opts.Debug)
	return LoadFlash(opts.FlashPath, opts.PageSize)
}

// Open opens the flash image for modification and reads its slot layout
// from the FMAP.
func (opts *FlashOptions) Open() (*flash.File, layout.Layout, error) {
	_, l, err := opts.Load()
	if err != nil {
		return nil, layout.Layout{}, err
	}
	dev, err := flash.OpenFile(opts.FlashPath, opts.PageSize)
	if err != nil {
		return nil, layout.Layout{}, err
	}
	return dev, l, nil
}

// LoadFlash reads the flash dump at path into an emulated flash and locates
// the slot layout in it.
func LoadFlash(path string, pageSize uint32) (*flash.Emulator, layout.Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, layout.Layout{}, fmt.Errorf("unable to read the flash image file '%s': %w", path, err)
	}
	if pageSize == 0 || uint32(len(data))%pageSize != 0 {
		return nil, layout.Layout{}, fmt.Errorf("flash image size 0x%x is not a multiple of page size 0x%x", len(data), pageSize)
	}
	dev := flash.NewEmulatorFromBytes(data, pageSize)
	l, _, err := layout.ReadFrom(dev.ReadWriteSeeker(), pageSize)
	if err != nil {
		return nil, layout.Layout{}, fmt.Errorf("unable to read the slot layout: %w", err)
	}
	return dev, l, nil
}

// KeyOptions select the header authentication parameters.
type KeyOptions struct {
	KeyPath string `short:"k" long:"key" description:"path to a key file written by 'keygen' (private or public)" required:"true"`
	Hash    string `long:"hash" description:"fingerprint hash [sha256, sm3]" default:"sha256"`
}

// Hasher returns the selected fingerprint hash.
func (opts *KeyOptions) Hasher() (fwcrypto.Hasher, error) {
	h, err := fwcrypto.HasherByName(opts.Hash)
	if err != nil {
		return nil, ErrArgs{Err: err}
	}
	return h, nil
}

func (opts *KeyOptions) readKey() (fwcrypto.Algorithm, []byte, error) {
	f, err := os.Open(opts.KeyPath)
	if err != nil {
		return fwcrypto.AlgUnknown, nil, fmt.Errorf("unable to open the key file '%s': %w", opts.KeyPath, err)
	}
	defer f.Close()
	alg, key, err := fwcrypto.ReadKey(bufio.NewReader(f))
	if err != nil {
		return fwcrypto.AlgUnknown, nil, fmt.Errorf("unable to parse the key file '%s': %w", opts.KeyPath, err)
	}
	return alg, key, nil
}

// Signer loads a private key.
func (opts *KeyOptions) Signer() (fwcrypto.Signer, error) {
	alg, key, err := opts.readKey()
	if err != nil {
		return nil, err
	}
	if len(key) != fwcrypto.KeySize {
		return nil, fmt.Errorf("'%s' does not hold a private key", opts.KeyPath)
	}
	return fwcrypto.NewSigner(alg, key)
}

// Verifier loads a public key, or derives it from a private one.
func (opts *KeyOptions) Verifier() (fwcrypto.Verifier, error) {
	alg, key, err := opts.readKey()
	if err != nil {
		return nil, err
	}
	if len(key) == fwcrypto.KeySize {
		s, err := fwcrypto.NewSigner(alg, key)
		if err != nil {
			return nil, err
		}
		return s.Verifier(), nil
	}
	return fwcrypto.NewVerifier(alg, key)
}

// Manager opens the flash image and builds a firmware manager on it. The
// returned file has to be closed by the caller.
func Manager(f *FlashOptions, k *KeyOptions, extra ...fwimg.Option) (*fwimg.Manager, *flash.File, error) {
	hasher, err := k.Hasher()
	if err != nil {
		return nil, nil, err
	}
	verifier, err := k.Verifier()
	if err != nil {
		return nil, nil, err
	}
	dev, l, err := f.Open()
	if err != nil {
		return nil, nil, err
	}
	opts := append([]fwimg.Option{
		fwimg.WithHasher(hasher),
		fwimg.WithVerifier(verifier),
	}, extra...)
	m, err := fwimg.New(dev, l, opts...)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return m, dev, nil
}
