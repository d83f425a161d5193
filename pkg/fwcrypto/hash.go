// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fwcrypto holds the cryptographic collaborators of the firmware
// update logic: the digest used for image tags and header fingerprints, and
// the header signature scheme.
package fwcrypto

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/tjfoc/gmsm/sm3"
)

// DigestSize is the size of every digest stored in a firmware header.
const DigestSize = 32

// Digest is a hash value as stored in a firmware header.
type Digest [DigestSize]byte

// IsZero returns true if every byte of d is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// Hasher computes image tags and header fingerprints.
type Hasher interface {
	Name() string
	Sum(data []byte) Digest
}

// SHA256 is the default Hasher.
var SHA256 Hasher = sha256Hasher{}

// SM3 is the ShangMi hash, used together with SM2 signatures.
var SM3 Hasher = sm3Hasher{}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return "sha256" }

func (sha256Hasher) Sum(data []byte) Digest {
	return sha256.Sum256(data)
}

type sm3Hasher struct{}

func (sm3Hasher) Name() string { return "sm3" }

func (sm3Hasher) Sum(data []byte) Digest {
	h := sm3.New()
	_, _ = h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// HasherByName returns the Hasher with the given case-insensitive name.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", SHA256.Name():
		return SHA256, nil
	case SM3.Name():
		return SM3, nil
	}
	return nil, fmt.Errorf("unknown hash '%s'", name)
}
