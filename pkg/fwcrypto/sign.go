// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/tjfoc/gmsm/sm2"
)

// SignatureSize is the size of a header signature: R and S, 32 bytes each,
// big endian.
const SignatureSize = 64

// Signature is a header signature as stored in a firmware header.
type Signature [SignatureSize]byte

// KeySize is the size of a private scalar. A public key is two of them.
const KeySize = 32

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// RandReader is the entropy source used for signing and key generation.
var RandReader = rand.Reader

var sm2UID = []byte{0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38}

// Algorithm is a header signature scheme.
type Algorithm uint8

// Supported signature schemes.
const (
	AlgUnknown Algorithm = iota
	AlgECDSAP256
	AlgSM2
)

func (a Algorithm) String() string {
	switch a {
	case AlgECDSAP256:
		return "ecdsa-p256"
	case AlgSM2:
		return "sm2"
	}
	return fmt.Sprintf("unknown(%d)", uint8(a))
}

// ParseAlgorithm returns the Algorithm with the given case-insensitive name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "ecdsa", AlgECDSAP256.String():
		return AlgECDSAP256, nil
	case AlgSM2.String():
		return AlgSM2, nil
	}
	return AlgUnknown, fmt.Errorf("unknown signature algorithm '%s'", name)
}

func (a Algorithm) curve() (elliptic.Curve, error) {
	switch a {
	case AlgECDSAP256:
		return elliptic.P256(), nil
	case AlgSM2:
		return sm2.P256Sm2(), nil
	}
	return nil, fmt.Errorf("signature algorithm '%s' is not implemented", a)
}

// Verifier checks header signatures.
type Verifier interface {
	// Verify returns nil if sig is a signature of signedData.
	Verify(signedData []byte, sig Signature) error
}

// Signer signs firmware headers. It is only needed by tools which build
// images, never by the bootloader.
type Signer interface {
	Sign(signedData []byte) (Signature, error)

	// Verifier returns the Verifier of the matching public key.
	Verifier() Verifier

	// PrivateKey returns the private scalar, big endian.
	PrivateKey() []byte
}

// PublicKeyBytes returns X||Y of the public key behind v, or nil if v is
// not a Verifier of this package.
func PublicKeyBytes(v Verifier) []byte {
	k, ok := v.(*verifier)
	if !ok {
		return nil
	}
	out := make([]byte, 2*KeySize)
	k.x.FillBytes(out[:KeySize])
	k.y.FillBytes(out[KeySize:])
	return out
}

type verifier struct {
	alg  Algorithm
	x, y *big.Int
}

// NewVerifier parses a public key given as X||Y.
func NewVerifier(alg Algorithm, pub []byte) (Verifier, error) {
	c, err := alg.curve()
	if err != nil {
		return nil, err
	}
	if len(pub) != 2*KeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", 2*KeySize, len(pub))
	}
	x := new(big.Int).SetBytes(pub[:KeySize])
	y := new(big.Int).SetBytes(pub[KeySize:])
	if !c.IsOnCurve(x, y) {
		return nil, fmt.Errorf("public key is not on curve %s", c.Params().Name)
	}
	return &verifier{alg: alg, x: x, y: y}, nil
}

func splitSignature(sig Signature) (r, s *big.Int) {
	return new(big.Int).SetBytes(sig[:KeySize]), new(big.Int).SetBytes(sig[KeySize:])
}

func joinSignature(r, s *big.Int) (Signature, error) {
	var sig Signature
	if r.BitLen() > 8*KeySize || s.BitLen() > 8*KeySize {
		return sig, fmt.Errorf("signature component does not fit %d bytes", KeySize)
	}
	r.FillBytes(sig[:KeySize])
	s.FillBytes(sig[KeySize:])
	return sig, nil
}

func (v *verifier) Verify(signedData []byte, sig Signature) error {
	r, s := splitSignature(sig)
	var ok bool
	switch v.alg {
	case AlgECDSAP256:
		pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: v.x, Y: v.y}
		h := sha256.Sum256(signedData)
		ok = ecdsa.Verify(pk, h[:], r, s)
	case AlgSM2:
		pk := &sm2.PublicKey{Curve: sm2.P256Sm2(), X: v.x, Y: v.y}
		ok = sm2.Sm2Verify(pk, signedData, sm2UID, r, s)
	default:
		return fmt.Errorf("signature algorithm '%s' is not implemented", v.alg)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

type signer struct {
	alg  Algorithm
	d    *big.Int
	x, y *big.Int
}

// NewSigner builds a Signer from a private scalar given big endian.
func NewSigner(alg Algorithm, priv []byte) (Signer, error) {
	c, err := alg.curve()
	if err != nil {
		return nil, err
	}
	d := new(big.Int).SetBytes(priv)
	if d.Sign() == 0 || d.Cmp(c.Params().N) >= 0 {
		return nil, fmt.Errorf("private key is out of range for curve %s", c.Params().Name)
	}
	x, y := c.ScalarBaseMult(d.FillBytes(make([]byte, KeySize)))
	return &signer{alg: alg, d: d, x: x, y: y}, nil
}

// GenerateKey returns a Signer with a fresh private key.
func GenerateKey(alg Algorithm) (Signer, error) {
	switch alg {
	case AlgECDSAP256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), RandReader)
		if err != nil {
			return nil, fmt.Errorf("unable to generate ECDSA key: %w", err)
		}
		return &signer{alg: alg, d: k.D, x: k.X, y: k.Y}, nil
	case AlgSM2:
		k, err := sm2.GenerateKey(RandReader)
		if err != nil {
			return nil, fmt.Errorf("unable to generate SM2 key: %w", err)
		}
		return &signer{alg: alg, d: k.D, x: k.X, y: k.Y}, nil
	}
	return nil, fmt.Errorf("signature algorithm '%s' is not implemented", alg)
}

func (s *signer) Sign(signedData []byte) (Signature, error) {
	var (
		r, ss *big.Int
		err   error
	)
	switch s.alg {
	case AlgECDSAP256:
		k := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: s.x, Y: s.y},
			D:         s.d,
		}
		h := sha256.Sum256(signedData)
		r, ss, err = ecdsa.Sign(RandReader, k, h[:])
	case AlgSM2:
		k := &sm2.PrivateKey{
			PublicKey: sm2.PublicKey{Curve: sm2.P256Sm2(), X: s.x, Y: s.y},
			D:         s.d,
		}
		r, ss, err = sm2.Sm2Sign(k, signedData, sm2UID, RandReader)
	default:
		return Signature{}, fmt.Errorf("signature algorithm '%s' is not implemented", s.alg)
	}
	if err != nil {
		return Signature{}, fmt.Errorf("unable to sign with %s the data: %w", s.alg, err)
	}
	return joinSignature(r, ss)
}

func (s *signer) Verifier() Verifier {
	return &verifier{alg: s.alg, x: s.x, y: s.y}
}

func (s *signer) PrivateKey() []byte {
	return s.d.FillBytes(make([]byte, KeySize))
}

// ReadKey reads a key file as written by tools: the algorithm name on the
// first line and the hex encoded key on the second.
func ReadKey(r io.Reader) (Algorithm, []byte, error) {
	var algName, keyHex string
	if _, err := fmt.Fscanln(r, &algName); err != nil {
		return AlgUnknown, nil, fmt.Errorf("unable to read key algorithm: %w", err)
	}
	if _, err := fmt.Fscanln(r, &keyHex); err != nil {
		return AlgUnknown, nil, fmt.Errorf("unable to read key: %w", err)
	}
	alg, err := ParseAlgorithm(algName)
	if err != nil {
		return AlgUnknown, nil, err
	}
	var key []byte
	if _, err := fmt.Sscanf(keyHex, "%x", &key); err != nil {
		return AlgUnknown, nil, fmt.Errorf("unable to decode key: %w", err)
	}
	return alg, key, nil
}

// WriteKey writes a key in the format read by ReadKey.
func WriteKey(w io.Writer, alg Algorithm, key []byte) error {
	_, err := fmt.Fprintf(w, "%s\n%x\n", alg, key)
	return err
}
