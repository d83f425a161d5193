// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwcrypto

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjfoc/gmsm/sm3"
)

func TestHashers(t *testing.T) {
	data := []byte("firmware header")

	assert.Equal(t, Digest(sha256.Sum256(data)), SHA256.Sum(data))

	var want Digest
	copy(want[:], sm3.Sm3Sum(data))
	assert.Equal(t, want, SM3.Sum(data))
	assert.NotEqual(t, SHA256.Sum(data), SM3.Sum(data))

	for _, name := range []string{"", "SHA256", "sm3"} {
		_, err := HasherByName(name)
		require.NoError(t, err, name)
	}
	_, err := HasherByName("md5")
	require.Error(t, err)
}

func TestDigestIsZero(t *testing.T) {
	var d Digest
	assert.True(t, d.IsZero())
	d[31] = 1
	assert.False(t, d.IsZero())
}

func TestSignVerify(t *testing.T) {
	for _, alg := range []Algorithm{AlgECDSAP256, AlgSM2} {
		t.Run(alg.String(), func(t *testing.T) {
			s, err := GenerateKey(alg)
			require.NoError(t, err)

			data := []byte("signed part of the header")
			sig, err := s.Sign(data)
			require.NoError(t, err)
			require.NoError(t, s.Verifier().Verify(data, sig))

			tampered := append([]byte{}, data...)
			tampered[0] ^= 1
			require.ErrorIs(t, s.Verifier().Verify(tampered, sig), ErrBadSignature)

			sig[5] ^= 1
			require.ErrorIs(t, s.Verifier().Verify(data, sig), ErrBadSignature)
		})
	}
}

func TestKeyRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgECDSAP256, AlgSM2} {
		t.Run(alg.String(), func(t *testing.T) {
			s, err := GenerateKey(alg)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, WriteKey(&buf, alg, s.PrivateKey()))
			gotAlg, priv, err := ReadKey(&buf)
			require.NoError(t, err)
			require.Equal(t, alg, gotAlg)

			s2, err := NewSigner(gotAlg, priv)
			require.NoError(t, err)
			require.Equal(t, PublicKeyBytes(s.Verifier()), PublicKeyBytes(s2.Verifier()))

			v, err := NewVerifier(alg, PublicKeyBytes(s.Verifier()))
			require.NoError(t, err)
			data := []byte{1, 2, 3}
			sig, err := s2.Sign(data)
			require.NoError(t, err)
			require.NoError(t, v.Verify(data, sig))
		})
	}
}

func TestKeyErrors(t *testing.T) {
	_, err := NewSigner(AlgSM2, make([]byte, KeySize))
	require.Error(t, err)
	_, err = NewVerifier(AlgECDSAP256, make([]byte, 2*KeySize))
	require.Error(t, err)
	_, err = NewVerifier(AlgECDSAP256, make([]byte, 3))
	require.Error(t, err)
	_, err = GenerateKey(AlgUnknown)
	require.Error(t, err)
	_, err = ParseAlgorithm("rsa")
	require.Error(t, err)
}
