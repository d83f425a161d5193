// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4"
)

// lz4BlockSize is the smallest lz4 frame block size. Candidates are decoded
// on small targets, so small blocks are preferred over ratio.
const lz4BlockSize = 64 << 10

// LZ4 implements Compressor with lz4 frames carrying the content size and
// block checksums.
type LZ4 struct{}

// Name returns the type of compression employed.
func (c *LZ4) Name() string {
	return "LZ4"
}

// Decode decodes a byte slice of LZ4 data.
func (c *LZ4) Decode(encodedData []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(encodedData))
	decodedData, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if r.Header.Size != 0 && r.Header.Size != uint64(len(decodedData)) {
		return nil, fmt.Errorf("lz4 frame announces %d bytes, got %d", r.Header.Size, len(decodedData))
	}
	return decodedData, nil
}

// Encode encodes a byte slice with LZ4.
func (c *LZ4) Encode(decodedData []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	w := lz4.NewWriter(&buf)
	w.Header = lz4.Header{
		BlockChecksum: true,
		BlockMaxSize:  lz4BlockSize,
		Size:          uint64(len(decodedData)),
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
