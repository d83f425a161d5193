// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsFilledWith(t *testing.T) {
	for _, size := range []int{0, 1, 7, 8, 9, 32, 1000} {
		zeros := make([]byte, size)
		ones := make([]byte, size)
		for i := range ones {
			ones[i] = 0xFF
		}
		require.True(t, IsZeroFilled(zeros), "size %d", size)
		require.True(t, IsErased(ones), "size %d", size)
		if size == 0 {
			continue
		}
		require.False(t, IsZeroFilled(ones), "size %d", size)
		require.False(t, IsErased(zeros), "size %d", size)

		zeros[size-1] = 0x01
		require.False(t, IsZeroFilled(zeros), "size %d", size)
		ones[size/2] = 0xFE
		require.False(t, IsErased(ones), "size %d", size)
	}
}

func TestIsFilledWithUnaligned(t *testing.T) {
	buf := make([]byte, 67)
	for i := range buf {
		buf[i] = 0xA5
	}
	for off := 0; off < 8; off++ {
		require.True(t, IsFilledWith(buf[off:], 0xA5), "offset %d", off)
	}
	buf[40] = 0xA4
	for off := 0; off < 8; off++ {
		require.False(t, IsFilledWith(buf[off:], 0xA5), "offset %d", off)
	}
}

func BenchmarkIsErased(b *testing.B) {
	for _, size := range []uint64{0, 1, 256, 65536, 1 << 20} {
		d := make([]byte, size)
		for i := range d {
			d[i] = ErasedValue
		}
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			b.Run("default", func(b *testing.B) {
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					IsErased(d)
				}
			})
			b.Run("simple", func(b *testing.B) {
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					isFilledWithSimple(d, ErasedValue)
				}
			})
		})
	}
}
