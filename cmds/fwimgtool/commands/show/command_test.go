// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package show

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/sbsfu/pkg/compression"
	"github.com/linuxboot/sbsfu/pkg/fwimg"
)

func TestHeaderRows(t *testing.T) {
	h := &fwimg.Header{
		Magic:           fwimg.Magic,
		ProtocolVersion: fwimg.ProtocolVersion,
		Version:         7,
		Size:            2048,
		Encoding:        compression.IDLZ4,
	}

	values := map[string]string{}
	for _, row := range headerRows(h, false) {
		values[row[0].(string)] = row[1].(string)
	}
	require.Equal(t, "SFUM", values["Magic"])
	require.Equal(t, "1", values["Protocol Version"])
	require.Equal(t, "7", values["Version"])
	require.Equal(t, "2.0 KiB", values["Size"])
	require.Equal(t, "lz4", values["Encoding"])
	require.Contains(t, values, "Update Source Fingerprint")
	require.NotContains(t, values, "Reserved0")
	require.NotContains(t, values, "Reserved 0")

	require.Len(t, headerRows(h, true), len(headerRows(h, false))+3)
}
