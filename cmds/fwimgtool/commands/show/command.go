// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package show

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/camelcase"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/linuxboot/sbsfu/cmds/fwimgtool/commands"
	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/fwimg"
	"github.com/linuxboot/sbsfu/pkg/log"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.FlashOptions

	Reserved bool `long:"reserved" description:"print also the reserved header fields"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "print the slot layout and the firmware headers"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Headers are printed as stored, their signatures are not checked."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrExtraArgs
	}

	dev, l, err := cmd.Load()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Layout")
	t.AppendHeader(table.Row{"Area", "Offset", "End", "Size"})
	for _, r := range []flash.Region{l.Active, l.Download, l.Swap, l.Trailer()} {
		t.AppendRow(table.Row{r.Name, r.Base, r.End(), humanize.IBytes(uint64(r.Size))})
	}
	t.Render()

	state, err := fwimg.NewStateCodec(dev, l.Active, log.DefaultLogger).ReadStateGlitchResistant()
	if err != nil {
		log.Warnf("active state: %v", err)
	}
	for _, slot := range []struct {
		region flash.Region
		title  string
	}{
		{l.Active, fmt.Sprintf("Active image (%s)", state)},
		{l.Download, "Download slot"},
	} {
		if err := cmd.printHeader(dev, slot.region, slot.title); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *Command) printHeader(dev flash.Device, r flash.Region, title string) error {
	buf, err := flash.NewAccess(dev, r).Bytes(0, fwimg.HeaderSize)
	if err != nil {
		return err
	}
	h, err := fwimg.ParseHeader(buf)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	if !h.ValidMagic() {
		t.AppendRow(table.Row{"no firmware header"})
		t.Render()
		return nil
	}
	t.AppendHeader(table.Row{"Field", "Value"})
	for _, row := range headerRows(h, cmd.Reserved) {
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

// headerRows lists the header fields, labelled after their names.
func headerRows(h *fwimg.Header, withReserved bool) []table.Row {
	v := reflect.ValueOf(h).Elem()
	var rows []table.Row
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		if strings.HasPrefix(name, "Reserved") && !withReserved {
			continue
		}
		label := strings.Join(camelcase.Split(name), " ")
		rows = append(rows, table.Row{label, fieldValue(name, v.Field(i))})
	}
	return rows
}

func fieldValue(name string, v reflect.Value) string {
	switch name {
	case "Magic":
		magic := v.Interface().([4]byte)
		return string(magic[:])
	case "Size", "EncodedSize":
		return humanize.IBytes(v.Uint())
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	if v.Kind() == reflect.Array {
		b := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(b), v)
		return fmt.Sprintf("%x", b)
	}
	return fmt.Sprint(v.Interface())
}
