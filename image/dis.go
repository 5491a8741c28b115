package image

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/chazu/cvm/pkg/bytecode"
)

// Disassemble writes a readable listing of img: its tables, then every
// method with its handler regions and code.
func (img *Image) Disassemble(w io.Writer) error {
	pf := func(format string, args ...any) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	}
	if err := pf("; image %s (format %d)\n", img.BuildID, img.Version); err != nil {
		return err
	}
	if img.Entry != "" {
		pf("; entry %s\n", img.Entry)
	}
	for i, s := range img.Strings {
		pf("; string %d = %s\n", i+1, strconv.Quote(s))
	}
	for i, name := range img.Natives {
		pf("; native %d = %s\n", i+1, name)
	}
	for i, c := range img.Classes {
		pf("; class %d = %s", i+1, c.Name)
		if c.Parent != "" {
			pf(" : %s", c.Parent)
		}
		if c.IsInterface {
			pf(" interface")
		}
		if c.InstanceSize > 0 {
			pf(" size %d", c.InstanceSize)
		}
		pf("\n")
		for slot, key := range c.VTable {
			pf(";   vtable %d = %s\n", slot, key)
		}
		ifaces := make([]string, 0, len(c.InterfaceImpls))
		for name := range c.InterfaceImpls {
			ifaces = append(ifaces, name)
		}
		sort.Strings(ifaces)
		for _, name := range ifaces {
			for slot, key := range c.InterfaceImpls[name] {
				pf(";   %s[%d] = %s\n", name, slot, key)
			}
		}
	}
	if len(img.RVAData) > 0 {
		pf("; rva data %d bytes\n", len(img.RVAData))
	}

	for i := range img.Methods {
		m := &img.Methods[i]
		if err := pf("\n.method %s ; id %d\n", m.Key(), i+1); err != nil {
			return err
		}
		if m.Native != "" {
			pf("    ; native %s (%d args, %d ret)\n", m.Native, m.ArgWords, m.RetWords)
			continue
		}
		if m.CtorEntry != 0 {
			pf("    ; ctor entry %s\n", bytecode.TargetLabel(int(m.CtorEntry)))
		}
		regions, err := bytecode.DecodeRegions(m.Handlers)
		if err != nil {
			return err
		}
		for _, r := range regions {
			pf("    .try %s %s %s\n",
				bytecode.TargetLabel(int(r.Start)), bytecode.TargetLabel(int(r.End)), bytecode.TargetLabel(int(r.Handler)))
		}
		if err := bytecode.DisassembleTo(w, m.Code); err != nil {
			return err
		}
	}
	return nil
}
