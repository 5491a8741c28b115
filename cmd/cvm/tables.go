package main

import (
	"flag"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/vm"
)

// tableEntry is one row of the `cvm tables -yaml` export.
type tableEntry struct {
	Opcode   string `yaml:"opcode"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Operands string `yaml:"operands,omitempty"`
}

type tableExport struct {
	Main   []tableEntry `yaml:"main"`
	Wide   []tableEntry `yaml:"wide"`
	Prefix []tableEntry `yaml:"prefix"`
}

// handleTablesCommand processes the `cvm tables` subcommand: every
// populated dispatch slot with its handler category.
func handleTablesCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tables", flag.ContinueOnError)
	asYAML := fs.Bool("yaml", false, "Export the tables as YAML")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mainTab, wide, prefix := vm.Labels()
	export := tableExport{
		Main: tableRows(mainTab, func(op byte) string {
			return bytecode.GetOpcodeInfo(bytecode.Opcode(op)).Format.String()
		}),
		Wide: tableRows(wide, func(op byte) string {
			info, _ := bytecode.GetWideInfo(bytecode.Opcode(op))
			return info.Format.String()
		}),
		Prefix: tableRows(prefix, func(op byte) string {
			return bytecode.GetPrefixInfo(bytecode.PrefixOpcode(op)).Format.String()
		}),
	}

	if *asYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(export); err != nil {
			return err
		}
		return enc.Close()
	}

	for _, section := range []struct {
		title string
		rows  []tableEntry
	}{
		{"main", export.Main},
		{"wide", export.Wide},
		{"prefix", export.Prefix},
	} {
		fmt.Fprintf(out, "; %s (%d opcodes)\n", section.title, len(section.rows))
		for _, r := range section.rows {
			fmt.Fprintf(out, "%s  %-22s %-10s %s\n", r.Opcode, r.Name, r.Category, r.Operands)
		}
	}
	return nil
}

func tableRows(labels [256]vm.Label, operands func(byte) string) []tableEntry {
	var rows []tableEntry
	for _, l := range labels {
		if l.Category == vm.CatReserved {
			continue
		}
		rows = append(rows, tableEntry{
			Opcode:   fmt.Sprintf("0x%02X", l.Opcode),
			Name:     l.Name,
			Category: l.Category.String(),
			Operands: operands(l.Opcode),
		})
	}
	return rows
}
