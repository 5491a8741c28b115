package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chazu/cvm/image"
)

// handleBuildCommand processes the `cvm build` subcommand.
// Usage:
//
//	cvm build hello.yaml              # ./hello.cvmi
//	cvm build -o out.cvmi hello.yaml  # custom output
func handleBuildCommand(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	output := fs.String("o", "", "Output image path (default: source name with .cvmi)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("build takes exactly one source file")
	}
	path := fs.Arg(0)

	src, err := image.ReadSource(path)
	if err != nil {
		return err
	}
	img, err := image.Build(src)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".cvmi"
	}
	if err := image.WriteFile(out, img); err != nil {
		return err
	}
	log.Infof("built %s (%d methods, build %s)", out, len(img.Methods), img.BuildID)
	return nil
}

// handleDisCommand processes the `cvm dis` subcommand.
func handleDisCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dis takes exactly one image or source file")
	}
	img, err := openImage(fs.Arg(0))
	if err != nil {
		return err
	}
	return img.Disassemble(out)
}
