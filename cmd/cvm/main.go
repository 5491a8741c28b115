// CVM CLI - runs, builds and inspects CVM program images
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/cvm/manifest"
)

var log = commonlog.GetLogger("cvm.cli")

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity in cvm.toml)")
	dir := flag.String("C", ".", "Directory to search upward from for cvm.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cvm [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Runs and inspects CVM bytecode programs.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [-entry M] [-threads N] [file]  Run an image or a .yaml program source\n")
		fmt.Fprintf(os.Stderr, "  build [-o out] file.yaml            Assemble a program source into an image\n")
		fmt.Fprintf(os.Stderr, "  dis file                            Print a listing of an image or source\n")
		fmt.Fprintf(os.Stderr, "  tables [-yaml]                      Print the opcode dispatch tables\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cvm run hello.yaml              # Assemble and run Main\n")
		fmt.Fprintf(os.Stderr, "  cvm build -o hello.cvmi hello.yaml\n")
		fmt.Fprintf(os.Stderr, "  cvm run -threads 4 hello.cvmi   # Run the entry on 4 threads\n")
		fmt.Fprintf(os.Stderr, "  cvm -v 2 run                    # Run [image] path from cvm.toml\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, *verbosity)

	status := 0
	switch args[0] {
	case "run":
		status, err = handleRunCommand(args[1:], m, os.Stdout)
	case "build":
		err = handleBuildCommand(args[1:])
	case "dis":
		err = handleDisCommand(args[1:], os.Stdout)
	case "tables":
		err = handleTablesCommand(args[1:], os.Stdout)
	case "help":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	os.Exit(status)
}

// loadManifest finds cvm.toml above dir. Without one, every setting takes
// its default.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil || m != nil {
		return m, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &manifest.Manifest{Dir: abs, Runtime: manifest.Runtime{Threads: 1}}, nil
}

func configureLogging(m *manifest.Manifest, verbosity int) {
	if verbosity < 0 {
		verbosity = m.Log.Verbosity
	}
	var path *string
	if file := m.LogFile(); file != "" {
		path = &file
	}
	commonlog.Configure(verbosity, path)
}
