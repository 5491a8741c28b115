package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chazu/cvm/image"
	"github.com/chazu/cvm/manifest"
	"github.com/chazu/cvm/pkg/word"
	"github.com/chazu/cvm/vm"
)

// handleRunCommand processes the `cvm run` subcommand. The exit status is
// the entry's first result word on the first thread, or 0.
//
//	cvm run                        # [image] path from cvm.toml
//	cvm run hello.yaml
//	cvm run -entry Demo.Start -threads 4 hello.cvmi
func handleRunCommand(args []string, m *manifest.Manifest, out io.Writer) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	entry := fs.String("entry", m.Image.Entry, "Entry method (Class.Name or Name)")
	threads := fs.Int("threads", m.Runtime.Threads, "Number of threads running the entry")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}

	path := m.ImagePath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		return 0, fmt.Errorf("no image given and no [image] path in %s", manifest.FileName)
	}
	img, err := openImage(path)
	if err != nil {
		return 0, err
	}
	if *entry != "" {
		img.Entry = *entry
	}
	if *threads < 1 {
		return 0, fmt.Errorf("-threads must be at least 1")
	}

	h := &host{out: out}
	prog, err := image.Load(img, m.Config(), h.natives())
	if err != nil {
		return 0, err
	}
	defer prog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := prog.RunThreads(ctx, *threads)
	if err != nil {
		return 0, err
	}
	for i, r := range results {
		log.Debugf("thread %d returned %v", i, r)
	}
	if len(results) > 0 && len(results[0]) > 0 {
		return int(results[0][0].Int()), nil
	}
	return 0, nil
}

// openImage reads a binary image, or assembles a .yaml program source.
func openImage(path string) (*image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		src, err := image.ReadSource(path)
		if err != nil {
			return nil, err
		}
		img, err := image.Build(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img, nil
	default:
		return image.ReadFile(path)
	}
}

// host supplies the natives a program can bind by name. Output from
// concurrent threads is serialized per call.
type host struct {
	mu  sync.Mutex
	out io.Writer
}

func (h *host) printf(format string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, format, args...)
	return err
}

func (h *host) natives() map[string]vm.NativeFunc {
	return map[string]vm.NativeFunc{
		"print_int": func(_ *vm.Thread, args, _ []word.Word) error {
			return h.printf("%d\n", args[0].Int())
		},
		"print_long": func(_ *vm.Thread, args, _ []word.Word) error {
			return h.printf("%d\n", word.ReadLong(args))
		},
		"print_double": func(_ *vm.Thread, args, _ []word.Word) error {
			return h.printf("%g\n", word.ReadDouble(args))
		},
		"print_char": func(_ *vm.Thread, args, _ []word.Word) error {
			return h.printf("%c", rune(args[0].Uint()&0xFFFF))
		},
		"print_string": func(t *vm.Thread, args, _ []word.Word) error {
			s, err := t.Process().GoString(args[0].Uint())
			if err != nil {
				return err
			}
			return h.printf("%s\n", s)
		},
		"thread_id": func(t *vm.Thread, args, ret []word.Word) error {
			ptr, err := t.Process().NewString(t.ID.String())
			if err != nil {
				return err
			}
			ret[0] = word.Word(ptr)
			return nil
		},
	}
}
