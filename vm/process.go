package vm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/cvm/pkg/word"
)

var log = commonlog.GetLogger("cvm.vm")

// Config sizes the resources of a process.
type Config struct {
	StackWords int    // words per thread stack
	MaxFrames  int    // call depth limit per thread
	HeapBytes  uint32 // heap arena size
}

// DefaultConfig returns the sizes used when a field is zero.
func DefaultConfig() Config {
	return Config{
		StackWords: 64 * 1024,
		MaxFrames:  8 * 1024,
		HeapBytes:  64 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StackWords <= 0 {
		c.StackWords = d.StackWords
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = d.MaxFrames
	}
	if c.HeapBytes == 0 {
		c.HeapBytes = d.HeapBytes
	}
	return c
}

// Process holds what the threads of one program share: metadata, the heap
// and the collaborator hooks. Collaborators may be replaced before the first
// thread is created.
type Process struct {
	Config Config

	Classes  *ClassTable
	Literals *StringTable

	Metadata  Metadata
	Heap      *Heap
	Alloc     Allocator
	Coder     Coder
	Strings   Strings
	Natives   *NativeTable
	Converter Converter
	Unroller  Unroller
	Fatal     FatalHandler

	known    sync.Map // class name -> *Class
	interned sync.Map // string token -> uint32
	traces   sync.Map // exception object -> *ExceptionInfo

	oomOnce   sync.Once
	oomObject uint32

	rvaBase uint32
}

// NewProcess creates a process with the default in-memory collaborators.
func NewProcess(cfg Config) (*Process, error) {
	cfg = cfg.withDefaults()
	heap, err := NewHeap(cfg.HeapBytes)
	if err != nil {
		return nil, err
	}
	classes := NewClassTable()
	lits := NewStringTable()
	return &Process{
		Config:   cfg,
		Classes:  classes,
		Literals: lits,
		Metadata: classes,
		Heap:     heap,
		Alloc:    heap,
		Coder:    TableCoder{},
		Strings:  lits,
		Natives:  NewNativeTable(),
		Fatal:    DefaultFatalHandler,
	}, nil
}

// Close releases the heap.
func (p *Process) Close() error {
	return p.Heap.Close()
}

// DefaultFatalHandler logs the error and exits with status 1.
func DefaultFatalHandler(err *FatalError) {
	log.Critical(err.Error())
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

// DefineSystemClasses registers any well-known class not yet defined, with
// System.Object as the root and System.Exception as the parent of the
// exception classes.
func (p *Process) DefineSystemClasses() error {
	for _, sc := range SystemClasses {
		if p.Classes.LookupClass(sc.Name) != nil {
			continue
		}
		var parent *Class
		if sc.Parent != "" {
			parent = p.Classes.LookupClass(sc.Parent)
		}
		if _, err := p.Classes.DefineClass(&Class{Name: sc.Name, Parent: parent}); err != nil {
			return err
		}
	}
	return nil
}

// SetRVAData copies an initialized-data section into the heap. ldrva
// offsets are relative to its start.
func (p *Process) SetRVAData(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	base, err := p.Heap.raw(uint32(len(data)))
	if err != nil {
		return fmt.Errorf("vm: placing rva data: %w", err)
	}
	b, _ := p.Heap.slice(base, uint32(len(data)))
	copy(b, data)
	p.rvaBase = base
	return nil
}

// RunThreads invokes m on n fresh threads concurrently and returns each
// thread's result. The first failure cancels the others, which observe the
// cancellation at their next native or allocation boundary.
func (p *Process) RunThreads(ctx context.Context, n int, m *Method, args ...word.Word) ([][]word.Word, error) {
	results := make([][]word.Word, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			t := p.NewThread()
			log.Debugf("thread %s: start", t.ID)
			ret, err := t.Invoke(gctx, m, args...)
			if err != nil {
				return fmt.Errorf("thread %d: %w", i, err)
			}
			results[i] = ret
			log.Debugf("thread %s: done", t.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
