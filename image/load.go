package image

import (
	"context"
	"fmt"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
	"github.com/chazu/cvm/vm"
)

// Program is an image loaded into its own process.
type Program struct {
	Process *vm.Process
	Entry   *vm.Method
	BuildID string

	methods map[string]*vm.Method
}

// Method returns the loaded method with the given key, or nil.
func (prog *Program) Method(key string) *vm.Method {
	return prog.methods[key]
}

// Load creates a process sized by cfg and defines img in it. natives binds
// the image's native names; calling a name with no binding raises
// System.Exception.
func Load(img *Image, cfg vm.Config, natives map[string]vm.NativeFunc) (*Program, error) {
	p, err := vm.NewProcess(cfg)
	if err != nil {
		return nil, err
	}
	prog, err := load(p, img, natives)
	if err != nil {
		p.Close()
		return nil, err
	}
	log.Infof("loaded image %s: %d classes, %d methods", img.BuildID, len(img.Classes), len(img.Methods))
	return prog, nil
}

func load(p *vm.Process, img *Image, natives map[string]vm.NativeFunc) (*Program, error) {
	classes := make([]*vm.Class, len(img.Classes))
	for i, c := range img.Classes {
		cls, err := p.Classes.DefineClass(&vm.Class{
			Name:         c.Name,
			IsInterface:  c.IsInterface,
			InstanceSize: c.InstanceSize,
			StaticSize:   c.StaticSize,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
		}
		if cls.ID != uint32(i+1) {
			return nil, fmt.Errorf("%w: class %s got id %d, want %d", ErrBadImage, c.Name, cls.ID, i+1)
		}
		classes[i] = cls
	}
	classByName := func(name string) (*vm.Class, error) {
		if cls := p.Classes.LookupClass(name); cls != nil {
			return cls, nil
		}
		return nil, fmt.Errorf("%w: unknown class %s", ErrBadImage, name)
	}
	for i, c := range img.Classes {
		cls := classes[i]
		if c.Parent != "" {
			parent, err := classByName(c.Parent)
			if err != nil {
				return nil, err
			}
			cls.Parent = parent
		}
		for _, name := range c.Interfaces {
			iface, err := classByName(name)
			if err != nil {
				return nil, err
			}
			cls.Interfaces = append(cls.Interfaces, iface)
		}
	}

	bind := func(name string) vm.NativeFunc {
		if fn, ok := natives[name]; ok {
			return fn
		}
		return func(*vm.Thread, []word.Word, []word.Word) error {
			return fmt.Errorf("native %s is not bound", name)
		}
	}

	methods := make(map[string]*vm.Method, len(img.Methods))
	for i := range img.Methods {
		im := &img.Methods[i]
		m := &vm.Method{
			Name:      im.Name,
			Code:      im.Code,
			Handlers:  im.Handlers,
			CtorEntry: im.CtorEntry,
			ArgWords:  im.ArgWords,
			RetWords:  im.RetWords,
		}
		if im.Class != "" {
			cls, err := classByName(im.Class)
			if err != nil {
				return nil, err
			}
			m.Class = cls
		}
		if im.Native != "" {
			m.Native = bind(im.Native)
		} else if err := verifyCode(im); err != nil {
			return nil, err
		}
		p.Classes.DefineMethod(m)
		if m.ID != uint32(i+1) {
			return nil, fmt.Errorf("%w: method %s got id %d, want %d", ErrBadImage, im.Key(), m.ID, i+1)
		}
		methods[im.Key()] = m
	}
	methodByKey := func(key string) (*vm.Method, error) {
		if m, ok := methods[key]; ok {
			return m, nil
		}
		return nil, fmt.Errorf("%w: unknown method %s", ErrBadImage, key)
	}

	for i, c := range img.Classes {
		cls := classes[i]
		for _, key := range c.VTable {
			m, err := methodByKey(key)
			if err != nil {
				return nil, err
			}
			cls.VTable = append(cls.VTable, m)
		}
		for name, keys := range c.InterfaceImpls {
			iface, err := classByName(name)
			if err != nil {
				return nil, err
			}
			impls := make([]*vm.Method, len(keys))
			for j, key := range keys {
				if key == "" {
					continue
				}
				if impls[j], err = methodByKey(key); err != nil {
					return nil, err
				}
			}
			if cls.InterfaceImpls == nil {
				cls.InterfaceImpls = make(map[uint32][]*vm.Method)
			}
			cls.InterfaceImpls[iface.ID] = impls
		}
	}

	for i, s := range img.Strings {
		if tok := p.Literals.Add(s); tok != uint32(i+1) {
			return nil, fmt.Errorf("%w: string %q repeated", ErrBadImage, s)
		}
	}
	for i, name := range img.Natives {
		if id := p.Natives.Register(name, bind(name)); id != uint32(i+1) {
			return nil, fmt.Errorf("%w: native %s repeated", ErrBadImage, name)
		}
	}
	if err := p.SetRVAData(img.RVAData); err != nil {
		return nil, err
	}
	if err := p.DefineSystemClasses(); err != nil {
		return nil, err
	}

	prog := &Program{Process: p, BuildID: img.BuildID, methods: methods}
	if img.Entry != "" {
		m, ok := methods[img.Entry]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoEntry, img.Entry)
		}
		prog.Entry = m
	}
	return prog, nil
}

// verifyCode checks that a method body decodes to whole instructions and
// that its handler table is well formed.
func verifyCode(m *Method) error {
	if len(m.Code) == 0 {
		return fmt.Errorf("%w: method %s has no code", ErrBadImage, m.Key())
	}
	for pc := 0; pc < len(m.Code); {
		in, err := bytecode.Decode(m.Code, pc)
		if err != nil {
			return fmt.Errorf("%w: method %s: %v", ErrBadImage, m.Key(), err)
		}
		pc += in.Len
	}
	regions, err := bytecode.DecodeRegions(m.Handlers)
	if err != nil {
		return fmt.Errorf("%w: method %s: %v", ErrBadImage, m.Key(), err)
	}
	for _, r := range regions {
		if r.Start > r.End || int(r.End) > len(m.Code) || int(r.Handler) >= len(m.Code) {
			return fmt.Errorf("%w: method %s: handler region %+v out of range", ErrBadImage, m.Key(), r)
		}
	}
	if int(m.CtorEntry) >= len(m.Code) {
		return fmt.Errorf("%w: method %s: ctor entry %d out of range", ErrBadImage, m.Key(), m.CtorEntry)
	}
	return nil
}

// Run invokes the entry point on a new thread.
func (prog *Program) Run(ctx context.Context, args ...word.Word) ([]word.Word, error) {
	if prog.Entry == nil {
		return nil, ErrNoEntry
	}
	return prog.Process.NewThread().Invoke(ctx, prog.Entry, args...)
}

// RunThreads invokes the entry point on n concurrent threads.
func (prog *Program) RunThreads(ctx context.Context, n int, args ...word.Word) ([][]word.Word, error) {
	if prog.Entry == nil {
		return nil, ErrNoEntry
	}
	return prog.Process.RunThreads(ctx, n, prog.Entry, args...)
}

// Close releases the process.
func (prog *Program) Close() error {
	return prog.Process.Close()
}
