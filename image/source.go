package image

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/vm"
)

// Source is the YAML form of an image. Method bodies are assembler text;
// operands may name classes, methods and natives, and ldstr takes a quoted
// literal.
//
//	entry: Main
//	natives: [print_int]
//	classes:
//	  - name: Point
//	    instance-size: 8
//	methods:
//	  - name: Main
//	    code: |
//	      ldc_i4_s 42
//	      call_native_void print_int, 1
//	      return
type Source struct {
	Entry   string         `yaml:"entry,omitempty"`
	Natives []string       `yaml:"natives,omitempty"`
	Classes []Class        `yaml:"classes,omitempty"`
	Methods []SourceMethod `yaml:"methods"`
	RVA     []byte         `yaml:"rva,omitempty"`
}

// SourceMethod is a method in a Source.
type SourceMethod struct {
	Name   string `yaml:"name"`
	Class  string `yaml:"class,omitempty"`
	Native string `yaml:"native,omitempty"`
	Args   uint32 `yaml:"args,omitempty"`
	Ret    uint32 `yaml:"ret,omitempty"`
	Ctor   string `yaml:"ctor,omitempty"` // label of the allocating prologue
	Code   string `yaml:"code,omitempty"`
}

func (m *SourceMethod) key() string {
	return (&Method{Name: m.Name, Class: m.Class}).Key()
}

// ParseSource decodes a YAML source. Unknown fields are an error.
func ParseSource(data []byte) (*Source, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var src Source
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("image: parsing source: %w", err)
	}
	return &src, nil
}

// ReadSource loads a YAML source from path.
func ReadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	src, err := ParseSource(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

const systemObject = "System.Object"

// resolver assigns image ids to the names used in assembler source.
type resolver struct {
	img     *Image
	classes map[string]uint32
	methods map[string]uint32
	natives map[string]uint32
	strings map[string]uint32
}

func (r *resolver) Class(name string) (uint32, bool) {
	id, ok := r.classes[name]
	return id, ok
}

func (r *resolver) Method(name string) (uint32, bool) {
	id, ok := r.methods[name]
	return id, ok
}

// Native adds unlisted natives to the image on first use.
func (r *resolver) Native(name string) (uint32, bool) {
	if id, ok := r.natives[name]; ok {
		return id, true
	}
	r.img.Natives = append(r.img.Natives, name)
	id := uint32(len(r.img.Natives))
	r.natives[name] = id
	return id, true
}

func (r *resolver) String(s string) uint32 {
	if tok, ok := r.strings[s]; ok {
		return tok
	}
	r.img.Strings = append(r.img.Strings, s)
	tok := uint32(len(r.img.Strings))
	r.strings[s] = tok
	return tok
}

// Build assembles src into an image. System classes the source does not
// declare are added ahead of its own, and a class without a parent derives
// from System.Object.
func Build(src *Source) (*Image, error) {
	img := &Image{
		Version: Version,
		BuildID: uuid.NewString(),
		Entry:   src.Entry,
		RVAData: src.RVA,
	}
	r := &resolver{
		img:     img,
		classes: make(map[string]uint32),
		methods: make(map[string]uint32),
		natives: make(map[string]uint32),
		strings: make(map[string]uint32),
	}

	declared := make(map[string]bool, len(src.Classes))
	for _, c := range src.Classes {
		declared[c.Name] = true
	}
	addClass := func(c Class) error {
		if c.Name == "" {
			return fmt.Errorf("image: class without a name")
		}
		if _, dup := r.classes[c.Name]; dup {
			return fmt.Errorf("image: class %s defined twice", c.Name)
		}
		if c.Parent == "" && !c.IsInterface && c.Name != systemObject {
			c.Parent = systemObject
		}
		img.Classes = append(img.Classes, c)
		r.classes[c.Name] = uint32(len(img.Classes))
		return nil
	}
	for _, sc := range vm.SystemClasses {
		if !declared[sc.Name] {
			if err := addClass(Class{Name: sc.Name, Parent: sc.Parent}); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range src.Classes {
		if err := addClass(c); err != nil {
			return nil, err
		}
	}
	for _, c := range img.Classes {
		if err := checkClassRefs(r, &c); err != nil {
			return nil, err
		}
	}

	for _, name := range src.Natives {
		r.Native(name)
	}
	for i := range src.Methods {
		m := &src.Methods[i]
		if m.Name == "" {
			return nil, fmt.Errorf("image: method %d has no name", i)
		}
		if m.Class != "" {
			if _, ok := r.classes[m.Class]; !ok {
				return nil, fmt.Errorf("image: method %s: unknown class %s", m.key(), m.Class)
			}
		}
		if _, dup := r.methods[m.key()]; dup {
			return nil, fmt.Errorf("image: method %s defined twice", m.key())
		}
		r.methods[m.key()] = uint32(i + 1)
	}

	for i := range src.Methods {
		sm := &src.Methods[i]
		m := Method{Name: sm.Name, Class: sm.Class, ArgWords: sm.Args, RetWords: sm.Ret}
		switch {
		case sm.Native != "" && sm.Code != "":
			return nil, fmt.Errorf("image: method %s has both code and a native body", sm.key())
		case sm.Native != "":
			m.Native = sm.Native
		default:
			asm, err := bytecode.Assemble(sm.Code, r)
			if err != nil {
				return nil, fmt.Errorf("image: method %s: %w", sm.key(), err)
			}
			if len(asm.Code) == 0 {
				return nil, fmt.Errorf("image: method %s has no code", sm.key())
			}
			m.Code, m.Handlers = asm.Code, asm.Handlers
			if sm.Ctor != "" {
				pc, ok := asm.Labels[sm.Ctor]
				if !ok {
					return nil, fmt.Errorf("image: method %s: no ctor label %q", sm.key(), sm.Ctor)
				}
				m.CtorEntry = uint32(pc)
			}
		}
		img.Methods = append(img.Methods, m)
	}

	for _, c := range img.Classes {
		for _, key := range c.VTable {
			if _, ok := r.methods[key]; !ok {
				return nil, fmt.Errorf("image: class %s: vtable names unknown method %s", c.Name, key)
			}
		}
		for iface, keys := range c.InterfaceImpls {
			for _, key := range keys {
				if _, ok := r.methods[key]; key != "" && !ok {
					return nil, fmt.Errorf("image: class %s: %s slot names unknown method %s", c.Name, iface, key)
				}
			}
		}
	}
	if img.Entry != "" {
		if _, ok := r.methods[img.Entry]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoEntry, img.Entry)
		}
	}
	log.Debugf("built image %s: %d classes, %d methods, %d strings", img.BuildID, len(img.Classes), len(img.Methods), len(img.Strings))
	return img, nil
}

func checkClassRefs(r *resolver, c *Class) error {
	if c.Parent != "" {
		if _, ok := r.classes[c.Parent]; !ok {
			return fmt.Errorf("image: class %s: unknown parent %s", c.Name, c.Parent)
		}
	}
	for _, name := range c.Interfaces {
		if _, ok := r.classes[name]; !ok {
			return fmt.Errorf("image: class %s: unknown interface %s", c.Name, name)
		}
	}
	for name := range c.InterfaceImpls {
		if _, ok := r.classes[name]; !ok {
			return fmt.Errorf("image: class %s: implements unknown interface %s", c.Name, name)
		}
	}
	return nil
}
