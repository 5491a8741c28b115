// Package image reads and writes CVM program images: the classes, methods,
// string literals and initialized data of a program, with method bodies
// already in CVM bytecode. Images are CBOR encoded behind a four byte magic
// and can be built from a YAML source form whose method bodies are written
// in the assembler syntax of package bytecode.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("cvm.image")

// Magic starts every encoded image.
var Magic = [4]byte{'C', 'V', 'M', 'I'}

// Version is the current image format version.
const Version = 1

var (
	// ErrBadImage is returned for data that is not a well-formed image.
	ErrBadImage = errors.New("image: malformed image")
	// ErrNoEntry is returned when running an image without an entry point.
	ErrNoEntry = errors.New("image: no entry point")
)

// Image is a complete program. Class, method, string and native ids used
// by the bytecode are positions in the corresponding list plus one.
type Image struct {
	Version uint8    `cbor:"1,keyasint"`
	BuildID string   `cbor:"2,keyasint"`
	Entry   string   `cbor:"3,keyasint,omitempty"` // method key, see Method.Key
	Strings []string `cbor:"4,keyasint,omitempty"`
	Classes []Class  `cbor:"5,keyasint,omitempty"`
	Methods []Method `cbor:"6,keyasint,omitempty"`
	Natives []string `cbor:"7,keyasint,omitempty"` // call_native targets by name
	RVAData []byte   `cbor:"8,keyasint,omitempty"`
}

// Class describes a class. References to other classes and to methods are
// by name.
type Class struct {
	Name           string              `cbor:"1,keyasint" yaml:"name"`
	Parent         string              `cbor:"2,keyasint,omitempty" yaml:"parent,omitempty"`
	Interfaces     []string            `cbor:"3,keyasint,omitempty" yaml:"interfaces,omitempty"`
	IsInterface    bool                `cbor:"4,keyasint,omitempty" yaml:"interface,omitempty"`
	InstanceSize   uint32              `cbor:"5,keyasint,omitempty" yaml:"instance-size,omitempty"`
	StaticSize     uint32              `cbor:"6,keyasint,omitempty" yaml:"static-size,omitempty"`
	VTable         []string            `cbor:"7,keyasint,omitempty" yaml:"vtable,omitempty"`
	InterfaceImpls map[string][]string `cbor:"8,keyasint,omitempty" yaml:"implements,omitempty"`
}

// Method is a method body. A method either has Code or names a Native.
type Method struct {
	Name      string `cbor:"1,keyasint"`
	Class     string `cbor:"2,keyasint,omitempty"`
	Code      []byte `cbor:"3,keyasint,omitempty"`
	Handlers  []byte `cbor:"4,keyasint,omitempty"`
	CtorEntry uint32 `cbor:"5,keyasint,omitempty"`
	Native    string `cbor:"6,keyasint,omitempty"`
	ArgWords  uint32 `cbor:"7,keyasint,omitempty"`
	RetWords  uint32 `cbor:"8,keyasint,omitempty"`
}

// Key returns the name other parts of an image use for m: "Class.Name", or
// just Name for a method outside any class.
func (m *Method) Key() string {
	if m.Class == "" {
		return m.Name
	}
	return m.Class + "." + m.Name
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal encodes img.
func Marshal(img *Image) ([]byte, error) {
	body, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("image: marshal: %w", err)
	}
	return append(Magic[:len(Magic):len(Magic)], body...), nil
}

// Unmarshal decodes an image produced by Marshal.
func Unmarshal(data []byte) (*Image, error) {
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadImage)
	}
	var img Image
	if err := cbor.Unmarshal(data[len(Magic):], &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadImage, img.Version, Version)
	}
	return &img, nil
}

// ReadFile loads an encoded image from path.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("read image %s (build %s, %d methods)", path, img.BuildID, len(img.Methods))
	return img, nil
}

// WriteFile encodes img to path.
func WriteFile(path string, img *Image) error {
	data, err := Marshal(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Method returns the method with the given key, or nil.
func (img *Image) Method(key string) *Method {
	for i := range img.Methods {
		if img.Methods[i].Key() == key {
			return &img.Methods[i]
		}
	}
	return nil
}
