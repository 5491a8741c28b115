// Package manifest handles cvm.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/cvm/vm"
)

// FileName is the manifest looked for by Load and FindAndLoad.
const FileName = "cvm.toml"

// Manifest represents a cvm.toml configuration.
type Manifest struct {
	Runtime Runtime     `toml:"runtime"`
	Log     Log         `toml:"log"`
	Image   ImageConfig `toml:"image"`

	// Dir is the directory containing the cvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime sizes each process. Zero fields take the vm defaults.
type Runtime struct {
	StackWords int    `toml:"stack-words"`
	MaxFrames  int    `toml:"max-frames"`
	HeapBytes  uint32 `toml:"heap-bytes"`
	Threads    int    `toml:"threads"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ImageConfig names the program to run.
type ImageConfig struct {
	Path  string `toml:"path"`
	Entry string `toml:"entry"`
}

// Load parses a cvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Runtime.StackWords < 0 || m.Runtime.MaxFrames < 0 || m.Runtime.Threads < 0 {
		return nil, fmt.Errorf("%s: runtime sizes must not be negative", path)
	}
	if m.Runtime.Threads == 0 {
		m.Runtime.Threads = 1
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a cvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Config returns the process configuration described by the [runtime] table.
func (m *Manifest) Config() vm.Config {
	return vm.Config{
		StackWords: m.Runtime.StackWords,
		MaxFrames:  m.Runtime.MaxFrames,
		HeapBytes:  m.Runtime.HeapBytes,
	}
}

// ImagePath returns the configured image path resolved against Dir, or ""
// when none is set.
func (m *Manifest) ImagePath() string {
	if m.Image.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Image.Path) {
		return m.Image.Path
	}
	return filepath.Join(m.Dir, m.Image.Path)
}

// LogFile returns the configured log file resolved against Dir. An empty
// result means stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
