package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/text/encoding/unicode"
)

// Strings resolves ldstr tokens to literal text.
type Strings interface {
	Literal(token uint32) (string, bool)
}

// StringTable is the default Strings: a list of literals indexed by token.
// Tokens start at 1.
type StringTable struct {
	mu    sync.RWMutex
	lits  []string
	index map[string]uint32
}

// NewStringTable creates an empty table.
func NewStringTable() *StringTable {
	return &StringTable{lits: []string{""}, index: make(map[string]uint32)}
}

// Add returns the token for s, adding it if needed.
func (st *StringTable) Add(s string) uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if tok, ok := st.index[s]; ok {
		return tok
	}
	tok := uint32(len(st.lits))
	st.lits = append(st.lits, s)
	st.index[s] = tok
	return tok
}

// Literal implements Strings.
func (st *StringTable) Literal(token uint32) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if token == 0 || int(token) >= len(st.lits) {
		return "", false
	}
	return st.lits[token], true
}

// All returns the literals in token order, starting with token 1.
func (st *StringTable) All() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]string(nil), st.lits[1:]...)
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeUTF16(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}

func decodeUTF16(b []byte) (string, error) {
	out, err := utf16le.NewDecoder().Bytes(b)
	return string(out), err
}

// ---------------------------------------------------------------------------
// Heap strings
// ---------------------------------------------------------------------------

// newStringChars allocates a System.String holding the given UTF-16LE
// bytes.
func (p *Process) newStringChars(chars []byte) (uint32, error) {
	cls, err := p.wellKnown(classString)
	if err != nil {
		return 0, err
	}
	n := uint32(len(chars) / 2)
	ptr, err := p.Alloc.Alloc(cls, StringCharsOffset+uint32(len(chars)))
	if err != nil {
		return 0, err
	}
	b, _ := p.Heap.slice(ptr, StringCharsOffset+uint32(len(chars)))
	binary.LittleEndian.PutUint32(b[StringCapacityOffset:], n)
	binary.LittleEndian.PutUint32(b[StringLengthOffset:], n)
	copy(b[StringCharsOffset:], chars)
	return ptr, nil
}

// NewString allocates a managed string.
func (p *Process) NewString(s string) (uint32, error) {
	chars, err := encodeUTF16(s)
	if err != nil {
		return 0, fmt.Errorf("vm: encoding string: %w", err)
	}
	return p.newStringChars(chars)
}

// stringChars returns the UTF-16LE payload of the string at ptr.
func (p *Process) stringChars(ptr uint32) ([]byte, bool) {
	hdr, ok := p.Heap.slice(ptr, StringCharsOffset)
	if !ok {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(hdr[StringLengthOffset:])
	return p.Heap.slice(ptr+StringCharsOffset, 2*n)
}

// GoString decodes the managed string at ptr.
func (p *Process) GoString(ptr uint32) (string, error) {
	chars, ok := p.stringChars(ptr)
	if !ok {
		return "", fmt.Errorf("vm: %#x is not a string", ptr)
	}
	return decodeUTF16(chars)
}

// StringLen returns the length in UTF-16 units of the string at ptr.
func (p *Process) StringLen(ptr uint32) (int32, bool) {
	hdr, ok := p.Heap.slice(ptr, StringCharsOffset)
	if !ok {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(hdr[StringLengthOffset:])), true
}

// concatStrings joins strings; null pointers act as empty strings.
func (p *Process) concatStrings(ptrs ...uint32) (uint32, error) {
	var buf bytes.Buffer
	for _, s := range ptrs {
		if s == 0 {
			continue
		}
		chars, ok := p.stringChars(s)
		if !ok {
			return 0, fmt.Errorf("vm: %#x is not a string", s)
		}
		buf.Write(chars)
	}
	return p.newStringChars(buf.Bytes())
}

// stringsEqual compares two strings by content. null equals only null.
func (p *Process) stringsEqual(a, b uint32) bool {
	if a == b {
		return true
	}
	if a == 0 || b == 0 {
		return false
	}
	ca, ok1 := p.stringChars(a)
	cb, ok2 := p.stringChars(b)
	return ok1 && ok2 && bytes.Equal(ca, cb)
}

// internLiteral returns the shared heap string for an ldstr token.
func (p *Process) internLiteral(token uint32) (uint32, error) {
	if v, ok := p.interned.Load(token); ok {
		return v.(uint32), nil
	}
	s, ok := p.Strings.Literal(token)
	if !ok {
		return 0, fmt.Errorf("vm: unknown string token %d", token)
	}
	ptr, err := p.NewString(s)
	if err != nil {
		return 0, err
	}
	actual, _ := p.interned.LoadOrStore(token, ptr)
	return actual.(uint32), nil
}
