//go:build !(amd64 || arm64 || 386) || cvm_portable

package word

import "encoding/binary"

// DirectAccess reports whether multi-word values are accessed with a direct
// aliased load/store. This build composes them word by word.
const DirectAccess = false

func readU64(s []Word) uint64 {
	return uint64(s[0]) | uint64(s[1])<<32
}

func writeU64(s []Word, v uint64) {
	s[0] = Word(v)
	s[1] = Word(v >> 32)
}

func loadCode32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func loadCode64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
