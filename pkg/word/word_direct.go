//go:build (amd64 || arm64 || 386) && !cvm_portable

package word

import "unsafe"

// DirectAccess reports whether multi-word values are accessed with a direct
// aliased load/store. The targets selected here are little-endian and
// tolerate unaligned access, so a uint64 may alias two adjacent words.
const DirectAccess = true

func readU64(s []Word) uint64 {
	_ = s[WordsPerLong-1]
	return *(*uint64)(unsafe.Pointer(&s[0]))
}

func writeU64(s []Word, v uint64) {
	_ = s[WordsPerLong-1]
	*(*uint64)(unsafe.Pointer(&s[0])) = v
}

func loadCode32(b []byte) uint32 {
	_ = b[3]
	return *(*uint32)(unsafe.Pointer(&b[0]))
}

func loadCode64(b []byte) uint64 {
	_ = b[7]
	return *(*uint64)(unsafe.Pointer(&b[0]))
}
