// Package word defines the evaluation-stack cell used by the CVM interpreter
// and the accessors that read and write multi-word values.
//
// A Word is untyped: the executing opcode decides whether it holds an int32,
// a uint32 or a pointer. Values wider than a word (64-bit integers, native
// floats) span consecutive words, low word first. Callers must go through
// the Read/Write helpers rather than reinterpreting slices themselves; the
// helpers are compiled either as direct aliased accesses or as explicit word
// composition depending on the target (see DirectAccess).
package word

import "math"

// Word is a single evaluation-stack cell.
type Word uint32

// Size is the size of a Word in bytes.
const Size = 4

// Word counts for multi-word values.
const (
	WordsPerLong        = (8 + Size - 1) / Size
	WordsPerFloat       = (4 + Size - 1) / Size
	WordsPerDouble      = (8 + Size - 1) / Size
	WordsPerNativeFloat = WordsPerDouble
	WordsPerPointer     = 1
	WordsPerNativeInt   = 1
	WordsPerTypedRef    = 2 * WordsPerPointer
)

// WordsFor returns the number of words needed to hold size bytes.
func WordsFor(size uint32) uint32 {
	return (size + Size - 1) / Size
}

// FromInt reinterprets an int32 as a Word.
func FromInt(v int32) Word { return Word(uint32(v)) }

// Int reinterprets the word as a signed 32-bit integer.
func (w Word) Int() int32 { return int32(w) }

// Uint reinterprets the word as an unsigned 32-bit integer.
func (w Word) Uint() uint32 { return uint32(w) }

// FromBool returns 1 for true and 0 for false.
func FromBool(b bool) Word {
	if b {
		return 1
	}
	return 0
}

// ReadLong reads a signed 64-bit value from s[0:WordsPerLong].
func ReadLong(s []Word) int64 { return int64(readU64(s)) }

// WriteLong writes a signed 64-bit value to s[0:WordsPerLong].
func WriteLong(s []Word, v int64) { writeU64(s, uint64(v)) }

// ReadULong reads an unsigned 64-bit value from s[0:WordsPerLong].
func ReadULong(s []Word) uint64 { return readU64(s) }

// WriteULong writes an unsigned 64-bit value to s[0:WordsPerLong].
func WriteULong(s []Word, v uint64) { writeU64(s, v) }

// ReadFloat reads a native float from s[0:WordsPerNativeFloat].
func ReadFloat(s []Word) float64 { return math.Float64frombits(readU64(s)) }

// WriteFloat writes a native float to s[0:WordsPerNativeFloat].
func WriteFloat(s []Word, v float64) { writeU64(s, math.Float64bits(v)) }

// ReadDouble reads a 64-bit IEEE value from s[0:WordsPerDouble].
func ReadDouble(s []Word) float64 { return math.Float64frombits(readU64(s)) }

// WriteDouble writes a 64-bit IEEE value to s[0:WordsPerDouble].
func WriteDouble(s []Word, v float64) { writeU64(s, math.Float64bits(v)) }

// ReadFloat32 reads a 32-bit IEEE value from s[0].
func ReadFloat32(s []Word) float32 { return math.Float32frombits(uint32(s[0])) }

// WriteFloat32 writes a 32-bit IEEE value to s[0].
func WriteFloat32(s []Word, v float32) { s[0] = Word(math.Float32bits(v)) }

// ---------------------------------------------------------------------------
// Instruction-stream literals
// ---------------------------------------------------------------------------

// ReadCodeU16 reads a little-endian uint16 at code[pc:].
func ReadCodeU16(code []byte, pc int) uint16 {
	return uint16(code[pc]) | uint16(code[pc+1])<<8
}

// ReadCodeU32 reads a little-endian uint32 at code[pc:].
func ReadCodeU32(code []byte, pc int) uint32 { return loadCode32(code[pc : pc+4]) }

// ReadCodeI32 reads a little-endian int32 at code[pc:].
func ReadCodeI32(code []byte, pc int) int32 { return int32(loadCode32(code[pc : pc+4])) }

// ReadCodeU64 reads a little-endian uint64 at code[pc:].
func ReadCodeU64(code []byte, pc int) uint64 { return loadCode64(code[pc : pc+8]) }

// ReadCodePointer reads a pointer-sized literal at code[pc:].
func ReadCodePointer(code []byte, pc int) Word { return Word(loadCode32(code[pc : pc+4])) }

// ReadCodeFloat32 reads a float32 literal at code[pc:].
func ReadCodeFloat32(code []byte, pc int) float32 {
	return math.Float32frombits(loadCode32(code[pc : pc+4]))
}

// ReadCodeFloat64 reads a float64 literal at code[pc:].
func ReadCodeFloat64(code []byte, pc int) float64 {
	return math.Float64frombits(loadCode64(code[pc : pc+8]))
}
