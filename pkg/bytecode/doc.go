// Package bytecode defines the CVM instruction set: opcode numbering, operand
// formats, instruction lengths, an assembler and a disassembler.
//
// # Encoding
//
// An instruction is a one-byte opcode followed by its operands. Operands are
// little-endian and unaligned. Two opcodes escape into secondary tables:
//
//   - wide (0xFD) re-encodes an instruction whose u8 operands are u32.
//     Only single-uint and two-uint formats have a wide form.
//
//   - prefix (0xFF) selects an instruction from the prefix table. The
//     prefix byte, the sub-opcode and any operands make up the instruction.
//
// Every branch is BranchLen bytes long. The short form carries an i8 offset
// and padding; br_long carries the branch sub-opcode and an i32 offset. All
// offsets are relative to the start of the branch, so a code generator can
// pick either form after layout.
//
// Unknown main opcodes are one-byte no-ops and unknown wide or prefix
// opcodes are two-byte no-ops. InstructionLen applies the same rule, so the
// disassembler and the interpreter always agree on instruction boundaries.
//
// # Stack effects
//
// OpcodeInfo records how many words an instruction pops and pushes. 64-bit
// integers and native floats occupy word.WordsPerLong and
// word.WordsPerNativeFloat words. Instructions whose effect depends on
// their operands report Variable and check their own bounds.
//
// # Assembly
//
// Builder emits code programmatically. Assemble reads the line syntax that
// Disassemble writes, so a listing can be edited and reassembled:
//
//	    ldc_i4_0
//	L0001:
//	    iload_0
//	    brtrue L0001
//	    br_long blt L0020
//	    wide iload 300
//	    tail call Demo.Loop
//	    .try L0001 L0020 L0030
package bytecode
