package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// AsmError reports an assembly failure at a source line (0 for Builder use).
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("asm: line %d: %s", e.Line, e.Msg)
	}
	return "asm: " + e.Msg
}

// Region is a protected range and its handler, all as code offsets.
type Region struct {
	Start, End, Handler uint32
}

// EncodeRegions encodes regions as a raw handler table: a u32 count
// followed by count {start, end, handler} u32 triples.
func EncodeRegions(regions []Region) []byte {
	if len(regions) == 0 {
		return nil
	}
	buf := make([]byte, 4+12*len(regions))
	binary.LittleEndian.PutUint32(buf, uint32(len(regions)))
	for i, r := range regions {
		p := 4 + 12*i
		binary.LittleEndian.PutUint32(buf[p:], r.Start)
		binary.LittleEndian.PutUint32(buf[p+4:], r.End)
		binary.LittleEndian.PutUint32(buf[p+8:], r.Handler)
	}
	return buf
}

// DecodeRegions parses a raw handler table.
func DecodeRegions(table []byte) ([]Region, error) {
	if len(table) == 0 {
		return nil, nil
	}
	if len(table) < 4 {
		return nil, fmt.Errorf("bytecode: handler table too short")
	}
	n := int(binary.LittleEndian.Uint32(table))
	if len(table) < 4+12*n {
		return nil, fmt.Errorf("bytecode: handler table declares %d regions, has room for %d", n, (len(table)-4)/12)
	}
	out := make([]Region, n)
	for i := range out {
		p := 4 + 12*i
		out[i] = Region{
			Start:   binary.LittleEndian.Uint32(table[p:]),
			End:     binary.LittleEndian.Uint32(table[p+4:]),
			Handler: binary.LittleEndian.Uint32(table[p+8:]),
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

type fixupKind uint8

const (
	fixBranch fixupKind = iota // 6-byte branch, short or long chosen at patch time
	fixLong                    // 6-byte branch, always long
	fixRel32                   // i32 relative to an instruction start (switch)
)

type fixup struct {
	kind  fixupKind
	at    int // instruction start (branch) or operand position (rel32)
	base  int // instruction start for rel32
	label string
	line  int
}

type regionRef struct {
	start, end, handler string
	line                int
}

// Builder emits CVM code. Branches are emitted at their fixed length and
// patched when Bytes is called; a branch whose offset does not fit in a
// signed byte becomes a br_long with the same length.
type Builder struct {
	code    []byte
	labels  map[string]int
	fixups  []fixup
	regions []regionRef
	line    int
	err     error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{labels: make(map[string]int)}
}

// PC returns the offset of the next instruction.
func (b *Builder) PC() int { return len(b.code) }

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = &AsmError{Line: b.line, Msg: fmt.Sprintf(format, args...)}
	}
}

func (b *Builder) u8(v uint8)   { b.code = append(b.code, v) }
func (b *Builder) u32(v uint32) { b.code = binary.LittleEndian.AppendUint32(b.code, v) }
func (b *Builder) u64(v uint64) { b.code = binary.LittleEndian.AppendUint64(b.code, v) }

// Label defines name at the current offset.
func (b *Builder) Label(name string) *Builder {
	if _, dup := b.labels[name]; dup {
		b.fail("duplicate label %q", name)
		return b
	}
	b.labels[name] = len(b.code)
	return b
}

// Op emits an instruction without operands. Reserved operand bytes are
// written as zeros.
func (b *Builder) Op(op Opcode) *Builder {
	f := GetOpcodeInfo(op).Format
	if f != FmtNone && f != FmtReserved4 {
		b.fail("%s needs %s operands", op, f)
	}
	b.u8(byte(op))
	if f == FmtReserved4 {
		b.u32(0)
	}
	return b
}

// OpN emits a single-uint instruction, choosing the wide form when n does
// not fit in a byte.
func (b *Builder) OpN(op Opcode, n uint32) *Builder {
	switch GetOpcodeInfo(op).Format {
	case FmtWideUint:
		if n > math.MaxUint8 {
			b.u8(byte(OpWide))
			b.u8(byte(op))
			b.u32(n)
		} else {
			b.u8(byte(op))
			b.u8(uint8(n))
		}
	case FmtUint32, FmtToken, FmtClass, FmtMethod:
		b.u8(byte(op))
		b.u32(n)
	default:
		b.fail("%s does not take a single integer operand", op)
	}
	return b
}

// OpNM emits a two-uint instruction, choosing the wide form when either
// operand does not fit in a byte.
func (b *Builder) OpNM(op Opcode, n, m uint32) *Builder {
	if GetOpcodeInfo(op).Format != FmtWideTwoUint {
		b.fail("%s does not take two integer operands", op)
		return b
	}
	if n > math.MaxUint8 || m > math.MaxUint8 {
		b.u8(byte(OpWide))
		b.u8(byte(op))
		b.u32(n)
		b.u32(m)
		return b
	}
	b.u8(byte(op))
	b.u8(uint8(n))
	b.u8(uint8(m))
	return b
}

// Wide emits the wide form of op regardless of operand size.
func (b *Builder) Wide(op Opcode, operands ...uint32) *Builder {
	info, ok := GetWideInfo(op)
	if !ok {
		b.fail("%s has no wide form", op)
		return b
	}
	want := info.Format.WideOperandLen() / 4
	if len(operands) != want {
		b.fail("wide %s takes %d operands, got %d", op, want, len(operands))
		return b
	}
	b.u8(byte(OpWide))
	b.u8(byte(op))
	for _, v := range operands {
		b.u32(v)
	}
	return b
}

// LdcI4 emits the shortest constant load for v.
func (b *Builder) LdcI4(v int32) *Builder {
	switch {
	case v >= -1 && v <= 8:
		b.u8(byte(OpLdcI40) + byte(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.u8(byte(OpLdcI4S))
		b.u8(uint8(int8(v)))
	default:
		b.u8(byte(OpLdcI4))
		b.u32(uint32(v))
	}
	return b
}

// LdcI8 emits a 64-bit constant load.
func (b *Builder) LdcI8(v int64) *Builder {
	b.u8(byte(OpLdcI8))
	b.u64(uint64(v))
	return b
}

// LdcR4 emits a float32 constant load.
func (b *Builder) LdcR4(v float32) *Builder {
	b.u8(byte(OpLdcR4))
	b.u32(math.Float32bits(v))
	return b
}

// LdcR8 emits a float64 constant load.
func (b *Builder) LdcR8(v float64) *Builder {
	b.u8(byte(OpLdcR8))
	b.u64(math.Float64bits(v))
	return b
}

// Branch emits a conditional or unconditional branch (or jsr) to label.
func (b *Builder) Branch(op Opcode, label string) *Builder {
	if GetOpcodeInfo(op).Format != FmtBranch {
		b.fail("%s is not a branch", op)
		return b
	}
	b.fixups = append(b.fixups, fixup{kind: fixBranch, at: len(b.code), label: label, line: b.line})
	b.code = append(b.code, byte(op), 0, 0, 0, 0, 0)
	return b
}

// BranchLong emits the br_long form of op unconditionally.
func (b *Builder) BranchLong(op Opcode, label string) *Builder {
	if GetOpcodeInfo(op).Format != FmtBranch {
		b.fail("%s is not a branch", op)
		return b
	}
	b.fixups = append(b.fixups, fixup{kind: fixLong, at: len(b.code), label: label, line: b.line})
	b.code = append(b.code, byte(OpBrLong), byte(op), 0, 0, 0, 0)
	return b
}

// Switch emits a switch with a default label and one label per case.
func (b *Builder) Switch(def string, cases ...string) *Builder {
	start := len(b.code)
	b.u8(byte(OpSwitch))
	b.u32(uint32(len(cases)))
	for _, lbl := range append([]string{def}, cases...) {
		b.fixups = append(b.fixups, fixup{kind: fixRel32, at: len(b.code), base: start, label: lbl, line: b.line})
		b.u32(0)
	}
	return b
}

// CallNative emits call_native or call_native_void.
func (b *Builder) CallNative(op Opcode, fn uint32, args, ret uint8) *Builder {
	if op != OpCallNative && op != OpCallNativeVoid {
		b.fail("%s is not a native call", op)
		return b
	}
	if op == OpCallNativeVoid {
		ret = 0
	}
	b.u8(byte(op))
	b.u32(fn)
	b.u8(args)
	b.u8(ret)
	return b
}

// CallInterface emits call_interface.
func (b *Builder) CallInterface(thisPos, index uint8, iface uint32) *Builder {
	b.u8(byte(OpCallInterface))
	b.u8(thisPos)
	b.u8(index)
	b.u32(iface)
	return b
}

// Box emits box or box_ptr.
func (b *Builder) Box(op Opcode, size, class uint32) *Builder {
	if op != OpBox && op != OpBoxPtr {
		b.fail("%s is not a box instruction", op)
		return b
	}
	b.u8(byte(op))
	b.u32(size)
	b.u32(class)
	return b
}

// Prefix emits a prefix instruction. Operands are u32 values in format
// order; ldinterfftn takes (index, class).
func (b *Builder) Prefix(op PrefixOpcode, operands ...uint32) *Builder {
	info := GetPrefixInfo(op)
	var want int
	switch info.Format {
	case FmtNone:
		want = 0
	case FmtUint32, FmtClass, FmtMethod, FmtToken:
		want = 1
	case FmtLdInterface:
		want = 2
	default:
		b.fail("prefix %s cannot be emitted with Prefix", op)
		return b
	}
	if len(operands) != want {
		b.fail("%s takes %d operands, got %d", op, want, len(operands))
		return b
	}
	b.u8(byte(OpPrefix))
	b.u8(byte(op))
	for _, v := range operands {
		b.u32(v)
	}
	return b
}

// Tail emits a tail-prefixed call to method using op (call or call_extern).
func (b *Builder) Tail(op Opcode, method uint32) *Builder {
	if op != OpCall && op != OpCallExtern {
		b.fail("tail %s is not supported", op)
		return b
	}
	b.u8(byte(OpPrefix))
	b.u8(byte(PrefixTail))
	b.u8(byte(op))
	b.u32(method)
	return b
}

// Try records a protected region [start, end) whose handler is at handler.
func (b *Builder) Try(start, end, handler string) *Builder {
	b.regions = append(b.regions, regionRef{start, end, handler, b.line})
	return b
}

func (b *Builder) resolve(label string, line int) (int, bool) {
	pc, ok := b.labels[label]
	if !ok {
		if b.err == nil {
			b.err = &AsmError{Line: line, Msg: fmt.Sprintf("undefined label %q", label)}
		}
	}
	return pc, ok
}

// Bytes patches branches and returns the finished code.
func (b *Builder) Bytes() ([]byte, error) {
	for _, fx := range b.fixups {
		target, ok := b.resolve(fx.label, fx.line)
		if !ok {
			continue
		}
		switch fx.kind {
		case fixBranch:
			off := target - fx.at
			if off >= math.MinInt8 && off <= math.MaxInt8 {
				b.code[fx.at+1] = uint8(int8(off))
				continue
			}
			op := b.code[fx.at]
			b.code[fx.at] = byte(OpBrLong)
			b.code[fx.at+1] = op
			binary.LittleEndian.PutUint32(b.code[fx.at+2:], uint32(int32(off)))
		case fixLong:
			binary.LittleEndian.PutUint32(b.code[fx.at+2:], uint32(int32(target-fx.at)))
		case fixRel32:
			binary.LittleEndian.PutUint32(b.code[fx.at:], uint32(int32(target-fx.base)))
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.code, nil
}

// Regions resolves the recorded protected regions.
func (b *Builder) Regions() ([]Region, error) {
	var out []Region
	for _, r := range b.regions {
		s, ok1 := b.resolve(r.start, r.line)
		e, ok2 := b.resolve(r.end, r.line)
		h, ok3 := b.resolve(r.handler, r.line)
		if ok1 && ok2 && ok3 {
			out = append(out, Region{uint32(s), uint32(e), uint32(h)})
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Text assembler
// ---------------------------------------------------------------------------

// Resolver maps symbolic operands to ids. Numeric operands bypass it.
type Resolver interface {
	Class(name string) (uint32, bool)
	Method(name string) (uint32, bool)
	Native(name string) (uint32, bool)
	String(s string) uint32
}

// Assembly is the output of Assemble.
type Assembly struct {
	Code     []byte
	Handlers []byte
	Labels   map[string]int
}

var (
	mnemonicsOnce   sync.Once
	mainMnemonics   map[string]Opcode
	prefixMnemonics map[string]PrefixOpcode
)

func buildMnemonics() {
	mnemonicsOnce.Do(func() {
		mainMnemonics = make(map[string]Opcode, len(opcodeInfoTable))
		for op, info := range opcodeInfoTable {
			mainMnemonics[info.Name] = op
		}
		prefixMnemonics = make(map[string]PrefixOpcode, len(prefixInfoTable))
		for op, info := range prefixInfoTable {
			prefixMnemonics[info.Name] = op
		}
	})
}

// Assemble translates line-oriented assembler source into code and a raw
// handler table. Syntax, one statement per line:
//
//	label:
//	mnemonic operand, operand ...   ; comment
//	wide mnemonic operands...
//	br_long beq target
//	tail call Method
//	.try start end handler
//
// r may be nil if the source only uses numeric ids.
func Assemble(src string, r Resolver) (*Assembly, error) {
	b := NewBuilder()
	for i, raw := range strings.Split(src, "\n") {
		b.line = i + 1
		line := stripComment(raw)
		if line == "" {
			continue
		}
		for {
			colon := strings.IndexByte(line, ':')
			if colon <= 0 || strings.ContainsAny(line[:colon], " \t\"") {
				break
			}
			b.Label(line[:colon])
			line = strings.TrimSpace(line[colon+1:])
		}
		if line == "" {
			continue
		}
		fields, err := splitOperands(line)
		if err != nil {
			return nil, &AsmError{Line: b.line, Msg: err.Error()}
		}
		assembleLine(b, fields, r)
		if b.err != nil {
			return nil, b.err
		}
	}
	code, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	regions, err := b.Regions()
	if err != nil {
		return nil, err
	}
	return &Assembly{Code: code, Handlers: EncodeRegions(regions), Labels: b.labels}, nil
}

func stripComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case ';', '#':
			if !inQuote {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return strings.TrimSpace(s)
}

// splitOperands splits on whitespace and commas, keeping quoted strings.
func splitOperands(s string) ([]string, error) {
	var out []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == ',':
			i++
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string")
			}
			out = append(out, s[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != ',' {
				j++
			}
			out = append(out, s[i:j])
			i = j
		}
	}
	return out, nil
}

func assembleLine(b *Builder, f []string, r Resolver) {
	name, args := f[0], f[1:]
	buildMnemonics()

	switch name {
	case ".try":
		if len(args) != 3 {
			b.fail(".try takes start, end and handler labels")
			return
		}
		b.Try(args[0], args[1], args[2])
		return
	case "wide":
		if len(args) == 0 {
			b.fail("wide needs an instruction")
			return
		}
		op, ok := mainMnemonics[args[0]]
		if !ok {
			b.fail("unknown instruction %q", args[0])
			return
		}
		vals := make([]uint32, 0, 2)
		for _, a := range args[1:] {
			vals = append(vals, uint32(parseInt(b, a)))
		}
		b.Wide(op, vals...)
		return
	}

	if op, ok := mainMnemonics[name]; ok {
		assembleMain(b, op, args, r)
		return
	}
	if op, ok := prefixMnemonics[name]; ok {
		assemblePrefix(b, op, args, r)
		return
	}
	b.fail("unknown instruction %q", name)
}

func want(b *Builder, name string, args []string, n int) bool {
	if len(args) != n {
		b.fail("%s takes %d operands, got %d", name, n, len(args))
		return false
	}
	return true
}

func assembleMain(b *Builder, op Opcode, args []string, r Resolver) {
	info := GetOpcodeInfo(op)
	switch info.Format {
	case FmtNone, FmtReserved4:
		if want(b, info.Name, args, 0) {
			b.Op(op)
		}
	case FmtWideUint, FmtUint32:
		if want(b, info.Name, args, 1) {
			b.OpN(op, uint32(parseInt(b, args[0])))
		}
	case FmtWideTwoUint:
		if want(b, info.Name, args, 2) {
			b.OpNM(op, uint32(parseInt(b, args[0])), uint32(parseInt(b, args[1])))
		}
	case FmtInt8:
		if want(b, info.Name, args, 1) {
			v := parseInt(b, args[0])
			if v < math.MinInt8 || v > math.MaxInt8 {
				b.fail("%s operand %d out of range", info.Name, v)
				return
			}
			b.u8(byte(op))
			b.u8(uint8(int8(v)))
		}
	case FmtInt32:
		if want(b, info.Name, args, 1) {
			b.u8(byte(op))
			b.u32(uint32(int32(parseInt(b, args[0]))))
		}
	case FmtUint64:
		if want(b, info.Name, args, 1) {
			b.LdcI8(parseInt(b, args[0]))
		}
	case FmtFloat32:
		if want(b, info.Name, args, 1) {
			b.LdcR4(float32(parseFloat(b, args[0])))
		}
	case FmtFloat64:
		if want(b, info.Name, args, 1) {
			b.LdcR8(parseFloat(b, args[0]))
		}
	case FmtBranch:
		if want(b, info.Name, args, 1) {
			b.Branch(op, args[0])
		}
	case FmtBranchLong:
		if want(b, info.Name, args, 2) {
			sub, ok := mainMnemonics[args[0]]
			if !ok {
				b.fail("unknown branch %q", args[0])
				return
			}
			b.BranchLong(sub, args[1])
		}
	case FmtSwitch:
		if len(args) < 1 {
			b.fail("switch needs a default label")
			return
		}
		b.Switch(args[0], args[1:]...)
	case FmtClass:
		if want(b, info.Name, args, 1) {
			b.OpN(op, resolveClass(b, r, args[0]))
		}
	case FmtMethod:
		if want(b, info.Name, args, 1) {
			b.OpN(op, resolveMethod(b, r, args[0]))
		}
	case FmtToken:
		if want(b, info.Name, args, 1) {
			if op == OpLdStr && strings.HasPrefix(args[0], "\"") {
				s, err := strconv.Unquote(args[0])
				if err != nil {
					b.fail("bad string literal %s", args[0])
					return
				}
				if r == nil {
					b.fail("string literal without a resolver")
					return
				}
				b.OpN(op, r.String(s))
				return
			}
			if op == OpLdToken {
				b.OpN(op, resolveClass(b, r, args[0]))
				return
			}
			b.OpN(op, uint32(parseInt(b, args[0])))
		}
	case FmtCallNative:
		switch {
		case op == OpCallNativeVoid && len(args) == 2:
			b.CallNative(op, resolveNative(b, r, args[0]), uint8(parseInt(b, args[1])), 0)
		case want(b, info.Name, args, 3):
			b.CallNative(op, resolveNative(b, r, args[0]), uint8(parseInt(b, args[1])), uint8(parseInt(b, args[2])))
		}
	case FmtCallInterface:
		if want(b, info.Name, args, 3) {
			b.CallInterface(uint8(parseInt(b, args[0])), uint8(parseInt(b, args[1])), resolveClass(b, r, args[2]))
		}
	case FmtSizeAndClass:
		if want(b, info.Name, args, 2) {
			b.Box(op, uint32(parseInt(b, args[0])), resolveClass(b, r, args[1]))
		}
	default:
		b.fail("%s cannot be assembled directly", info.Name)
	}
}

func assemblePrefix(b *Builder, op PrefixOpcode, args []string, r Resolver) {
	info := GetPrefixInfo(op)
	switch info.Format {
	case FmtNone:
		if want(b, info.Name, args, 0) {
			b.Prefix(op)
		}
	case FmtUint32:
		if want(b, info.Name, args, 1) {
			b.Prefix(op, uint32(parseInt(b, args[0])))
		}
	case FmtClass:
		if want(b, info.Name, args, 1) {
			b.Prefix(op, resolveClass(b, r, args[0]))
		}
	case FmtMethod:
		if want(b, info.Name, args, 1) {
			b.Prefix(op, resolveMethod(b, r, args[0]))
		}
	case FmtLdInterface:
		if want(b, info.Name, args, 2) {
			b.Prefix(op, uint32(parseInt(b, args[0])), resolveClass(b, r, args[1]))
		}
	case FmtTail:
		if want(b, info.Name, args, 2) {
			inner, ok := mainMnemonics[args[0]]
			if !ok {
				b.fail("unknown instruction %q", args[0])
				return
			}
			b.Tail(inner, resolveMethod(b, r, args[1]))
		}
	default:
		b.fail("%s cannot be assembled directly", info.Name)
	}
}

func parseInt(b *Builder, s string) int64 {
	v, err := strconv.ParseInt(s, 0, 64)
	if err == nil {
		return v
	}
	u, uerr := strconv.ParseUint(s, 0, 64)
	if uerr == nil {
		return int64(u)
	}
	b.fail("bad integer %q", s)
	return 0
}

func parseFloat(b *Builder, s string) float64 {
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN()
	case "+inf", "inf":
		return math.Inf(1)
	case "-inf":
		return math.Inf(-1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		b.fail("bad float %q", s)
	}
	return v
}

func isNumeric(s string) bool {
	_, err := strconv.ParseUint(s, 0, 32)
	return err == nil
}

func resolveClass(b *Builder, r Resolver, s string) uint32 {
	if isNumeric(s) {
		return uint32(parseInt(b, s))
	}
	if r != nil {
		if id, ok := r.Class(s); ok {
			return id
		}
	}
	b.fail("unknown class %q", s)
	return 0
}

func resolveMethod(b *Builder, r Resolver, s string) uint32 {
	if isNumeric(s) {
		return uint32(parseInt(b, s))
	}
	if r != nil {
		if id, ok := r.Method(s); ok {
			return id
		}
	}
	b.fail("unknown method %q", s)
	return 0
}

func resolveNative(b *Builder, r Resolver, s string) uint32 {
	if isNumeric(s) {
		return uint32(parseInt(b, s))
	}
	if r != nil {
		if id, ok := r.Native(s); ok {
			return id
		}
	}
	b.fail("unknown native %q", s)
	return 0
}
