package vm

import (
	"fmt"

	"github.com/chazu/cvm/pkg/bytecode"
)

// Category groups instructions by the part of the engine that implements
// them.
type Category uint8

const (
	CatReserved Category = iota
	CatVar
	CatPtr
	CatArray
	CatField
	CatObject
	CatStack
	CatArith
	CatConv
	CatConst
	CatBranch
	CatCompare
	CatExcept
	CatCall
	CatInline
	CatEscape
)

var categoryNames = [...]string{
	CatReserved: "reserved",
	CatVar:      "var",
	CatPtr:      "ptr",
	CatArray:    "array",
	CatField:    "field",
	CatObject:   "object",
	CatStack:    "stack",
	CatArith:    "arith",
	CatConv:     "conv",
	CatConst:    "const",
	CatBranch:   "branch",
	CatCompare:  "compare",
	CatExcept:   "except",
	CatCall:     "call",
	CatInline:   "inline",
	CatEscape:   "escape",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// instr is one dispatch slot. pop and push are the fixed stack effect
// checked before exec runs, or bytecode.Variable if exec checks itself.
type instr struct {
	name      string
	cat       Category
	pop, push int
	exec      func(e *engine)
}

var (
	mainTable   [256]instr
	wideTable   [256]instr
	prefixTable [256]instr
)

// opEntry binds a main opcode to its handler. Exactly one of fn, n and nm
// is set: fn for fixed-operand instructions, n and nm for instructions with
// one or two small operands, which also get a wide form. size is the length
// of the decoded instruction.
type opEntry struct {
	op bytecode.Opcode
	fn func(e *engine)
	n  func(e *engine, n uint32, size int)
	nm func(e *engine, n, m uint32, size int)
}

// prefixEntry binds a prefix opcode to its handler.
type prefixEntry struct {
	op bytecode.PrefixOpcode
	fn func(e *engine)
}

type opGroup struct {
	cat    Category
	main   []opEntry
	prefix []prefixEntry
}

func opGroups() []opGroup {
	return []opGroup{
		{CatVar, varOps, nil},
		{CatPtr, ptrOps, nil},
		{CatArray, arrayOps, arrayPrefixOps},
		{CatField, fieldOps, nil},
		{CatObject, objectOps, objectPrefixOps},
		{CatStack, stackOps, nil},
		{CatArith, arithOps, arithPrefixOps},
		{CatConv, convOps, convPrefixOps},
		{CatConst, constOps, nil},
		{CatBranch, branchOps, nil},
		{CatCompare, nil, compareOps},
		{CatExcept, nil, exceptOps},
		{CatCall, callOps, callPrefixOps},
		{CatInline, nil, inlineOps},
	}
}

func skipMain(e *engine)   { e.pc++ }
func skipEscape(e *engine) { e.pc += 2 }

func init() {
	for i := range mainTable {
		op := bytecode.Opcode(i)
		info, _ := bytecode.GetWideInfo(op)
		mainTable[i] = instr{name: op.String(), exec: skipMain}
		wideTable[i] = instr{name: info.Name, exec: skipEscape}
		prefixTable[i] = instr{name: bytecode.PrefixOpcode(i).String(), exec: skipEscape}
	}

	for _, g := range opGroups() {
		for _, ent := range g.main {
			info := bytecode.GetOpcodeInfo(ent.op)
			in := instr{name: info.Name, cat: g.cat, pop: info.StackPop, push: info.StackPush}
			switch {
			case ent.fn != nil:
				in.exec = ent.fn
			case ent.n != nil:
				n := ent.n
				in.exec = func(e *engine) { n(e, e.u8(1), 2) }
				wide := in
				wide.exec = func(e *engine) { n(e, e.u32(2), 6) }
				wideTable[ent.op] = wide
			case ent.nm != nil:
				nm := ent.nm
				in.exec = func(e *engine) { nm(e, e.u8(1), e.u8(2), 3) }
				wide := in
				wide.exec = func(e *engine) { nm(e, e.u32(2), e.u32(6), 10) }
				wideTable[ent.op] = wide
			default:
				panic(fmt.Sprintf("vm: no handler for %s", info.Name))
			}
			mainTable[ent.op] = in
		}
		for _, ent := range g.prefix {
			info := bytecode.GetPrefixInfo(ent.op)
			prefixTable[ent.op] = instr{
				name: info.Name, cat: g.cat,
				pop: info.StackPop, push: info.StackPush,
				exec: ent.fn,
			}
		}
	}

	mainTable[bytecode.OpWide] = instr{
		name: "wide", cat: CatEscape,
		pop: bytecode.Variable, push: bytecode.Variable,
		exec: func(e *engine) { e.escape(&wideTable[e.code[e.pc+1]]) },
	}
	mainTable[bytecode.OpPrefix] = instr{
		name: "prefix", cat: CatEscape,
		pop: bytecode.Variable, push: bytecode.Variable,
		exec: func(e *engine) { e.escape(&prefixTable[e.code[e.pc+1]]) },
	}
}

// escape runs a wide or prefix instruction with the same stack guard the
// main loop applies.
func (e *engine) escape(in *instr) {
	if in.pop != bytecode.Variable && !e.fits(in.pop, in.push) {
		e.stackOverflow()
		return
	}
	in.exec(e)
}

// Label describes one dispatch slot for tools.
type Label struct {
	Opcode   byte
	Name     string
	Category Category
}

// Labels returns the main, wide and prefix dispatch tables. Reserved slots
// are reported with CatReserved.
func Labels() (main, wide, prefix [256]Label) {
	for i := 0; i < 256; i++ {
		main[i] = Label{byte(i), mainTable[i].name, mainTable[i].cat}
		wide[i] = Label{byte(i), wideTable[i].name, wideTable[i].cat}
		prefix[i] = Label{byte(i), prefixTable[i].name, prefixTable[i].cat}
	}
	return main, wide, prefix
}
