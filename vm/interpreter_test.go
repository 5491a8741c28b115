package vm

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestProcess(t testing.TB) *Process {
	t.Helper()
	return newTestProcessConfig(t, Config{StackWords: 1024, MaxFrames: 64, HeapBytes: 1 << 20})
}

func newTestProcessConfig(t testing.TB, cfg Config) *Process {
	t.Helper()
	p, err := NewProcess(cfg)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if err := p.DefineSystemClasses(); err != nil {
		t.Fatalf("DefineSystemClasses: %v", err)
	}
	p.Fatal = func(*FatalError) {}
	return p
}

// assemble builds code and its handler table.
func assemble(t testing.TB, build func(b *bytecode.Builder)) (code, handlers []byte) {
	t.Helper()
	b := bytecode.NewBuilder()
	build(b)
	code, err := b.Bytes()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	regions, err := b.Regions()
	if err != nil {
		t.Fatalf("regions: %v", err)
	}
	if len(regions) > 0 {
		handlers = bytecode.EncodeRegions(regions)
	}
	return code, handlers
}

// defineMethod registers a method whose body is produced by build.
func defineMethod(t testing.TB, p *Process, name string, build func(b *bytecode.Builder)) *Method {
	t.Helper()
	m := p.Classes.DefineMethod(&Method{Name: name})
	m.Code, m.Handlers = assemble(t, build)
	return m
}

func invoke(t *testing.T, p *Process, m *Method, args ...word.Word) []word.Word {
	t.Helper()
	ret, err := p.NewThread().Invoke(context.Background(), m, args...)
	if err != nil {
		t.Fatalf("Invoke(%s): %v", m.Name, err)
	}
	return ret
}

func invokeInt(t *testing.T, p *Process, m *Method, args ...word.Word) int32 {
	t.Helper()
	ret := invoke(t, p, m, args...)
	if len(ret) != 1 {
		t.Fatalf("Invoke(%s) returned %d words, want 1", m.Name, len(ret))
	}
	return ret[0].Int()
}

// expectUncaught invokes m and checks that class escapes it.
func expectUncaught(t *testing.T, p *Process, m *Method, class string, args ...word.Word) {
	t.Helper()
	_, err := p.NewThread().Invoke(context.Background(), m, args...)
	if !IsUncaught(err, class) {
		t.Fatalf("Invoke(%s) error = %v, want uncaught %s", m.Name, err, class)
	}
}

func ints(vs ...int32) []word.Word {
	out := make([]word.Word, len(vs))
	for i, v := range vs {
		out[i] = word.FromInt(v)
	}
	return out
}

// ---------------------------------------------------------------------------
// Basic execution
// ---------------------------------------------------------------------------

func TestInterpretNil(t *testing.T) {
	if s := Interpret(nil); s != StatusOK {
		t.Errorf("Interpret(nil) = %v, want ok", s)
	}
}

func TestReturnConstant(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "answer", func(b *bytecode.Builder) {
		b.LdcI4(42).Op(bytecode.OpReturn1)
	})
	if got := invokeInt(t, p, m); got != 42 {
		t.Errorf("answer() = %d, want 42", got)
	}
}

func TestReturnVoid(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "void", func(b *bytecode.Builder) {
		b.LdcI4(1).LdcI4(2).Op(bytecode.OpReturn)
	})
	if ret := invoke(t, p, m); len(ret) != 0 {
		t.Errorf("void() returned %v, want nothing", ret)
	}
}

func TestConstants(t *testing.T) {
	tests := []struct {
		name string
		v    int32
	}{
		{"m1", -1}, {"zero", 0}, {"eight", 8}, {"short", -100}, {"long", 1 << 20}, {"min", math.MinInt32},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := defineMethod(t, p, tt.name, func(b *bytecode.Builder) {
				b.LdcI4(tt.v).Op(bytecode.OpReturn1)
			})
			if got := invokeInt(t, p, m); got != tt.v {
				t.Errorf("ldc %d = %d", tt.v, got)
			}
		})
	}
}

func TestLocals(t *testing.T) {
	p := newTestProcess(t)
	// (a, b) { c := a; a = b; return c*10 + a }
	m := defineMethod(t, p, "swap", func(b *bytecode.Builder) {
		b.Op(bytecode.OpMkLocal1)
		b.Op(bytecode.OpILoad0).Op(bytecode.OpIStore2)
		b.Op(bytecode.OpILoad1).Op(bytecode.OpIStore0)
		b.Op(bytecode.OpILoad2).LdcI4(10).Op(bytecode.OpIMul)
		b.Op(bytecode.OpILoad0).Op(bytecode.OpIAdd)
		b.Op(bytecode.OpReturn1)
	})
	if got := invokeInt(t, p, m, ints(3, 4)...); got != 34 {
		t.Errorf("swap(3, 4) = %d, want 34", got)
	}
}

func TestFloatFixup(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "ffixup", func(b *bytecode.Builder) {
		b.OpN(bytecode.OpSetNumArgs, 2).OpN(bytecode.OpFFixup, 0)
		b.Op(bytecode.OpILoad0).Op(bytecode.OpReturn1)
	})
	tests := []struct {
		name string
		bits uint64
	}{
		{"1.5", math.Float64bits(1.5)},
		{"-0.25", math.Float64bits(-0.25)},
		{"max float32", math.Float64bits(math.MaxFloat32)},
		{"nan with all-ones high word", 0xFFFFFFFF00000000},
	}
	for _, tt := range tests {
		args := make([]word.Word, 2)
		word.WriteULong(args, tt.bits)
		got := math.Float32frombits(invoke(t, p, m, args...)[0].Uint())
		want := float32(math.Float64frombits(tt.bits))
		if math.IsNaN(float64(want)) {
			if !math.IsNaN(float64(got)) {
				t.Errorf("ffixup(%s) = %v, want NaN", tt.name, got)
			}
			continue
		}
		if got != want {
			t.Errorf("ffixup(%s) = %v, want %v", tt.name, got, want)
		}
	}
}

func TestWideLocal(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "wide", func(b *bytecode.Builder) {
		b.OpN(bytecode.OpMkLocalN, 300)
		b.LdcI4(77).OpN(bytecode.OpIStore, 299)
		b.OpN(bytecode.OpILoad, 299).Op(bytecode.OpReturn1)
	})
	if got := invokeInt(t, p, m); got != 77 {
		t.Errorf("wide local = %d, want 77", got)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func binaryIntMethod(t *testing.T, p *Process, op bytecode.Opcode) *Method {
	t.Helper()
	return defineMethod(t, p, op.String(), func(b *bytecode.Builder) {
		b.Op(bytecode.OpILoad0).Op(bytecode.OpILoad1).Op(op).Op(bytecode.OpReturn1)
	})
}

func TestIntArithmetic(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b int32
		want int32
	}{
		{bytecode.OpIAdd, 2, 3, 5},
		{bytecode.OpIAdd, math.MaxInt32, 1, math.MinInt32},
		{bytecode.OpISub, 2, 3, -1},
		{bytecode.OpIMul, -4, 6, -24},
		{bytecode.OpIDiv, 7, 2, 3},
		{bytecode.OpIDiv, -7, 2, -3},
		{bytecode.OpIRem, -7, 2, -1},
		{bytecode.OpIDivUn, -2, 2, math.MaxInt32},
		{bytecode.OpIRemUn, -1, 10, 5},
		{bytecode.OpIAnd, 0x0F, 0x3C, 0x0C},
		{bytecode.OpIOr, 0x0F, 0x30, 0x3F},
		{bytecode.OpIXor, 0x0F, 0x3C, 0x33},
		{bytecode.OpIShl, 1, 33, 2},
		{bytecode.OpIShr, -16, 2, -4},
		{bytecode.OpIShrUn, -1, 28, 15},
		{bytecode.OpIAddOvf, 1, 2, 3},
		{bytecode.OpIAddOvfUn, -2, 1, -1},
		{bytecode.OpISubOvfUn, 5, 3, 2},
		{bytecode.OpIMulOvf, -3, 3, -9},
		{bytecode.OpIAddOvf, math.MaxInt32 - 1, 1, math.MaxInt32},
		{bytecode.OpIAddOvf, math.MinInt32 + 1, -1, math.MinInt32},
		{bytecode.OpISubOvf, math.MinInt32 + 1, 1, math.MinInt32},
		{bytecode.OpISubOvf, -1, math.MinInt32, math.MaxInt32},
		{bytecode.OpIMulOvf, math.MaxInt32, 1, math.MaxInt32},
		{bytecode.OpIMulOvf, math.MaxInt32, -1, math.MinInt32 + 1},
		{bytecode.OpIMulOvf, 1 << 16, -1 << 15, math.MinInt32},
		{bytecode.OpIAddOvfUn, math.MaxInt32, math.MinInt32, -1},
		{bytecode.OpISubOvfUn, 0, 0, 0},
		{bytecode.OpIMulOvfUn, 0xFFFF, 0x10001, -1},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := binaryIntMethod(t, p, tt.op)
		if got := invokeInt(t, p, m, ints(tt.a, tt.b)...); got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIntArithmeticFaults(t *testing.T) {
	tests := []struct {
		op    bytecode.Opcode
		a, b  int32
		class string
	}{
		{bytecode.OpIDiv, 1, 0, ClassDivideByZero},
		{bytecode.OpIRemUn, 1, 0, ClassDivideByZero},
		{bytecode.OpIDiv, math.MinInt32, -1, ClassArithmetic},
		{bytecode.OpIRem, math.MinInt32, -1, ClassArithmetic},
		{bytecode.OpIAddOvf, math.MaxInt32, 1, ClassOverflow},
		{bytecode.OpIAddOvfUn, -1, 1, ClassOverflow},
		{bytecode.OpISubOvf, math.MinInt32, 1, ClassOverflow},
		{bytecode.OpISubOvfUn, 1, 2, ClassOverflow},
		{bytecode.OpIMulOvf, 1 << 16, 1 << 16, ClassOverflow},
		{bytecode.OpIMulOvfUn, -1, 2, ClassOverflow},
		{bytecode.OpIAddOvf, math.MinInt32, -1, ClassOverflow},
		{bytecode.OpISubOvf, math.MaxInt32, -1, ClassOverflow},
		{bytecode.OpISubOvf, 0, math.MinInt32, ClassOverflow},
		{bytecode.OpIMulOvf, math.MinInt32, -1, ClassOverflow},
		{bytecode.OpIMulOvf, 1 << 16, 1 << 15, ClassOverflow},
		{bytecode.OpIMulOvfUn, 1 << 16, 1 << 16, ClassOverflow},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := binaryIntMethod(t, p, tt.op)
		expectUncaught(t, p, m, tt.class, ints(tt.a, tt.b)...)
	}
}

func TestLongArithmetic(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b int64
		want int64
	}{
		{bytecode.OpLAdd, 1 << 40, 1 << 40, 1 << 41},
		{bytecode.OpLSub, 0, 1, -1},
		{bytecode.OpLMul, 1 << 31, 4, 1 << 33},
		{bytecode.OpLDiv, -1 << 40, 2, -1 << 39},
		{bytecode.OpLRem, 10, 3, 1},
		{bytecode.OpLAnd, 0xFF00FF00FF, 0x0F0F0F0F0F, 0x0F000F000F},
		{bytecode.OpLMulOvf, 1 << 30, 1 << 30, 1 << 60},
		{bytecode.OpLAddOvf, math.MaxInt64 - 1, 1, math.MaxInt64},
		{bytecode.OpLAddOvf, math.MinInt64 + 1, -1, math.MinInt64},
		{bytecode.OpLSubOvf, math.MinInt64 + 1, 1, math.MinInt64},
		{bytecode.OpLSubOvf, -1, math.MinInt64, math.MaxInt64},
		{bytecode.OpLMulOvf, -1 << 62, 2, math.MinInt64},
		{bytecode.OpLMulOvf, math.MaxInt64, -1, math.MinInt64 + 1},
		{bytecode.OpLAddOvfUn, -2, 1, -1},
		{bytecode.OpLMulOvfUn, 0xFFFFFFFF, 0x100000001, -1},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := defineMethod(t, p, tt.op.String(), func(b *bytecode.Builder) {
			b.LdcI8(tt.a).LdcI8(tt.b).Op(tt.op).Op(bytecode.OpReturn2)
		})
		ret := invoke(t, p, m)
		if got := word.ReadLong(ret); got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLongArithmeticFaults(t *testing.T) {
	tests := []struct {
		op    bytecode.Opcode
		a, b  int64
		class string
	}{
		{bytecode.OpLDiv, 1, 0, ClassDivideByZero},
		{bytecode.OpLDiv, math.MinInt64, -1, ClassArithmetic},
		{bytecode.OpLAddOvf, math.MaxInt64, 1, ClassOverflow},
		{bytecode.OpLMulOvf, 1 << 32, 1 << 32, ClassOverflow},
		{bytecode.OpLSubOvfUn, 0, 1, ClassOverflow},
		{bytecode.OpLAddOvf, math.MinInt64, -1, ClassOverflow},
		{bytecode.OpLSubOvf, math.MaxInt64, -1, ClassOverflow},
		{bytecode.OpLSubOvf, 0, math.MinInt64, ClassOverflow},
		{bytecode.OpLMulOvf, 1 << 62, 2, ClassOverflow},
		{bytecode.OpLMulOvf, math.MinInt64, -1, ClassOverflow},
		{bytecode.OpLAddOvfUn, -1, 1, ClassOverflow},
		{bytecode.OpLMulOvfUn, 1 << 32, 1 << 32, ClassOverflow},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := defineMethod(t, p, tt.op.String(), func(b *bytecode.Builder) {
			b.LdcI8(tt.a).LdcI8(tt.b).Op(tt.op).Op(bytecode.OpReturn2)
		})
		expectUncaught(t, p, m, tt.class)
	}
}

func TestLongShift(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "lshl", func(b *bytecode.Builder) {
		b.LdcI8(1).LdcI4(65).Op(bytecode.OpLShl).Op(bytecode.OpReturn2)
	})
	if got := word.ReadLong(invoke(t, p, m)); got != 2 {
		t.Errorf("1 << 65 = %d, want 2 (count masked to 6 bits)", got)
	}
}

func TestFloatArithmetic(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "fdiv", func(b *bytecode.Builder) {
		b.LdcR8(1).LdcR4(4).Op(bytecode.OpFDiv).Op(bytecode.OpReturn2)
	})
	if got := word.ReadFloat(invoke(t, p, m)); got != 0.25 {
		t.Errorf("1/4 = %v, want 0.25", got)
	}

	finite := defineMethod(t, p, "ckfinite", func(b *bytecode.Builder) {
		b.LdcR8(0).LdcR8(0).Op(bytecode.OpFDiv).Prefix(bytecode.PrefixCkFinite).Op(bytecode.OpReturn2)
	})
	expectUncaught(t, p, finite, ClassArithmetic)
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func TestFloatToInt(t *testing.T) {
	tests := []struct {
		f    float64
		want int32
	}{
		{3.7, 3},
		{-3.7, -3},
		{math.NaN(), math.MinInt32},
		{1e10, math.MinInt32},
		{-2147483648.5, math.MinInt32},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := defineMethod(t, p, "f2i", func(b *bytecode.Builder) {
			b.LdcR8(tt.f).Op(bytecode.OpF2I).Op(bytecode.OpReturn1)
		})
		if got := invokeInt(t, p, m); got != tt.want {
			t.Errorf("f2i(%v) = %d, want %d", tt.f, got, tt.want)
		}
	}
}

// Checked narrowing succeeds at each limit of the target type and raises
// OverflowException one past it.
func TestCheckedConversions(t *testing.T) {
	i := func(op bytecode.PrefixOpcode, v int32) func(b *bytecode.Builder) {
		return func(b *bytecode.Builder) { b.LdcI4(v).Prefix(op) }
	}
	l := func(op bytecode.PrefixOpcode, v int64) func(b *bytecode.Builder) {
		return func(b *bytecode.Builder) { b.LdcI8(v).Prefix(op) }
	}
	f := func(op bytecode.PrefixOpcode, v float64) func(b *bytecode.Builder) {
		return func(b *bytecode.Builder) { b.LdcR8(v).Prefix(op) }
	}
	tests := []struct {
		name  string
		build func(b *bytecode.Builder)
		want  int32
		fault bool
	}{
		{"i2b_ovf max", i(bytecode.PrefixI2BOvf, 127), 127, false},
		{"i2b_ovf min", i(bytecode.PrefixI2BOvf, -128), -128, false},
		{"i2b_ovf above", i(bytecode.PrefixI2BOvf, 128), 0, true},
		{"i2b_ovf below", i(bytecode.PrefixI2BOvf, -129), 0, true},
		{"i2ub_ovf max", i(bytecode.PrefixI2UBOvf, 255), 255, false},
		{"i2ub_ovf min", i(bytecode.PrefixI2UBOvf, 0), 0, false},
		{"i2ub_ovf above", i(bytecode.PrefixI2UBOvf, 256), 0, true},
		{"i2ub_ovf below", i(bytecode.PrefixI2UBOvf, -1), 0, true},
		{"iu2b_ovf max", i(bytecode.PrefixIU2BOvf, 127), 127, false},
		{"iu2b_ovf above", i(bytecode.PrefixIU2BOvf, 128), 0, true},
		{"iu2b_ovf unsigned", i(bytecode.PrefixIU2BOvf, -1), 0, true},
		{"iu2ub_ovf max", i(bytecode.PrefixIU2UBOvf, 255), 255, false},
		{"iu2ub_ovf above", i(bytecode.PrefixIU2UBOvf, 256), 0, true},
		{"i2s_ovf max", i(bytecode.PrefixI2SOvf, math.MaxInt16), math.MaxInt16, false},
		{"i2s_ovf min", i(bytecode.PrefixI2SOvf, math.MinInt16), math.MinInt16, false},
		{"i2s_ovf above", i(bytecode.PrefixI2SOvf, math.MaxInt16+1), 0, true},
		{"i2s_ovf below", i(bytecode.PrefixI2SOvf, math.MinInt16-1), 0, true},
		{"i2us_ovf max", i(bytecode.PrefixI2USOvf, math.MaxUint16), math.MaxUint16, false},
		{"i2us_ovf min", i(bytecode.PrefixI2USOvf, 0), 0, false},
		{"i2us_ovf above", i(bytecode.PrefixI2USOvf, math.MaxUint16+1), 0, true},
		{"i2us_ovf below", i(bytecode.PrefixI2USOvf, -1), 0, true},
		{"iu2s_ovf max", i(bytecode.PrefixIU2SOvf, math.MaxInt16), math.MaxInt16, false},
		{"iu2s_ovf above", i(bytecode.PrefixIU2SOvf, math.MaxInt16+1), 0, true},
		{"iu2us_ovf max", i(bytecode.PrefixIU2USOvf, math.MaxUint16), math.MaxUint16, false},
		{"iu2us_ovf above", i(bytecode.PrefixIU2USOvf, math.MaxUint16+1), 0, true},
		{"i2iu_ovf max", i(bytecode.PrefixI2IUOvf, math.MaxInt32), math.MaxInt32, false},
		{"i2iu_ovf min", i(bytecode.PrefixI2IUOvf, 0), 0, false},
		{"i2iu_ovf below", i(bytecode.PrefixI2IUOvf, -1), 0, true},
		{"iu2i_ovf max", i(bytecode.PrefixIU2IOvf, math.MaxInt32), math.MaxInt32, false},
		{"iu2i_ovf above", i(bytecode.PrefixIU2IOvf, math.MinInt32), 0, true},
		{"iu2i_ovf all ones", i(bytecode.PrefixIU2IOvf, -1), 0, true},
		{"l2i_ovf max", l(bytecode.PrefixL2IOvf, math.MaxInt32), math.MaxInt32, false},
		{"l2i_ovf min", l(bytecode.PrefixL2IOvf, math.MinInt32), math.MinInt32, false},
		{"l2i_ovf above", l(bytecode.PrefixL2IOvf, math.MaxInt32+1), 0, true},
		{"l2i_ovf below", l(bytecode.PrefixL2IOvf, math.MinInt32-1), 0, true},
		{"l2ui_ovf max", l(bytecode.PrefixL2UIOvf, math.MaxUint32), -1, false},
		{"l2ui_ovf min", l(bytecode.PrefixL2UIOvf, 0), 0, false},
		{"l2ui_ovf above", l(bytecode.PrefixL2UIOvf, math.MaxUint32+1), 0, true},
		{"l2ui_ovf below", l(bytecode.PrefixL2UIOvf, -1), 0, true},
		{"lu2i_ovf max", l(bytecode.PrefixLU2IOvf, math.MaxInt32), math.MaxInt32, false},
		{"lu2i_ovf above", l(bytecode.PrefixLU2IOvf, math.MaxInt32+1), 0, true},
		{"lu2i_ovf all ones", l(bytecode.PrefixLU2IOvf, -1), 0, true},
		{"lu2iu_ovf max", l(bytecode.PrefixLU2IUOvf, math.MaxUint32), -1, false},
		{"lu2iu_ovf above", l(bytecode.PrefixLU2IUOvf, math.MaxUint32+1), 0, true},
		{"f2i_ovf near max", f(bytecode.PrefixF2IOvf, 2147483647.9), math.MaxInt32, false},
		{"f2i_ovf near min", f(bytecode.PrefixF2IOvf, -2147483648.9), math.MinInt32, false},
		{"f2i_ovf at upper limit", f(bytecode.PrefixF2IOvf, 2147483648), 0, true},
		{"f2i_ovf at lower limit", f(bytecode.PrefixF2IOvf, -2147483649), 0, true},
		{"f2i_ovf nan", f(bytecode.PrefixF2IOvf, math.NaN()), 0, true},
		{"f2iu_ovf near max", f(bytecode.PrefixF2IUOvf, 4294967295.5), -1, false},
		{"f2iu_ovf near min", f(bytecode.PrefixF2IUOvf, -0.9), 0, false},
		{"f2iu_ovf at upper limit", f(bytecode.PrefixF2IUOvf, 4294967296), 0, true},
		{"f2iu_ovf at lower limit", f(bytecode.PrefixF2IUOvf, -1), 0, true},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := defineMethod(t, p, tt.name, func(b *bytecode.Builder) {
				tt.build(b)
				b.Op(bytecode.OpReturn1)
			})
			if tt.fault {
				expectUncaught(t, p, m, ClassOverflow)
				return
			}
			if got := invokeInt(t, p, m); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestCheckedLongConversions(t *testing.T) {
	i := func(op bytecode.PrefixOpcode, v int32) func(b *bytecode.Builder) {
		return func(b *bytecode.Builder) { b.LdcI4(v).Prefix(op) }
	}
	l := func(op bytecode.PrefixOpcode, v int64) func(b *bytecode.Builder) {
		return func(b *bytecode.Builder) { b.LdcI8(v).Prefix(op) }
	}
	f := func(op bytecode.PrefixOpcode, v float64) func(b *bytecode.Builder) {
		return func(b *bytecode.Builder) { b.LdcR8(v).Prefix(op) }
	}
	tests := []struct {
		name  string
		build func(b *bytecode.Builder)
		want  int64
		fault bool
	}{
		{"i2ul_ovf max", i(bytecode.PrefixI2ULOvf, math.MaxInt32), math.MaxInt32, false},
		{"i2ul_ovf min", i(bytecode.PrefixI2ULOvf, 0), 0, false},
		{"i2ul_ovf below", i(bytecode.PrefixI2ULOvf, -1), 0, true},
		{"l2ul_ovf max", l(bytecode.PrefixL2ULOvf, math.MaxInt64), math.MaxInt64, false},
		{"l2ul_ovf min", l(bytecode.PrefixL2ULOvf, 0), 0, false},
		{"l2ul_ovf below", l(bytecode.PrefixL2ULOvf, -1), 0, true},
		{"lu2l_ovf max", l(bytecode.PrefixLU2LOvf, math.MaxInt64), math.MaxInt64, false},
		{"lu2l_ovf above", l(bytecode.PrefixLU2LOvf, math.MinInt64), 0, true},
		{"f2l_ovf min", f(bytecode.PrefixF2LOvf, -9223372036854775808.0), math.MinInt64, false},
		{"f2l_ovf near max", f(bytecode.PrefixF2LOvf, 9223372036854774784.0), 9223372036854774784, false},
		{"f2l_ovf at upper limit", f(bytecode.PrefixF2LOvf, 9223372036854775808.0), 0, true},
		{"f2l_ovf nan", f(bytecode.PrefixF2LOvf, math.NaN()), 0, true},
		{"f2lu_ovf near min", f(bytecode.PrefixF2LUOvf, -0.5), 0, false},
		{"f2lu_ovf near max", f(bytecode.PrefixF2LUOvf, 18446744073709549568.0), -2048, false},
		{"f2lu_ovf at upper limit", f(bytecode.PrefixF2LUOvf, 18446744073709551616.0), 0, true},
		{"f2lu_ovf at lower limit", f(bytecode.PrefixF2LUOvf, -1), 0, true},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := defineMethod(t, p, tt.name, func(b *bytecode.Builder) {
				tt.build(b)
				b.Op(bytecode.OpReturn2)
			})
			if tt.fault {
				expectUncaught(t, p, m, ClassOverflow)
				return
			}
			if got := word.ReadLong(invoke(t, p, m)); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestWideningConversions(t *testing.T) {
	p := newTestProcess(t)
	i2l := defineMethod(t, p, "i2l", func(b *bytecode.Builder) {
		b.LdcI4(-2).Op(bytecode.OpI2L).Op(bytecode.OpReturn2)
	})
	if got := word.ReadLong(invoke(t, p, i2l)); got != -2 {
		t.Errorf("i2l(-2) = %d", got)
	}
	iu2l := defineMethod(t, p, "iu2l", func(b *bytecode.Builder) {
		b.LdcI4(-2).Op(bytecode.OpIU2L).Op(bytecode.OpReturn2)
	})
	if got := word.ReadLong(invoke(t, p, iu2l)); got != 0xFFFFFFFE {
		t.Errorf("iu2l(-2) = %#x", got)
	}
	i2b := defineMethod(t, p, "i2b", func(b *bytecode.Builder) {
		b.LdcI4(0x1FF).Op(bytecode.OpI2B).Op(bytecode.OpReturn1)
	})
	if got := invokeInt(t, p, i2b); got != -1 {
		t.Errorf("i2b(0x1FF) = %d, want -1", got)
	}
	lu2f := defineMethod(t, p, "lu2f", func(b *bytecode.Builder) {
		b.LdcI8(-1).Op(bytecode.OpLU2F).Op(bytecode.OpReturn2)
	})
	if got := word.ReadFloat(invoke(t, p, lu2f)); got != 18446744073709551616.0 {
		t.Errorf("lu2f(max) = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Branches and comparisons
// ---------------------------------------------------------------------------

// sumMethod sums 1..n with a backward loop.
func sumMethod(t testing.TB, p *Process, long bool) *Method {
	return defineMethod(t, p, "sum", func(b *bytecode.Builder) {
		b.Op(bytecode.OpMkLocal1)
		b.Label("loop")
		b.Op(bytecode.OpILoad0).Branch(bytecode.OpBrFalse, "done")
		b.Op(bytecode.OpILoad1).Op(bytecode.OpILoad0).Op(bytecode.OpIAdd).Op(bytecode.OpIStore1)
		b.Op(bytecode.OpILoad0).LdcI4(1).Op(bytecode.OpISub).Op(bytecode.OpIStore0)
		if long {
			b.BranchLong(bytecode.OpBr, "loop")
		} else {
			b.Branch(bytecode.OpBr, "loop")
		}
		b.Label("done")
		b.Op(bytecode.OpILoad1).Op(bytecode.OpReturn1)
	})
}

func TestLoop(t *testing.T) {
	p := newTestProcess(t)
	for _, long := range []bool{false, true} {
		m := sumMethod(t, p, long)
		if got := invokeInt(t, p, m, word.FromInt(10)); got != 55 {
			t.Errorf("sum(10) long=%v = %d, want 55", long, got)
		}
	}
}

func TestConditionalBranches(t *testing.T) {
	tests := []struct {
		op    bytecode.Opcode
		a, b  int32
		taken bool
	}{
		{bytecode.OpBeq, 1, 1, true},
		{bytecode.OpBne, 1, 1, false},
		{bytecode.OpBlt, -1, 0, true},
		{bytecode.OpBltUn, -1, 0, false},
		{bytecode.OpBle, 3, 3, true},
		{bytecode.OpBgt, 3, 3, false},
		{bytecode.OpBgtUn, -1, 0, true},
		{bytecode.OpBge, 4, 3, true},
		{bytecode.OpBgeUn, 0, -1, false},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := defineMethod(t, p, tt.op.String(), func(b *bytecode.Builder) {
			b.Op(bytecode.OpILoad0).Op(bytecode.OpILoad1).Branch(tt.op, "yes")
			b.LdcI4(0).Op(bytecode.OpReturn1)
			b.Label("yes")
			b.LdcI4(1).Op(bytecode.OpReturn1)
		})
		got := invokeInt(t, p, m, ints(tt.a, tt.b)...) == 1
		if got != tt.taken {
			t.Errorf("%s(%d, %d) taken = %v, want %v", tt.op, tt.a, tt.b, got, tt.taken)
		}
	}
}

// branchForms builds a method that leaves a sentinel under the operands
// pushed by push, branches with op, and returns the sentinel on the
// fall-through path or the sentinel plus one when the branch is taken.
func branchForms(t *testing.T, p *Process, op bytecode.Opcode, push func(b *bytecode.Builder), long bool) *Method {
	return defineMethod(t, p, op.String(), func(b *bytecode.Builder) {
		b.LdcI4(100)
		push(b)
		if long {
			b.BranchLong(op, "taken")
		} else {
			b.Branch(op, "taken")
		}
		b.Op(bytecode.OpReturn1)
		b.Label("taken")
		b.LdcI4(1).Op(bytecode.OpIAdd).Op(bytecode.OpReturn1)
	})
}

func TestShortAndLongBranchesAgree(t *testing.T) {
	pair := func(a, b int32) func(*bytecode.Builder) {
		return func(bd *bytecode.Builder) { bd.LdcI4(a).LdcI4(b) }
	}
	one := func(a int32) func(*bytecode.Builder) {
		return func(bd *bytecode.Builder) { bd.LdcI4(a) }
	}
	null := func(bd *bytecode.Builder) { bd.Op(bytecode.OpLdNull) }
	// Long and float compares leave -1, 0 or 1, compared against zero.
	longs := func(op bytecode.PrefixOpcode, a, b int64) func(*bytecode.Builder) {
		return func(bd *bytecode.Builder) { bd.LdcI8(a).LdcI8(b).Prefix(op).LdcI4(0) }
	}
	floats := func(op bytecode.PrefixOpcode, a, b float64) func(*bytecode.Builder) {
		return func(bd *bytecode.Builder) { bd.LdcR8(a).LdcR8(b).Prefix(op).LdcI4(0) }
	}

	tests := []struct {
		name  string
		op    bytecode.Opcode
		push  func(*bytecode.Builder)
		taken bool
	}{
		{"br", bytecode.OpBr, func(*bytecode.Builder) {}, true},
		{"beq", bytecode.OpBeq, pair(5, 5), true},
		{"beq not", bytecode.OpBeq, pair(5, 6), false},
		{"bne", bytecode.OpBne, pair(5, 6), true},
		{"bne not", bytecode.OpBne, pair(5, 5), false},
		{"blt", bytecode.OpBlt, pair(-1, 0), true},
		{"blt not", bytecode.OpBlt, pair(0, -1), false},
		{"blt_un", bytecode.OpBltUn, pair(0, -1), true},
		{"blt_un not", bytecode.OpBltUn, pair(-1, 0), false},
		{"ble", bytecode.OpBle, pair(3, 3), true},
		{"ble not", bytecode.OpBle, pair(4, 3), false},
		{"ble_un", bytecode.OpBleUn, pair(3, -3), true},
		{"ble_un not", bytecode.OpBleUn, pair(-3, 3), false},
		{"bgt", bytecode.OpBgt, pair(4, 3), true},
		{"bgt not", bytecode.OpBgt, pair(3, 3), false},
		{"bgt_un", bytecode.OpBgtUn, pair(-1, 1), true},
		{"bgt_un not", bytecode.OpBgtUn, pair(1, -1), false},
		{"bge", bytecode.OpBge, pair(3, 3), true},
		{"bge not", bytecode.OpBge, pair(-4, 3), false},
		{"bge_un", bytecode.OpBgeUn, pair(-4, 3), true},
		{"bge_un not", bytecode.OpBgeUn, pair(3, -4), false},
		{"brtrue", bytecode.OpBrTrue, one(7), true},
		{"brtrue not", bytecode.OpBrTrue, one(0), false},
		{"brfalse", bytecode.OpBrFalse, one(0), true},
		{"brfalse not", bytecode.OpBrFalse, one(-1), false},
		{"brnull", bytecode.OpBrNull, null, true},
		{"brnull not", bytecode.OpBrNull, one(0x1000), false},
		{"brnonnull", bytecode.OpBrNonNull, one(0x1000), true},
		{"brnonnull not", bytecode.OpBrNonNull, null, false},
		{"br_peq", bytecode.OpBrPEq, pair(0x1000, 0x1000), true},
		{"br_peq not", bytecode.OpBrPEq, pair(0x1000, 0x2000), false},
		{"br_pne", bytecode.OpBrPNe, pair(0x1000, 0x2000), true},
		{"br_pne not", bytecode.OpBrPNe, pair(0x1000, 0x1000), false},
		{"lcmp blt", bytecode.OpBlt, longs(bytecode.PrefixLCmp, -1<<40, 1), true},
		{"lcmp beq", bytecode.OpBeq, longs(bytecode.PrefixLCmp, 1<<33, 1<<33), true},
		{"lcmp bgt not", bytecode.OpBgt, longs(bytecode.PrefixLCmp, -1, 0), false},
		{"lcmp_un bgt", bytecode.OpBgt, longs(bytecode.PrefixLCmpUn, -1, 1), true},
		{"lcmp_un blt not", bytecode.OpBlt, longs(bytecode.PrefixLCmpUn, -1, 1), false},
		{"fcmpl bge", bytecode.OpBge, floats(bytecode.PrefixFCmpL, 2.5, 2.5), true},
		{"fcmpl blt", bytecode.OpBlt, floats(bytecode.PrefixFCmpL, -0.5, 0.5), true},
		{"fcmpl nan", bytecode.OpBlt, floats(bytecode.PrefixFCmpL, math.NaN(), 1), true},
		{"fcmpg nan", bytecode.OpBlt, floats(bytecode.PrefixFCmpG, math.NaN(), 1), false},
		{"fcmpg bgt", bytecode.OpBgt, floats(bytecode.PrefixFCmpG, 3, 2), true},
		{"fcmpg ble not", bytecode.OpBle, floats(bytecode.PrefixFCmpG, 3, 2), false},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := int32(100)
			if tt.taken {
				want = 101
			}
			short := invokeInt(t, p, branchForms(t, p, tt.op, tt.push, false))
			long := invokeInt(t, p, branchForms(t, p, tt.op, tt.push, true))
			if short != want {
				t.Errorf("short %s = %d, want %d", tt.op, short, want)
			}
			if long != short {
				t.Errorf("br_long %s = %d, short form gave %d", tt.op, long, short)
			}
		})
	}
}

func TestBrLongUnknownSubOpcode(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "brlong", func(b *bytecode.Builder) {
		b.LdcI4(5)
		b.BranchLong(bytecode.OpBr, "taken")
		b.LdcI4(0).Op(bytecode.OpReturn1)
		b.Label("taken")
		b.Op(bytecode.OpReturn1)
	})
	// ldc_i4_5 is one byte; the sub-opcode follows the br_long byte.
	for _, sub := range []bytecode.Opcode{bytecode.OpIAdd, bytecode.OpNop, 0xDB} {
		m.Code[2] = byte(sub)
		if got := invokeInt(t, p, m); got != 5 {
			t.Errorf("br_long %s = %d, want 5 (unconditional, stack untouched)", sub, got)
		}
	}
}

func TestSwitch(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "switch", func(b *bytecode.Builder) {
		b.Op(bytecode.OpILoad0).Switch("def", "c0", "c1", "c2")
		b.Label("def").LdcI4(-1).Op(bytecode.OpReturn1)
		b.Label("c0").LdcI4(10).Op(bytecode.OpReturn1)
		b.Label("c1").LdcI4(11).Op(bytecode.OpReturn1)
		b.Label("c2").LdcI4(12).Op(bytecode.OpReturn1)
	})
	tests := []struct{ in, want int32 }{{0, 10}, {1, 11}, {2, 12}, {3, -1}, {-1, -1}}
	for _, tt := range tests {
		if got := invokeInt(t, p, m, word.FromInt(tt.in)); got != tt.want {
			t.Errorf("switch(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestJsr(t *testing.T) {
	p := newTestProcess(t)
	// The subroutine parks its return address in slot 1 and doubles the
	// value below it.
	m := defineMethod(t, p, "jsr", func(b *bytecode.Builder) {
		b.LdcI4(21)
		b.Branch(bytecode.OpJsr, "sub")
		b.Op(bytecode.OpReturn1)
		b.Label("sub")
		b.Op(bytecode.OpIStore1)
		b.Op(bytecode.OpDup).Op(bytecode.OpIAdd)
		b.Op(bytecode.OpILoad1).Op(bytecode.OpRetJsr)
	})
	if got := invokeInt(t, p, m, ints(0, 0)...); got != 42 {
		t.Errorf("jsr = %d, want 42", got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *bytecode.Builder)
		want  int32
	}{
		{"icmp", func(b *bytecode.Builder) { b.LdcI4(-1).LdcI4(1).Prefix(bytecode.PrefixICmp) }, -1},
		{"icmp_un", func(b *bytecode.Builder) { b.LdcI4(-1).LdcI4(1).Prefix(bytecode.PrefixICmpUn) }, 1},
		{"lcmp", func(b *bytecode.Builder) { b.LdcI8(5).LdcI8(5).Prefix(bytecode.PrefixLCmp) }, 0},
		{"lcmp_un", func(b *bytecode.Builder) { b.LdcI8(-1).LdcI8(0).Prefix(bytecode.PrefixLCmpUn) }, 1},
		{"fcmpl", func(b *bytecode.Builder) { b.LdcR8(1.5).LdcR8(2.5).Prefix(bytecode.PrefixFCmpL) }, -1},
		{"fcmpl nan", func(b *bytecode.Builder) { b.LdcR8(math.NaN()).LdcR8(0).Prefix(bytecode.PrefixFCmpL) }, -1},
		{"fcmpg nan", func(b *bytecode.Builder) { b.LdcR8(math.NaN()).LdcR8(0).Prefix(bytecode.PrefixFCmpG) }, 1},
		{"setlt", func(b *bytecode.Builder) { b.LdcI4(2).LdcI4(3).Prefix(bytecode.PrefixICmp).Prefix(bytecode.PrefixSetLt) }, 1},
		{"setge", func(b *bytecode.Builder) { b.LdcI4(2).LdcI4(3).Prefix(bytecode.PrefixICmp).Prefix(bytecode.PrefixSetGe) }, 0},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := defineMethod(t, p, tt.name, func(b *bytecode.Builder) {
			tt.build(b)
			b.Op(bytecode.OpReturn1)
		})
		if got := invokeInt(t, p, m); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Stack shuffling and the stack guard
// ---------------------------------------------------------------------------

func TestStackOps(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *bytecode.Builder)
		want  []int32
	}{
		{"dup2", func(b *bytecode.Builder) { b.LdcI4(1).LdcI4(2).Op(bytecode.OpDup2) }, []int32{1, 2, 1, 2}},
		{"dup_n", func(b *bytecode.Builder) { b.LdcI4(1).LdcI4(2).LdcI4(3).OpN(bytecode.OpDupN, 2) }, []int32{1, 2, 3, 2, 3}},
		{"dup_word_n", func(b *bytecode.Builder) { b.LdcI4(1).LdcI4(2).LdcI4(3).OpN(bytecode.OpDupWordN, 2) }, []int32{1, 2, 3, 1}},
		{"pop_n", func(b *bytecode.Builder) { b.LdcI4(1).LdcI4(2).LdcI4(3).OpN(bytecode.OpPopN, 2) }, []int32{1}},
		{"squash", func(b *bytecode.Builder) {
			b.LdcI4(1).LdcI4(2).LdcI4(3).LdcI4(4).OpNM(bytecode.OpSquash, 1, 2)
		}, []int32{1, 4}},
		{"pushdown", func(b *bytecode.Builder) {
			b.LdcI4(1).LdcI4(2).LdcI4(9).OpN(bytecode.OpPushDown, 2)
		}, []int32{9, 9, 1, 2}},
	}
	p := newTestProcess(t)
	for _, tt := range tests {
		m := defineMethod(t, p, tt.name, func(b *bytecode.Builder) {
			tt.build(b)
			b.OpN(bytecode.OpReturnN, uint32(len(tt.want)))
		})
		got := invoke(t, p, m)
		if len(got) != len(tt.want) {
			t.Errorf("%s returned %d words, want %d", tt.name, len(got), len(tt.want))
			continue
		}
		for i, w := range tt.want {
			if got[i].Int() != w {
				t.Errorf("%s word %d = %d, want %d", tt.name, i, got[i].Int(), w)
			}
		}
	}
}

func TestStackGuard(t *testing.T) {
	p := newTestProcessConfig(t, Config{StackWords: 32, MaxFrames: 8, HeapBytes: 1 << 16})
	m := defineMethod(t, p, "runaway", func(b *bytecode.Builder) {
		b.Label("top").LdcI4(1).Branch(bytecode.OpBr, "top")
	})
	expectUncaught(t, p, m, ClassStackOverflow)
}

func TestPopBelowFrame(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "underflow", func(b *bytecode.Builder) {
		b.Op(bytecode.OpPop).Op(bytecode.OpReturn)
	})
	expectUncaught(t, p, m, ClassStackOverflow)
}

func TestCkHeight(t *testing.T) {
	p := newTestProcessConfig(t, Config{StackWords: 16, MaxFrames: 8, HeapBytes: 1 << 16})
	m := defineMethod(t, p, "ckheight", func(b *bytecode.Builder) {
		b.Op(bytecode.OpCkHeight).LdcI4(7).Op(bytecode.OpReturn1)
	})
	if got := invokeInt(t, p, m); got != 7 {
		t.Errorf("after ckheight = %d, want 7", got)
	}

	// Widen the check in place; the following instructions keep their pcs.
	m.Code[0] = byte(bytecode.OpCkHeightN)
	binary.LittleEndian.PutUint32(m.Code[1:], 100)
	expectUncaught(t, p, m, ClassStackOverflow)

	binary.LittleEndian.PutUint32(m.Code[1:], 4)
	if got := invokeInt(t, p, m); got != 7 {
		t.Errorf("after ckheight_n 4 = %d, want 7", got)
	}

	tight := newTestProcessConfig(t, Config{StackWords: 4, MaxFrames: 8, HeapBytes: 1 << 16})
	short := defineMethod(t, tight, "ckheight", func(b *bytecode.Builder) {
		b.Op(bytecode.OpCkHeight).Op(bytecode.OpReturn)
	})
	expectUncaught(t, tight, short, ClassStackOverflow)
}

func TestUnknownClassIsVerificationError(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "badclass", func(b *bytecode.Builder) {
		b.Op(bytecode.OpLdNull).OpN(bytecode.OpCastClass, 9999).Op(bytecode.OpReturn1)
	})
	expectUncaught(t, p, m, ClassVerification)
}
