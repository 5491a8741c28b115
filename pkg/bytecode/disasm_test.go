package bytecode

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDecodeBranchTarget(t *testing.T) {
	code := []byte{
		byte(OpNop),
		byte(OpBr), 0xFF, 0, 0, 0, 0, // back to 0
	}
	in, err := Decode(code, 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Len != BranchLen {
		t.Errorf("Len = %d, want %d", in.Len, BranchLen)
	}
	if len(in.Targets) != 1 || in.Targets[0] != 0 {
		t.Errorf("Targets = %v, want [0]", in.Targets)
	}
}

func TestDecodeWide(t *testing.T) {
	code := []byte{byte(OpWide), byte(OpIStore), 0x2C, 0x01, 0, 0}
	in, err := Decode(code, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !in.Wide || in.Op != OpIStore || in.Operands[0] != 300 {
		t.Errorf("Decode = %+v", in)
	}
	if got := in.String(); got != "wide istore 300" {
		t.Errorf("String() = %q, want %q", got, "wide istore 300")
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{byte(OpLdcI8), 1, 2}, 0)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode truncated err = %v, want ErrTruncated", err)
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"ldc_i4_s", []byte{byte(OpLdcI4S), 0xFE}, "ldc_i4_s -2"},
		{"ldc_r8 nan", le64(OpLdcR8, math.Float64bits(math.NaN())), "ldc_r8 nan"},
		{"ldc_r8", le64(OpLdcR8, math.Float64bits(1.5)), "ldc_r8 1.5"},
		{"br_long", []byte{byte(OpBrLong), byte(OpBlt), 0x20, 0, 0, 0}, "br_long blt L0020"},
		{"call_native", []byte{byte(OpCallNative), 3, 0, 0, 0, 2, 1}, "call_native 3, 2, 1"},
		{"tail", []byte{byte(OpPrefix), byte(PrefixTail), byte(OpCall), 9, 0, 0, 0}, "tail call 9"},
		{"prefix", []byte{byte(OpPrefix), byte(PrefixFCmpL)}, "fcmpl"},
		{"reserved", []byte{0xDB}, "reserved_db"},
	}
	for _, tt := range tests {
		in, err := Decode(tt.code, 0)
		if err != nil {
			t.Errorf("%s: Decode: %v", tt.name, err)
			continue
		}
		if got := in.String(); got != tt.want {
			t.Errorf("%s: String() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func le64(op Opcode, v uint64) []byte {
	b := []byte{byte(op)}
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func TestDisassembleLabels(t *testing.T) {
	b := NewBuilder()
	b.Label("top").Op(OpILoad0).Branch(OpBrTrue, "top").Branch(OpBr, "end").Op(OpNop).Label("end")
	code, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	out := Disassemble(code)
	for _, want := range []string{"L0000:", "brtrue L0000", "br L000E", "L000E:"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleStrayTarget(t *testing.T) {
	code := []byte{
		byte(OpBr), 3, 0, 0, 0, 0,
		byte(OpNop),
	}
	var buf bytes.Buffer
	if err := DisassembleTo(&buf, code); err != nil {
		t.Fatalf("DisassembleTo: %v", err)
	}
	if !strings.Contains(buf.String(), "warning: branch target 0003") {
		t.Errorf("expected stray target warning:\n%s", buf.String())
	}
}

func TestDisassembleTruncated(t *testing.T) {
	var buf bytes.Buffer
	err := DisassembleTo(&buf, []byte{byte(OpNop), byte(OpLdcI4), 1})
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}
