package vm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// guardedDivide returns a/b, or -1 if the division raises.
func guardedDivide(t testing.TB, p *Process) *Method {
	return defineMethod(t, p, "guardedDivide", func(b *bytecode.Builder) {
		b.Prefix(bytecode.PrefixEnterTry)
		b.Label("start")
		b.Op(bytecode.OpILoad0).Op(bytecode.OpILoad1).Op(bytecode.OpIDiv).Op(bytecode.OpReturn1)
		b.Label("end")
		b.Label("handler")
		b.Op(bytecode.OpPop).LdcI4(-1).Op(bytecode.OpReturn1)
		b.Try("start", "end", "handler")
	})
}

func TestHandlerInSameMethod(t *testing.T) {
	p := newTestProcess(t)
	m := guardedDivide(t, p)
	tests := []struct{ a, b, want int32 }{{10, 2, 5}, {10, 0, -1}}
	for _, tt := range tests {
		if got := invokeInt(t, p, m, ints(tt.a, tt.b)...); got != tt.want {
			t.Errorf("guardedDivide(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHandlerResetsStackHeight(t *testing.T) {
	p := newTestProcess(t)
	// Junk pushed inside the region is discarded; the handler sees only
	// the exception object above the height recorded by enter_try.
	m := defineMethod(t, p, "height", func(b *bytecode.Builder) {
		b.Prefix(bytecode.PrefixEnterTry)
		b.Label("start")
		b.LdcI4(7).LdcI4(8).LdcI4(9)
		b.Op(bytecode.OpLdNull).Prefix(bytecode.PrefixThrow)
		b.Label("end")
		b.Label("handler")
		b.OpN(bytecode.OpReturnN, 2)
		b.Try("start", "end", "handler")
	})
	got := invoke(t, p, m, word.FromInt(5))
	if len(got) != 2 || got[0].Int() != 5 {
		t.Fatalf("height() = %v, want [5 <exception>]", got)
	}
	if cls := p.ClassOf(got[1].Uint()); cls == nil || cls.Name != ClassNullReference {
		t.Errorf("handler object class = %v, want %s", cls, ClassNullReference)
	}
}

func TestUnwindThroughCall(t *testing.T) {
	p := newTestProcess(t)
	callee := defineMethod(t, p, "divide", func(b *bytecode.Builder) {
		b.OpN(bytecode.OpSetNumArgs, 2)
		b.Op(bytecode.OpILoad0).Op(bytecode.OpILoad1).Op(bytecode.OpIDiv).Op(bytecode.OpReturn1)
	})
	caller := defineMethod(t, p, "caller", func(b *bytecode.Builder) {
		b.Prefix(bytecode.PrefixEnterTry)
		b.Label("start")
		b.Op(bytecode.OpILoad0).Op(bytecode.OpILoad1).OpN(bytecode.OpCall, callee.ID)
		b.Op(bytecode.OpReturn1)
		b.Label("end")
		b.Label("handler")
		b.Op(bytecode.OpPop).LdcI4(-1).Op(bytecode.OpReturn1)
		b.Try("start", "end", "handler")
	})
	if got := invokeInt(t, p, caller, ints(9, 3)...); got != 3 {
		t.Errorf("caller(9, 3) = %d, want 3", got)
	}
	if got := invokeInt(t, p, caller, ints(9, 0)...); got != -1 {
		t.Errorf("caller(9, 0) = %d, want -1", got)
	}
}

func TestThrowCaller(t *testing.T) {
	p := newTestProcess(t)
	exc := p.Classes.LookupClass(ClassException)
	obj, err := p.Alloc.Alloc(exc, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	callee := defineMethod(t, p, "rethrow", func(b *bytecode.Builder) {
		b.OpN(bytecode.OpSetNumArgs, 1)
		b.Op(bytecode.OpILoad0).Prefix(bytecode.PrefixThrowCaller)
	})
	caller := defineMethod(t, p, "caller", func(b *bytecode.Builder) {
		b.Prefix(bytecode.PrefixEnterTry)
		b.Label("start")
		b.Op(bytecode.OpPLoad0).OpN(bytecode.OpCall, callee.ID)
		b.Op(bytecode.OpReturn)
		b.Label("end")
		b.Label("handler")
		b.Op(bytecode.OpReturn1)
		b.Try("start", "end", "handler")
	})
	if got := invoke(t, p, caller, word.Word(obj)); len(got) != 1 || got[0].Uint() != obj {
		t.Errorf("caller() = %v, want [%#x]", got, obj)
	}
}

func TestUncaughtCarriesTrace(t *testing.T) {
	p := newTestProcess(t)
	inner := defineMethod(t, p, "inner", func(b *bytecode.Builder) {
		b.OpN(bytecode.OpSetNumArgs, 0)
		b.Op(bytecode.OpLdNull).Op(bytecode.OpArrayLen).Op(bytecode.OpReturn1)
	})
	outer := defineMethod(t, p, "outer", func(b *bytecode.Builder) {
		b.OpN(bytecode.OpCall, inner.ID).Op(bytecode.OpReturn1)
	})
	_, err := p.NewThread().Invoke(context.Background(), outer)
	var ue *UncaughtError
	if !errors.As(err, &ue) {
		t.Fatalf("Invoke error = %v, want *UncaughtError", err)
	}
	if ue.Class != ClassNullReference {
		t.Errorf("Class = %q, want %q", ue.Class, ClassNullReference)
	}
	if ue.Info == nil || len(ue.Info.Trace) != 2 {
		t.Fatalf("Info = %+v, want a two-frame trace", ue.Info)
	}
	if ue.Info.Trace[0].Method != "inner" || ue.Info.Trace[1].Method != "outer" {
		t.Errorf("Trace = %v, want inner then outer", ue.Info.Trace)
	}
	if !strings.Contains(err.Error(), "at inner+") {
		t.Errorf("Error() = %q, want it to include the trace", err.Error())
	}
}

func TestThrowNullRaisesNullReference(t *testing.T) {
	p := newTestProcess(t)
	m := defineMethod(t, p, "throwNull", func(b *bytecode.Builder) {
		b.Op(bytecode.OpLdNull).Prefix(bytecode.PrefixThrow)
	})
	expectUncaught(t, p, m, ClassNullReference)
}

func TestMissingSystemClassIsFatal(t *testing.T) {
	p, err := NewProcess(Config{StackWords: 64, MaxFrames: 8, HeapBytes: 1 << 16})
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	defer p.Close()
	var reported *FatalError
	p.Fatal = func(fe *FatalError) { reported = fe }

	m := defineMethod(t, p, "divide", func(b *bytecode.Builder) {
		b.LdcI4(1).LdcI4(0).Op(bytecode.OpIDiv).Op(bytecode.OpReturn1)
	})
	_, err = p.NewThread().Invoke(context.Background(), m)
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("Invoke error = %v, want *FatalError", err)
	}
	if reported == nil || !strings.Contains(reported.Msg, ClassDivideByZero) {
		t.Errorf("fatal handler got %v, want a message naming %s", reported, ClassDivideByZero)
	}
}

func TestNativeThrow(t *testing.T) {
	p := newTestProcess(t)
	id := p.Natives.Register("fail", func(th *Thread, args, ret []word.Word) error {
		return th.ThrowNew(ClassInvalidCast)
	})
	m := defineMethod(t, p, "callFail", func(b *bytecode.Builder) {
		b.CallNative(bytecode.OpCallNativeVoid, id, 0, 0).Op(bytecode.OpReturn)
	})
	expectUncaught(t, p, m, ClassInvalidCast)

	plain := p.Natives.Register("plain", func(*Thread, []word.Word, []word.Word) error {
		return errors.New("disk on fire")
	})
	m = defineMethod(t, p, "callPlain", func(b *bytecode.Builder) {
		b.CallNative(bytecode.OpCallNativeVoid, plain, 0, 0).Op(bytecode.OpReturn)
	})
	_, err := p.NewThread().Invoke(context.Background(), m)
	var ue *UncaughtError
	if !errors.As(err, &ue) || ue.Class != ClassException || ue.Info == nil || ue.Info.Message != "disk on fire" {
		t.Errorf("Invoke error = %v, want System.Exception: disk on fire", err)
	}
}

func TestFindHandler(t *testing.T) {
	table := bytecode.EncodeRegions([]bytecode.Region{
		{Start: 10, End: 20, Handler: 100},
		{Start: 0, End: 50, Handler: 200},
	})
	tests := []struct {
		pc   uint32
		want uint32
		ok   bool
	}{
		{15, 100, true},
		{20, 200, true},
		{49, 200, true},
		{50, 0, false},
	}
	for _, tt := range tests {
		h, ok := findHandler(table, tt.pc)
		if h != tt.want || ok != tt.ok {
			t.Errorf("findHandler(%d) = %d, %v, want %d, %v", tt.pc, h, ok, tt.want, tt.ok)
		}
	}
	if _, ok := findHandler(nil, 0); ok {
		t.Error("findHandler(nil) found a handler")
	}
}
