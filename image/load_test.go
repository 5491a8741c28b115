package image

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/cvm/pkg/word"
	"github.com/chazu/cvm/vm"
)

const counterSource = `
entry: Main
natives: [record]
classes:
  - name: Counter
    instance-size: 4
    vtable: [Counter.Get]
methods:
  - name: Get
    class: Counter
    code: |
      set_num_args 1
      pload_0
      iread_field 0
      return_1
  - name: Make
    class: Counter
    code: |
      set_num_args 1
      new
      dup
      iload_0
      iwrite_field 0
      return_1
  - name: Main
    code: |
      ldc_i4_s 41
      call Counter.Make
      call_virtual 1, 0     ; Get
      ldc_i4_1
      iadd
      dup
      call_native_void record, 1
      ldstr "done"
      pop
      return_1
  - name: Divide
    code: |
      set_num_args 2
      enter_try
      body:
      iload_0
      iload_1
      idiv
      return_1
      end:
      handler:
      pop
      ldc_i4_m1
      return_1
      .try body end handler
  - name: Twice
    native: twice
    args: 1
    ret: 1
`

type recorder struct {
	mu   sync.Mutex
	seen []int32
}

func (r *recorder) natives() map[string]vm.NativeFunc {
	return map[string]vm.NativeFunc{
		"record": func(_ *vm.Thread, args, _ []word.Word) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seen = append(r.seen, args[0].Int())
			return nil
		},
		"twice": func(_ *vm.Thread, args, ret []word.Word) error {
			ret[0] = word.FromInt(2 * args[0].Int())
			return nil
		},
	}
}

func buildSource(t *testing.T, text string) *Image {
	t.Helper()
	src, err := ParseSource([]byte(text))
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	img, err := Build(src)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return img
}

func loadImage(t *testing.T, img *Image, natives map[string]vm.NativeFunc) *Program {
	t.Helper()
	prog, err := Load(img, vm.Config{StackWords: 1024, MaxFrames: 64, HeapBytes: 1 << 20}, natives)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { prog.Close() })
	return prog
}

func TestBuildLoadRun(t *testing.T) {
	img := buildSource(t, counterSource)

	// Round trip through the binary form before loading.
	data, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	img, err = Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	rec := &recorder{}
	prog := loadImage(t, img, rec.natives())
	got, err := prog.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Int() != 42 {
		t.Errorf("Run() = %v, want [42]", got)
	}
	if len(rec.seen) != 1 || rec.seen[0] != 42 {
		t.Errorf("record saw %v, want [42]", rec.seen)
	}
}

func TestLoadedHandlers(t *testing.T) {
	prog := loadImage(t, buildSource(t, counterSource), nil)
	m := prog.Method("Divide")
	if m == nil {
		t.Fatal("Method(Divide) = nil")
	}
	tests := []struct{ a, b, want int32 }{{9, 3, 3}, {9, 0, -1}}
	for _, tt := range tests {
		got, err := prog.Process.NewThread().Invoke(context.Background(), m, word.FromInt(tt.a), word.FromInt(tt.b))
		if err != nil {
			t.Fatalf("Divide(%d, %d): %v", tt.a, tt.b, err)
		}
		if got[0].Int() != tt.want {
			t.Errorf("Divide(%d, %d) = %d, want %d", tt.a, tt.b, got[0].Int(), tt.want)
		}
	}
}

func TestLoadedNativeMethod(t *testing.T) {
	rec := &recorder{}
	prog := loadImage(t, buildSource(t, counterSource), rec.natives())
	got, err := prog.Process.NewThread().Invoke(context.Background(), prog.Method("Twice"), word.FromInt(8))
	if err != nil || got[0].Int() != 16 {
		t.Errorf("Twice(8) = %v, %v, want [16]", got, err)
	}
}

func TestUnboundNativeRaises(t *testing.T) {
	prog := loadImage(t, buildSource(t, counterSource), nil)
	_, err := prog.Run(context.Background())
	if !vm.IsUncaught(err, vm.ClassException) {
		t.Errorf("Run error = %v, want uncaught %s", err, vm.ClassException)
	}
}

func TestLoadedClasses(t *testing.T) {
	prog := loadImage(t, buildSource(t, counterSource), nil)
	p := prog.Process
	counter := p.Classes.LookupClass("Counter")
	if counter == nil {
		t.Fatal("Counter not defined")
	}
	if counter.Parent == nil || counter.Parent.Name != "System.Object" {
		t.Errorf("Counter parent = %v, want System.Object", counter.Parent)
	}
	if len(counter.VTable) != 1 || counter.VTable[0].Name != "Get" {
		t.Errorf("Counter vtable = %v", counter.VTable)
	}
	exc := p.Classes.LookupClass(vm.ClassOverflow)
	if exc == nil || exc.Parent == nil || exc.Parent.Name != vm.ClassArithmetic {
		t.Errorf("%s parent = %v, want %s", vm.ClassOverflow, exc, vm.ClassArithmetic)
	}
}

func TestRunThreads(t *testing.T) {
	rec := &recorder{}
	prog := loadImage(t, buildSource(t, counterSource), rec.natives())
	results, err := prog.RunThreads(context.Background(), 3)
	if err != nil {
		t.Fatalf("RunThreads: %v", err)
	}
	for i, r := range results {
		if len(r) != 1 || r[0].Int() != 42 {
			t.Errorf("thread %d = %v, want [42]", i, r)
		}
	}
	if len(rec.seen) != 3 {
		t.Errorf("record called %d times, want 3", len(rec.seen))
	}
}

func TestNoEntry(t *testing.T) {
	img := buildSource(t, counterSource)
	img.Entry = ""
	prog := loadImage(t, img, nil)
	if _, err := prog.Run(context.Background()); !errors.Is(err, ErrNoEntry) {
		t.Errorf("Run error = %v, want ErrNoEntry", err)
	}

	img.Entry = "Nowhere"
	if _, err := Load(img, vm.Config{}, nil); !errors.Is(err, ErrNoEntry) {
		t.Errorf("Load error = %v, want ErrNoEntry", err)
	}
}

func TestLoadRejectsBadCode(t *testing.T) {
	tests := []struct {
		name  string
		patch func(img *Image)
	}{
		{"truncated", func(img *Image) {
			m := img.Method("Main")
			m.Code = m.Code[:1] // ldc_i4_s without its operand
		}},
		{"empty", func(img *Image) { img.Method("Get").Code = nil }},
		{"handler past end", func(img *Image) {
			m := img.Method("Main")
			m.Handlers = []byte{1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0xFF, 0, 0, 0}
		}},
		{"unknown parent", func(img *Image) { img.Classes[len(img.Classes)-1].Parent = "Missing" }},
		{"duplicate class", func(img *Image) { img.Classes = append(img.Classes, img.Classes[0]) }},
		{"unknown vtable method", func(img *Image) { img.Classes[len(img.Classes)-1].VTable = []string{"Nope"} }},
	}
	for _, tt := range tests {
		img := buildSource(t, counterSource)
		tt.patch(img)
		if _, err := Load(img, vm.Config{HeapBytes: 1 << 16}, nil); !errors.Is(err, ErrBadImage) {
			t.Errorf("%s: Load error = %v, want ErrBadImage", tt.name, err)
		}
	}
}

func TestDisassembleImage(t *testing.T) {
	img := buildSource(t, counterSource)
	var sb strings.Builder
	if err := img.Disassemble(&sb); err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	out := sb.String()
	for _, want := range []string{
		".method Counter.Get",
		".method Main",
		"call_virtual",
		"; string 1 = \"done\"",
		"; native 1 = record",
		".try",
		"; native twice (1 args, 1 ret)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}
