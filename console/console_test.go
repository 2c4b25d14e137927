package console_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/bytecode"
	"github.com/wippyai/qvm/console"
	"github.com/wippyai/qvm/engine"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/fsys"
	"github.com/wippyai/qvm/image"
	"github.com/wippyai/qvm/vm"
)

// greeter prints the literal at offset 4 and returns arg0+arg1.
func greeter() *bytecode.Assembler {
	var a bytecode.Assembler
	a.Emit(bytecode.OpEnter, 16)
	a.Emit(bytecode.OpConst, 4)
	a.Emit(bytecode.OpArg, 8)
	a.Emit(bytecode.OpConst, -1-console.SysPrint)
	a.Emit(bytecode.OpCall)
	a.Emit(bytecode.OpPop)
	a.Emit(bytecode.OpLocal, 28)
	a.Emit(bytecode.OpLoad4)
	a.Emit(bytecode.OpLocal, 32)
	a.Emit(bytecode.OpLoad4)
	a.Emit(bytecode.OpAdd)
	a.Emit(bytecode.OpLeave, 16)
	return &a
}

// crasher reports the literal at offset 4 as a module error.
func crasher() *bytecode.Assembler {
	var a bytecode.Assembler
	a.Emit(bytecode.OpEnter, 16)
	a.Emit(bytecode.OpConst, 4)
	a.Emit(bytecode.OpArg, 8)
	a.Emit(bytecode.OpConst, -1-console.SysError)
	a.Emit(bytecode.OpCall)
	a.Emit(bytecode.OpLeave, 16)
	return &a
}

// copier calls strncpy(8, 4, n) with n taken from its first argument.
func copier() *bytecode.Assembler {
	var a bytecode.Assembler
	a.Emit(bytecode.OpEnter, 24)
	a.Emit(bytecode.OpConst, 8)
	a.Emit(bytecode.OpArg, 8)
	a.Emit(bytecode.OpConst, 4)
	a.Emit(bytecode.OpArg, 12)
	a.Emit(bytecode.OpLocal, 36)
	a.Emit(bytecode.OpLoad4)
	a.Emit(bytecode.OpArg, 16)
	a.Emit(bytecode.OpConst, -1-console.SysStrncpy)
	a.Emit(bytecode.OpCall)
	a.Emit(bytecode.OpLeave, 24)
	return &a
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeImage(t *testing.T, dir, name string, a *bytecode.Assembler, lit string) []byte {
	t.Helper()
	bin := image.Encode(image.Image{
		Version:          1,
		InstructionCount: a.Count(),
		Code:             a.Code(),
		Data:             []int32{0},
		Lit:              []byte(lit + "\x00"),
		BssLength:        vm.ProgramStackSize,
	})
	writeFile(t, filepath.Join(dir, vm.ImagePath(name)), bin)
	return bin
}

type fixture struct {
	dir string
	out bytes.Buffer
	reg *vm.Registry
	con *console.Console
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	f.reg = vm.NewRegistry(vm.Options{
		Sources:     []qvm.Source{fsys.Dir(f.dir)},
		Arena:       arena.New(4 << 20),
		Compiler:    engine.Compiler{},
		Interpreter: engine.Interpreter{},
	})
	f.con = console.New(f.reg, &f.out, console.Options{
		Handler: console.NewHost(&f.out, nil),
		Mode:    func(string) vm.Mode { return vm.ModeInterpreted },
	})
	return f
}

func (f *fixture) run(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	if err := f.con.Execute(context.Background(), line); err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return f.out.String()
}

func TestConsole_LoadAndCall(t *testing.T) {
	f := newFixture(t)
	writeImage(t, f.dir, "greeter", greeter(), "hello\n")

	if got := f.run(t, "load greeter"); !strings.HasPrefix(got, "greeter loaded interpreted") {
		t.Errorf("load = %q", got)
	}
	if got := f.run(t, "call greeter 0 2 0x3"); got != "hello\n5\n" {
		t.Errorf("call = %q", got)
	}
	if got := f.run(t, "restart greeter"); got != "greeter restarted\n" {
		t.Errorf("restart = %q", got)
	}
	f.run(t, "free greeter")
	if f.reg.Lookup("greeter") != nil {
		t.Error("module still registered after free")
	}
}

func TestConsole_VMInfo(t *testing.T) {
	f := newFixture(t)
	a := greeter()
	bin := writeImage(t, f.dir, "greeter", a, "hello\n")
	f.run(t, "load greeter compiled")

	sum := blake3.Sum256(bin)
	want := "Registered virtual machines:\n" +
		"greeter : compiled on load\n" +
		fmt.Sprintf("    code length : %7d\n", len(a.Code())) +
		fmt.Sprintf("    table length: %7d\n", a.Count()*4) +
		fmt.Sprintf("    data length : %7d\n", 0x20000) +
		fmt.Sprintf("    source      : %s\n", f.dir) +
		fmt.Sprintf("    checksum    : %s\n", base58.Encode(sum[:]))

	if got := f.run(t, "vminfo"); got != want {
		t.Errorf("vminfo =\n%s\nwant\n%s", got, want)
	}
}

func TestConsole_Profile(t *testing.T) {
	f := newFixture(t)
	writeImage(t, f.dir, "greeter", greeter(), "hi")
	writeFile(t, filepath.Join(f.dir, vm.MapPath("greeter")), []byte("0 0 vmMain\n"))

	f.run(t, "developer on")
	f.run(t, "load greeter")
	f.run(t, "call greeter 0")
	f.run(t, "call greeter 0")

	want := "100%         2 vmMain\n            2 total\n"
	if got := f.run(t, "vmprofile"); got != want {
		t.Errorf("vmprofile = %q, want %q", got, want)
	}
	if got := f.run(t, "symbol greeter 3"); got != "vmMain+3\n" {
		t.Errorf("symbol = %q", got)
	}
	if got := f.run(t, "value greeter vmMain"); got != "0x0\n" {
		t.Errorf("value = %q", got)
	}
}

func TestConsole_DropUnloads(t *testing.T) {
	f := newFixture(t)
	writeImage(t, f.dir, "greeter", greeter(), "hi")
	writeImage(t, f.dir, "crasher", crasher(), "bad things")
	f.run(t, "load greeter")
	f.run(t, "load crasher")

	err := f.con.Execute(context.Background(), "call crasher 0")
	if errors.SeverityOf(err) != errors.Drop {
		t.Fatalf("err = %v, want a drop error", err)
	}
	if !strings.Contains(err.Error(), "bad things") {
		t.Errorf("err = %v, want the module's message", err)
	}
	if n := len(f.reg.VMs()); n != 0 {
		t.Errorf("%d modules still loaded after a drop error", n)
	}
}

func TestConsole_StrncpyLength(t *testing.T) {
	f := newFixture(t)
	writeImage(t, f.dir, "copier", copier(), "abc")

	f.run(t, "load copier")
	if got := f.run(t, "call copier 0 4"); got != "8\n" {
		t.Errorf("call = %q", got)
	}
	f.run(t, "free copier")

	for _, n := range []string{"-1", "0", "-0x80000000"} {
		t.Run(n, func(t *testing.T) {
			f.run(t, "load copier")
			err := f.con.Execute(context.Background(), "call copier 0 "+n)
			if !errors.IsKind(err, errors.KindOutOfRange) {
				t.Fatalf("err = %v, want out of range", err)
			}
			if f.reg.Lookup("copier") != nil {
				t.Error("module still loaded after a bad length")
			}
		})
	}
}

func TestConsole_ClearResetsHunk(t *testing.T) {
	f := newFixture(t)
	writeImage(t, f.dir, "greeter", greeter(), "hi")
	free := fmt.Sprintf("hunk: 0 bytes used, %d bytes free\n", 4<<20)

	f.run(t, "load greeter")
	if got := f.run(t, "hunk"); got == free {
		t.Fatal("load did not allocate from the hunk")
	}
	f.run(t, "clear")
	if got := f.run(t, "hunk"); got != free {
		t.Errorf("hunk after clear = %q, want %q", got, free)
	}
	f.run(t, "load greeter")
	if got := f.run(t, "call greeter 0 1 2"); got != "hi3\n" {
		t.Errorf("call after clear = %q", got)
	}
}

func TestConsole_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		line string
		kind errors.Kind
	}{
		{"bogus", errors.KindInvalidInput},
		{"load", errors.KindInvalidInput},
		{"load game turbo", errors.KindInvalidInput},
		{"load missing", errors.KindNotFound},
		{"call missing 0", errors.KindNotFound},
		{"call", errors.KindInvalidInput},
		{"free x y", errors.KindInvalidInput},
		{"debug lots", errors.KindInvalidInput},
		{"developer maybe", errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if err := f.con.Execute(ctx, tt.line); !errors.IsKind(err, tt.kind) {
				t.Errorf("err = %v, want kind %s", err, tt.kind)
			}
		})
	}

	if err := f.con.Execute(ctx, "   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

func TestConsole_Settings(t *testing.T) {
	f := newFixture(t)

	if got := f.run(t, "debug 2"); got != "debug 2\n" {
		t.Errorf("debug = %q", got)
	}
	if f.reg.Debug() != 2 {
		t.Errorf("registry debug = %d", f.reg.Debug())
	}
	if got := f.run(t, "developer"); got != "developer false\n" {
		t.Errorf("developer = %q", got)
	}
	if got := f.run(t, "hunk"); got != fmt.Sprintf("hunk: 0 bytes used, %d bytes free\n", 4<<20) {
		t.Errorf("hunk = %q", got)
	}

	help := f.run(t, "help")
	for _, cmd := range f.con.Commands() {
		if !strings.Contains(help, cmd.Name) {
			t.Errorf("help is missing %s", cmd.Name)
		}
	}
}
