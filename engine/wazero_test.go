package engine_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/engine"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/fsys"
	"github.com/wippyai/qvm/vm"
)

// wasm binary encoding helpers

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func wasmName(s string) []byte { return append(uleb(uint32(len(s))), s...) }

func section(id byte, content ...[]byte) []byte {
	var body []byte
	for _, c := range content {
		body = append(body, c...)
	}
	out := append([]byte{id}, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func vec(n int, items ...[]byte) []byte {
	out := uleb(uint32(n))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func funcType(param byte, nparams int, result byte) []byte {
	out := append([]byte{0x60}, uleb(uint32(nparams))...)
	for i := 0; i < nparams; i++ {
		out = append(out, param)
	}
	return append(out, 1, result)
}

const (
	i32 = 0x7f
	i64 = 0x7e
)

// nativeGame is a module whose vmMain returns arg0+arg1 for call number 0
// and otherwise forwards (callnum, arg0) to env.syscall. It carries "hi" at
// memory offset 16.
func nativeGame() []byte {
	body := []byte{
		0x00,       // no locals
		0x20, 0x00, // local.get 0
		0x45,      // i32.eqz
		0x04, i32, // if (result i32)
		0x20, 0x01, // local.get 1
		0x20, 0x02, // local.get 2
		0x6a,       // i32.add
		0x05,       // else
		0x20, 0x00, // local.get 0
		0xac,       // i64.extend_i32_s
		0x20, 0x01, // local.get 1
		0xac, // i64.extend_i32_s
	}
	for i := 0; i < vm.MaxSyscallArgs-2; i++ {
		body = append(body, 0x42, 0x00) // i64.const 0
	}
	body = append(body,
		0x10, 0x00, // call 0
		0xa7, // i32.wrap_i64
		0x0b, // end if
		0x0b, // end func
	)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, vec(2,
		funcType(i64, vm.MaxSyscallArgs, i64),
		funcType(i32, vm.MaxVMMainArgs, i32)))...)
	out = append(out, section(2, vec(1, wasmName("env"), wasmName("syscall"), []byte{0x00, 0x00}))...)
	out = append(out, section(3, vec(1, []byte{0x01}))...)
	out = append(out, section(5, vec(1, []byte{0x00, 0x01}))...)
	out = append(out, section(7, vec(2,
		wasmName("vmMain"), []byte{0x00, 0x01},
		wasmName("memory"), []byte{0x02, 0x00}))...)
	out = append(out, section(10, vec(1, uleb(uint32(len(body))), body))...)
	out = append(out, section(11, vec(1,
		[]byte{0x00, 0x41, 0x10, 0x0b}, // memory 0, offset i32.const 16
		wasmName("hi")))...)
	return out
}

type recordingHost struct {
	args []int64
	ret  int64
	err  error
}

func (h *recordingHost) DllSyscall(ctx context.Context, arg0 int64, rest ...int64) (int64, error) {
	h.args = append([]int64{arg0}, rest...)
	return h.ret, h.err
}

func TestParseRuntime(t *testing.T) {
	tests := []struct {
		in   string
		want engine.Runtime
	}{
		{"", engine.RuntimeAuto},
		{"auto", engine.RuntimeAuto},
		{"compiler", engine.RuntimeCompiler},
		{"interpreter", engine.RuntimeInterpreter},
	}
	for _, tt := range tests {
		got, err := engine.ParseRuntime(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseRuntime(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := engine.ParseRuntime("jit"); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("ParseRuntime(jit) err = %v", err)
	}
}

func TestWazeroLoader_Call(t *testing.T) {
	ctx := context.Background()
	loader := engine.NewWazeroLoader(engine.WazeroConfig{Runtime: engine.RuntimeInterpreter})
	defer loader.Close(ctx)

	if loader.Extension() != ".wasm" {
		t.Errorf("Extension = %q", loader.Extension())
	}

	host := &recordingHost{ret: 99}
	mod, err := loader.Load(ctx, "game", nativeGame(), host)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Close(ctx)

	var args [vm.MaxVMMainArgs - 1]int32
	args[0], args[1] = 40, 2
	got, err := mod.Call(ctx, 0, args)
	if err != nil || got != 42 {
		t.Errorf("Call(0) = %d, %v", got, err)
	}

	args[0] = -5
	got, err = mod.Call(ctx, 7, args)
	if err != nil || got != 99 {
		t.Fatalf("Call(7) = %d, %v", got, err)
	}
	if len(host.args) != vm.MaxSyscallArgs || host.args[0] != 7 || host.args[1] != -5 || host.args[2] != 0 {
		t.Errorf("syscall args = %v", host.args)
	}

	mem := mod.Memory()
	if len(mem) != 65536 {
		t.Fatalf("memory = %d bytes", len(mem))
	}
	if string(mem[16:18]) != "hi" {
		t.Errorf("memory[16:18] = %q", mem[16:18])
	}
}

func TestWazeroLoader_SyscallError(t *testing.T) {
	ctx := context.Background()
	loader := engine.NewWazeroLoader(engine.WazeroConfig{Runtime: engine.RuntimeInterpreter})
	defer loader.Close(ctx)

	cause := stderrors.New("handler failed")
	mod, err := loader.Load(ctx, "game", nativeGame(), &recordingHost{err: cause})
	if err != nil {
		t.Fatal(err)
	}
	defer mod.Close(ctx)

	_, err = mod.Call(ctx, 1, [vm.MaxVMMainArgs - 1]int32{})
	if err != cause {
		t.Errorf("err = %v, want the handler's error", err)
	}
}

func TestWazeroLoader_RejectsBadModules(t *testing.T) {
	ctx := context.Background()
	loader := engine.NewWazeroLoader(engine.WazeroConfig{Runtime: engine.RuntimeInterpreter})
	defer loader.Close(ctx)

	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	tests := []struct {
		name string
		bin  []byte
	}{
		{"garbage", []byte("not wasm")},
		{"no exports", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(ctx, "bad", tt.bin, &recordingHost{})
			if !errors.IsKind(err, errors.KindInstantiation) {
				t.Errorf("err = %v, want instantiation error", err)
			}
		})
	}
}

func TestWazeroLoader_Registry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeModule(t, dir, "game.wasm", nativeGame())

	loader := engine.NewWazeroLoader(engine.WazeroConfig{})
	defer loader.Close(ctx)
	reg := vm.NewRegistry(vm.Options{
		Sources:     []qvm.Source{fsys.Dir(dir)},
		Native:      loader,
		Interpreter: engine.Interpreter{},
	})

	var seen *vm.VM
	handler := vm.SyscallFunc(func(ctx context.Context, v *vm.VM, args *vm.SyscallArgs) (int64, error) {
		seen = v
		return int64(len(v.ReadString(args[1], 64))), nil
	})

	game, err := reg.Create(ctx, "game", handler, vm.ModeNative)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if game.Mode() != vm.ModeNative {
		t.Fatalf("Mode = %v", game.Mode())
	}

	// syscall 1 with a pointer to "hi"
	got, err := reg.Call(ctx, game, 1, 16)
	if err != nil || got != 2 {
		t.Errorf("Call = %d, %v", got, err)
	}
	if seen != game {
		t.Error("handler did not receive the calling module")
	}
	if reg.Current() != nil {
		t.Error("active module not restored")
	}

	if err := reg.Free(ctx, game); err != nil {
		t.Errorf("Free: %v", err)
	}
}
