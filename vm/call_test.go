package vm

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wippyai/qvm/errors"
)

func TestCall_Frame(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)

	var frame []int32
	var stackInside int32
	env.interp.calls["game"] = func(ctx context.Context, vm *VM, ps int32) (int32, error) {
		stackInside = vm.ProgramStack()
		for i := int32(0); i < FrameSize/4; i++ {
			frame = append(frame, vm.word(uint32(ps+4*i)))
		}
		return 42, nil
	}
	vm, err := env.reg.Create(ctx, "game", nopHandler, ModeInterpreted)
	if err != nil {
		t.Fatal(err)
	}
	top := vm.ProgramStack()

	ret, err := env.reg.Call(ctx, vm, 5, 10, 20, 30)
	if err != nil || ret != 42 {
		t.Fatalf("Call = %d, %v", ret, err)
	}
	want := []int32{-1, 0, 5, 10, 20, 30, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if len(frame) != len(want) {
		t.Fatalf("frame = %v", frame)
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Errorf("frame[%d] = %d, want %d", i, frame[i], want[i])
		}
	}
	if stackInside != top-FrameSize {
		t.Errorf("program stack inside call = %d, want %d", stackInside, top-FrameSize)
	}
	if vm.ProgramStack() != top {
		t.Errorf("program stack after call = %d, want %d", vm.ProgramStack(), top)
	}
}

func TestCall_Errors(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)
	vm, err := env.reg.Create(ctx, "game", nopHandler, ModeInterpreted)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		vm   *VM
		num  int32
		args []int32
		kind errors.Kind
	}{
		{"negative callnum", vm, -1, nil, errors.KindBadParms},
		{"nil vm", nil, 0, nil, errors.KindBadParms},
		{"too many args", vm, 0, make([]int32, MaxVMMainArgs), errors.KindBadParms},
		{"foreign vm", &VM{name: "game"}, 0, nil, errors.KindUnregistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.reg.Call(ctx, tt.vm, tt.num, tt.args...)
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
			if errors.SeverityOf(err) != errors.Fatal {
				t.Errorf("severity = %v", errors.SeverityOf(err))
			}
		})
	}

	if _, err := env.reg.Call(ctx, vm, 0, make([]int32, MaxVMMainArgs-1)...); err != nil {
		t.Errorf("full argument block rejected: %v", err)
	}
}

func TestCall_StackOverflow(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)
	vm, err := env.reg.Create(ctx, "game", nopHandler, ModeInterpreted)
	if err != nil {
		t.Fatal(err)
	}
	vm.SetProgramStack(vm.StackBottom() + FrameSize - 4)

	_, err = env.reg.Call(ctx, vm, 0)
	if !errors.IsKind(err, errors.KindStackOverflow) || errors.SeverityOf(err) != errors.Drop {
		t.Errorf("err = %v", err)
	}
	if vm.CallLevel() != 0 || env.reg.Current() != nil {
		t.Error("failed call left the vm active")
	}
}

func TestCall_NestedRestoresActive(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)
	env.src.files["vm/ui.qvm"] = testImage(1, 1, nil, 0)

	var game, ui *VM
	var seen []string
	active := func() string {
		if cur := env.reg.Current(); cur != nil {
			return cur.Name()
		}
		return "-"
	}

	env.interp.calls["ui"] = func(ctx context.Context, vm *VM, ps int32) (int32, error) {
		seen = append(seen, "ui:"+active())
		return 2, nil
	}
	env.interp.calls["game"] = func(ctx context.Context, vm *VM, ps int32) (int32, error) {
		seen = append(seen, "game:"+active())
		if game.CallLevel() != 1 {
			t.Errorf("game call level = %d", game.CallLevel())
		}
		ret, err := vm.Registry().Call(ctx, ui, 0)
		seen = append(seen, "back:"+active())
		return ret + 1, err
	}

	var err error
	if game, err = env.reg.Create(ctx, "game", nopHandler, ModeInterpreted); err != nil {
		t.Fatal(err)
	}
	if ui, err = env.reg.Create(ctx, "ui", nopHandler, ModeInterpreted); err != nil {
		t.Fatal(err)
	}

	ret, err := env.reg.Call(ctx, game, 0)
	if err != nil || ret != 3 {
		t.Fatalf("Call = %d, %v", ret, err)
	}
	if got := strings.Join(seen, " "); got != "game:game ui:ui back:game" {
		t.Errorf("active sequence = %q", got)
	}
	if env.reg.Current() != nil || env.reg.Last() != ui {
		t.Errorf("current=%v last=%v", env.reg.Current(), env.reg.Last())
	}
	if game.CallLevel() != 0 || ui.CallLevel() != 0 {
		t.Errorf("call levels %d %d", game.CallLevel(), ui.CallLevel())
	}
}

func TestCall_RestoresAfterPanic(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)
	env.interp.calls["game"] = func(ctx context.Context, vm *VM, ps int32) (int32, error) {
		panic("abort")
	}
	vm, err := env.reg.Create(ctx, "game", nopHandler, ModeInterpreted)
	if err != nil {
		t.Fatal(err)
	}
	top := vm.ProgramStack()

	func() {
		defer func() { _ = recover() }()
		_, _ = env.reg.Call(ctx, vm, 0)
	}()

	if env.reg.Current() != nil || vm.CallLevel() != 0 || vm.ProgramStack() != top {
		t.Errorf("state not restored: current=%v level=%d stack=%d", env.reg.Current(), vm.CallLevel(), vm.ProgramStack())
	}
}

func TestCall_Native(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{}
	env := newEnv(t, func(o *Options) { o.Native = loader })
	env.src.files["vm/game.wasm"] = []byte("\x00asm")

	vm, err := env.reg.Create(ctx, "game", nopHandler, ModeNative)
	if err != nil {
		t.Fatal(err)
	}
	var got [MaxVMMainArgs - 1]int32
	loader.modules[0].call = func(ctx context.Context, callnum int32, args [MaxVMMainArgs - 1]int32) (int32, error) {
		got = args
		return callnum * 2, nil
	}

	ret, err := env.reg.Call(ctx, vm, 21, 1, 2)
	if err != nil || ret != 42 {
		t.Fatalf("Call = %d, %v", ret, err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 0 {
		t.Errorf("args = %v", got)
	}
}

func TestCall_DebugLogging(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, func(o *Options) { o.Debug = 1 })
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)
	vm, err := env.reg.Create(ctx, "game", nopHandler, ModeInterpreted)
	if err != nil {
		t.Fatal(err)
	}
	if env.reg.Debug() != 1 {
		t.Fatalf("Debug = %d", env.reg.Debug())
	}
	if ret, err := env.reg.Call(ctx, vm, 9); err != nil || ret != 9 {
		t.Errorf("Call = %d, %v", ret, err)
	}
}

func TestSyscall_FromStack(t *testing.T) {
	ctx := context.Background()
	var log bytes.Buffer
	env := newEnv(t, func(o *Options) { o.SyscallLog = &log })
	env.src.files["vm/game.qvm"] = testImage(1, 1, nil, 0)

	var gotArgs SyscallArgs
	var gotVM *VM
	handler := SyscallFunc(func(ctx context.Context, vm *VM, args *SyscallArgs) (int64, error) {
		gotArgs = *args
		gotVM = vm
		return 99, nil
	})

	env.interp.calls["game"] = func(ctx context.Context, vm *VM, ps int32) (int32, error) {
		// syscall 7 with arguments -3 and 12, laid out where a backend
		// would leave them: the number below the arguments.
		frame := ps - 16
		vm.putWord(uint32(frame), 7)
		vm.putWord(uint32(frame+4), -3)
		vm.putWord(uint32(frame+8), 12)
		ret, err := vm.Registry().SyscallFromStack(ctx, frame)
		return int32(ret), err
	}

	vm, err := env.reg.Create(ctx, "game", handler, ModeInterpreted)
	if err != nil {
		t.Fatal(err)
	}
	ret, err := env.reg.Call(ctx, vm, 0)
	if err != nil || ret != 99 {
		t.Fatalf("Call = %d, %v", ret, err)
	}
	if gotVM != vm || gotArgs[0] != 7 || gotArgs[1] != -3 || gotArgs[2] != 12 {
		t.Errorf("handler saw vm=%v args=%v", gotVM, gotArgs[:4])
	}
	if !strings.HasPrefix(log.String(), "1: 0x") || !strings.Contains(log.String(), "(7) = -3 12") {
		t.Errorf("syscall log = %q", log.String())
	}
}

func TestSyscall_Native(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{}
	env := newEnv(t, func(o *Options) { o.Native = loader })
	env.src.files["vm/game.wasm"] = []byte("\x00asm")

	var gotArgs SyscallArgs
	handler := SyscallFunc(func(ctx context.Context, vm *VM, args *SyscallArgs) (int64, error) {
		gotArgs = *args
		return args[1] + args[2], nil
	})
	vm, err := env.reg.Create(ctx, "game", handler, ModeNative)
	if err != nil {
		t.Fatal(err)
	}
	loader.modules[0].call = func(ctx context.Context, callnum int32, args [MaxVMMainArgs - 1]int32) (int32, error) {
		r, err := loader.host.DllSyscall(ctx, 3, 40, 2)
		return int32(r), err
	}

	ret, err := env.reg.Call(ctx, vm, 0)
	if err != nil || ret != 42 {
		t.Fatalf("Call = %d, %v", ret, err)
	}
	if gotArgs[0] != 3 || gotArgs[3] != 0 || gotArgs[MaxSyscallArgs-1] != 0 {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestSyscall_NoActiveVM(t *testing.T) {
	env := newEnv(t)
	_, err := env.reg.DllSyscall(context.Background(), 1)
	if errors.SeverityOf(err) != errors.Fatal {
		t.Errorf("DllSyscall err = %v", err)
	}
	_, err = env.reg.SyscallFromStack(context.Background(), 0)
	if errors.SeverityOf(err) != errors.Fatal {
		t.Errorf("SyscallFromStack err = %v", err)
	}
}
