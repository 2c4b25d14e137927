package vm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/bytecode"
	"github.com/wippyai/qvm/image"
)

// memSource is an in-memory search path entry.
type memSource struct {
	name  string
	pure  bool
	files map[string][]byte
}

func newSource(name string) *memSource {
	return &memSource{name: name, files: map[string][]byte{}}
}

func (s *memSource) Name() string { return s.name }
func (s *memSource) Pure() bool   { return s.pure }

func (s *memSource) ReadFile(path string) ([]byte, error) {
	data, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// callFunc scripts a fake backend call.
type callFunc func(ctx context.Context, vm *VM, ps int32) (int32, error)

type fakeBackend struct {
	call      callFunc
	destroyed bool
}

func (b *fakeBackend) Call(ctx context.Context, vm *VM, ps int32) (int32, error) {
	if b.call == nil {
		return vm.word(uint32(ps) + 8), nil
	}
	return b.call(ctx, vm, ps)
}

func (b *fakeBackend) Destroy() { b.destroyed = true }

type fakeInterpreter struct {
	calls    map[string]callFunc
	backends map[string]*fakeBackend
	codes    map[string][]byte
}

func newFakeInterpreter() *fakeInterpreter {
	return &fakeInterpreter{
		calls:    map[string]callFunc{},
		backends: map[string]*fakeBackend{},
		codes:    map[string][]byte{},
	}
}

func (f *fakeInterpreter) Prepare(ctx context.Context, vm *VM, code []byte) (Backend, error) {
	b := &fakeBackend{call: f.calls[vm.Name()]}
	f.backends[vm.Name()] = b
	f.codes[vm.Name()] = append([]byte(nil), code...)
	return b, nil
}

type fakeCompiler struct {
	fail bool
}

func (c *fakeCompiler) Compile(ctx context.Context, vm *VM, code []byte) (Backend, error) {
	if c.fail {
		return nil, stderrors.New("unsupported opcode")
	}
	return &fakeBackend{}, nil
}

type fakeNative struct {
	mem    []byte
	call   func(ctx context.Context, callnum int32, args [MaxVMMainArgs - 1]int32) (int32, error)
	closed bool
}

func (n *fakeNative) Call(ctx context.Context, callnum int32, args [MaxVMMainArgs - 1]int32) (int32, error) {
	if n.call == nil {
		return callnum, nil
	}
	return n.call(ctx, callnum, args)
}

func (n *fakeNative) Memory() []byte { return n.mem }

func (n *fakeNative) Close(ctx context.Context) error {
	n.closed = true
	return nil
}

type fakeLoader struct {
	fail    bool
	modules []*fakeNative
	host    NativeHost
}

func (l *fakeLoader) Extension() string { return ".wasm" }

func (l *fakeLoader) Load(ctx context.Context, name string, bin []byte, host NativeHost) (NativeModule, error) {
	if l.fail {
		return nil, stderrors.New("bad module")
	}
	l.host = host
	m := &fakeNative{mem: make([]byte, 1024)}
	l.modules = append(l.modules, m)
	return m, nil
}

// testCode is ENTER 8; CONST 0; LEAVE 8.
func testCode() ([]byte, int32) {
	var a bytecode.Assembler
	a.Emit(bytecode.OpEnter, 8).Emit(bytecode.OpConst, 0).Emit(bytecode.OpLeave, 8)
	return a.Code(), a.Count()
}

// testImage builds an image with dataWords initialized words (1, 2, 3...),
// the given literal bytes and bss length.
func testImage(version, dataWords int, lit []byte, bss int32) []byte {
	code, count := testCode()
	data := make([]int32, dataWords)
	for i := range data {
		data[i] = int32(i + 1)
	}
	img := image.Image{
		Version:          version,
		InstructionCount: count,
		Code:             code,
		Data:             data,
		Lit:              lit,
		BssLength:        bss,
	}
	if version == 2 {
		img.JumpTargets = []int32{0, 2}
	}
	return image.Encode(img)
}

type testEnv struct {
	reg    *Registry
	src    *memSource
	interp *fakeInterpreter
	hunk   *arena.Hunk
}

func newEnv(t *testing.T, mut ...func(*Options)) *testEnv {
	t.Helper()
	src := newSource("base")
	interp := newFakeInterpreter()
	hunk := arena.New(1 << 20)
	opts := Options{
		Sources:     nil,
		Arena:       hunk,
		Interpreter: interp,
	}
	opts.Sources = append(opts.Sources, src)
	for _, m := range mut {
		m(&opts)
	}
	return &testEnv{reg: NewRegistry(opts), src: src, interp: interp, hunk: hunk}
}

var nopHandler = SyscallFunc(func(ctx context.Context, vm *VM, args *SyscallArgs) (int64, error) {
	return 0, nil
})
