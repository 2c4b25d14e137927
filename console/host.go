package console

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/vm"
)

// Syscall numbers serviced by Host. They follow the game module import
// table for the calls that do not need an engine behind them.
const (
	SysPrint        = 0
	SysError        = 1
	SysMilliseconds = 2
	SysMemset       = 100
	SysMemcpy       = 101
	SysStrncpy      = 102
)

// MaxPrint bounds strings read by SysPrint and SysError.
const MaxPrint = 4096

// Host is a minimal syscall handler for running modules outside a game
// engine. Unknown syscalls are logged and return zero.
type Host struct {
	Out    io.Writer
	Logger *zap.Logger

	start time.Time
}

// NewHost creates a host printing to out.
func NewHost(out io.Writer, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{Out: out, Logger: log, start: time.Now()}
}

// Syscall implements vm.SyscallHandler.
func (h *Host) Syscall(ctx context.Context, v *vm.VM, args *vm.SyscallArgs) (int64, error) {
	switch args[0] {
	case SysPrint:
		_, err := io.WriteString(h.Out, v.ReadString(args[1], MaxPrint))
		return 0, err

	case SysError:
		return 0, errors.New(errors.PhaseSyscall, errors.KindInvalidData).
			Severity(errors.Drop).
			Module(v.Name()).
			Detail("%s", v.ReadString(args[1], MaxPrint)).
			Build()

	case SysMilliseconds:
		return time.Since(h.start).Milliseconds(), nil

	case SysMemset:
		b, err := span(v, args[1], args[3])
		if err != nil {
			return 0, err
		}
		for i := range b {
			b[i] = byte(args[2])
		}
		return args[1], nil

	case SysMemcpy:
		if v.Native() != nil {
			dst, err := span(v, args[1], args[3])
			if err != nil {
				return 0, err
			}
			src, err := span(v, args[2], args[3])
			if err != nil {
				return 0, err
			}
			copy(dst, src)
			return args[1], nil
		}
		if err := v.BlockCopy(uint32(args[1]), uint32(args[2]), uint32(args[3])); err != nil {
			return 0, err
		}
		return args[1], nil

	case SysStrncpy:
		if args[3] <= 0 || args[3] > math.MaxInt32 {
			return 0, errors.OutOfRange(errors.PhaseSyscall, v.Name(),
				fmt.Sprintf("strncpy length %d", args[3]))
		}
		if err := v.WriteString(args[1], v.ReadString(args[2], int(args[3])), int(args[3])); err != nil {
			return 0, err
		}
		return args[1], nil
	}

	h.Logger.Debug("unhandled syscall",
		zap.String("vm", v.Name()),
		zap.Int64("num", args[0]),
		zap.Int64s("args", args[1:5]))
	return 0, nil
}

// span returns n bytes of module memory at off.
func span(v *vm.VM, off, n int64) ([]byte, error) {
	b := v.Translate(off)
	if n < 0 || int64(len(b)) < n {
		return nil, errors.OutOfRange(errors.PhaseSyscall, v.Name(),
			fmt.Sprintf("%d bytes at %#x outside module memory", n, off))
	}
	return b[:n], nil
}
