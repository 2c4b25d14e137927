package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in the VM lifecycle the error occurred
type Phase string

const (
	PhaseCreate  Phase = "create"  // slot allocation and candidate search
	PhaseLoad    Phase = "load"    // image decode and data segment setup
	PhaseRestart Phase = "restart" // data-only reload
	PhaseFree    Phase = "free"    // teardown
	PhaseCall    Phase = "call"    // host to module dispatch
	PhaseSyscall Phase = "syscall" // module to host dispatch
	PhaseMemory  Phase = "memory"  // sandbox translation and block copy
	PhaseSymbols Phase = "symbols" // map file parsing
	PhaseConfig  Phase = "config"  // configuration loading
	PhaseNative  Phase = "native"  // native module loading
	PhaseArchive Phase = "archive" // filesystem and pak access
)

// Kind categorizes the error
type Kind string

const (
	KindBadParms       Kind = "bad_parms"
	KindNoFreeSlot     Kind = "no_free_slot"
	KindUnregistered   Kind = "unregistered"
	KindRunning        Kind = "running"
	KindNotFound       Kind = "not_found"
	KindBadMagic       Kind = "bad_magic"
	KindBadHeader      Kind = "bad_header"
	KindTruncated      Kind = "truncated"
	KindSizeMismatch   Kind = "size_mismatch"
	KindOutOfRange     Kind = "out_of_range"
	KindStackOverflow  Kind = "stack_overflow"
	KindAllocation     Kind = "allocation"
	KindCompileFailed  Kind = "compile_failed"
	KindUnsupported    Kind = "unsupported"
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindInstantiation  Kind = "instantiation"
	KindNotInitialized Kind = "not_initialized"
)

// Severity is the host's error tier. Fatal terminates the host, Drop aborts
// the current session and unloads modules, Recoverable is reported to the caller.
type Severity int

const (
	Recoverable Severity = iota
	Drop
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "fatal"
	case Drop:
		return "drop"
	default:
		return "recoverable"
	}
}

// Error is the structured error type used throughout the host
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Severity Severity
	Module   string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" {
		b.WriteString(" in ")
		b.WriteString(e.Module)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "/"))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether any structured error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// SeverityOf returns the highest severity found in the error chain.
// Errors that carry no severity are Recoverable.
func SeverityOf(err error) Severity {
	sev := Recoverable
	for err != nil {
		if e, ok := err.(*Error); ok && e.Severity > sev {
			sev = e.Severity
		}
		err = errors.Unwrap(err)
	}
	return sev
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the file path or search path entry
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Module sets the module name
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Severity sets the error tier
func (b *Builder) Severity(s Severity) *Builder {
	b.err.Severity = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BadParms creates a fatal invalid-argument error
func BadParms(phase Phase, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindBadParms,
		Severity: Fatal,
		Detail:   detail,
	}
}

// NoFreeSlot creates the fatal registry-full error
func NoFreeSlot(name string, capacity int) *Error {
	return &Error{
		Phase:    PhaseCreate,
		Kind:     KindNoFreeSlot,
		Severity: Fatal,
		Module:   name,
		Detail:   fmt.Sprintf("all %d slots in use", capacity),
		Value:    capacity,
	}
}

// Unregistered creates the fatal error for a handle that is not in the registry
func Unregistered(phase Phase, name string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindUnregistered,
		Severity: Fatal,
		Module:   name,
		Detail:   "vm is not registered",
	}
}

// Running creates the fatal error for freeing a module that is still executing
func Running(name string, level int) *Error {
	return &Error{
		Phase:    PhaseFree,
		Kind:     KindRunning,
		Severity: Fatal,
		Module:   name,
		Detail:   fmt.Sprintf("cannot free vm while running (call level %d)", level),
		Value:    level,
	}
}

// NotFound creates a recoverable not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// BadMagic creates a recoverable unknown-format error
func BadMagic(path string, magic uint32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindBadMagic,
		Path:   []string{path},
		Detail: fmt.Sprintf("bad magic 0x%08x", magic),
		Value:  magic,
	}
}

// BadHeader creates a drop-level header validation error
func BadHeader(path, detail string) *Error {
	return &Error{
		Phase:    PhaseLoad,
		Kind:     KindBadHeader,
		Severity: Drop,
		Path:     []string{path},
		Detail:   detail,
	}
}

// Truncated creates a drop-level short-file error
func Truncated(path string, need, have int) *Error {
	return &Error{
		Phase:    PhaseLoad,
		Kind:     KindTruncated,
		Severity: Drop,
		Path:     []string{path},
		Detail:   fmt.Sprintf("need %d bytes, have %d", need, have),
	}
}

// SizeMismatch creates the drop-level restart mismatch error
func SizeMismatch(name, what string, want, got int) *Error {
	return &Error{
		Phase:    PhaseRestart,
		Kind:     KindSizeMismatch,
		Severity: Drop,
		Module:   name,
		Detail:   fmt.Sprintf("%s changed (%d != %d)", what, got, want),
	}
}

// OutOfRange creates a drop-level sandbox violation
func OutOfRange(phase Phase, name, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOutOfRange,
		Severity: Drop,
		Module:   name,
		Detail:   detail,
	}
}

// StackOverflow creates a drop-level program stack exhaustion error
func StackOverflow(name string, stack, bottom int32) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindStackOverflow,
		Severity: Drop,
		Module:   name,
		Detail:   fmt.Sprintf("program stack %d below bottom %d", stack, bottom),
	}
}

// AllocationFailed creates a fatal arena exhaustion error
func AllocationFailed(phase Phase, tag string, size, remaining int) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindAllocation,
		Severity: Fatal,
		Detail:   fmt.Sprintf("hunk_alloc failed on %d bytes for %s (%d remaining)", size, tag, remaining),
		Value:    size,
	}
}

// CompileFailed creates a recoverable compiler error
func CompileFailed(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindCompileFailed,
		Module: name,
		Detail: "compile bytecode",
		Cause:  cause,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error for a missing collaborator
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Instantiation creates a native module instantiation error
func Instantiation(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindInstantiation,
		Module: name,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     kind,
		Severity: SeverityOf(cause),
		Detail:   detail,
		Cause:    cause,
	}
}
