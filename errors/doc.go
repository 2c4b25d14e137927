// Package errors provides structured error types for the VM host.
//
// Errors are categorized by Phase (where in the VM lifecycle the error
// occurred), Kind (error category) and Severity (the host's error tier).
// Fatal errors terminate the host, Drop errors abort the current session
// and unload every module, Recoverable errors are returned to the caller.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindBadHeader).
//		Module("qagame").
//		Path("vm/qagame.qvm").
//		Severity(errors.Drop).
//		Detail("negative bss length %d", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NoFreeSlot(name, capacity)
//	err := errors.OutOfRange(errors.PhaseMemory, name, "OP_BLOCK_COPY out of range")
//
// SeverityOf walks the cause chain and reports the highest tier found.
// All errors implement the standard error interface and support errors.Is/As.
package errors
