// Package qvm hosts sandboxed game-logic modules.
//
// A module is either a bytecode image (".qvm") executed by an interpreter or
// a compiler backend, or a native module (a WebAssembly binary run by
// wazero). Every module gets an isolated, power-of-two sized data segment
// and talks to the host only through a fixed-width syscall bridge.
//
// # Architecture Overview
//
//	qvm/                 Root package with FileSystem, Source and Arena interfaces
//	├── vm/              Registry, lifecycle, sandbox memory, call dispatch, syscalls
//	├── image/           Bytecode image header decoding and validation
//	├── bytecode/        Opcode table and instruction pointer scan
//	├── symbols/         Debug map parsing, address resolution, profiler
//	├── engine/          Native (wazero) and bytecode backends
//	├── arena/           Bump allocator for data segments and tables
//	├── fsys/            Directory, pak archive and bolt asset sources
//	├── config/          TOML configuration
//	├── console/         vminfo / vmprofile operator commands
//	├── errors/          Structured error types with severity tiers
//	└── cmd/qvmrun/      Command line runner and interactive console
//
// # Quick Start
//
//	reg := vm.NewRegistry(vm.Options{
//	    Sources:     []qvm.Source{fsys.Dir("baseq3")},
//	    Arena:       arena.New(64 << 20),
//	    Native:      engine.NewWazeroLoader(engine.WazeroConfig{}),
//	    Compiler:    engine.Compiler{},
//	    Interpreter: engine.Interpreter{},
//	})
//
//	game, err := reg.Create(ctx, "qagame", handler, vm.ModeCompiled)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ret, err := reg.Call(ctx, game, gameInit, levelTime, randomSeed, 0)
//
// # Memory Model
//
// Bytecode modules address their data segment through a mask, so every
// address a module produces lands inside its own segment. Data segments are
// carved from a bump arena and are never freed individually; resetting the
// arena reclaims all of them at once.
//
// # Thread Safety
//
// A Registry is used by a single goroutine. The active VM is tracked per
// registry and is saved and restored around every nested call.
package qvm
