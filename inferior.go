package fixcontinue

import (
	"context"
	"encoding/binary"
)

// InferiorMemory is the engine's only way to read or write the live
// process's address space. All operations are synchronous: the inferior is
// stopped for the duration of a fix request (spec §5), so there is nothing
// to race with.
type InferiorMemory interface {
	Read(ctx context.Context, addr uint64, size int) ([]byte, error)
	Write(ctx context.Context, addr uint64, data []byte) error
	// ByteOrder reports the target's byte order, used when interpreting
	// non-lazy symbol pointer slots and encoding trampoline instructions.
	ByteOrder() binary.ByteOrder
	// PointerWidth reports the target's pointer width in bytes (4 or 8).
	PointerWidth() int
}

// InferiorCaller invokes a function in the inferior and blocks until it
// returns, the way the original calls NSCreateObjectFileImageFromFile and
// NSLinkModule via call_function_by_hand_expecting_type. Blocking is
// synchronous and uncancellable once in flight; ctx is honored only at the
// call boundary, matching spec §5 ("an uncooperative inferior simply hangs
// the debugger").
type InferiorCaller interface {
	// AllocateSpace reserves n bytes in the inferior's address space and
	// returns its address, for out-parameters like NSObjectFileImage*.
	AllocateSpace(ctx context.Context, n int) (uint64, error)
	// Call invokes the named function in the inferior with args (already
	// marshaled to inferior-native representation by the caller) and
	// returns its result as a 64-bit value, sign- or zero-extended
	// according to the callee's declared return type.
	Call(ctx context.Context, funcName string, args []InferiorValue) (uint64, error)
}

// InferiorValue is a single argument to an inferior function call: either
// an integer (pointer, size_t, int) or a byte string copied into inferior
// memory by the caller beforehand and passed as an address.
type InferiorValue struct {
	Integer uint64
	IsAddr  bool // when true, Integer is interpreted as an address
}

// Frame is one physical stack frame as the frame unwinder presents it.
type Frame interface {
	PC() uint64
	// Level is the frame's distance from the innermost frame (0 == top).
	Level() int
}

// FrameUnwinder is the collaborator that enumerates a thread's call stack.
// The real implementation lives in the surrounding debugger (out of scope
// per spec §1); it is used only by the active-stack snapshot (C3).
type FrameUnwinder interface {
	// CurrentFrame returns the innermost frame of thread threadID, or nil
	// if the thread has no frames (a dead thread).
	CurrentFrame(ctx context.Context, threadID int) (Frame, error)
	// PrevFrame returns the frame that called fi, or nil at the outermost
	// frame.
	PrevFrame(ctx context.Context, fi Frame) (Frame, error)
	// FindPCFunction resolves the symbol whose block contains pc, or nil.
	FindPCFunction(ctx context.Context, pc uint64) (Symbol, error)
	// FindPCLine resolves the symtab and source line containing pc.
	FindPCLine(ctx context.Context, pc uint64) (Symtab, int, error)
}

// ThreadLister enumerates the inferior's threads, in the order the engine
// should visit them when building an active-stack snapshot.
type ThreadLister interface {
	Threads(ctx context.Context) ([]int, error)
}

// DynLinkerBookkeeping is the engine's hook into the debugger's own
// dynamic-linker state tracking, used solely to tear out a bogus module
// record after a failed real load (spec §6, §7).
type DynLinkerBookkeeping interface {
	RemoveModuleFromRecords(ctx context.Context, obj Objfile) error
}

// ArchDecoder is the architecture-specific instruction decoder used by
// update_picbase_register (C10) to find a function's PIC-base register and
// the absolute address it's loaded with. Only the PowerPC case is
// concretely specified (spec §1, §4.10); other architectures can implement
// this interface without touching the engine.
type ArchDecoder interface {
	// ParsePrologue inspects the instructions in [start, end) and reports
	// which general-purpose register (if any) the prologue loads with an
	// absolute PIC-base address, and what that address is. ok is false if
	// neither could be determined.
	ParsePrologue(ctx context.Context, mem InferiorMemory, start, end uint64) (reg int, addr uint64, ok bool)
}

// RegisterWriter lets the engine update a single register of the currently
// selected thread, used by UpdatePICBaseRegister.
type RegisterWriter interface {
	WriteRegister(ctx context.Context, reg int, value uint64) error
}
