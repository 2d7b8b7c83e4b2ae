package fixcontinue

import "errors"

// Error kinds a fix request can fail with. Errors this package raises for
// its own checks wrap one of these via %w, so callers can classify them
// with errors.Is without parsing message text. An error returned by a
// collaborator (SymbolStore, InferiorCaller, ThreadLister, FrameUnwinder,
// DynLinkerBookkeeping) is passed on with context added but wraps none of
// these kinds.
var (
	// ErrUsage is returned when the fix command's arguments are malformed.
	ErrUsage = errors.New("usage error")

	// ErrNotFound is returned when a file is missing, a source is
	// unfindable in any psymtab, or the original objfile can't be located.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyLoaded is returned when the bundle path names a module the
	// debugger already knows about.
	ErrAlreadyLoaded = errors.New("bundle already loaded")

	// ErrRestrictionViolation is returned when a C5 rule fires. The
	// wrapping error's message identifies which rule and why.
	ErrRestrictionViolation = errors.New("restriction violation")

	// ErrImageCreateFailed is returned when the platform dynamic linker
	// could not even create an object file image from the bundle.
	ErrImageCreateFailed = errors.New("image create failed")

	// ErrLoadFailed is returned when NSLinkModule (or equivalent) returned
	// a null handle.
	ErrLoadFailed = errors.New("load failed")

	// ErrCorruptSection is returned when the non-lazy symbol pointer
	// section's size isn't a multiple of the target pointer width.
	ErrCorruptSection = errors.New("corrupt section")

	// ErrInternalInvariant is returned when a precondition internal to the
	// engine was violated. Should never be observed in practice.
	ErrInternalInvariant = errors.New("internal invariant violated")

	// ErrIO is returned when a read or write against inferior memory
	// failed.
	ErrIO = errors.New("inferior i/o error")

	// ErrNoDebugger is returned by the CLI when it has no live debugger
	// session to attach Engine's collaborators to. The engine only ever
	// talks to SymbolStore, InferiorMemory, and the rest of symtab.go and
	// inferior.go's interfaces; a real process to back them is always
	// supplied by whatever embeds this package.
	ErrNoDebugger = errors.New("no debugger session attached")
)
