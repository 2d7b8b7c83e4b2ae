package fixcontinue

import "context"

// SymbolClass mirrors the debugger's notion of what a symbol denotes.
type SymbolClass int

const (
	ClassUnknown SymbolClass = iota
	ClassFunction
	ClassVariable
	ClassConstant
	ClassError // TYPE_CODE_ERROR / UNDEF: the debugger couldn't resolve a type
)

// SymbolScope distinguishes global, file-static, and block-local bindings.
type SymbolScope int

const (
	ScopeGlobal SymbolScope = iota
	ScopeStatic
	ScopeLocal
)

// Symbol is the subset of a debugger's full symbol that the restriction
// checker, redirector, and obsolescence bookkeeper need. Implementations
// wrap whatever rich symbol type the surrounding debugger actually has.
type Symbol interface {
	Name() string         // the print/demangled name
	LinkageName() string  // the name used for symbol table lookups
	Class() SymbolClass
	Scope() SymbolScope
	TypeString() string // textual form of the symbol's type, for comparison
	Address() uint64    // BLOCK_START for functions, the datum address for variables

	// Function-only accessors. Implementations should return zero values
	// when Class() != ClassFunction.
	BlockStart() uint64
	BlockEnd() uint64
	Arguments() []Symbol // ordered formal parameters
	Locals() []Symbol    // ordered local variables, arguments excluded

	Obsolete() bool
	SetObsolete(bool)
}

// MinimalSymbol is the debugger's lightweight, linker-derived symbol: no
// type information, just a name and an address.
type MinimalSymbol interface {
	Name() string
	Address() uint64
	Obsolete() bool
	SetObsolete(bool)
}

// Block is an ordered collection of symbols sharing a lexical scope
// (globals, statics, or one function's locals).
type Block interface {
	Symbols() []Symbol
}

// Symtab is a fully expanded symbol table for one compilation unit.
type Symtab interface {
	Filename() string
	Fullname() string
	// Primary reports whether this symtab is the "real" table for its
	// compilation unit, as opposed to an include-file mirror that shares
	// the same blocks but carries no code of its own (primary != 1 in the
	// original source).
	Primary() bool
	// Blocks returns, in order, the global block, the static block, and
	// then one block per function defined in this symtab.
	Blocks() []Block
	Obsolete() bool
	SetObsolete(bool)
}

// Psymtab is a partial symbol table: cheap to scan, must be expanded via
// SymbolStore.Expand before its symbols are visible.
type Psymtab interface {
	Filename() string
	Fullname() string
	Empty() bool
	Obsolete() bool
	SetObsolete(bool)
}

// Objfile is one loaded module (an executable, framework, or a loaded
// bundle) as the debugger sees it.
type Objfile interface {
	Name() string
	Symtabs() []Symtab           // ALL_OBJFILE_SYMTABS_INCL_OBSOLETED
	Psymtabs() []Psymtab         // ALL_OBJFILE_PSYMTABS
	MinimalSymbolByName(name string) MinimalSymbol
	MinimalSymbolByPC(pc uint64) MinimalSymbol
}

// SymbolStore is the engine's entire view of the debugger's symbolic
// world: iterate modules, iterate symtabs/psymtabs, expand a psymtab into
// a symtab, and look things up by name or PC. The real implementation is
// the surrounding debugger's symbol-table representation (out of scope of
// this spec, per the PURPOSE & SCOPE "External collaborators" list);
// fakeSymbolStore in fixtures_test.go stands in for it in tests.
type SymbolStore interface {
	Objfiles() []Objfile
	// AddSymbolOnly parses path (a candidate bundle) for symbol and debug
	// information and adds it to the store as a new Objfile, without
	// mapping it into any address space. This is the "symbol-only object"
	// spec §4.4 describes; a real implementation layers DWARF (via
	// debug/dwarf or similar) over a Mach-O parse (via
	// github.com/blacktop/go-macho, see macho.go) to build typed Symbols.
	AddSymbolOnly(ctx context.Context, path string) (Objfile, error)
	// Expand forces psymtab -> symtab expansion for every psymtab of obj
	// whose Filename or Fullname matches sourceFilename. Expanding too many
	// psymtabs is acceptable; expanding none is a caller bug.
	Expand(ctx context.Context, obj Objfile, sourceFilename string) error
	// RemoveObjfile drops an objfile from the store's bookkeeping, used
	// by PreLoad's release function to discard the symbol-only candidate.
	RemoveObjfile(obj Objfile)
}
