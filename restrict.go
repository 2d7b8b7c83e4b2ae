package fixcontinue

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// blockIndex mirrors the fixed layout check_restrictions_* assumes: block 0
// is the global block, block 1 is the static block, and every block after
// that belongs to one function, whose own symbol is the block's first entry.
const (
	globalBlockIndex = 0
	staticBlockIndex = 1
	firstFuncBlock   = 2
)

// emptyBlock stands in for a global or static block a symtab doesn't have.
type emptyBlock struct{}

func (emptyBlock) Symbols() []Symbol { return nil }

func globalBlock(st Symtab) Block {
	blocks := st.Blocks()
	if len(blocks) <= globalBlockIndex {
		return emptyBlock{}
	}
	return blocks[globalBlockIndex]
}

func staticBlock(st Symtab) Block {
	blocks := st.Blocks()
	if len(blocks) <= staticBlockIndex {
		return emptyBlock{}
	}
	return blocks[staticBlockIndex]
}

func functionBlocks(st Symtab) []Block {
	blocks := st.Blocks()
	if len(blocks) <= firstFuncBlock {
		return nil
	}
	return blocks[firstFuncBlock:]
}

// findByLinkageName looks up name directly in the given block, returning
// nil if absent.
func findByLinkageName(b Block, name string) Symbol {
	for _, sym := range b.Symbols() {
		if sym.LinkageName() == name {
			return sym
		}
	}
	return nil
}

// SearchForCoalescedSymbol implements search_for_coalesced_symbol: C++
// emits the same weak definition in many translation units and the linker
// stashes the single surviving copy in an arbitrary symtab. Given a
// linkage name known to exist somewhere in obj, find it without knowing
// which symtab: try the expected symtab (already done by the caller via a
// direct lookup), then consult the minimal-symbol index, and if present,
// force-expand every partial symtab of the module and look up again.
func SearchForCoalescedSymbol(ctx context.Context, store SymbolStore, obj Objfile, linkageName string) (Symbol, error) {
	if obj.MinimalSymbolByName(linkageName) == nil {
		return nil, nil
	}

	for _, ps := range obj.Psymtabs() {
		if ps.Empty() {
			continue
		}
		if err := store.Expand(ctx, obj, ps.Fullname()); err != nil {
			return nil, err
		}
	}

	for _, st := range obj.Symtabs() {
		for _, blk := range st.Blocks() {
			if sym := findByLinkageName(blk, linkageName); sym != nil {
				return sym, nil
			}
		}
	}
	return nil, nil
}

// findInOriginal looks up linkageName among every symtab of original,
// falling back to a coalesced-symbol search (spec §4.7 tie-break: "first
// match while iterating the original module's symtabs wins; for coalesced
// symbols, resort to searching the entire original module after expanding
// all its partial symtabs").
func findInOriginal(ctx context.Context, store SymbolStore, original Objfile, linkageName string) (Symbol, error) {
	for _, st := range original.Symtabs() {
		for _, blk := range st.Blocks() {
			if sym := findByLinkageName(blk, linkageName); sym != nil {
				return sym, nil
			}
		}
	}
	return SearchForCoalescedSymbol(ctx, store, original, linkageName)
}

// CheckGlobals implements check_restrictions_globals: for every global
// symbol in candidate that also exists as a global in original, a
// function<->variable category change is forbidden, and a variable-to-
// variable type change (textual type mismatch) is forbidden.
// Function-to-function changes are permitted here; C7 handles those. New
// globals are always permitted.
func CheckGlobals(candidate, original Objfile) error {
	for _, cst := range candidate.Symtabs() {
		for _, sym := range globalBlock(cst).Symbols() {
			var orig Symbol
			for _, ost := range original.Symtabs() {
				if found := findByLinkageName(globalBlock(ost), sym.LinkageName()); found != nil {
					orig = found
					break
				}
			}
			if orig == nil {
				continue // new global: permitted
			}
			if err := checkCategoryAndType(sym, orig); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkCategoryAndType(newSym, origSym Symbol) error {
	newIsFunc := newSym.Class() == ClassFunction
	origIsFunc := origSym.Class() == ClassFunction
	if newIsFunc != origIsFunc {
		return fmt.Errorf("changing %q from a %s to a %s is not supported: %w",
			origSym.Name(), categoryName(origIsFunc), categoryName(newIsFunc), ErrRestrictionViolation)
	}
	if !newIsFunc && !origIsFunc {
		if newSym.TypeString() != origSym.TypeString() {
			return fmt.Errorf("changing the type of file static variable '%s' from '%s' to '%s' is not supported: %w",
				origSym.Name(), origSym.TypeString(), newSym.TypeString(), ErrRestrictionViolation)
		}
	}
	return nil
}

func categoryName(isFunc bool) string {
	if isFunc {
		return "function"
	}
	return "variable"
}

// CheckStatics implements check_restrictions_statics: same function<->
// variable and type-match rules as CheckGlobals, with exceptions: constants
// are ignored; functions in static scope are deferred to
// CheckLocalsAndSignatures; symbols prefixed _OBJC_ are ignored; a symbol
// whose type the debugger can't resolve (ClassError) is skipped with a
// warning rather than rejected; a static absent from a direct lookup in
// original is retried via coalesced-symbol search before being accepted as
// brand new.
func CheckStatics(ctx context.Context, store SymbolStore, candidate, original Objfile, debug bool) error {
	for _, cst := range candidate.Symtabs() {
		for _, sym := range staticBlock(cst).Symbols() {
			if sym.Class() == ClassConstant {
				continue
			}
			if sym.Class() == ClassFunction {
				continue // deferred to CheckLocalsAndSignatures
			}
			if strings.HasPrefix(sym.Name(), "_OBJC_") {
				continue
			}
			if sym.Class() == ClassError {
				if debug {
					log.Printf("fixcontinue: skipping static %q: type could not be resolved", sym.Name())
				}
				continue
			}

			var orig Symbol
			for _, ost := range original.Symtabs() {
				if found := findByLinkageName(staticBlock(ost), sym.LinkageName()); found != nil {
					orig = found
					break
				}
			}
			if orig == nil {
				coalesced, err := SearchForCoalescedSymbol(ctx, store, original, sym.LinkageName())
				if err != nil {
					return err
				}
				orig = coalesced
			}
			if orig == nil {
				continue // brand-new static: permitted
			}
			if err := checkCategoryAndType(sym, orig); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckLocalsAndSignatures implements check_restrictions_locals and
// check_restrictions_function: for every function block in candidate
// (those past the global and static blocks), find the corresponding
// function in original by linkage name, then check return type, argument
// count, and each argument's type. If the function is currently active on
// any thread's stack, its local-variable count must also match exactly
// (spec §8's "active-function interlock").
func CheckLocalsAndSignatures(ctx context.Context, store SymbolStore, candidate, original Objfile, active []ActiveThread) error {
	for _, cst := range candidate.Symtabs() {
		for _, blk := range functionBlocks(cst) {
			syms := blk.Symbols()
			if len(syms) == 0 {
				continue
			}
			fn := syms[0] // the block's owning function symbol
			if fn.Class() != ClassFunction {
				continue
			}

			origFn, err := findInOriginal(ctx, store, original, fn.LinkageName())
			if err != nil {
				return err
			}
			if origFn == nil {
				continue // brand-new function: nothing to restrict
			}

			if err := checkFunctionSignature(fn, origFn, InActiveFunc(fn.LinkageName(), active)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFunctionSignature(newFn, origFn Symbol, activeNow bool) error {
	if newFn.TypeString() != origFn.TypeString() {
		return fmt.Errorf("changing the return type of function '%s' from '%s' to '%s' is not supported: %w",
			origFn.Name(), origFn.TypeString(), newFn.TypeString(), ErrRestrictionViolation)
	}

	newArgs, origArgs := newFn.Arguments(), origFn.Arguments()
	if len(newArgs) != len(origArgs) {
		return fmt.Errorf("changing number of arguments from %d to %d for function '%s' is not supported: %w",
			len(origArgs), len(newArgs), origFn.Name(), ErrRestrictionViolation)
	}
	for i := range newArgs {
		if newArgs[i].TypeString() != origArgs[i].TypeString() {
			return fmt.Errorf("changing the type of argument %d of function '%s' from '%s' to '%s' is not supported: %w",
				i+1, origFn.Name(), origArgs[i].TypeString(), newArgs[i].TypeString(), ErrRestrictionViolation)
		}
	}

	if activeNow {
		if len(newFn.Locals()) != len(origFn.Locals()) {
			return fmt.Errorf("function '%s' is currently executing on a thread's stack and its local variable count has changed, from %d to %d: %w",
				origFn.Name(), len(origFn.Locals()), len(newFn.Locals()), ErrRestrictionViolation)
		}
	}
	return nil
}

// CheckCxxZeroLink implements check_restriction_cxx_zerolink: if the
// candidate bundle is C++ or Objective-C++ but the inferior is not using
// the ZeroLink dynamic-link shim, the fix is rejected outright, since
// ZeroLink's lazy symbol resolution is a precondition the C++/ObjC++
// loading path in C6 relies on.
func CheckCxxZeroLink(candidateIsCxxOrObjCxx, inferiorIsZeroLinked bool) error {
	if candidateIsCxxOrObjCxx && !inferiorIsZeroLinked {
		return fmt.Errorf("fixing C++ or Objective-C++ source requires the program to be using ZeroLink: %w", ErrRestrictionViolation)
	}
	return nil
}

// CheckRestrictions runs all four restriction checks in the order spec
// §4.5 lists (and do_pre_load_checks in the original actually executes):
// globals, then statics, then locals and signatures, then the C++/ZeroLink
// coupling check last. Stops at the first violation. No inferior memory is
// touched and no obsolescence bit is changed by any of these checks (spec
// §8's "no-mutation-on-reject" law).
func CheckRestrictions(ctx context.Context, store SymbolStore, candidate, original Objfile, active []ActiveThread, candidateIsCxxOrObjCxx, inferiorIsZeroLinked, debug bool) error {
	if err := CheckGlobals(candidate, original); err != nil {
		return err
	}
	if err := CheckStatics(ctx, store, candidate, original, debug); err != nil {
		return err
	}
	if err := CheckLocalsAndSignatures(ctx, store, candidate, original, active); err != nil {
		return err
	}
	if err := CheckCxxZeroLink(candidateIsCxxOrObjCxx, inferiorIsZeroLinked); err != nil {
		return err
	}
	return nil
}
