package fixcontinue

import (
	"context"
	"fmt"
)

// FunctionRedirection records one function splice: the original function's
// entry address got overwritten with a trampoline to the replacement.
type FunctionRedirection struct {
	Name         string
	LinkageName  string
	OriginalAddr uint64
	NewAddr      uint64
}

// RedirectFunctions splices a trampoline over the entry of every function
// in original that candidate redefines (matched by linkage name, following
// the same direct-then-coalesced lookup restrict.go uses), so that any
// call through the original entry point lands in the new definition
// instead (spec §4.7).
//
// Two safety checks -- not present in the restriction checker, since they
// concern the splice itself rather than source-level compatibility -- run
// before any memory is touched for a given function: the original function
// must be at least as long as one trampoline (spec §8's supplemented
// "function too small to redirect" property), and no thread may currently
// be executing inside the window about to be overwritten.
func RedirectFunctions(ctx context.Context, mem InferiorMemory, t Trampoliner, store SymbolStore, original, candidate Objfile, active []ActiveThread) ([]FunctionRedirection, error) {
	var redirections []FunctionRedirection

	for _, cst := range candidate.Symtabs() {
		for _, blk := range functionBlocks(cst) {
			syms := blk.Symbols()
			if len(syms) == 0 {
				continue
			}
			newFn := syms[0]
			if newFn.Class() != ClassFunction {
				continue
			}

			origFn, err := findInOriginal(ctx, store, original, newFn.LinkageName())
			if err != nil {
				return redirections, err
			}
			if origFn == nil {
				continue // brand new function: nothing to redirect
			}

			start, end := origFn.BlockStart(), origFn.BlockEnd()
			if end-start < uint64(t.Size()) {
				return redirections, fmt.Errorf(
					"function '%s' is only %d bytes long, too small to hold a %d-byte trampoline: %w",
					origFn.Name(), end-start, t.Size(), ErrRestrictionViolation)
			}
			if pc, unsafe := pcWithinSpliceWindow(start, uint64(t.Size()), active); unsafe {
				return redirections, fmt.Errorf(
					"function '%s' is currently executing at %#x, inside the region about to be overwritten: %w",
					origFn.Name(), pc, ErrRestrictionViolation)
			}

			if err := WriteTrampoline(ctx, t, mem, start, newFn.Address()); err != nil {
				return redirections, fmt.Errorf("redirecting %s: %w", origFn.Name(), err)
			}
			origFn.SetObsolete(true)
			if msym := original.MinimalSymbolByName(origFn.LinkageName()); msym != nil {
				msym.SetObsolete(true)
			}

			redirections = append(redirections, FunctionRedirection{
				Name:         origFn.Name(),
				LinkageName:  origFn.LinkageName(),
				OriginalAddr: start,
				NewAddr:      newFn.Address(),
			})
		}
	}

	return redirections, nil
}

func pcWithinSpliceWindow(start, size uint64, active []ActiveThread) (uint64, bool) {
	for _, th := range active {
		if th.PC >= start && th.PC < start+size {
			return th.PC, true
		}
	}
	return 0, false
}
