package fixcontinue

import (
	"context"
	"fmt"
)

// StaticRedirection records one non-lazy symbol pointer slot rewritten to
// preserve a file static's storage across a fix.
type StaticRedirection struct {
	Name     string
	SlotAddr uint64
	NewValue uint64
}

// StaticPointerSource is the subset of MachOBundle the static-data
// redirector needs: reading a bundle's non-lazy symbol pointer slots and
// resolving which static symbol a given file-relative address names.
// MachOBundle satisfies this directly; tests supply a lighter fake.
type StaticPointerSource interface {
	NonLazySymbolPointerSlots(pointerWidth int) ([]uint64, uint64, error)
	StaticSymbolAtAddress(addr uint64) (name string, found bool)
	Close() error
}

// findStaticSymbol looks up name among obj's global and static blocks,
// usable against either the original or the candidate objfile.
func findStaticSymbol(obj Objfile, name string) (Symbol, bool) {
	for _, st := range obj.Symtabs() {
		for _, b := range []Block{globalBlock(st), staticBlock(st)} {
			for _, sym := range b.Symbols() {
				if sym.Name() == name {
					return sym, true
				}
			}
		}
	}
	return nil, false
}

// toggleObsolescence implements spec §4.8 step 3: the new (sym, minsym)
// pair for name in candidate becomes obsolete, while orig (the original
// symbol RedirectStatics already resolved) and its minimal symbol have
// their obsolete bit explicitly cleared -- the bits are inverted before
// the call and inverted again by this step.
func toggleObsolescence(orig Symbol, original, candidate Objfile, name string) {
	orig.SetObsolete(false)
	if origMin := original.MinimalSymbolByName(name); origMin != nil {
		origMin.SetObsolete(false)
	}
	if newSym, ok := findStaticSymbol(candidate, name); ok {
		newSym.SetObsolete(true)
	}
	if newMin := candidate.MinimalSymbolByName(name); newMin != nil {
		newMin.SetObsolete(true)
	}
}

// RedirectStatics rewrites the candidate bundle's __DATA,__nl_symbol_ptr
// slots so that indirect references to a file static the original object
// already defines keep pointing at the original's storage, instead of the
// freshly (re-)initialized copy the new load just created (spec §4.8).
// Every variable is a single piece of storage for the life of the
// inferior; only the code reading and writing it is allowed to change.
//
// loadBias is the difference between the bundle's as-loaded base address
// and the file-relative addresses NonLazySymbolPointerSlots and
// StaticSymbolAtAddress report, so slot values and section addresses can
// be converted back and forth between the two address spaces.
func RedirectStatics(ctx context.Context, mem InferiorMemory, bundle StaticPointerSource, original, candidate Objfile, loadBias uint64, pointerWidth int) ([]StaticRedirection, error) {
	slots, sectAddr, err := bundle.NonLazySymbolPointerSlots(pointerWidth)
	if err != nil {
		return nil, err
	}

	var redirected []StaticRedirection
	for i, slotValue := range slots {
		if slotValue < loadBias {
			continue // not one of this bundle's own (slid) addresses
		}
		name, found := bundle.StaticSymbolAtAddress(slotValue - loadBias)
		if !found {
			continue // targets an extern or function, not a file static
		}

		orig, found := findStaticSymbol(original, name)
		if !found {
			continue // brand new static: nothing to preserve
		}

		slotAddr := sectAddr + loadBias + uint64(i*pointerWidth)
		buf := encodePointer(mem, orig.Address(), pointerWidth)
		if err := mem.Write(ctx, slotAddr, buf); err != nil {
			return redirected, fmt.Errorf("redirecting static %q's pointer slot at %#x: %w", name, slotAddr, ErrIO)
		}
		toggleObsolescence(orig, original, candidate, name)

		redirected = append(redirected, StaticRedirection{
			Name:     name,
			SlotAddr: slotAddr,
			NewValue: orig.Address(),
		})
	}

	return redirected, nil
}

func encodePointer(mem InferiorMemory, addr uint64, pointerWidth int) []byte {
	buf := make([]byte, pointerWidth)
	order := mem.ByteOrder()
	if pointerWidth == 8 {
		order.PutUint64(buf, addr)
	} else {
		order.PutUint32(buf, uint32(addr))
	}
	return buf
}
