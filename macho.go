package fixcontinue

import (
	"fmt"

	macho "github.com/blacktop/go-macho"
)

// nonLazySymbolPointerSection is the exact section name spec §6 and §4.8
// require: the non-lazy symbol pointer table the compiler emits for
// indirect file-static data references.
const nonLazySymbolPointerSection = "LC_SEGMENT.__DATA.__nl_symbol_ptr"

// BundleOpener opens a candidate bundle as a symbol-only object: parsed
// for its Mach-O symbol table and section layout, but never mapped into
// any address space. This is the collaborator C8 (static-data redirector)
// uses to read a bundle's on-disk structure without assuming it has been
// loaded into the inferior yet; C4 (pre-load loader) goes through
// SymbolStore.AddSymbolOnly instead.
type BundleOpener interface {
	Open(path string) (StaticPointerSource, error)
}

// MachOBundle is a parsed, unmapped view of one Mach-O object file,
// wrapping github.com/blacktop/go-macho -- a real Mach-O parsing library
// whose symbol table (types.Nlist/Nlist64) and segment/section model are
// exactly what spec §4.8 and §6 describe.
type MachOBundle struct {
	Path string
	file *macho.File
}

// machoBundleOpener is the default BundleOpener, backed by go-macho.
type machoBundleOpener struct{}

// NewBundleOpener returns the default, go-macho-backed BundleOpener.
func NewBundleOpener() BundleOpener { return machoBundleOpener{} }

func (machoBundleOpener) Open(path string) (StaticPointerSource, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s as a Mach-O object: %w", path, ErrImageCreateFailed)
	}
	return &MachOBundle{Path: path, file: f}, nil
}

// Close releases the underlying file handle. Safe to call more than once.
func (b *MachOBundle) Close() error {
	if b == nil || b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

// NonLazySymbolPointerSlots reads the raw bytes of the bundle's
// LC_SEGMENT.__DATA.__nl_symbol_ptr section and splits them into
// pointerWidth-byte slots, in file order. It returns ErrCorruptSection if
// the section's size isn't a multiple of pointerWidth (spec §4.8, scenario
// 6 in spec §8).
func (b *MachOBundle) NonLazySymbolPointerSlots(pointerWidth int) ([]uint64, uint64, error) {
	sect := b.file.Section("__DATA", "__nl_symbol_ptr")
	if sect == nil {
		// No indirect data references in this bundle: zero slots, not an
		// error.
		return nil, 0, nil
	}

	data, err := sect.Data()
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", nonLazySymbolPointerSection, ErrIO)
	}
	if len(data)%pointerWidth != 0 {
		return nil, 0, fmt.Errorf("%s size %d is not a multiple of pointer width %d: %w",
			nonLazySymbolPointerSection, len(data), pointerWidth, ErrCorruptSection)
	}

	order := b.file.ByteOrder()
	n := len(data) / pointerWidth
	slots := make([]uint64, n)
	for i := 0; i < n; i++ {
		slot := data[i*pointerWidth : (i+1)*pointerWidth]
		if pointerWidth == 8 {
			slots[i] = order.Uint64(slot)
		} else {
			slots[i] = uint64(order.Uint32(slot))
		}
	}
	return slots, sect.Addr, nil
}

// StaticSymbolAtAddress scans the bundle's symbol table for a static-class
// symbol whose value equals addr, used by C8 to identify the "new" symbol
// a retained non-lazy pointer slot targets.
func (b *MachOBundle) StaticSymbolAtAddress(addr uint64) (name string, found bool) {
	if b.file.Symtab == nil {
		return "", false
	}
	for _, sym := range b.file.Symtab.Syms {
		if sym.Value == addr && !sym.Type.IsExternalSym() {
			return sym.Name, true
		}
	}
	return "", false
}
