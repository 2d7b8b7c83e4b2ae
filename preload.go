package fixcontinue

import (
	"context"
	"fmt"
)

// PreLoad opens bundlePath as a symbol-only object via store.AddSymbolOnly,
// forces expansion of the psymtabs matching sourceFilename/sourceBasename,
// and returns the resulting Objfile together with a release function the
// caller must invoke on every exit path (the "scoped acquisition"
// discipline spec §4.4 and §5 require, resolving the leak-on-error FIXME
// noted in spec §9).
//
// Expanding zero psymtabs for the source is a caller/data bug (the bundle
// presumably doesn't actually define anything from that source) but is not
// itself fatal here -- the restriction checker simply sees no new
// functions or statics to validate.
func PreLoad(ctx context.Context, store SymbolStore, bundlePath, sourceFilename, sourceBasename string) (obj Objfile, release func(), err error) {
	obj, err = store.AddSymbolOnly(ctx, bundlePath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("pre-loading %s: %w", bundlePath, err)
	}

	release = func() {
		store.RemoveObjfile(obj)
	}

	if err := store.Expand(ctx, obj, sourceFilename); err != nil {
		release()
		return nil, func() {}, fmt.Errorf("expanding psymtabs for %s: %w", sourceFilename, err)
	}
	// The basename variant is attempted too: expanding too many psymtabs
	// is harmless, expanding none is the only failure mode we can't
	// recover from after the fact.
	if sourceBasename != "" && sourceBasename != sourceFilename {
		_ = store.Expand(ctx, obj, sourceBasename)
	}

	return obj, release, nil
}
