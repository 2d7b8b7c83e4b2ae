package fixcontinue

import (
	"context"
	"fmt"
	"log"
)

// ZeroLinkStatus is inferior_is_zerolinked_p's four-valued result: querying
// whether, and in what phase, the inferior's ZeroLink dynamic-link shim is
// involved in loading the bundle about to be spliced in.
type ZeroLinkStatus int

const (
	// ZeroLinkUnknown means the probe returned a value outside the known
	// range. prepareZeroLink proceeds on it (logging a warning when debug
	// is set); a probe call that fails outright is returned as an error.
	ZeroLinkUnknown ZeroLinkStatus = iota
	ZeroLinkBeingLinked
	ZeroLinkAlreadyLinked
	ZeroLinkJustLinked
)

// queryZeroLinkStatus calls the inferior's is-zerolinked probe. Only
// meaningful for C++/Objective-C++ bundles; callers skip it for plain C.
func queryZeroLinkStatus(ctx context.Context, caller InferiorCaller) (ZeroLinkStatus, error) {
	result, err := caller.Call(ctx, "inferior_is_zerolinked_p", nil)
	if err != nil {
		return ZeroLinkUnknown, fmt.Errorf("querying ZeroLink status: %w", err)
	}
	if result > uint64(ZeroLinkJustLinked) {
		return ZeroLinkUnknown, nil
	}
	return ZeroLinkStatus(result), nil
}

// tellZeroLink calls the named ZeroLink hook in the inferior, passing
// pathAddr (the bundle path already copied into inferior memory).
func tellZeroLink(ctx context.Context, caller InferiorCaller, hookName string, pathAddr uint64) error {
	_, err := caller.Call(ctx, hookName, []InferiorValue{{Integer: pathAddr, IsAddr: true}})
	if err != nil {
		return fmt.Errorf("calling %s: %w", hookName, err)
	}
	return nil
}

// prepareZeroLink runs the pre-load ZeroLink dance for a C++/ObjC++
// bundle: query the current status (warning, not failing, if it can't be
// determined), then hint the about-to-load hook regardless of status, per
// the original's warn/proceed behavior rather than treating an unknown
// status as a hard error.
func prepareZeroLink(ctx context.Context, caller InferiorCaller, pathAddr uint64, debug bool) error {
	status, err := queryZeroLinkStatus(ctx, caller)
	if err != nil {
		return err
	}
	if status == ZeroLinkUnknown && debug {
		log.Printf("fixcontinue: ZeroLink status unknown, proceeding anyway")
	}
	return tellZeroLink(ctx, caller, "__dyld_zerolink_about_to_load", pathAddr)
}

// writeCString copies s, NUL-terminated, into freshly allocated inferior
// memory and returns its address.
func writeCString(ctx context.Context, mem InferiorMemory, caller InferiorCaller, s string) (uint64, error) {
	buf := append([]byte(s), 0)
	addr, err := caller.AllocateSpace(ctx, len(buf))
	if err != nil {
		return 0, fmt.Errorf("allocating inferior memory for %q: %w", s, err)
	}
	if err := mem.Write(ctx, addr, buf); err != nil {
		return 0, fmt.Errorf("writing %q into inferior memory: %w", s, err)
	}
	return addr, nil
}

// RealLoad implements do_mach_load/NSCreateObjectFileImageFromFile plus
// NSLinkModule via inferior function calls (spec §4.6): it copies
// bundlePath into the inferior, creates an object file image, hints
// ZeroLink when the bundle is C++/ObjC++, links the module, and then
// diffs the symbol store's objfile list (taken before and after the call)
// to find the Objfile the debugger's own dyld-notification machinery
// created as a side effect of NSLinkModule succeeding.
//
// When NSLinkModule returns a null handle, RealLoad calls
// dyld.RemoveModuleFromRecords on the first objfile that appeared since
// the call began, tearing out the partial bookkeeping the failed attempt
// left behind (spec §7). Other failures after
// NSCreateObjectFileImageFromFile succeeded return without that cleanup.
func RealLoad(ctx context.Context, store SymbolStore, caller InferiorCaller, mem InferiorMemory, dyld DynLinkerBookkeeping, bundlePath string, isCxxOrObjCxx, debug bool) (Objfile, error) {
	before := make(map[Objfile]bool, len(store.Objfiles()))
	for _, o := range store.Objfiles() {
		before[o] = true
	}

	pathAddr, err := writeCString(ctx, mem, caller, bundlePath)
	if err != nil {
		return nil, err
	}

	imagePtr, err := caller.AllocateSpace(ctx, mem.PointerWidth())
	if err != nil {
		return nil, fmt.Errorf("allocating NSObjectFileImage out-param: %w", err)
	}
	ok, err := caller.Call(ctx, "NSCreateObjectFileImageFromFile", []InferiorValue{
		{Integer: pathAddr, IsAddr: true},
		{Integer: imagePtr, IsAddr: true},
	})
	if err != nil {
		return nil, fmt.Errorf("NSCreateObjectFileImageFromFile: %w", err)
	}
	if ok == 0 {
		return nil, fmt.Errorf("NSCreateObjectFileImageFromFile could not create an image from %s: %w", bundlePath, ErrImageCreateFailed)
	}

	if isCxxOrObjCxx {
		if err := prepareZeroLink(ctx, caller, pathAddr, debug); err != nil {
			return nil, err
		}
	}

	handle, err := caller.Call(ctx, "NSLinkModule", []InferiorValue{
		{Integer: imagePtr, IsAddr: true},
		{Integer: pathAddr, IsAddr: true},
		{Integer: uint64(nsLinkModuleOptionPrivate | nsLinkModuleOptionDontCallModInitRoutines | nsLinkModuleOptionReturnOnError | nsLinkModuleOptionBindNow)},
	})
	if err != nil {
		return nil, fmt.Errorf("NSLinkModule: %w", err)
	}
	if handle == 0 {
		// NSCreateObjectFileImageFromFile may have already registered a
		// partial objfile record before NSLinkModule rejected the image;
		// if so, tear it out rather than leave a bogus entry behind.
		for _, o := range store.Objfiles() {
			if !before[o] {
				if rmErr := dyld.RemoveModuleFromRecords(ctx, o); rmErr != nil {
					return nil, fmt.Errorf("NSLinkModule returned a null handle for %s, and cleanup failed: %w", bundlePath, rmErr)
				}
				break
			}
		}
		return nil, fmt.Errorf("NSLinkModule returned a null handle for %s: %w", bundlePath, ErrLoadFailed)
	}

	if isCxxOrObjCxx {
		if err := tellZeroLink(ctx, caller, "__dyld_zerolink_loaded", pathAddr); err != nil {
			return nil, err
		}
	}

	for _, o := range store.Objfiles() {
		if !before[o] {
			return o, nil
		}
	}
	return nil, fmt.Errorf("NSLinkModule succeeded for %s but no new objfile appeared: %w", bundlePath, ErrInternalInvariant)
}

// NSLinkModule option flags, per the platform's mach-o/dyld.h. A fix splice
// must never run the bundle's static initializers or re-register its
// ObjC classes on load (spec §4.6's literal call), so
// DONT_CALL_MOD_INIT_ROUTINES is always set alongside PRIVATE,
// RETURN_ON_ERROR, and BINDNOW.
const (
	nsLinkModuleOptionNone                    = 0x0
	nsLinkModuleOptionBindNow                 = 0x1
	nsLinkModuleOptionPrivate                 = 0x2
	nsLinkModuleOptionReturnOnError           = 0x4
	nsLinkModuleOptionDontCallModInitRoutines = 0x8
)
