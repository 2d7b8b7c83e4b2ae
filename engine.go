package fixcontinue

import (
	"context"
	"fmt"
	"strings"
)

// Engine ties every component together into the single do_fix_code
// request spec §2 describes. One Engine serves one inferior; Fix must not
// be called concurrently for the same Engine (spec §5: the inferior is
// stopped for the duration of a request, so there is nothing to
// interleave with).
type Engine struct {
	Store    SymbolStore
	Memory   InferiorMemory
	Caller   InferiorCaller
	Dyld     DynLinkerBookkeeping
	Threads  ThreadLister
	Unwind   FrameUnwinder
	Bundles  BundleOpener
	Decoder  ArchDecoder
	Regs     RegisterWriter

	Trampoliner Trampoliner
	Registry    *Registry

	Debug bool

	// CurrentLanguage is the debugger's notion of "current source
	// language", which withSourceLanguage saves and restores around a
	// restriction check.
	CurrentLanguage string
}

// withSourceLanguage sets CurrentLanguage to lang for the duration of fn,
// restoring whatever language was current beforehand on every exit path.
// Ported from the original's set_current_language/cleanup pair: the
// restriction checker's type-string comparisons are only meaningful under
// the bundle's own language.
func (e *Engine) withSourceLanguage(lang string, fn func() error) error {
	prev := e.CurrentLanguage
	e.CurrentLanguage = lang
	defer func() { e.CurrentLanguage = prev }()
	return fn()
}

// sourceLanguage infers a source's language the way the command dispatcher
// would report it to the original engine: without the C++/Objective-C++
// flag the language is "c" whatever the extension; with it, a .m or .mm
// source is "objective-c" and any other source is "c++".
func sourceLanguage(sourcePath string, isCxxOrObjCxx bool) string {
	if isCxxOrObjCxx {
		if strings.HasSuffix(sourcePath, ".m") || strings.HasSuffix(sourcePath, ".mm") {
			return "objective-c"
		}
		return "c++"
	}
	return "c"
}

// Fix runs the full C2 -> C4 -> C3 -> C5 -> C6 -> C9 -> C7 -> C8 -> C10
// pipeline for one "fix <bundle-path> <source-path>" request.
func (e *Engine) Fix(ctx context.Context, bundlePath, sourcePath, objectPath string, isCxxOrObjCxx bool) (ReplacedFunctionsReport, error) {
	bundlePath = CanonicalizePath(bundlePath)
	sourcePath = CanonicalizePath(sourcePath)

	for _, obj := range e.Store.Objfiles() {
		if obj.Name() == bundlePath {
			return ReplacedFunctionsReport{}, fmt.Errorf("%s is already loaded: %w", bundlePath, ErrAlreadyLoaded)
		}
	}

	// C2: identity registry lookup/creation.
	pending := e.Registry.Begin(sourcePath)
	fi := pending.info
	fi.BundleFilename = bundlePath
	fi.BundleBasename = basename(bundlePath)
	fi.ObjectFilename = objectPath

	// C4: pre-load the candidate bundle as a symbol-only object, purely to
	// read its signatures and addresses; discarded on every exit path
	// regardless of outcome. NSLinkModule (below) performs the real,
	// address-space-mapping load.
	candidate, release, err := PreLoad(ctx, e.Store, bundlePath, fi.SrcFilename, fi.SrcBasename)
	if err != nil {
		return ReplacedFunctionsReport{}, err
	}
	defer release()

	original, originalName, err := FindOriginalObjfile(e.Store, fi, bundlePath)
	if err != nil {
		return ReplacedFunctionsReport{}, err
	}
	fi.OriginalObjfileName = originalName

	// C3: snapshot every thread whose stack currently runs code from the
	// source being fixed.
	active, err := SnapshotActiveThreads(ctx, e.Threads, e.Unwind, fi.SrcFilename, fi.SrcBasename, e.Debug)
	if err != nil {
		return ReplacedFunctionsReport{}, err
	}
	fi.ActiveThreads = active

	zeroLinked := false
	if isCxxOrObjCxx {
		status, err := queryZeroLinkStatus(ctx, e.Caller)
		if err != nil {
			return ReplacedFunctionsReport{}, err
		}
		zeroLinked = status != ZeroLinkUnknown
	}

	// C5: restriction checks. No mutation has happened yet, so a violation
	// here leaves the inferior and the registry untouched. Type-string
	// comparisons are language-sensitive, so the restriction pass runs with
	// the bundle's own source language current, then restores whatever
	// language was current before (mirrors set_current_language /
	// restore_language in the original).
	err = e.withSourceLanguage(sourceLanguage(sourcePath, isCxxOrObjCxx), func() error {
		return CheckRestrictions(ctx, e.Store, candidate, original, active, isCxxOrObjCxx, zeroLinked, e.Debug)
	})
	if err != nil {
		return ReplacedFunctionsReport{}, err
	}

	// C6: the real load. From here on, failures must not silently vanish:
	// the debugger now has a new (possibly only partially good) module.
	realObj, err := RealLoad(ctx, e.Store, e.Caller, e.Memory, e.Dyld, bundlePath, isCxxOrObjCxx, e.Debug)
	if err != nil {
		return ReplacedFunctionsReport{}, err
	}

	// C9: obsolete every previous fix of this same source before splicing
	// the new one in, so redirection never chains through a stale
	// trampoline.
	obsoleted := ObsoletePreviousFixes([]*FixInfo{fi})

	// C7: function redirection, driven off the pre-loaded candidate's
	// symbols (same bundle, same on-disk addresses as the one NSLinkModule
	// just mapped in -- this repository's loader model does not relocate
	// bundles, matching the original's non-PIC-bundle assumption).
	funcs, err := RedirectFunctions(ctx, e.Memory, e.Trampoliner, e.Store, original, candidate, active)
	if err != nil {
		return ReplacedFunctionsReport{}, err
	}
	for i := range funcs {
		if err := UpdatePICBaseRegister(ctx, e.Decoder, e.Memory, e.Regs, funcs[i].NewAddr, funcs[i].NewAddr+uint64(e.Trampoliner.Size())); err != nil {
			return ReplacedFunctionsReport{}, err
		}
	}

	// C8: static-data redirection, reading the bundle's own non-lazy
	// symbol pointer section straight off disk.
	var statics []StaticRedirection
	if bundle, err := e.Bundles.Open(bundlePath); err == nil {
		statics, err = RedirectStatics(ctx, e.Memory, bundle, original, candidate, 0, e.Memory.PointerWidth())
		bundle.Close()
		if err != nil {
			return ReplacedFunctionsReport{}, err
		}
	}

	fi.registerFixed(&FixedObj{Objfile: realObj, BundleFilename: bundlePath})
	pending.Commit()

	// C10: structured report.
	return BuildReplacedFunctionsReport(fi.CanonicalSourceFilename, bundlePath, funcs, statics, active, obsoleted), nil
}
