package fixcontinue

import (
	"context"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
)

// ThreadReplacement is one entry of the "replaced-functions" list (spec
// §6): a thread that has at least one redirected function on its stack,
// paired with the redirections it's actually executing.
type ThreadReplacement struct {
	ThreadID int                   `json:"thread-id"`
	Replaced []FunctionRedirection `json:"replaced"`
}

// ReplacedFunctionsReport is the structured result of one successful fix:
// everything print_active_functions would have printed to the console,
// reshaped as a JSON-serializable value for the "--mi" machine-readable
// reporter (spec §6's "replaced-functions" shape).
type ReplacedFunctionsReport struct {
	SourceFilename    string              `json:"source_filename"`
	BundleFilename    string              `json:"bundle_filename"`
	ReplacedFunctions []ThreadReplacement `json:"replaced-functions"`
	Statics           []StaticRedirection `json:"statics_redirected"`
	ObsoletedSymtabs  int                 `json:"obsoleted_symtabs"`
	ObsoletedPsymtabs int                 `json:"obsoleted_psymtabs"`
	ObsoletedSymbols  int                 `json:"obsoleted_symbols"`
}

// BuildReplacedFunctionsReport assembles the report from the pieces each
// engine stage produced. The replaced-functions list is strictly per
// thread (spec §6): a thread earns an entry only when one of the
// functions just redirected is on its stack, matched by linkage name
// against the C3 active-stack snapshot taken before the fix. A fix with
// no thread in any redirected function emits no entries at all.
func BuildReplacedFunctionsReport(sourceFilename, bundleFilename string, funcs []FunctionRedirection, statics []StaticRedirection, active []ActiveThread, obsoleted ObsoleteCounts) ReplacedFunctionsReport {
	redirectedByLinkage := make(map[string]FunctionRedirection, len(funcs))
	for _, f := range funcs {
		redirectedByLinkage[f.LinkageName] = f
	}

	var threads []ThreadReplacement
	for _, th := range active {
		var replaced []FunctionRedirection
		seen := make(map[string]bool)
		for _, fn := range th.Funcs {
			if seen[fn.SymbolName] {
				continue
			}
			if fr, ok := redirectedByLinkage[fn.SymbolName]; ok {
				replaced = append(replaced, fr)
				seen[fn.SymbolName] = true
			}
		}
		if len(replaced) > 0 {
			threads = append(threads, ThreadReplacement{ThreadID: th.ThreadID, Replaced: replaced})
		}
	}

	return ReplacedFunctionsReport{
		SourceFilename:    sourceFilename,
		BundleFilename:    bundleFilename,
		ReplacedFunctions: threads,
		Statics:           statics,
		ObsoletedSymtabs:  obsoleted.Symtabs,
		ObsoletedPsymtabs: obsoleted.Psymtabs,
		ObsoletedSymbols:  obsoleted.Symbols,
	}
}

// UpdatePICBaseRegister ports update_picbase_register: after splicing a
// trampoline into a function, the function's own PIC-base register load
// (if the prologue has one) must be refreshed so subsequent calls compute
// correct absolute addresses relative to the *new* load location. Silent
// no-op when the decoder can't determine a PIC-base register, matching
// the original's behavior exactly (spec §4.10).
func UpdatePICBaseRegister(ctx context.Context, decoder ArchDecoder, mem InferiorMemory, regs RegisterWriter, funcStart, funcEnd uint64) error {
	reg, addr, ok := decoder.ParsePrologue(ctx, mem, funcStart, funcEnd)
	if !ok {
		return nil
	}
	return regs.WriteRegister(ctx, reg, addr)
}

// SnapshotProfile renders an active-stack snapshot as a pprof profile: one
// sample per thread, one location per active frame, values carrying a
// single "thread" count. This is a debugging aid, not a profiler; nothing
// in Engine.Fix or the CLI calls it, and the "--debug" flag does not
// produce it. It reuses pprof's wire format the same way
// buildProfile in wzprof.go turns a stack of samples into a *profile.Profile,
// just with a snapshot-of-one instead of an accumulated histogram.
func SnapshotProfile(threads []ActiveThread, at time.Time) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "thread", Unit: "count"}},
		TimeNanos:  at.UnixNano(),
	}

	functionCache := make(map[string]*profile.Function)
	locationID := uint64(1)
	functionID := uint64(1)

	for _, th := range threads {
		locations := make([]*profile.Location, 0, len(th.Funcs))
		for _, fn := range th.Funcs {
			pprofFn := functionCache[fn.SymbolName]
			if pprofFn == nil {
				pprofFn = &profile.Function{ID: functionID, Name: fn.SymbolName}
				functionID++
				functionCache[fn.SymbolName] = pprofFn
				prof.Function = append(prof.Function, pprofFn)
			}
			loc := &profile.Location{
				ID:      locationID,
				Address: fn.Frame.PC(),
				Line:    []profile.Line{{Function: pprofFn}},
			}
			locationID++
			prof.Location = append(prof.Location, loc)
			locations = append(locations, loc)
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locations,
			Value:    []int64{1},
			Label:    map[string][]string{"thread_id": {threadIDLabel(th.ThreadID)}},
		})
	}

	return prof
}

func threadIDLabel(id int) string {
	return "thread-" + strconv.Itoa(id)
}
