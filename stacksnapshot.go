package fixcontinue

import (
	"context"
	"log"

	"golang.org/x/exp/slices"
)

// ActiveFunc is one function active on some thread's stack at the moment
// a fix was requested: the function's linkage name, held as a string so it
// does not depend on any symtab staying alive, and the Frame exactly as the
// unwinder returned it (spec §3).
type ActiveFunc struct {
	SymbolName string
	Frame      Frame
}

// ActiveThread is one thread that has at least one frame whose function
// lives in the source file being fixed (spec §3).
type ActiveThread struct {
	ThreadID int
	Funcs    []ActiveFunc
	PC       uint64
}

// InActiveFunc reports whether funcName is among the functions active on
// any of the threads snapshotted, mirroring in_active_func.
func InActiveFunc(funcName string, threads []ActiveThread) bool {
	return slices.ContainsFunc(threads, func(th ActiveThread) bool {
		return slices.ContainsFunc(th.Funcs, func(f ActiveFunc) bool {
			return f.SymbolName == funcName
		})
	})
}

// SnapshotActiveThreads walks every thread in the inferior, unwinds every
// frame, and records an ActiveFunc whenever the frame's source file
// matches sourceFilename (by full path or basename). Dead threads (no
// frames) are skipped silently, matching spec §4.3 and the soft-failure
// policy in spec §7.
func SnapshotActiveThreads(ctx context.Context, threads ThreadLister, unwind FrameUnwinder, sourceFilename, sourceBasename string, debug bool) ([]ActiveThread, error) {
	ids, err := threads.Threads(ctx)
	if err != nil {
		return nil, err
	}

	var result []ActiveThread
	for _, id := range ids {
		frame, err := unwind.CurrentFrame(ctx, id)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			if debug {
				log.Printf("fixcontinue: thread %d has no frames, skipping", id)
			}
			continue
		}

		var at ActiveThread
		at.ThreadID = id
		at.PC = frame.PC()

		for frame != nil {
			sym, err := unwind.FindPCFunction(ctx, frame.PC())
			if err != nil {
				return nil, err
			}
			if sym != nil {
				st, _, err := unwind.FindPCLine(ctx, frame.PC())
				if err != nil {
					return nil, err
				}
				if st != nil && matchesSource(st, sourceFilename, sourceBasename) {
					at.Funcs = append(at.Funcs, ActiveFunc{
						SymbolName: sym.LinkageName(),
						Frame:      frame,
					})
				}
			}

			next, err := unwind.PrevFrame(ctx, frame)
			if err != nil {
				return nil, err
			}
			frame = next
		}

		if len(at.Funcs) > 0 {
			result = append(result, at)
		}
	}

	return result, nil
}

func matchesSource(st Symtab, fullName, baseName string) bool {
	if st.Fullname() == fullName {
		return true
	}
	return basename(st.Filename()) == baseName
}
