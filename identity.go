package fixcontinue

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

// FixedDatum journals a single inferior memory write: the address touched,
// its size, and the bytes before and after. Append-only; never replayed
// (spec §9 "Journals without rollback").
type FixedDatum struct {
	Addr   uint64
	Size   int
	OldVal []byte
	NewVal []byte
}

// ObsoletedSym journals one symbol/minimal-symbol pair whose obsolescence
// flags were flipped while installing a fix.
type ObsoletedSym struct {
	OldSym, NewSym   Symbol
	OldMsym, NewMsym MinimalSymbol
}

// FixedObj is one loaded bundle: the module the debugger now knows about,
// the bundle path it came from, and journal slots for what the engine
// changed while splicing it in. Engine.Fix registers a FixedObj with Data
// and Obsoleted left empty: neither the function nor the static redirector
// appends journal entries.
type FixedObj struct {
	Objfile        Objfile
	BundleFilename string
	Data           []FixedDatum
	Obsoleted      []ObsoletedSym
}

func (f *FixedObj) appendDatum(d FixedDatum) {
	f.Data = append(f.Data, d)
}

func (f *FixedObj) appendObsoleted(o ObsoletedSym) {
	f.Obsoleted = append(f.Obsoleted, o)
}

// FixInfo is the per-source-file record spec §3 describes: one created
// lazily the first time a source is fixed, never destroyed, growing a
// FixedObj for every bundle successfully loaded against it.
type FixInfo struct {
	SrcFilename    string
	SrcBasename    string
	BundleFilename string
	BundleBasename string
	ObjectFilename string // recorded from the request; no engine stage reads it

	OriginalObjfileName      string
	CanonicalSourceFilename  string // either SrcFilename or SrcBasename

	FixedObjects  []*FixedObj
	MostRecentFix *FixedObj

	// ActiveThreads is a transient snapshot, valid only for the duration
	// of the request that populated it.
	ActiveThreads []ActiveThread
}

func (f *FixInfo) registerFixed(fo *FixedObj) {
	f.FixedObjects = append(f.FixedObjects, fo)
	f.MostRecentFix = fo
}

// FixedObjectNamed returns the FixedObj previously registered for
// bundlePath, if any -- used when a later request needs to tell whether a
// given bundle is one of this source's own past fixes rather than an
// unrelated module.
func (f *FixInfo) FixedObjectNamed(bundlePath string) (*FixedObj, bool) {
	i := slices.IndexFunc(f.FixedObjects, func(fo *FixedObj) bool {
		return fo.BundleFilename == bundlePath
	})
	if i < 0 {
		return nil, false
	}
	return f.FixedObjects[i], true
}

// basename returns the final path component, matching getbasename in the
// original source: a pointer into the middle of name, or name itself.
func basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Registry is the identity registry (C2): a mapping from canonical source
// path to FixInfo. Unlike the original's linked list with a `complete`
// flag and a garbage-collection pass run on every new request, this
// mapping only ever holds committed records; an in-progress record is
// tracked separately via Begin, whose scoped cleanup discards it on any
// exit path that doesn't Commit (spec §9's "registry with transient
// in-flight records" design note).
type Registry struct {
	bySource map[string]*FixInfo
}

// NewRegistry returns an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{bySource: make(map[string]*FixInfo)}
}

// pendingFix is the scoped-acquisition handle for a FixInfo under
// construction. Calling Commit publishes it to the registry; letting it go
// out of scope without committing (Abort, or simply doing nothing) leaves
// the registry untouched, eliminating the need for a garbage-collection
// pass over half-finished records.
type pendingFix struct {
	registry *Registry
	source   string
	info     *FixInfo
	existing bool
}

func (p *pendingFix) Commit() *FixInfo {
	if !p.existing {
		p.registry.bySource[p.source] = p.info
	}
	return p.info
}

// Abort is a no-op beyond documenting intent: a pendingFix that is never
// committed was never visible to Begin or Lookup, so there's nothing to undo.
func (p *pendingFix) Abort() {}

// Begin starts (or resumes) a fix request against sourcePath. If a
// complete record already exists for this canonicalized source, it is
// returned as-is (registry idempotence, spec §8); otherwise a fresh
// FixInfo is allocated and handed back inside a pendingFix that the caller
// must Commit once the request fully succeeds.
func (r *Registry) Begin(sourcePath string) *pendingFix {
	if existing, ok := r.bySource[sourcePath]; ok {
		return &pendingFix{registry: r, source: sourcePath, info: existing, existing: true}
	}
	info := &FixInfo{
		SrcFilename: sourcePath,
		SrcBasename: basename(sourcePath),
	}
	return &pendingFix{registry: r, source: sourcePath, info: info, existing: false}
}

// Lookup returns the committed FixInfo for sourcePath, if any.
func (r *Registry) Lookup(sourcePath string) (*FixInfo, bool) {
	fi, ok := r.bySource[sourcePath]
	return fi, ok
}

// FindOriginalObjfile scans every loaded module's partial symtabs for one
// whose filename equals the source's full path (preferred) or basename
// (fallback), skipping empty psymtabs and the bundle itself. The first
// match in the full-path scan wins; the basename scan runs only if the
// full-path scan found nothing, and its own first match wins within it.
// This mirrors find_original_object_file_name, including resolving the
// ambiguous second fallback branch noted in spec §9: the basename scan
// compares against basename(Fullname), and against basename(Filename) only
// when Fullname is empty, rather than against Filename twice.
func FindOriginalObjfile(store SymbolStore, fi *FixInfo, bundleName string) (Objfile, string, error) {
	full := fi.SrcFilename
	base := fi.SrcBasename

	if obj, ok := scanForSource(store, full, bundleName, false); ok {
		fi.OriginalObjfileName = obj.Name()
		fi.CanonicalSourceFilename = full
		return obj, full, nil
	}

	if obj, ok := scanForSource(store, base, bundleName, true); ok {
		fi.OriginalObjfileName = obj.Name()
		fi.CanonicalSourceFilename = base
		return obj, base, nil
	}

	return nil, "", fmt.Errorf("no objfile contains source %q: %w", fi.SrcFilename, ErrNotFound)
}

func scanForSource(store SymbolStore, name, bundleName string, byBasename bool) (Objfile, bool) {
	for _, obj := range store.Objfiles() {
		if obj.Name() == bundleName {
			continue
		}
		for _, ps := range obj.Psymtabs() {
			if ps.Empty() {
				continue
			}
			candidate := ps.Fullname()
			if byBasename {
				candidate = basename(ps.Fullname())
				if candidate == "" {
					candidate = basename(ps.Filename())
				}
			}
			if candidate == name {
				return obj, true
			}
		}
	}
	return nil, false
}

// ActiveThread and ActiveFunc are defined in stacksnapshot.go; they are
// referenced here only through FixInfo.ActiveThreads.

// CanonicalizePath cleans a user-supplied path for the "fix" command
// surface (spec §6). It does not tilde-expand: tilde-expansion
// itself is the CLI's concern (os.UserHomeDir is available there); this
// helper only normalizes separators and "." / ".." segments so that
// identity comparisons (full path vs. basename) are stable regardless of
// how the user typed the path.
func CanonicalizePath(path string) string {
	return filepath.Clean(path)
}
