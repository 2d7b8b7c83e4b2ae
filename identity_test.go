package fixcontinue

import "testing"

func TestRegistryIdempotence(t *testing.T) {
	r := NewRegistry()

	p1 := r.Begin("/tmp/src.c")
	fi1 := p1.Commit()

	p2 := r.Begin("/tmp/src.c")
	fi2 := p2.Commit()

	if fi1 != fi2 {
		t.Fatal("two consecutive Begin/Commit calls with no intervening fix returned different records")
	}
}

func TestRegistryAbortLeavesNoTrace(t *testing.T) {
	r := NewRegistry()

	p := r.Begin("/tmp/src.c")
	p.Abort()

	if _, ok := r.Lookup("/tmp/src.c"); ok {
		t.Fatal("an aborted pendingFix was committed to the registry")
	}

	// A subsequent Begin for the same source must not see the aborted
	// attempt as already-complete.
	p2 := r.Begin("/tmp/src.c")
	if p2.existing {
		t.Fatal("Begin treated an aborted pending record as already committed")
	}
}

func TestBasename(t *testing.T) {
	cases := map[string]string{
		"/tmp/src.c":    "src.c",
		"src.c":         "src.c",
		"/a/b/c/d.o":    "d.o",
		"":              "",
	}
	for in, want := range cases {
		if got := basename(in); got != want {
			t.Errorf("basename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindOriginalObjfileFullPathWins(t *testing.T) {
	fi := &FixInfo{SrcFilename: "/tmp/src.c", SrcBasename: "src.c"}

	objA := &fakeObjfile{
		name: "liba.dylib",
		psymtabs: []Psymtab{
			&fakePsymtab{filename: "other.c", fullname: "/tmp/other.c"},
		},
	}
	objB := &fakeObjfile{
		name: "libb.dylib",
		psymtabs: []Psymtab{
			&fakePsymtab{filename: "src.c", fullname: "/tmp/src.c"},
		},
	}
	store := &fakeSymbolStore{objfiles: []Objfile{objA, objB}}

	obj, canonical, err := FindOriginalObjfile(store, fi, "/tmp/b.bundle")
	if err != nil {
		t.Fatalf("FindOriginalObjfile: %v", err)
	}
	if obj != objB {
		t.Fatalf("matched %q, want libb.dylib", obj.Name())
	}
	if canonical != "/tmp/src.c" {
		t.Errorf("canonical = %q, want full path", canonical)
	}
}

func TestFindOriginalObjfileFallsBackToBasename(t *testing.T) {
	fi := &FixInfo{SrcFilename: "/tmp/src.c", SrcBasename: "src.c"}

	obj := &fakeObjfile{
		name: "libb.dylib",
		psymtabs: []Psymtab{
			// Fullname doesn't match, but basename of Filename does.
			&fakePsymtab{filename: "src.c", fullname: ""},
		},
	}
	store := &fakeSymbolStore{objfiles: []Objfile{obj}}

	got, canonical, err := FindOriginalObjfile(store, fi, "/tmp/b.bundle")
	if err != nil {
		t.Fatalf("FindOriginalObjfile: %v", err)
	}
	if got != obj {
		t.Fatal("basename fallback did not find the objfile")
	}
	if canonical != "src.c" {
		t.Errorf("canonical = %q, want basename", canonical)
	}
}

func TestFindOriginalObjfileSkipsEmptyPsymtabsAndTheBundleItself(t *testing.T) {
	fi := &FixInfo{SrcFilename: "/tmp/src.c", SrcBasename: "src.c"}

	bundle := &fakeObjfile{
		name: "/tmp/b.bundle",
		psymtabs: []Psymtab{
			&fakePsymtab{filename: "src.c", fullname: "/tmp/src.c"},
		},
	}
	emptyOne := &fakeObjfile{
		name: "libe.dylib",
		psymtabs: []Psymtab{
			&fakePsymtab{filename: "src.c", fullname: "/tmp/src.c", empty: true},
		},
	}
	store := &fakeSymbolStore{objfiles: []Objfile{bundle, emptyOne}}

	_, _, err := FindOriginalObjfile(store, fi, "/tmp/b.bundle")
	if err == nil {
		t.Fatal("expected NotFound when only the bundle itself and an empty psymtab match")
	}
}

func TestFindOriginalObjfileNotFound(t *testing.T) {
	fi := &FixInfo{SrcFilename: "/tmp/nope.c", SrcBasename: "nope.c"}
	store := &fakeSymbolStore{}

	_, _, err := FindOriginalObjfile(store, fi, "/tmp/b.bundle")
	if err == nil {
		t.Fatal("expected an error when no objfile contains the source")
	}
}

func TestFixedObjectNamed(t *testing.T) {
	fi := &FixInfo{}
	first := &FixedObj{BundleFilename: "/tmp/a.bundle"}
	second := &FixedObj{BundleFilename: "/tmp/b.bundle"}
	fi.registerFixed(first)
	fi.registerFixed(second)

	got, ok := fi.FixedObjectNamed("/tmp/b.bundle")
	if !ok || got != second {
		t.Fatalf("expected to find /tmp/b.bundle's FixedObj, got %+v, %v", got, ok)
	}

	if _, ok := fi.FixedObjectNamed("/tmp/missing.bundle"); ok {
		t.Fatal("expected no match for an unregistered bundle path")
	}
}
