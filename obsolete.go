package fixcontinue

// Historical bitfield values from the original source's symtab/symbol
// obsolescence flags, kept here only as provenance: SYMTAB_OBSOLETED (and
// the matching PSYMTAB_OBSOLETED) were encoded as 51, a value chosen to be
// unmistakable in a debugger dump next to the ordinary 0/1 range of the
// field it shared; plain symbol and minimal-symbol obsolescence used a
// single bit, 1. The bool-valued Obsolete()/SetObsolete() this package's
// Symbol/Symtab/Psymtab interfaces expose collapse both encodings to the
// same boolean; nothing here depends on the numeric values themselves.
const (
	ObsoleteSymtab = 51
	ObsoleteSymbol = 1
)

// ObsoleteCounts tallies what MarkObjfileObsolete flipped, for the
// replaced-functions report (C10).
type ObsoleteCounts struct {
	Symtabs  int
	Psymtabs int
	Symbols  int
}

// MarkObjfileObsolete flips the obsolescence bit on every symtab, psymtab,
// and symbol belonging to obj. It is used on the Objfile a previous fix of
// the same source installed, right before a new fix for that source is
// spliced in: the old module's symbolic data must stop being treated as
// live, even though the module itself is never unloaded (spec §4.9).
func MarkObjfileObsolete(obj Objfile) ObsoleteCounts {
	var counts ObsoleteCounts
	for _, st := range obj.Symtabs() {
		if !st.Obsolete() {
			st.SetObsolete(true)
			counts.Symtabs++
		}
		for _, blk := range st.Blocks() {
			for _, sym := range blk.Symbols() {
				if !sym.Obsolete() {
					sym.SetObsolete(true)
					counts.Symbols++
				}
			}
		}
	}
	for _, ps := range obj.Psymtabs() {
		if !ps.Obsolete() {
			ps.SetObsolete(true)
			counts.Psymtabs++
		}
	}
	return counts
}

// ObsoletePreviousFixes marks every Objfile installed by an earlier,
// already-committed fix of the same source as obsolete, mirroring the
// original's scan over every other FixInfo sharing the request's canonical
// source filename before splicing the new one in. It must run before the
// new FixedObj is registered, so the brand new objfile is never among the
// ones visited.
func ObsoletePreviousFixes(others []*FixInfo) ObsoleteCounts {
	var total ObsoleteCounts
	for _, fi := range others {
		for _, fo := range fi.FixedObjects {
			c := MarkObjfileObsolete(fo.Objfile)
			total.Symtabs += c.Symtabs
			total.Psymtabs += c.Psymtabs
			total.Symbols += c.Symbols
		}
	}
	return total
}
