package fixcontinue

import (
	"context"
	"encoding/binary"
	"fmt"
)

// fakeMemory is a minimal InferiorMemory backed by a sparse byte map. It
// stands in for a real ptrace/mach task memory collaborator in tests.
type fakeMemory struct {
	order       binary.ByteOrder
	ptrWidth    int
	bytes       map[uint64]byte
	failWrites  map[uint64]bool
}

func newFakeMemory(order binary.ByteOrder, ptrWidth int) *fakeMemory {
	return &fakeMemory{
		order:    order,
		ptrWidth: ptrWidth,
		bytes:    make(map[uint64]byte),
	}
}

func (m *fakeMemory) Read(_ context.Context, addr uint64, size int) ([]byte, error) {
	buf := make([]byte, size)
	for i := 0; i < size; i++ {
		buf[i] = m.bytes[addr+uint64(i)]
	}
	return buf, nil
}

func (m *fakeMemory) Write(_ context.Context, addr uint64, data []byte) error {
	if m.failWrites[addr] {
		return fmt.Errorf("simulated write failure at %#x", addr)
	}
	for i, b := range data {
		m.bytes[addr+uint64(i)] = b
	}
	return nil
}

func (m *fakeMemory) ByteOrder() binary.ByteOrder { return m.order }
func (m *fakeMemory) PointerWidth() int           { return m.ptrWidth }

func (m *fakeMemory) set(addr uint64, data []byte) {
	for i, b := range data {
		m.bytes[addr+uint64(i)] = b
	}
}

// --- symbol store fakes -----------------------------------------------

type fakeSymbol struct {
	name        string
	linkageName string
	class       SymbolClass
	scope       SymbolScope
	typeString  string
	address     uint64
	blockStart  uint64
	blockEnd    uint64
	args        []Symbol
	locals      []Symbol
	obsolete    bool
}

func (s *fakeSymbol) Name() string            { return s.name }
func (s *fakeSymbol) LinkageName() string     { return s.linkageName }
func (s *fakeSymbol) Class() SymbolClass      { return s.class }
func (s *fakeSymbol) Scope() SymbolScope      { return s.scope }
func (s *fakeSymbol) TypeString() string      { return s.typeString }
func (s *fakeSymbol) Address() uint64         { return s.address }
func (s *fakeSymbol) BlockStart() uint64      { return s.blockStart }
func (s *fakeSymbol) BlockEnd() uint64        { return s.blockEnd }
func (s *fakeSymbol) Arguments() []Symbol     { return s.args }
func (s *fakeSymbol) Locals() []Symbol        { return s.locals }
func (s *fakeSymbol) Obsolete() bool          { return s.obsolete }
func (s *fakeSymbol) SetObsolete(v bool)      { s.obsolete = v }

type fakeMinsym struct {
	name     string
	address  uint64
	obsolete bool
}

func (m *fakeMinsym) Name() string       { return m.name }
func (m *fakeMinsym) Address() uint64    { return m.address }
func (m *fakeMinsym) Obsolete() bool     { return m.obsolete }
func (m *fakeMinsym) SetObsolete(v bool) { m.obsolete = v }

type fakeBlock struct {
	symbols []Symbol
}

func (b *fakeBlock) Symbols() []Symbol { return b.symbols }

type fakeSymtab struct {
	filename string
	fullname string
	primary  bool
	blocks   []Block
	obsolete bool
}

func (s *fakeSymtab) Filename() string  { return s.filename }
func (s *fakeSymtab) Fullname() string  { return s.fullname }
func (s *fakeSymtab) Primary() bool     { return s.primary }
func (s *fakeSymtab) Blocks() []Block   { return s.blocks }
func (s *fakeSymtab) Obsolete() bool     { return s.obsolete }
func (s *fakeSymtab) SetObsolete(v bool) { s.obsolete = v }

type fakePsymtab struct {
	filename string
	fullname string
	empty    bool
	obsolete bool
}

func (p *fakePsymtab) Filename() string  { return p.filename }
func (p *fakePsymtab) Fullname() string  { return p.fullname }
func (p *fakePsymtab) Empty() bool       { return p.empty }
func (p *fakePsymtab) Obsolete() bool     { return p.obsolete }
func (p *fakePsymtab) SetObsolete(v bool) { p.obsolete = v }

type fakeObjfile struct {
	name     string
	symtabs  []Symtab
	psymtabs []Psymtab
	minsyms  map[string]MinimalSymbol
	byPC     map[uint64]MinimalSymbol
}

func (o *fakeObjfile) Name() string           { return o.name }
func (o *fakeObjfile) Symtabs() []Symtab      { return o.symtabs }
func (o *fakeObjfile) Psymtabs() []Psymtab    { return o.psymtabs }
func (o *fakeObjfile) MinimalSymbolByName(name string) MinimalSymbol {
	return o.minsyms[name]
}
func (o *fakeObjfile) MinimalSymbolByPC(pc uint64) MinimalSymbol {
	return o.byPC[pc]
}

type fakeSymbolStore struct {
	objfiles  []Objfile
	expanded  []string
	removed   []Objfile
	toAdd     map[string]Objfile // path -> objfile returned by AddSymbolOnly
	addErr    error
}

func (s *fakeSymbolStore) Objfiles() []Objfile { return s.objfiles }

func (s *fakeSymbolStore) AddSymbolOnly(_ context.Context, path string) (Objfile, error) {
	if s.addErr != nil {
		return nil, s.addErr
	}
	obj := s.toAdd[path]
	if obj == nil {
		obj = &fakeObjfile{name: path}
	}
	s.objfiles = append(s.objfiles, obj)
	return obj, nil
}

func (s *fakeSymbolStore) Expand(_ context.Context, obj Objfile, sourceFilename string) error {
	s.expanded = append(s.expanded, obj.Name()+":"+sourceFilename)
	return nil
}

func (s *fakeSymbolStore) RemoveObjfile(obj Objfile) {
	s.removed = append(s.removed, obj)
	for i, o := range s.objfiles {
		if o == obj {
			s.objfiles = append(s.objfiles[:i], s.objfiles[i+1:]...)
			break
		}
	}
}

// --- frame/thread fakes -------------------------------------------------

type fakeFrame struct {
	pc    uint64
	level int
}

func (f *fakeFrame) PC() uint64  { return f.pc }
func (f *fakeFrame) Level() int  { return f.level }

type fakeThread struct {
	id     int
	frames []*fakeFrame
}

type fakeUnwinder struct {
	threads   map[int]*fakeThread
	funcAtPC  map[uint64]Symbol
	symtabAt  map[uint64]Symtab
	lineAt    map[uint64]int
}

func newFakeUnwinder() *fakeUnwinder {
	return &fakeUnwinder{
		threads:  make(map[int]*fakeThread),
		funcAtPC: make(map[uint64]Symbol),
		symtabAt: make(map[uint64]Symtab),
		lineAt:   make(map[uint64]int),
	}
}

func (u *fakeUnwinder) CurrentFrame(_ context.Context, threadID int) (Frame, error) {
	th := u.threads[threadID]
	if th == nil || len(th.frames) == 0 {
		return nil, nil
	}
	return th.frames[0], nil
}

func (u *fakeUnwinder) PrevFrame(_ context.Context, fi Frame) (Frame, error) {
	ff := fi.(*fakeFrame)
	for _, th := range u.threads {
		for i, f := range th.frames {
			if f == ff && i+1 < len(th.frames) {
				return th.frames[i+1], nil
			}
		}
	}
	return nil, nil
}

func (u *fakeUnwinder) FindPCFunction(_ context.Context, pc uint64) (Symbol, error) {
	return u.funcAtPC[pc], nil
}

func (u *fakeUnwinder) FindPCLine(_ context.Context, pc uint64) (Symtab, int, error) {
	return u.symtabAt[pc], u.lineAt[pc], nil
}

type fakeThreadLister struct {
	ids []int
}

func (l *fakeThreadLister) Threads(_ context.Context) ([]int, error) {
	return l.ids, nil
}

// --- inferior caller / dyld fakes ---------------------------------------

type fakeCaller struct {
	calls      []string
	nextResult uint64
	fail       bool
}

func (c *fakeCaller) AllocateSpace(_ context.Context, n int) (uint64, error) {
	return 0x9000, nil
}

func (c *fakeCaller) Call(_ context.Context, name string, args []InferiorValue) (uint64, error) {
	c.calls = append(c.calls, name)
	if c.fail {
		return 0, fmt.Errorf("simulated call failure for %s", name)
	}
	return c.nextResult, nil
}

type fakeDynLinker struct {
	removed []Objfile
}

func (d *fakeDynLinker) RemoveModuleFromRecords(_ context.Context, obj Objfile) error {
	d.removed = append(d.removed, obj)
	return nil
}
