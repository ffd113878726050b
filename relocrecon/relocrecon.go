// Package relocrecon implements the pipeline's third and largest component:
// for every recovered function (or gap) section, it walks SRC's relocation
// table, classifies each relocation's referent against a memlayout.Layout,
// materializes or reuses a symbol for that referent in the destination
// object, and emits the corresponding relocation at the function-local
// offset.
package relocrecon

import (
	"debug/elf"
	"fmt"

	"github.com/relinklab/elfrelink/dstobj"
	"github.com/relinklab/elfrelink/internal/intervalmap"
	"github.com/relinklab/elfrelink/memlayout"
	"github.com/relinklab/elfrelink/obj"
)

// Diagnostics receives the non-fatal warnings this component emits for
// dropped relocations, without forcing relocrecon to depend on a concrete
// logging stack — the diag package's *diag.Diagnostics satisfies this.
type Diagnostics interface {
	Classification(region memlayout.Class, reloc obj.Reloc, fn string)
}

// InvariantError reports a referent that classified as text but has no
// function symbol already materialized by funcrecovery — §4.3's hard
// error, since it means Function Recovery missed a function.
type InvariantError struct {
	Addr uint64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("relocrecon: relocation target %#x classifies as text but has no recovered function symbol", e.Addr)
}

// symbolIndex remembers which address ranges of SRC already have a
// materialized symbol in dst, one per memory class, so repeated references
// to the same object reuse the symbol instead of creating duplicates.
type symbolIndex struct {
	byClass map[memlayout.Class]*intervalmap.Map
}

func newSymbolIndex() *symbolIndex {
	return &symbolIndex{byClass: make(map[memlayout.Class]*intervalmap.Map)}
}

func (idx *symbolIndex) find(class memlayout.Class, addr uint64) (*dstobj.Symbol, bool) {
	m := idx.byClass[class]
	if m == nil {
		return nil, false
	}
	_, v := m.Find(addr)
	if v == nil {
		return nil, false
	}
	return v.(*dstobj.Symbol), true
}

func (idx *symbolIndex) insert(class memlayout.Class, addr, size uint64, sym *dstobj.Symbol) {
	m := idx.byClass[class]
	if m == nil {
		m = &intervalmap.Map{}
		idx.byClass[class] = m
	}
	// intervalmap.Map silently drops empty (high<=low) intervals, so a
	// symbol with an unknown size (§4.3's size fallback can leave it 0)
	// still needs a non-empty key to be found again on reuse.
	if size == 0 {
		size = 1
	}
	m.Insert(intervalmap.Interval{Low: addr, High: addr + size}, sym)
}

// Reconstruct is the Relocation Reconstructor. dst must already contain the
// sections and symbols funcrecovery.Recover produced; it is extended with
// materialized data/rodata/bss sections, their symbols, and one
// ".rel.<name>" section per function that ends up with at least one
// surviving relocation.
func Reconstruct(src obj.File, dst *dstobj.Builder, layout memlayout.Layout, diags Diagnostics) error {
	idx := newSymbolIndex()
	seedTextIndex(dst, idx)

	relocCache := make(map[*obj.Section][]obj.Reloc)

	// Snapshot the function sections up front: materializing new data
	// sections below appends to dst.Sections, and we must not also walk
	// those new sections for relocations of their own.
	funcs := make([]*dstobj.Section, 0, len(dst.Sections))
	for _, f := range dst.Sections {
		if f.Flags.Alloc && f.Flags.ExecInstr {
			funcs = append(funcs, f)
		}
	}

	for _, f := range funcs {
		if err := reconstructFunc(src, dst, f, layout, idx, diags, relocCache); err != nil {
			return err
		}
	}
	return nil
}

// seedTextIndex populates idx's text class from the function symbols
// funcrecovery already created, keyed by each section's original SRC
// address — the "text: use it, function recovery must have created it"
// branch of §4.3's materialization table.
func seedTextIndex(dst *dstobj.Builder, idx *symbolIndex) {
	for _, sym := range dst.Symbols {
		if sym.Kind != dstobj.Func || sym.Section == nil {
			continue
		}
		s := sym.Section
		idx.insert(memlayout.Text, s.Addr, s.Size(), sym)
	}
}

func reconstructFunc(src obj.File, dst *dstobj.Builder, f *dstobj.Section, layout memlayout.Layout, idx *symbolIndex, diags Diagnostics, cache map[*obj.Section][]obj.Reloc) error {
	e := src.ResolveAddr(f.Addr)
	if e == nil {
		// This section wasn't loaded at a mapped address in SRC (shouldn't
		// happen for a section funcrecovery just carved out of one that
		// was, but an empty function body has nothing to relocate either
		// way).
		return nil
	}

	relocs, ok := cache[e]
	if !ok {
		data, err := e.Data(e.Bounds())
		if err != nil {
			return fmt.Errorf("reading relocations for %s: %w", e.Name, err)
		}
		relocs = data.R
		cache[e] = relocs
	}

	var relSec *dstobj.Section
	fnName := funcName(f)

	for _, r := range relocs {
		// Locality filter (§4.3 step 1).
		if r.Addr < f.Addr || r.Addr > f.Addr+f.Size() {
			continue
		}

		typ, ok := r.Type.Elf386()
		if !ok {
			continue
		}

		targetAddr, size := resolveReferent(src, r, typ)
		class := layout.Classify(targetAddr)

		sym, err := materialize(src, dst, idx, class, targetAddr, size)
		if err != nil {
			return err
		}
		if sym == nil {
			diags.Classification(class, r, fnName)
			continue
		}

		if relSec == nil {
			relSec = newRelSection(dst, f)
		}
		relSec.Relocs = append(relSec.Relocs, dstobj.Reloc{
			Offset: r.Addr - f.Addr,
			Symbol: sym,
			Type:   uint32(typ),
		})
	}
	return nil
}

// resolveReferent implements §4.3 step 2: it decides what address (and, if
// known, what size) a relocation actually refers to.
//
// For R_386_32, the relocation's addend already holds the absolute target
// address: obj's REL decoder populated Reloc.Addend by reading the raw
// 32-bit little-endian value stored at the relocation's offset
// (populateAddends in elfReloc.go) — exactly the A_raw the spec calls for,
// since R_386_32 in a linked executable has already had the symbol's value
// folded into that slot. For R_386_PC32, the referent is the relocation's
// symbol itself; SRC's already-linked bytes hold target-minus-next-
// instruction, which is only meaningful to a linker re-resolving the same
// PC-relative distance, so it's left untouched rather than reverse-computed.
func resolveReferent(src obj.File, r obj.Reloc, typ elf.R_386) (addr, size uint64) {
	switch typ {
	case elf.R_386_32:
		addr = uint64(uint32(r.Addend))
		size = sizeForAddr(src, addr)
		return addr, size
	case elf.R_386_PC32:
		if r.Symbol == obj.NoSym {
			return 0, 0
		}
		sym := src.Sym(r.Symbol)
		size = sym.Size
		if size == 0 {
			size = sizeForAddr(src, sym.Value)
		}
		return sym.Value, size
	default:
		return 0, 0
	}
}

// sizeForAddr implements §4.3's symbol-size fallback: when the referent
// has no symbol of its own (R_386_32 targets a bare address, not a
// symbol), scan SRC for a symbol whose value matches and borrow its size.
func sizeForAddr(src obj.File, addr uint64) uint64 {
	n := src.NumSyms()
	for i := obj.SymID(0); i < n; i++ {
		sym := src.Sym(i)
		if sym.Value == addr && sym.Size > 0 {
			return sym.Size
		}
	}
	return 0
}

func funcName(f *dstobj.Section) string {
	return f.Name
}

func newRelSection(dst *dstobj.Builder, f *dstobj.Section) *dstobj.Section {
	s := &dstobj.Section{
		Name:    ".rel" + f.Name,
		Kind:    dstobj.Rel,
		Flags:   dstobj.SectionFlags{InfoLink: true},
		EntSize: 8,
		Align:   4,
		Info:    f.Index(),
	}
	dst.AddSection(s)
	return s
}

func materialize(src obj.File, dst *dstobj.Builder, idx *symbolIndex, class memlayout.Class, addr, size uint64) (*dstobj.Symbol, error) {
	if sym, ok := idx.find(class, addr); ok {
		return sym, nil
	}

	switch class {
	case memlayout.Text:
		return nil, &InvariantError{Addr: addr}
	case memlayout.RoData, memlayout.Data:
		data, err := copySrcBytes(src, addr, size)
		if err != nil {
			return nil, err
		}
		prefix := ".rodata."
		flags := dstobj.SectionFlags{Alloc: true}
		if class == memlayout.Data {
			prefix = ".data."
			flags.Write = true
		}
		s := &dstobj.Section{
			Name:  fmt.Sprintf("%s%#x", prefix, addr),
			Kind:  dstobj.Progbits,
			Flags: flags,
			Addr:  addr,
			Align: 4,
			Data:  data,
		}
		dst.AddSection(s)
		sym := &dstobj.Symbol{
			Name:    fmt.Sprintf("%s%#x", prefix, addr),
			Section: s,
			Value:   0,
			Size:    size,
			Bind:    dstobj.Local,
			Kind:    dstobj.Object,
		}
		dst.AddSymbol(sym)
		idx.insert(class, addr, size, sym)
		return sym, nil
	case memlayout.Bss:
		s := &dstobj.Section{
			Name:  fmt.Sprintf(".bss.%#x", addr),
			Kind:  dstobj.Nobits,
			Flags: dstobj.SectionFlags{Alloc: true, Write: true},
			Addr:  addr,
			Align: 4,
		}
		s.SetSize(size)
		dst.AddSection(s)
		sym := &dstobj.Symbol{
			Name:    fmt.Sprintf(".bss.%#x", addr),
			Section: s,
			Value:   0,
			Size:    size,
			Bind:    dstobj.Global,
			Kind:    dstobj.Object,
		}
		dst.AddSymbol(sym)
		idx.insert(class, addr, size, sym)
		return sym, nil
	default:
		// got / stack / unclassified: skip.
		return nil, nil
	}
}

func copySrcBytes(src obj.File, addr, size uint64) ([]byte, error) {
	s := src.ResolveAddr(addr)
	if s == nil {
		return nil, fmt.Errorf("relocrecon: no section backs address %#x", addr)
	}
	data, err := s.Data(addr, size)
	if err != nil {
		return nil, fmt.Errorf("relocrecon: reading %d bytes at %#x: %w", size, addr, err)
	}
	out := make([]byte, len(data.B))
	copy(out, data.B)
	return out, nil
}
