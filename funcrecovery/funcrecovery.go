// Package funcrecovery implements the pipeline's first component: splitting
// SRC's executable sections into per-function sections in the destination
// object, guided by the sized symbols defined in them, with anonymous gap sections filling
// whatever a function symbol doesn't cover.
package funcrecovery

import (
	"fmt"
	"sort"

	"github.com/relinklab/elfrelink/dstobj"
	"github.com/relinklab/elfrelink/obj"
)

// Recover walks every alloc+execinstr section of src and appends recovered
// function sections (and symbols for them) to dst. It returns an error only
// if reading src's data fails; a src with no executable sections at all is
// not an error (§4.1's empty-DST case is left to downstream components).
func Recover(src obj.File, dst *dstobj.Builder) error {
	for _, e := range src.Sections() {
		if !e.Alloc() || !e.ExecInstr() {
			continue
		}
		if err := recoverSection(src, e, dst); err != nil {
			return fmt.Errorf("recovering functions in section %s: %w", e.Name, err)
		}
	}
	return nil
}

type funcSym struct {
	sym   obj.Sym
	value uint64
	size  uint64
}

func recoverSection(src obj.File, e *obj.Section, dst *dstobj.Builder) error {
	data, err := e.Data(e.Bounds())
	if err != nil {
		return err
	}

	funcs := gatherFuncs(src, e)

	cursor := e.Addr
	end := e.Addr + e.Size
	for _, f := range funcs {
		if f.value < cursor {
			// Dropped by the overlap rule below; covered by an earlier,
			// larger symbol at the same or an earlier position.
			continue
		}
		if f.value > cursor {
			emitSection(dst, gapName(cursor), e, data, cursor, f.value-cursor)
		}
		emitFuncSection(dst, f, e, data)
		cursor = f.value + f.size
	}
	if cursor < end {
		emitSection(dst, gapName(cursor), e, data, cursor, end-cursor)
	}
	return nil
}

// gatherFuncs collects symbols of kind obj.SymText (any non-section symbol
// defined in an alloc+execinstr section) with nonzero size inside e; the
// ELF symbol type is not checked, so STT_OBJECT or STT_NOTYPE symbols with
// a size in e are collected alongside STT_FUNC ones. They are sorted
// by (value ascending, size descending) so that when two symbols start at
// the same address, the larger is considered first; recoverSection's
// cursor check then silently drops the smaller, exactly as §4.1 specifies.
func gatherFuncs(src obj.File, e *obj.Section) []funcSym {
	var out []funcSym
	n := src.NumSyms()
	for i := obj.SymID(0); i < n; i++ {
		sym := src.Sym(i)
		if sym.Kind != obj.SymText || sym.Size == 0 {
			continue
		}
		if sym.Section != e {
			continue
		}
		if sym.Value < e.Addr || sym.Value >= e.Addr+e.Size {
			continue
		}
		out = append(out, funcSym{sym, sym.Value, sym.Size})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].value != out[j].value {
			return out[i].value < out[j].value
		}
		return out[i].size > out[j].size
	})
	return out
}

func emitFuncSection(dst *dstobj.Builder, f funcSym, e *obj.Section, data *obj.Data) {
	s := &dstobj.Section{
		Name:  ".text." + f.sym.Name,
		Kind:  dstobj.Progbits,
		Flags: dstobj.SectionFlags{Alloc: true, ExecInstr: true},
		Addr:  f.value,
		Align: sectionAlign(e),
		Data:  sliceAt(data, e.Addr, f.value, f.size),
	}
	dst.AddSection(s)
	dst.AddSymbol(&dstobj.Symbol{
		Name:    f.sym.Name,
		Section: s,
		Value:   0,
		Size:    s.Size(),
		Bind:    dstobj.Global,
		Kind:    dstobj.Func,
	})
}

func emitSection(dst *dstobj.Builder, name string, e *obj.Section, data *obj.Data, addr, size uint64) {
	s := &dstobj.Section{
		Name:  name,
		Kind:  dstobj.Progbits,
		Flags: dstobj.SectionFlags{Alloc: true, ExecInstr: true},
		Addr:  addr,
		Align: sectionAlign(e),
		Data:  sliceAt(data, e.Addr, addr, size),
	}
	dst.AddSection(s)
}

func gapName(addr uint64) string {
	return fmt.Sprintf(".text.%#x", addr)
}

func sliceAt(data *obj.Data, base, addr, size uint64) []byte {
	off := addr - base
	return data.B[off : off+size]
}

// sectionAlign returns the alignment for sections recovered from e: e's
// sh_addralign, read from the underlying debug/elf file, since obj.Section
// itself doesn't carry it. When no debug/elf view is available or e's
// alignment is 0, recovered sections fall back to word alignment.
func sectionAlign(e *obj.Section) uint64 {
	if de, ok := e.File.(obj.AsDebugElf); ok {
		if f := de.AsDebugElf(); f != nil && e.RawID >= 0 && e.RawID < len(f.Sections) {
			if a := f.Sections[e.RawID].Addralign; a > 0 {
				return a
			}
		}
	}
	return 4
}
