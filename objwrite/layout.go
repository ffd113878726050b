package objwrite

import (
	"debug/elf"
	"fmt"

	"github.com/relinklab/elfrelink/dstobj"
)

// plannedSection is one entry of the final output section table (never the
// leading SHN_UNDEF entry, which is synthesized in headers()), already
// carrying its file offset and raw content.
type plannedSection struct {
	name      uint32
	shType    uint32
	flags     uint32
	off       int
	data      []byte // nil for SHT_NOBITS
	size      int
	link      uint32
	info      uint32
	addralign uint32
	entsize   uint32
}

// sectionLayout is the fully computed file layout for everything after the
// ELF header: dst's own sections in their original order, followed by the
// synthesized .symtab, .strtab and .shstrtab.
type sectionLayout struct {
	sections    []plannedSection
	shstrtabIdx int
	end         int
}

func alignUp(off int, align uint32) int {
	if align <= 1 {
		return off
	}
	a := int(align)
	return (off + a - 1) / a * a
}

// planSections lays out dst's sections plus the three synthesized tables,
// computing file offsets and packing every section's content. strtab and
// shstrtab are filled in as a side effect, ready for their own bytes to be
// read back once every name has been registered.
func planSections(dst *dstobj.Builder, strtab, shstrtab *stringTable) (*sectionLayout, error) {
	layout := &sectionLayout{}
	off := ehdr32Size

	for _, s := range dst.Sections {
		align := s.Align
		if align == 0 {
			align = 1
		}
		off = alignUp(off, uint32(align))

		var data []byte
		switch s.Kind {
		case dstobj.Progbits:
			data = s.Data
		case dstobj.Nobits:
			data = nil
		case dstobj.Rel:
			var err error
			data, err = packRelocs(dst, s)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("objwrite: section %q has unexpected kind %v", s.Name, s.Kind)
		}

		flags := uint32(0)
		if s.Flags.Alloc {
			flags |= uint32(elf.SHF_ALLOC)
		}
		if s.Flags.Write {
			flags |= uint32(elf.SHF_WRITE)
		}
		if s.Flags.ExecInstr {
			flags |= uint32(elf.SHF_EXECINSTR)
		}
		if s.Flags.InfoLink {
			flags |= uint32(elf.SHF_INFO_LINK)
		}

		link, info := uint32(0), uint32(0)
		if s.Kind == dstobj.Rel {
			// Link (the symbol table) is patched in once the symtab's
			// output index is known, below; Info is the 1-based shndx of
			// the section these relocations apply to.
			info = uint32(s.Info) + 1
		}

		layout.sections = append(layout.sections, plannedSection{
			name:      shstrtab.add(s.Name),
			shType:    shTypeOf(s.Kind),
			flags:     flags,
			off:       off,
			data:      data,
			size:      int(s.Size()),
			link:      link,
			info:      info,
			addralign: uint32(align),
			entsize:   uint32(s.EntSize),
		})

		if s.Kind != dstobj.Nobits {
			off += len(data)
		}
	}

	symtabIdx := uint32(len(layout.sections) + 1) // 1-based shndx, NULL is 0
	strtabIdx := symtabIdx + 1
	shstrtabIdx := strtabIdx + 1

	// Patch every Rel section's Link now that the symtab's shndx is known.
	for i := range layout.sections {
		if layout.sections[i].shType == uint32(elf.SHT_REL) {
			layout.sections[i].link = symtabIdx
		}
	}

	symtabData, err := packSymtab(dst, strtab)
	if err != nil {
		return nil, err
	}
	off = alignUp(off, 4)
	symtabOff := off
	off += len(symtabData)

	symtabNameOff := shstrtab.add(".symtab")
	layout.sections = append(layout.sections, plannedSection{
		name: symtabNameOff, shType: uint32(elf.SHT_SYMTAB), off: symtabOff,
		data: symtabData, size: len(symtabData),
		link: strtabIdx, info: 0, addralign: 4, entsize: sym32Size,
	})

	strtabOff := off
	strtabBytes := strtab.Bytes()
	off += len(strtabBytes)
	strtabNameOff2 := shstrtab.add(".strtab")
	layout.sections = append(layout.sections, plannedSection{
		name: strtabNameOff2, shType: uint32(elf.SHT_STRTAB), off: strtabOff,
		data: strtabBytes, size: len(strtabBytes), addralign: 1,
	})

	shstrtabNameOff := shstrtab.add(".shstrtab")
	shstrtabOff := off
	shstrtabBytes := shstrtab.Bytes()
	off += len(shstrtabBytes)
	layout.sections = append(layout.sections, plannedSection{
		name: shstrtabNameOff, shType: uint32(elf.SHT_STRTAB), off: shstrtabOff,
		data: shstrtabBytes, size: len(shstrtabBytes), addralign: 1,
	})

	layout.shstrtabIdx = int(shstrtabIdx)
	layout.end = off
	return layout, nil
}

func shTypeOf(k dstobj.SectionKind) uint32 {
	switch k {
	case dstobj.Progbits:
		return uint32(elf.SHT_PROGBITS)
	case dstobj.Nobits:
		return uint32(elf.SHT_NOBITS)
	case dstobj.Rel:
		return uint32(elf.SHT_REL)
	default:
		return uint32(elf.SHT_NULL)
	}
}

func (l *sectionLayout) numOutputSections() int { return len(l.sections) + 1 }
func (l *sectionLayout) shstrtabIndex() int      { return l.shstrtabIdx }
func (l *sectionLayout) shoff() int              { return alignUp(l.end, 4) }

func (l *sectionLayout) headers(localCount int) []shdr32 {
	hdrs := make([]shdr32, 0, l.numOutputSections())
	hdrs = append(hdrs, shdr32{}) // SHN_UNDEF
	for _, s := range l.sections {
		info := s.info
		if s.shType == uint32(elf.SHT_SYMTAB) {
			info = uint32(localCount)
		}
		hdrs = append(hdrs, shdr32{
			Name: s.name, Type: s.shType, Flags: s.flags,
			Addr: 0, Off: uint32(s.off), Size: uint32(s.size),
			Link: s.link, Info: info,
			Addralign: s.addralign, Entsize: s.entsize,
		})
	}
	return hdrs
}

// packSymtab packs a STN_UNDEF entry followed by every symbol in dst.Symbols
// (already finalize-ordered: locals first), resolving each one's strtab
// name offset and section-relative shndx.
func packSymtab(dst *dstobj.Builder, strtab *stringTable) ([]byte, error) {
	entries := make([]sym32, 0, len(dst.Symbols)+1)
	entries = append(entries, sym32{}) // STN_UNDEF

	for _, sym := range dst.Symbols {
		shndx := uint16(shnUndef)
		if sym.Section != nil {
			shndx = uint16(sym.Section.Index() + 1)
		}
		entries = append(entries, sym32{
			Name:  strtab.add(sym.Name),
			Value: uint32(sym.Value),
			Size:  uint32(sym.Size),
			Info:  stInfo(bindOf(sym.Bind), kindOf(sym.Kind)),
			Other: 0,
			Shndx: shndx,
		})
	}
	return packSyms(entries)
}

func bindOf(b dstobj.Bind) uint8 {
	if b == dstobj.Global {
		return uint8(elf.STB_GLOBAL)
	}
	return uint8(elf.STB_LOCAL)
}

func kindOf(k dstobj.SymKind) uint8 {
	switch k {
	case dstobj.Func:
		return uint8(elf.STT_FUNC)
	case dstobj.Object:
		return uint8(elf.STT_OBJECT)
	case dstobj.SectionSym:
		return uint8(elf.STT_SECTION)
	default:
		return uint8(elf.STT_NOTYPE)
	}
}

// packRelocs packs a Rel section's relocations, resolving each target
// symbol to its 1-based index in the eventual .symtab (the leading
// STN_UNDEF entry plus every symbol's position in dst.Symbols).
func packRelocs(dst *dstobj.Builder, s *dstobj.Section) ([]byte, error) {
	entries := make([]rel32, 0, len(s.Relocs))
	for _, r := range s.Relocs {
		if r.Symbol == nil {
			return nil, fmt.Errorf("objwrite: relocation in %q has no target symbol", s.Name)
		}
		symIdx := uint32(dst.SymbolIndex(r.Symbol)) + 1
		entries = append(entries, rel32{
			Offset: uint32(r.Offset),
			Info:   elf.R_INFO32(symIdx, r.Type),
		})
	}
	return packRels(entries)
}
