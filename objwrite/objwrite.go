// Package objwrite serializes a finalized dstobj.Builder to the bytes of an
// ELF32 ET_REL object file. debug/elf, the container collaborator the rest
// of this module reads SRC through, is read-only by design, so there is no
// standard-library writer to mirror on the encode side; instead this
// package packs each ELF32 structure by hand with
// github.com/lunixbochs/struc, in the style davejbax-pixie's internal/efipe
// packs its own container headers (CountingWriter to track the running file
// offset, WriteZeros to pad to alignment, struc.PackWithOptions per
// structure with an explicit little-endian byte order).
package objwrite

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"

	"github.com/relinklab/elfrelink/dstobj"
	"github.com/relinklab/elfrelink/internal/iometa"
)

var packOpts = &struc.Options{Order: binary.LittleEndian}

// Write serializes dst to w as an ELF32 ET_REL EM_386 file. dst must already
// be finalize.Finalize'd: every section has a zeroed address, every progbits
// section has its STT_SECTION symbol, and dst.Symbols is locals-first.
// localCount is the value Finalize returned, written as .symtab's sh_info.
func Write(w io.Writer, dst *dstobj.Builder, localCount int) (int64, error) {
	cw := &iometa.CountingWriter{Writer: w}

	strtab := newStringTable()
	shstrtab := newStringTable()

	layout, err := planSections(dst, strtab, shstrtab)
	if err != nil {
		return int64(cw.BytesWritten()), err
	}

	ehdr := ehdr32{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_386),
		Version:   evCurrent,
		Entry:     0, // a relocatable object has no entry point of its own
		Shoff:     uint32(layout.shoff()),
		Ehsize:    ehdr32Size,
		Shentsize: shdr32Size,
		Shnum:     uint16(layout.numOutputSections()),
		Shstrndx:  uint16(layout.shstrtabIndex()),
	}
	ehdr.Ident[0] = elfMag0
	ehdr.Ident[1] = 'E'
	ehdr.Ident[2] = 'L'
	ehdr.Ident[3] = 'F'
	ehdr.Ident[eiClass] = elfClass32
	ehdr.Ident[eiData] = elfData2LSB
	ehdr.Ident[eiVersion] = evCurrent

	if err := struc.PackWithOptions(cw, &ehdr, packOpts); err != nil {
		return int64(cw.BytesWritten()), fmt.Errorf("objwrite: writing ELF header: %w", err)
	}

	for i, s := range layout.sections {
		if cw.BytesWritten() > s.off {
			return int64(cw.BytesWritten()), fmt.Errorf("objwrite: section %d layout overlaps the previous one", i)
		}
		if pad := s.off - cw.BytesWritten(); pad > 0 {
			if err := iometa.WriteZeros(cw, pad); err != nil {
				return int64(cw.BytesWritten()), fmt.Errorf("objwrite: padding before section %d: %w", i, err)
			}
		}
		if _, err := cw.Write(s.data); err != nil {
			return int64(cw.BytesWritten()), fmt.Errorf("objwrite: writing section %d: %w", i, err)
		}
	}

	if pad := int(layout.shoff()) - cw.BytesWritten(); pad > 0 {
		if err := iometa.WriteZeros(cw, pad); err != nil {
			return int64(cw.BytesWritten()), fmt.Errorf("objwrite: padding before section header table: %w", err)
		}
	}
	for _, s := range layout.headers(localCount) {
		if err := struc.PackWithOptions(cw, &s, packOpts); err != nil {
			return int64(cw.BytesWritten()), fmt.Errorf("objwrite: writing section header: %w", err)
		}
	}

	return int64(cw.BytesWritten()), nil
}
