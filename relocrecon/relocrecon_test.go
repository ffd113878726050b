package relocrecon

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/relinklab/elfrelink/dstobj"
	"github.com/relinklab/elfrelink/funcrecovery"
	"github.com/relinklab/elfrelink/memlayout"
	"github.com/relinklab/elfrelink/obj"
)

// fakeDiags records every dropped relocation Reconstruct reports, so tests
// can assert on what got skipped instead of just what survived.
type fakeDiags struct {
	dropped []memlayout.Class
}

func (d *fakeDiags) Classification(class memlayout.Class, _ obj.Reloc, _ string) {
	d.dropped = append(d.dropped, class)
}

// buildExec assembles a minimal ET_EXEC EM_386 file with:
//   - .text at 0x1000 (4 bytes): the one function "f", whose body is itself
//     the 4-byte little-endian absolute address 0x2000 (as if a MOV/PUSH
//     embedded a pointer into .rodata).
//   - .rodata at 0x2000 (4 bytes): {0xAA, 0xBB, 0xCC, 0xDD}.
//   - .rel.text: one R_386_32 relocation at 0x1000, symbol STN_UNDEF (the
//     addend, read out of .text's own bytes, carries the target address).
func buildExec(t *testing.T) []byte {
	t.Helper()
	return buildExecWithTarget(t, 0x2000)
}

// buildExecWithTarget is buildExec parameterized over the absolute address
// embedded in .text's 4 bytes, so callers can point the relocation at
// .rodata (0x2000) or back into .text itself (0x1000).
func buildExecWithTarget(t *testing.T, target uint32) []byte {
	t.Helper()

	const (
		ehdrSize = 52
		shdrSize = 40
		symSize  = 16
		relSize  = 8
	)

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameAt := func(name string) uint32 {
		off := uint32(shstrtab.Len())
		shstrtab.WriteString(name)
		shstrtab.WriteByte(0)
		return off
	}
	nameText := nameAt(".text")
	nameRodata := nameAt(".rodata")
	nameRelText := nameAt(".rel.text")
	nameSymtab := nameAt(".symtab")
	nameStrtab := nameAt(".strtab")
	nameShstrtab := nameAt(".shstrtab")

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	fNameOff := uint32(strtab.Len())
	strtab.WriteString("f")
	strtab.WriteByte(0)
	dNameOff := uint32(strtab.Len())
	strtab.WriteString("d")
	strtab.WriteByte(0)

	text := make([]byte, 4)
	binary.LittleEndian.PutUint32(text, target)
	rodata := []byte{0xAA, 0xBB, 0xCC, 0xDD}

	// Section indices (1-based; 0 is SHN_UNDEF/NULL).
	const (
		shText = 1 + iota
		shRodata
		shRelText
		shSymtab
		shStrtab
		shShstrtab
		numSections
	)

	var sym bytes.Buffer
	binary.Write(&sym, binary.LittleEndian, struct {
		Name, Value, Size  uint32
		Info, Other        uint8
		Shndx              uint16
	}{}) // STN_UNDEF
	binary.Write(&sym, binary.LittleEndian, struct {
		Name, Value, Size uint32
		Info, Other       uint8
		Shndx             uint16
	}{
		Name:  fNameOff,
		Value: 0x1000,
		Size:  4,
		Info:  uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC),
		Shndx: shText,
	})
	binary.Write(&sym, binary.LittleEndian, struct {
		Name, Value, Size uint32
		Info, Other       uint8
		Shndx             uint16
	}{
		Name:  dNameOff,
		Value: 0x2000,
		Size:  4,
		Info:  uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_OBJECT),
		Shndx: shRodata,
	})

	var rel bytes.Buffer
	binary.Write(&rel, binary.LittleEndian, struct{ Offset, Info uint32 }{
		Offset: 0x1000,
		Info:   elf.R_INFO32(0, uint32(elf.R_386_32)),
	})

	// Layout: ehdr, .text, .rodata, .rel.text, .symtab, .strtab, .shstrtab,
	// section headers.
	textOff := uint32(ehdrSize)
	rodataOff := textOff + uint32(len(text))
	relOff := rodataOff + uint32(len(rodata))
	symtabOff := relOff + uint32(rel.Len())
	strtabOff := symtabOff + uint32(sym.Len())
	shstrtabOff := strtabOff + uint32(strtab.Len())
	shOff := shstrtabOff + uint32(shstrtab.Len())

	var buf bytes.Buffer
	ehdr := struct {
		Ident                        [16]byte
		Type, Machine                uint16
		Version                     uint32
		Entry, Phoff, Shoff         uint32
		Flags                       uint32
		Ehsize, Phentsize, Phnum    uint16
		Shentsize, Shnum, Shstrndx  uint16
	}{
		Type: uint16(elf.ET_EXEC), Machine: uint16(elf.EM_386), Version: 1,
		Entry: 0x1000, Shoff: shOff,
		Ehsize: ehdrSize, Shentsize: shdrSize, Shnum: numSections, Shstrndx: shShstrtab,
	}
	copy(ehdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	binary.Write(&buf, binary.LittleEndian, ehdr)
	buf.Write(text)
	buf.Write(rodata)
	buf.Write(rel.Bytes())
	buf.Write(sym.Bytes())
	buf.Write(strtab.Bytes())
	buf.Write(shstrtab.Bytes())

	type shdr struct {
		Name, Type                 uint32
		Flags, Addr, Off, Size     uint32
		Link, Info                 uint32
		Addralign, Entsize         uint32
	}
	writeShdr := func(s shdr) { binary.Write(&buf, binary.LittleEndian, s) }

	writeShdr(shdr{}) // NULL
	writeShdr(shdr{
		Name: nameText, Type: uint32(elf.SHT_PROGBITS),
		Flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		Addr: 0x1000, Off: textOff, Size: uint32(len(text)), Addralign: 4,
	})
	writeShdr(shdr{
		Name: nameRodata, Type: uint32(elf.SHT_PROGBITS),
		Flags: uint32(elf.SHF_ALLOC),
		Addr: 0x2000, Off: rodataOff, Size: uint32(len(rodata)), Addralign: 4,
	})
	writeShdr(shdr{
		Name: nameRelText, Type: uint32(elf.SHT_REL),
		Off: relOff, Size: uint32(rel.Len()),
		Link: shSymtab, Info: shText, Addralign: 4, Entsize: relSize,
	})
	writeShdr(shdr{
		Name: nameSymtab, Type: uint32(elf.SHT_SYMTAB),
		Off: symtabOff, Size: uint32(sym.Len()),
		Link: shStrtab, Info: 1, Addralign: 4, Entsize: symSize,
	})
	writeShdr(shdr{
		Name: nameStrtab, Type: uint32(elf.SHT_STRTAB),
		Off: strtabOff, Size: uint32(strtab.Len()), Addralign: 1,
	})
	writeShdr(shdr{
		Name: nameShstrtab, Type: uint32(elf.SHT_STRTAB),
		Off: shstrtabOff, Size: uint32(shstrtab.Len()), Addralign: 1,
	})

	return buf.Bytes()
}

func TestReconstructMaterializesRodata(t *testing.T) {
	raw := buildExec(t)
	src, err := obj.Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("obj.Open: %v", err)
	}
	defer src.Close()

	dst := dstobj.New()
	if err := funcrecovery.Recover(src, dst); err != nil {
		t.Fatalf("funcrecovery.Recover: %v", err)
	}
	layout := memlayout.Reconstruct(src)

	diags := &fakeDiags{}
	if err := Reconstruct(src, dst, layout, diags); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	if len(diags.dropped) != 0 {
		t.Fatalf("unexpected dropped relocations: %v", diags.dropped)
	}

	var relSec *dstobj.Section
	for _, s := range dst.Sections {
		if s.Kind == dstobj.Rel {
			relSec = s
		}
	}
	if relSec == nil {
		t.Fatalf("no relocation section was created")
	}
	if len(relSec.Relocs) != 1 {
		t.Fatalf("got %d relocs, want 1", len(relSec.Relocs))
	}

	r := relSec.Relocs[0]
	if r.Offset != 0 {
		t.Errorf("reloc offset = %d, want 0", r.Offset)
	}
	if r.Type != uint32(elf.R_386_32) {
		t.Errorf("reloc type = %d, want R_386_32", r.Type)
	}
	if r.Symbol == nil || r.Symbol.Section == nil {
		t.Fatalf("reloc symbol not materialized")
	}
	if !bytes.Equal(r.Symbol.Section.Data, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("materialized rodata bytes = %x, want aabbccdd", r.Symbol.Section.Data)
	}
	if r.Symbol.Bind != dstobj.Local || r.Symbol.Kind != dstobj.Object {
		t.Errorf("materialized symbol bind/kind = %v/%v, want Local/Object", r.Symbol.Bind, r.Symbol.Kind)
	}
}

func TestReconstructTextWithoutFunctionIsInvariantError(t *testing.T) {
	// .text's own bytes point back into .text (a self-referential function
	// pointer), but funcrecovery is never run, so no function symbol exists
	// to satisfy the text branch of §4.3's materialization table.
	raw := buildExecWithTarget(t, 0x1000)
	src, err := obj.Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("obj.Open: %v", err)
	}
	defer src.Close()

	dst := dstobj.New()
	dst.AddSection(&dstobj.Section{
		Name:  ".text.f",
		Kind:  dstobj.Progbits,
		Flags: dstobj.SectionFlags{Alloc: true, ExecInstr: true},
		Addr:  0x1000,
		Data:  []byte{0x00, 0x10, 0x00, 0x00},
	})

	layout := memlayout.Reconstruct(src)
	diags := &fakeDiags{}
	err = Reconstruct(src, dst, layout, diags)
	if err == nil {
		t.Fatalf("Reconstruct succeeded, want invariant error")
	}
	if _, ok := err.(*InvariantError); !ok {
		t.Fatalf("got error %v (%T), want *InvariantError", err, err)
	}
}
