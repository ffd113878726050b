package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"
	"testing"
)

// buildElf32Rel assembles a minimal, valid ELF32 EM_386 ET_REL file with a
// .text section (given bytes), a .data section, and a symbol table holding
// one STT_FUNC symbol named "f" pointing at the start of .text.
//
// This exists because the fixture binaries and generator script that the
// upstream tests expect were never part of this package's testdata.
func buildElf32Rel(t *testing.T, text []byte) []byte {
	t.Helper()

	const (
		ehdrSize = 52
		shdrSize = 40
		symSize  = 16
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
	nameData := nameAt(".data")
	nameSymtab := nameAt(".symtab")
	nameStrtab := nameAt(".strtab")
	nameShstrtab := nameAt(".shstrtab")

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symName := uint32(strtab.Len())
	strtab.WriteString("f")
	strtab.WriteByte(0)

	data := []byte{1, 2, 3, 4}

	// Layout: ehdr, .text, .data, .symtab, .strtab, .shstrtab, section headers.
	textOff := uint32(ehdrSize)
	dataOff := textOff + uint32(len(text))
	symtabOff := dataOff + uint32(len(data))

	var sym bytes.Buffer
	// STN_UNDEF entry.
	binary.Write(&sym, binary.LittleEndian, struct {
		Name            uint32
		Value, Size     uint32
		Info, Other     uint8
		Shndx           uint16
	}{})
	binary.Write(&sym, binary.LittleEndian, struct {
		Name        uint32
		Value, Size uint32
		Info, Other uint8
		Shndx       uint16
	}{symName, 0, uint32(len(text)), uint8(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)), 0, 1})

	strtabOff := symtabOff + uint32(sym.Len())
	shstrtabOff := strtabOff + uint32(strtab.Len())
	shOff := shstrtabOff + uint32(shstrtab.Len())

	var buf bytes.Buffer
	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0})
	buf.Write(make([]byte, 8))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_REL))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_386))
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_entry
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint32(shOff))
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))   // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(shdrSize))   // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(6))          // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(5))          // e_shstrndx
	if buf.Len() != ehdrSize {
		t.Fatalf("ehdr size mismatch: %d", buf.Len())
	}

	buf.Write(text)
	buf.Write(data)
	buf.Write(sym.Bytes())
	buf.Write(strtab.Bytes())
	buf.Write(shstrtab.Bytes())

	writeShdr := func(name, typ, flags, addr, off, size, link, info, align, entsize uint32) {
		binary.Write(&buf, binary.LittleEndian, name)
		binary.Write(&buf, binary.LittleEndian, typ)
		binary.Write(&buf, binary.LittleEndian, flags)
		binary.Write(&buf, binary.LittleEndian, addr)
		binary.Write(&buf, binary.LittleEndian, off)
		binary.Write(&buf, binary.LittleEndian, size)
		binary.Write(&buf, binary.LittleEndian, link)
		binary.Write(&buf, binary.LittleEndian, info)
		binary.Write(&buf, binary.LittleEndian, align)
		binary.Write(&buf, binary.LittleEndian, entsize)
	}
	// 0: SHT_NULL
	writeShdr(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	// 1: .text
	writeShdr(nameText, uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0, textOff, uint32(len(text)), 0, 0, 1, 0)
	// 2: .data
	writeShdr(nameData, uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_WRITE), 0, dataOff, uint32(len(data)), 0, 0, 1, 0)
	// 3: .symtab
	writeShdr(nameSymtab, uint32(elf.SHT_SYMTAB), 0, 0, symtabOff, uint32(sym.Len()), 4, 1, 4, symSize)
	// 4: .strtab
	writeShdr(nameStrtab, uint32(elf.SHT_STRTAB), 0, 0, strtabOff, uint32(strtab.Len()), 0, 0, 1, 0)
	// 5: .shstrtab
	writeShdr(nameShstrtab, uint32(elf.SHT_STRTAB), 0, 0, shstrtabOff, uint32(shstrtab.Len()), 0, 0, 1, 0)

	return buf.Bytes()
}

func TestElfOpenMinimal(t *testing.T) {
	raw := buildElf32Rel(t, []byte{0x90, 0x90, 0xc3, 0x90})
	f, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open failed unexpectedly: %v", err)
	}
	defer f.Close()

	info := f.Info()
	if info.Type != elf.ET_REL {
		t.Errorf("want type %s, got %s", elf.ET_REL, info.Type)
	}

	var text *Section
	for _, s := range f.Sections() {
		if s.Name == ".text" {
			text = s
		}
	}
	if text == nil {
		t.Fatal("missing .text section")
	}
	data, err := text.Data(text.Bounds())
	if err != nil {
		t.Fatalf("reading .text: %v", err)
	}
	if !bytes.Equal(data.B, []byte{0x90, 0x90, 0xc3, 0x90}) {
		t.Errorf(".text data not as expected: %x", data.B)
	}

	// Symbol 0 is "f", an STT_FUNC symbol defined at the start of .text.
	sym := f.Sym(0)
	if sym.Name != "f" || sym.Kind != SymText || sym.Value != 0 {
		t.Errorf("want symbol f at 0 (SymText), got %+v", sym)
	}
}

func TestElfOpenCorrupted(t *testing.T) {
	t.Parallel()
	// Test that a corrupted ELF file is still detected as ELF, rather than
	// being rejected as an unknown format.
	ident := [16]byte{'\x7f', 'E', 'L', 'F', 42}
	f := bytes.NewReader(ident[:])
	_, err := Open(f)
	if err == nil {
		t.Fatalf("Open succeeded unexpectedly")
	}
	want := "unknown ELF class"
	if !strings.HasPrefix(err.Error(), want) {
		t.Fatalf("want error starting with %q, got %q", want, err.Error())
	}
}

func TestElfOpenWrongMachine(t *testing.T) {
	t.Parallel()
	raw := buildElf32Rel(t, []byte{0x90})
	// Clobber e_machine (offset 18) to something that isn't EM_386.
	binary.LittleEndian.PutUint16(raw[18:], uint16(elf.EM_X86_64))
	_, err := Open(bytes.NewReader(raw))
	if err == nil {
		t.Fatalf("Open succeeded unexpectedly for a non-EM_386 machine")
	}
	want := "unsupported machine"
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("want error containing %q, got %q", want, err.Error())
	}
}
