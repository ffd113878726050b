package objwrite

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/relinklab/elfrelink/dstobj"
	"github.com/relinklab/elfrelink/finalize"
)

func TestWriteRoundTripsThroughDebugElf(t *testing.T) {
	dst := dstobj.New()

	text := &dstobj.Section{
		Name:  ".text.main",
		Kind:  dstobj.Progbits,
		Flags: dstobj.SectionFlags{Alloc: true, ExecInstr: true},
		Addr:  0x08048100,
		Align: 4,
		Data:  []byte{0x55, 0x89, 0xe5, 0xc3},
	}
	dst.AddSection(text)
	rodata := &dstobj.Section{
		Name:  ".rodata.0x2000",
		Kind:  dstobj.Progbits,
		Flags: dstobj.SectionFlags{Alloc: true},
		Addr:  0x2000,
		Align: 4,
		Data:  []byte{0xAA, 0xBB, 0xCC, 0xDD},
	}
	dst.AddSection(rodata)
	bss := &dstobj.Section{
		Name:  ".bss.0x3000",
		Kind:  dstobj.Nobits,
		Flags: dstobj.SectionFlags{Alloc: true, Write: true},
		Addr:  0x3000,
		Align: 4,
	}
	bss.SetSize(8)
	dst.AddSection(bss)

	fn := &dstobj.Symbol{Name: "main", Section: text, Value: 0, Size: 4, Bind: dstobj.Global, Kind: dstobj.Func}
	dst.AddSymbol(fn)
	data := &dstobj.Symbol{Name: ".rodata.0x2000", Section: rodata, Value: 0, Size: 4, Bind: dstobj.Local, Kind: dstobj.Object}
	dst.AddSymbol(data)

	rel := &dstobj.Section{
		Name:  ".rel.text.main",
		Kind:  dstobj.Rel,
		Flags: dstobj.SectionFlags{InfoLink: true},
		Align: 4, EntSize: 8,
		Info: text.Index(),
	}
	rel.Relocs = append(rel.Relocs, dstobj.Reloc{Offset: 1, Symbol: data, Type: uint32(elf.R_386_32)})
	dst.AddSection(rel)

	entryfixupSymbol := &dstobj.Symbol{Name: "_start", Section: text, Value: 0, Size: 4, Bind: dstobj.Global, Kind: dstobj.Func}
	dst.AddSymbol(entryfixupSymbol)
	dst.Entry = entryfixupSymbol

	localCount := finalize.Finalize(dst)

	var buf bytes.Buffer
	if _, err := Write(&buf, dst, localCount); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("debug/elf failed to parse the written file: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		t.Errorf("Type = %v, want ET_REL", f.Type)
	}
	if f.Machine != elf.EM_386 {
		t.Errorf("Machine = %v, want EM_386", f.Machine)
	}
	if f.Class != elf.ELFCLASS32 {
		t.Errorf("Class = %v, want ELFCLASS32", f.Class)
	}

	var gotText, gotRodata, gotBss, gotRel *elf.Section
	for _, s := range f.Sections {
		switch s.Name {
		case ".text.main":
			gotText = s
		case ".rodata.0x2000":
			gotRodata = s
		case ".bss.0x3000":
			gotBss = s
		case ".rel.text.main":
			gotRel = s
		}
	}
	if gotText == nil || gotRodata == nil || gotBss == nil || gotRel == nil {
		t.Fatalf("missing expected sections, got: %+v", f.Sections)
	}
	if gotText.Addr != 0 {
		t.Errorf(".text.main addr = %#x, want 0 (relocatable)", gotText.Addr)
	}
	textData, err := gotText.Data()
	if err != nil {
		t.Fatalf("reading .text.main data: %v", err)
	}
	if !bytes.Equal(textData, text.Data) {
		t.Errorf(".text.main data = %x, want %x", textData, text.Data)
	}
	if gotBss.Type != elf.SHT_NOBITS {
		t.Errorf(".bss.0x3000 type = %v, want SHT_NOBITS", gotBss.Type)
	}
	if gotBss.Size != 8 {
		t.Errorf(".bss.0x3000 size = %d, want 8", gotBss.Size)
	}

	rels, err := gotRel.Data()
	if err != nil {
		t.Fatalf("reading .rel.text.main data: %v", err)
	}
	if len(rels) != rel32Size {
		t.Fatalf("got %d bytes of relocations, want %d (one entry)", len(rels), rel32Size)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("f.Symbols: %v", err)
	}
	var foundMain, foundStart, foundData bool
	for _, s := range syms {
		switch s.Name {
		case "main":
			foundMain = true
			if elf.ST_BIND(s.Info) != elf.STB_GLOBAL {
				t.Errorf("main bind = %v, want STB_GLOBAL", elf.ST_BIND(s.Info))
			}
		case "_start":
			foundStart = true
		case ".rodata.0x2000":
			foundData = true
			if elf.ST_BIND(s.Info) != elf.STB_LOCAL {
				t.Errorf(".rodata.0x2000 bind = %v, want STB_LOCAL", elf.ST_BIND(s.Info))
			}
		}
	}
	if !foundMain || !foundStart || !foundData {
		t.Fatalf("missing expected symbols: main=%v _start=%v data=%v", foundMain, foundStart, foundData)
	}
}
