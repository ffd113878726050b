package objwrite

import "bytes"

// stringTable accumulates null-terminated names the way ELF's STRTAB
// sections store them, handing back each name's byte offset for use in a
// Shdr32.Name or Sym32.Name field. Index 0 is always the empty string, per
// convention (an unnamed symbol or section stores a zero name offset).
type stringTable struct {
	buf  bytes.Buffer
	seen map[string]uint32
}

func newStringTable() *stringTable {
	t := &stringTable{seen: make(map[string]uint32)}
	t.buf.WriteByte(0)
	return t
}

// add returns name's offset in the table, writing it in if not already
// present. The empty string always maps to offset 0 without growing the
// table.
func (t *stringTable) add(name string) uint32 {
	if name == "" {
		return 0
	}
	if off, ok := t.seen[name]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.buf.WriteString(name)
	t.buf.WriteByte(0)
	t.seen[name] = off
	return off
}

func (t *stringTable) Bytes() []byte {
	return t.buf.Bytes()
}
