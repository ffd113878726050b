// Package memlayout reconstructs the virtual-address ranges of SRC's loaded
// segments (text, rodata, got, bss, stack, data) and classifies addresses
// against them. It is a pure function of the source object: given the same
// obj.File, Reconstruct always produces the same Layout.
package memlayout

import (
	"strings"

	"github.com/relinklab/elfrelink/internal/intervalmap"
	"github.com/relinklab/elfrelink/obj"
)

// Class identifies which memory region a relocation target falls in.
type Class int

const (
	Unclassified Class = iota
	Text
	RoData
	Got
	Bss
	Stack
	Data
)

func (c Class) String() string {
	switch c {
	case Text:
		return "text"
	case RoData:
		return "rodata"
	case Got:
		return "got"
	case Bss:
		return "bss"
	case Stack:
		return "stack"
	case Data:
		return "data"
	default:
		return "unclassified"
	}
}

// Region records the address range, size, and backing file offset of one
// memory class, derived from the sections that matched its naming pattern.
// A Region with Size 0 never classifies any address, matching the spec's
// "addr = ∞" treatment of an empty match.
type Region struct {
	Class  Class
	Addr   uint64
	Size   uint64
	Offset uint64
}

// classPriority is the fixed priority order §4.2 requires: the first region
// (in this order) whose range contains an address wins classification.
var classPriority = [...]Class{Text, RoData, Got, Bss, Stack, Data}

// Layout is the reconstructed memory map of a source executable, along with
// an incremental interval index used to classify addresses.
type Layout struct {
	Regions [len(classPriority)]Region
	tree    intervalmap.Map
}

// Reconstruct derives a Layout by scanning src's section table.
func Reconstruct(src obj.File) Layout {
	var l Layout
	for i, class := range classPriority {
		l.Regions[i] = matchRegion(src, class)
	}
	// Insert regions in *reverse* priority order so that a higher-priority
	// region, inserted later, clips or replaces any lower-priority region
	// it overlaps — intervalmap.Map's insert semantics do the tie-breaking
	// classPriority specifies for free, without a six-way scan per lookup.
	for i := len(classPriority) - 1; i >= 0; i-- {
		r := l.Regions[i]
		if r.Size == 0 {
			continue
		}
		l.tree.Insert(intervalmap.Interval{Low: r.Addr, High: r.Addr + r.Size}, r)
	}
	return l
}

// matchRegion scans src's sections for those whose name matches class's
// naming pattern and folds them into a single Region.
func matchRegion(src obj.File, class Class) Region {
	var addr uint64 = ^uint64(0)
	var size uint64
	var offset uint64
	var haveOffset bool

	for _, s := range src.Sections() {
		if !sectionMatchesClass(s, class) {
			continue
		}
		if s.Addr < addr {
			addr = s.Addr
			haveOffset = true
			offset = sectionFileOffset(s)
		}
		size += s.Size
	}
	if size == 0 {
		return Region{Class: class, Addr: ^uint64(0)}
	}
	if !haveOffset {
		offset = 0
	}
	return Region{Class: class, Addr: addr, Size: size, Offset: offset}
}

// sectionFileOffset returns s's sh_offset, read from the underlying
// debug/elf file, or 0 when the file exposes no debug/elf view. Actual byte
// reads go through obj.Section.Data, which maps a virtual address back to
// file content on its own and does not consult this value.
func sectionFileOffset(s *obj.Section) uint64 {
	if de, ok := s.File.(obj.AsDebugElf); ok {
		if f := de.AsDebugElf(); f != nil && s.RawID >= 0 && s.RawID < len(f.Sections) {
			return f.Sections[s.RawID].Offset
		}
	}
	return 0
}

func sectionMatchesClass(s *obj.Section, class Class) bool {
	switch class {
	case Text:
		return execInstr(s)
	case RoData:
		return namePattern(s.Name, ".ro")
	case Got:
		return namePattern(s.Name, ".got")
	case Bss:
		return namePattern(s.Name, ".bss")
	case Stack:
		return namePattern(s.Name, ".stack")
	case Data:
		return namePattern(s.Name, ".data")
	}
	return false
}

// execInstr reports whether s carries the alloc+execinstr flags §4.2 uses
// to identify the text region.
func execInstr(s *obj.Section) bool {
	return s.Alloc() && s.ExecInstr()
}

// namePattern reports whether name contains sub, guarding against the
// relocation-table naming collision the spec calls out (".rel.data" must
// not match the "data" region, etc): a match is rejected if "rel" appears
// anywhere before the matched substring.
func namePattern(name, sub string) bool {
	i := strings.Index(name, sub)
	if i < 0 {
		return false
	}
	return !strings.Contains(name[:i], "rel")
}

// Classify returns the region class containing addr, in the fixed priority
// order, or Unclassified if no region's range contains it.
func (l *Layout) Classify(addr uint64) Class {
	_, v := l.tree.Find(addr)
	if v == nil {
		return Unclassified
	}
	return v.(Region).Class
}

// Region returns the Region record for the given class.
func (l *Layout) Region(class Class) Region {
	for _, r := range l.Regions {
		if r.Class == class {
			return r
		}
	}
	return Region{Class: class, Addr: ^uint64(0)}
}
