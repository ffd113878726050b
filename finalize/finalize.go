// Package finalize implements the pipeline's last component: zeroing
// section addresses, adding section symbols, and reordering the symbol
// table so local symbols precede global ones.
package finalize

import "github.com/relinklab/elfrelink/dstobj"

// Finalize performs §4.5's three steps against dst, in order, and returns
// the count of local symbols (the value finalize leaves in the eventual
// symtab section's Info field).
func Finalize(dst *dstobj.Builder) int {
	zeroAddresses(dst)
	addSectionSymbols(dst)
	return reorderLocalFirst(dst)
}

// zeroAddresses is Step A: every section's virtual address is provisional
// bookkeeping from when Relocation Reconstruction still needed to reason
// about SRC addresses; a relocatable object has no addresses at all.
func zeroAddresses(dst *dstobj.Builder) {
	for _, s := range dst.Sections {
		s.Addr = 0
	}
}

// addSectionSymbols is Step B: every progbits section gets an
// STT_SECTION/STB_LOCAL symbol. This runs after the Relocation
// Reconstructor, so no relocation ever references one of these — see
// SPEC_FULL.md §4.5's note on why that's intentional.
func addSectionSymbols(dst *dstobj.Builder) {
	for _, s := range dst.Sections {
		if s.Kind != dstobj.Progbits {
			continue
		}
		dst.AddSymbol(&dstobj.Symbol{
			Name:    s.Name,
			Section: s,
			Value:   0,
			Size:    0,
			Bind:    dstobj.Local,
			Kind:    dstobj.SectionSym,
		})
	}
}

// reorderLocalFirst is Step C: a stable partition of dst.Symbols into
// locals followed by globals, each retaining its original relative order.
// It returns the number of local symbols after partitioning.
//
// The target order is computed as a plain slice first, then realized with
// Builder.SwapSymbols so every Reloc.Symbol pointer (and dst.Entry) stays
// correct for free — see dstobj.Builder.SwapSymbols's doc comment. A naive
// "swap the next local into place as we scan" pass would preserve the
// locals' order but silently reverses stretches of globals it steps over,
// so the target order is built explicitly instead and then applied via a
// position map, which takes at most len(dst.Symbols)-1 swaps regardless of
// how scrambled the result needs to be.
func reorderLocalFirst(dst *dstobj.Builder) int {
	order := make([]*dstobj.Symbol, 0, len(dst.Symbols))
	nLocal := 0
	for _, sym := range dst.Symbols {
		if sym.Bind == dstobj.Local {
			order = append(order, sym)
			nLocal++
		}
	}
	for _, sym := range dst.Symbols {
		if sym.Bind != dstobj.Local {
			order = append(order, sym)
		}
	}

	pos := make(map[*dstobj.Symbol]int, len(order))
	for i, sym := range dst.Symbols {
		pos[sym] = i
	}
	for i, want := range order {
		cur := pos[want]
		if cur == i {
			continue
		}
		dst.SwapSymbols(i, cur)
		moved := dst.Symbols[cur]
		pos[moved] = cur
		pos[want] = i
	}
	return nLocal
}
