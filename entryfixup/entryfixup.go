// Package entryfixup implements the pipeline's fourth component: locating
// the section that used to hold SRC's entry point and giving it a _start
// symbol.
package entryfixup

import "github.com/relinklab/elfrelink/dstobj"

// Diagnostics receives the one warning this component can emit.
type Diagnostics interface {
	NoEntrySection(entry uint64)
}

// Fixup finds the section in dst whose original (pre-finalization) address
// equals entry and adds a _start symbol pointing at its start. It must run
// before finalize.Finalize zeroes every section's address.
func Fixup(dst *dstobj.Builder, entry uint64, diags Diagnostics) {
	for _, s := range dst.Sections {
		if s.Addr != entry {
			continue
		}
		sym := &dstobj.Symbol{
			Name:    "_start",
			Section: s,
			Value:   0,
			Size:    s.Size(),
			Bind:    dstobj.Global,
			Kind:    dstobj.Func,
		}
		dst.AddSymbol(sym)
		dst.Entry = sym
		return
	}
	diags.NoEntrySection(entry)
}
