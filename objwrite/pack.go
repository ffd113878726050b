package objwrite

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

// packSyms and packRels pack a slice of fixed-size ELF32 entries into a
// contiguous byte buffer, one struc.PackWithOptions call per entry — the
// same per-structure packing loop davejbax-pixie's efipe.Image.WriteTo uses
// for its own section header table.
func packSyms(entries []sym32) ([]byte, error) {
	var buf bytes.Buffer
	for i := range entries {
		if err := struc.PackWithOptions(&buf, &entries[i], packOpts); err != nil {
			return nil, fmt.Errorf("objwrite: packing symtab entry %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func packRels(entries []rel32) ([]byte, error) {
	var buf bytes.Buffer
	for i := range entries {
		if err := struc.PackWithOptions(&buf, &entries[i], packOpts); err != nil {
			return nil, fmt.Errorf("objwrite: packing relocation entry %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
