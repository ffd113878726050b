// Package pipeline wires the six reconstruction components together in the
// fixed order the unlinking transformation requires: function recovery,
// memory layout reconstruction, relocation reconstruction, entry-point
// fixup, finalization, and serialization.
package pipeline

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/relinklab/elfrelink/dstobj"
	"github.com/relinklab/elfrelink/entryfixup"
	"github.com/relinklab/elfrelink/finalize"
	"github.com/relinklab/elfrelink/funcrecovery"
	"github.com/relinklab/elfrelink/memlayout"
	"github.com/relinklab/elfrelink/obj"
	"github.com/relinklab/elfrelink/objwrite"
	"github.com/relinklab/elfrelink/relocrecon"
)

// Diagnostics is everything the pipeline's components need to report
// non-fatal conditions; *diag.Diagnostics satisfies it.
type Diagnostics interface {
	relocrecon.Diagnostics
	entryfixup.Diagnostics
}

// InvariantError is returned when a pipeline component detects one of §7's
// two hard invariant violations. The pipeline writes nothing to out when
// this happens.
type InvariantError struct {
	Err error
}

func (e *InvariantError) Error() string { return e.Err.Error() }
func (e *InvariantError) Unwrap() error { return e.Err }

// Run transforms src into a relocatable ELF32 object and writes it to out.
// An src whose ELF type is not ET_EXEC is rejected with an error before any
// component runs. ctx is honored only around the final write (see SPEC_FULL.md §5): the
// transformation itself is a synchronous, non-suspending computation with
// nothing else to cancel.
func Run(ctx context.Context, src obj.File, out io.Writer, diags Diagnostics) error {
	if t := src.Info().Type; t != elf.ET_EXEC {
		return fmt.Errorf("pipeline: input ELF type is %v, want ET_EXEC", t)
	}

	dst := dstobj.New()

	if err := funcrecovery.Recover(src, dst); err != nil {
		return fmt.Errorf("pipeline: function recovery: %w", err)
	}

	layout := memlayout.Reconstruct(src)

	if err := relocrecon.Reconstruct(src, dst, layout, diags); err != nil {
		var invErr *relocrecon.InvariantError
		if errors.As(err, &invErr) {
			return &InvariantError{Err: err}
		}
		return fmt.Errorf("pipeline: relocation reconstruction: %w", err)
	}

	entryfixup.Fixup(dst, src.Info().Entry, diags)

	localCount := finalize.Finalize(dst)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline: cancelled before write: %w", err)
	}

	if _, err := objwrite.Write(out, dst, localCount); err != nil {
		return fmt.Errorf("pipeline: writing output: %w", err)
	}
	return nil
}
