// Package diag is the pipeline's diagnostic sink: the five-row taxonomy of
// §7 collapsed into a small set of methods the reconstruction packages
// depend on only through the narrow interfaces they declare themselves
// (relocrecon.Diagnostics, entryfixup.Diagnostics). Nothing in this package
// calls os.Exit; the CLI layer in cmd/elfrelink decides exit codes once the
// pipeline returns, the same panic/error split the teacher's obj package
// keeps between bad input (returned error) and a bug in this module's own
// bookkeeping (panic).
package diag

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"

	"github.com/relinklab/elfrelink/memlayout"
	"github.com/relinklab/elfrelink/obj"
)

// Severity-keyed palette, the same pattern Manu343726-cucaracha's
// cmd/cpu/debug.go uses for its debugger output: one *color.Color per
// meaning, not per call site.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorWarn  = color.New(color.FgYellow)
)

// Diagnostics is the concrete sink the pipeline and CLI share. It fans every
// record out to a human-readable terminal handler and a machine-parseable
// JSON handler simultaneously, via slog-multi's Fanout, so the same warning
// that a user sees on stderr is also available for the coverage-invariant
// tests in §8 to assert against.
type Diagnostics struct {
	logger *slog.Logger
	useColor bool
}

// New builds a Diagnostics that writes colored text to human (normally
// os.Stderr) and newline-delimited JSON to machine (normally a trace file,
// or io.Discard if the caller doesn't want one). verbosity follows the
// cobra -v/--verbose count: 0 is Warn, 1 is Info, 2+ is Debug.
func New(human, machine io.Writer, verbosity int, useColor bool) *Diagnostics {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}

	textHandler := slog.NewTextHandler(human, &slog.HandlerOptions{Level: level})
	jsonHandler := slog.NewJSONHandler(machine, &slog.HandlerOptions{Level: slog.LevelDebug})

	return &Diagnostics{
		logger:   slog.New(slogmulti.Fanout(textHandler, jsonHandler)),
		useColor: useColor,
	}
}

func (d *Diagnostics) paint(c *color.Color, msg string) string {
	if !d.useColor {
		return msg
	}
	return c.Sprint(msg)
}

// Usage logs the wrong-argument-count condition (§7's Usage error row). The
// CLI prints its own cobra usage text separately; this is the diagnostic
// trail entry.
func (d *Diagnostics) Usage(msg string) {
	d.logger.Warn(d.paint(colorWarn, "usage error"), "detail", msg)
}

// Load logs a failure to parse the input as a valid ELF (§7's Load error
// row).
func (d *Diagnostics) Load(err error) {
	d.logger.Error(d.paint(colorError, "failed to load input"), "error", err)
}

// Invariant logs one of the two hard invariant violations §7 names: a text
// referent with no recovered function symbol, or a symbol-table swap
// landing out of range. Never calls os.Exit itself — see the package doc.
func (d *Diagnostics) Invariant(err error) {
	d.logger.Error(d.paint(colorError, "invariant violation"), "error", err)
}

// Classification implements relocrecon.Diagnostics: it logs a dropped
// relocation whose referent classified as got/stack/unclassified. An
// address that matches no region at all and one that matches a
// zero-size (empty) region are the same case here — memlayout.Reconstruct
// never inserts an empty region into its interval index in the first
// place (see memlayout.Layout.Classify), so "no match" already covers
// what §7's separate Empty-region row describes; there is no second path
// to wire up.
func (d *Diagnostics) Classification(region memlayout.Class, reloc obj.Reloc, fn string) {
	d.logger.Warn(d.paint(colorWarn, "dropped relocation"),
		"function", fn,
		"region", region.String(),
		"relocOffset", fmt.Sprintf("%#x", reloc.Addr),
	)
}

// NoEntrySection implements entryfixup.Diagnostics: SRC's entry point
// didn't land at the start of any recovered section.
func (d *Diagnostics) NoEntrySection(entry uint64) {
	d.logger.Warn(d.paint(colorWarn, "no section at entry point"),
		"entry", fmt.Sprintf("%#x", entry),
	)
}
