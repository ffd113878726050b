package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relinklab/elfrelink/diag"
	"github.com/relinklab/elfrelink/obj"
	"github.com/relinklab/elfrelink/pipeline"
)

type rootOptions struct {
	verbose int
	color   string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "elfrelink <input-elf> <output-obj>",
		Short: "Reconstruct a relocatable object file from a linked ELF32 executable",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				fmt.Fprintln(stderr, cmd.UsageString())
				return &usageError{msg: fmt.Sprintf("expected exactly 2 positional arguments, got %d", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlink(cmd.Context(), args[0], args[1], opts, stdout, stderr)
		},
	}

	cmd.Flags().CountVarP(&opts.verbose, "verbose", "v", "increase diagnostic verbosity (repeatable)")
	cmd.Flags().StringVar(&opts.color, "color", "auto", `terminal color mode: "auto", "always", or "never"`)

	return cmd
}

func runUnlink(ctx context.Context, inputPath, outputPath string, opts *rootOptions, stdout, stderr io.Writer) error {
	useColor := resolveColor(opts.color)

	d := diag.New(stderr, io.Discard, opts.verbose, useColor)

	in, err := os.Open(inputPath)
	if err != nil {
		d.Load(err)
		return fmt.Errorf("opening %s: %w", inputPath, err)
	}
	defer in.Close()

	src, err := obj.Open(in)
	if err != nil {
		d.Load(err)
		return fmt.Errorf("parsing %s as ELF: %w", inputPath, err)
	}
	defer src.Close()

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s for output: %w", outputPath, err)
	}
	defer out.Close()

	if err := pipeline.Run(ctx, src, out, d); err != nil {
		var invErr *pipeline.InvariantError
		if errors.As(err, &invErr) {
			d.Invariant(err)
		}
		os.Remove(outputPath)
		return err
	}
	return nil
}

func resolveColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return !color.NoColor
	}
}
