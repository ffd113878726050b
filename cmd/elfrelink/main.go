// Command elfrelink reverses static linking: given a fully-linked ELF32
// ET_EXEC executable, it reconstructs an approximation of the ET_REL object
// file(s) that were linked together to produce it.
package main

import (
	"errors"
	"os"
)

// Exit codes, per §6/§7: the CLI distinguishes only two non-zero outcomes,
// usage errors (1) and every other failure, including load errors and
// invariant violations (2).
const (
	exitOK = iota
	exitUsage
	exitFailure
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, new(*usageError)):
		return exitUsage
	default:
		return exitFailure
	}
}

// usageError marks the "wrong positional argument count" case so run can
// map it to exit code 1 instead of the generic failure code, independent of
// whatever error type cobra's own Args validator happens to return.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
