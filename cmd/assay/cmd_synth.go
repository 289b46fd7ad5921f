package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/felixgeelhaar/assay/internal/exercise"
)

// cmdSynth prints a starter rule list derived from a reference solution
func cmdSynth(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	lang := fs.String("lang", "", "reference language")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: assay synth [--lang L] REFERENCE|-")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	reference, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	rules := a.assessor.Synthesize(ctx, reference, *lang)
	data, err := exercise.EncodeRules(rules)
	if err != nil {
		return err
	}

	_, err = stdout.Write(data)
	return err
}
