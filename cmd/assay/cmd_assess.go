package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/assay/internal/assessment"
	"github.com/felixgeelhaar/assay/internal/exercise"
)

// cmdAssess grades a submission and prints the report
func cmdAssess(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("assess", flag.ContinueOnError)
	rulesPath := fs.String("rules", "", "rules file (YAML or JSON)")
	exerciseID := fs.String("exercise", "", "exercise ID, e.g. javascript-easy/functions/add")
	lang := fs.String("lang", "", "submission language")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: assay assess (--rules FILE | --exercise ID) [--lang L] [--json] SUBMISSION|-")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if (*rulesPath == "") == (*exerciseID == "") || fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	submission, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		return err
	}

	req := assessment.Request{
		ExerciseID: *exerciseID,
		Submission: submission,
		Language:   *lang,
	}
	if *rulesPath != "" {
		data, err := os.ReadFile(*rulesPath)
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}
		rules, err := exercise.DecodeRules(data)
		if err != nil {
			return err
		}
		req.Rules = rules
	}

	a, err := newApp(ctx, appOptions{exercises: *exerciseID != "", history: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.assessor.Assess(ctx, req)
	if err != nil {
		return err
	}

	next := a.nextExercise(result)

	if *asJSON {
		body := map[string]any{
			"id":          result.ID,
			"exercise_id": result.ExerciseID,
			"report":      result.Report,
			"display":     assessment.NewDisplay(result.Report),
		}
		if next != "" {
			body["next_exercise"] = next
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(body); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printReport(stdout, result)
		if next != "" {
			fmt.Fprintf(stdout, "\nNext:       %s\n", next)
		}
	}

	if !result.Report.Verdict.IsPassing() {
		return errNotPassing
	}
	return nil
}

// printReport writes the human-readable form of an assessment
func printReport(w io.Writer, result *assessment.Result) {
	d := assessment.NewDisplay(result.Report)

	if result.ExerciseID != "" {
		fmt.Fprintf(w, "Exercise:   %s\n", result.ExerciseID)
	}
	fmt.Fprintf(w, "Verdict:    %s\n", d.Verdict)
	fmt.Fprintf(w, "Score:      %s %s\n", renderProgressBar(result.Report.Percent, 20), d.Score)
	fmt.Fprintf(w, "Points:     %s\n", d.Points)
	fmt.Fprintf(w, "Confidence: %s\n", d.Confidence)

	if len(d.Checks) > 0 {
		fmt.Fprintln(w, "\nChecks:")
		for _, c := range d.Checks {
			mark := "✗"
			if c.Passed {
				mark = "✓"
			}
			fmt.Fprintf(w, "  %s %-9s %-6s %s\n", mark, c.KindLabel, c.Impact, c.Description)
		}
	}

	if len(d.Hints) > 0 {
		fmt.Fprintln(w, "\nHints:")
		for _, h := range d.Hints {
			fmt.Fprintf(w, "  - %s\n", h)
		}
	}
}

// nextExercise names the following exercise in the pack once a submission passes
func (a *app) nextExercise(result *assessment.Result) string {
	if a.registry == nil || result.ExerciseID == "" || !result.Report.CanProceed() {
		return ""
	}
	next, err := a.registry.GetNextExercise(result.ExerciseID)
	if err != nil || next == nil {
		return ""
	}
	return next.ID
}
