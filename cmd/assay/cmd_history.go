package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/history"
)

// cmdHistory shows recorded attempts and their summary
func cmdHistory(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	exerciseID := fs.String("exercise", "", "only attempts for this exercise")
	limit := fs.Int("limit", 20, fmt.Sprintf("number of recent attempts (max %d)", history.MaxListLimit))
	asJSON := fs.Bool("json", false, "print as JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *limit < 0 || *limit > history.MaxListLimit {
		return fmt.Errorf("limit must be between 0 and %d", history.MaxListLimit)
	}

	a, err := newApp(ctx, appOptions{history: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.assessor.HasStore() {
		fmt.Fprintf(stdout, "History is disabled (storage driver %q)\n", a.cfg.Storage.Driver)
		return nil
	}

	summary, err := a.assessor.Summary(ctx, *exerciseID)
	if err != nil {
		return fmt.Errorf("get summary: %w", err)
	}
	records, err := a.assessor.List(ctx, *exerciseID, *limit)
	if err != nil {
		return fmt.Errorf("list assessments: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"summary":     summary,
			"assessments": records,
		})
	}

	printSummary(stdout, summary)
	if len(records) == 0 {
		return nil
	}

	fmt.Fprintln(stdout, "\nRecent Attempts")
	fmt.Fprintln(stdout, "---------------")
	for _, r := range records {
		exercise := r.ExerciseID
		if exercise == "" {
			exercise = "(inline rules)"
		}
		fmt.Fprintf(stdout, "%s  %-12s %5s  %-40s %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Verdict.Code(),
			domain.FormatPercent(r.Percent),
			exercise,
			r.ID[:min(8, len(r.ID))])
	}
	return nil
}

func printSummary(w io.Writer, s *history.Summary) {
	title := "All Exercises"
	if s.ExerciseID != "" {
		title = s.ExerciseID
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "==================")
	fmt.Fprintf(w, "Attempts:     %d\n", s.Attempts)
	if s.Attempts == 0 {
		return
	}
	fmt.Fprintf(w, "Pass Rate:    %s %s\n", renderProgressBar(s.PassRate, 20), domain.FormatPercent(s.PassRate))
	fmt.Fprintf(w, "Average:      %s\n", domain.FormatPercent(s.AveragePercent))
	fmt.Fprintf(w, "Best:         %s\n", domain.FormatPercent(s.BestPercent))

	codes := make([]string, 0, len(s.ByVerdict))
	for code := range s.ByVerdict {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	fmt.Fprintln(w, "By Verdict:")
	for _, code := range codes {
		fmt.Fprintf(w, "  %-12s %d\n", code, s.ByVerdict[code])
	}
}
