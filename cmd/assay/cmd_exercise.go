package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/felixgeelhaar/assay/internal/domain"
)

// cmdExercise inspects the configured exercise packs
func cmdExercise(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(stdout, `Exercise commands:

  assay exercise list [pack]                List exercise packs, or one pack's exercises
  assay exercise list --difficulty D --tag T  Filter exercises across packs
  assay exercise info <pack/category/slug>  Show exercise details and rules`)
		return nil
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("exercise list", flag.ContinueOnError)
		difficulty := fs.String("difficulty", "", "only exercises of this difficulty")
		tag := fs.String("tag", "", "only exercises with this tag")
		if err := fs.Parse(args[1:]); err != nil {
			return errUsage
		}
		if *difficulty != "" || *tag != "" {
			return cmdExerciseFilter(ctx, stdout, domain.Difficulty(*difficulty), *tag)
		}
		return cmdExerciseList(ctx, stdout, fs.Arg(0))
	case "info":
		if len(args) < 2 {
			return fmt.Errorf("exercise ID required (e.g., javascript-easy/functions/add)")
		}
		return cmdExerciseInfo(ctx, stdout, args[1])
	default:
		return fmt.Errorf("unknown exercise command: %s", args[0])
	}
}

func cmdExerciseList(ctx context.Context, w io.Writer, packID string) error {
	a, err := newApp(ctx, appOptions{exercises: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if packID != "" {
		exercises, err := a.registry.ListPackExercises(packID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Exercises in %s:\n", packID)
		for _, ex := range exercises {
			printExerciseLine(w, ex)
		}
		return nil
	}

	packs := a.registry.ListPacks()
	if len(packs) == 0 {
		fmt.Fprintln(w, "No exercise packs found. Run 'assay init' or set exercises_path.")
		return nil
	}

	fmt.Fprintln(w, "Available Exercise Packs:")
	for _, pack := range packs {
		fmt.Fprintf(w, "  %s (%s)\n", pack.Name, pack.ID)
		if pack.Description != "" {
			fmt.Fprintf(w, "    %s\n", pack.Description)
		}
		fmt.Fprintf(w, "    Language: %s | Exercises: %d\n\n", pack.Language, len(pack.ExerciseIDs))
	}

	stats := a.registry.Stats()
	fmt.Fprintf(w, "%d packs, %d exercises, %d rules\n", stats.PackCount, stats.ExerciseCount, stats.RuleCount)
	fmt.Fprintln(w, "Use 'assay exercise info <pack>/<category>/<slug>' for details")
	return nil
}

func cmdExerciseFilter(ctx context.Context, w io.Writer, difficulty domain.Difficulty, tag string) error {
	a, err := newApp(ctx, appOptions{exercises: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var exercises []*domain.Exercise
	if difficulty != "" {
		exercises = a.registry.GetExercisesByDifficulty(difficulty)
	} else {
		exercises = a.registry.GetExercisesByTag(tag)
	}

	for _, ex := range exercises {
		if tag != "" && !slices.Contains(ex.Tags, tag) {
			continue
		}
		printExerciseLine(w, ex)
	}
	return nil
}

func printExerciseLine(w io.Writer, ex *domain.Exercise) {
	fmt.Fprintf(w, "  %-40s %-12s %2d rules  %s\n", ex.ID, ex.Difficulty, len(ex.Rules()), ex.Title)
}

func cmdExerciseInfo(ctx context.Context, w io.Writer, id string) error {
	if strings.Count(id, "/") < 2 {
		return fmt.Errorf("exercise ID must be in format: pack/category/slug (e.g., javascript-easy/functions/add)")
	}

	a, err := newApp(ctx, appOptions{exercises: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ex, err := a.registry.GetExercise(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Exercise: %s\n\n", ex.Title)
	fmt.Fprintf(w, "ID:         %s\n", ex.ID)
	if pack, err := a.registry.GetPack(ex.PackID); err == nil && pack.Name != "" {
		fmt.Fprintf(w, "Pack:       %s (%s)\n", pack.Name, pack.ID)
	}
	fmt.Fprintf(w, "Language:   %s\n", ex.Language)
	fmt.Fprintf(w, "Difficulty: %s\n", ex.Difficulty)
	fmt.Fprintf(w, "Tags:       %s\n", strings.Join(ex.Tags, ", "))
	if ex.AutoRules {
		fmt.Fprintln(w, "Rules:      synthesized from the reference solution")
	}
	fmt.Fprintf(w, "\nPrompt:\n%s\n", strings.TrimRight(ex.Prompt, "\n"))

	printRules(w, ex.Rules())
	return nil
}

// printRules lists rules with their kind and impact labels
func printRules(w io.Writer, rules []domain.Rule) {
	if len(rules) == 0 {
		return
	}
	fmt.Fprintf(w, "\nRules (%d):\n", len(rules))
	for _, r := range rules {
		line := fmt.Sprintf("  %-9s %-6s %s", domain.KindLabel(r.Kind), domain.ImpactLabel(r.Weight), r.Description)
		if r.IsGrouped() {
			line += fmt.Sprintf("  [any of %s]", r.GroupID)
		}
		fmt.Fprintln(w, line)
	}
}
