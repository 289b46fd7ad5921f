// Package mcp exposes assessment as Model Context Protocol tools so editors
// and agents can grade code without the HTTP daemon.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/assay/internal/assessment"
	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/exercise"
)

// Server wraps the MCP server with assay functionality
type Server struct {
	mcpServer *server.Server
	assessor  *assessment.Service
	registry  *exercise.Registry
}

// Config contains configuration for the MCP server
type Config struct {
	Assessment *assessment.Service
	Registry   *exercise.Registry
	Version    string
}

// NewServer creates a new MCP server for assay
func NewServer(cfg Config) *Server {
	s := &Server{
		assessor: cfg.Assessment,
		registry: cfg.Registry,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "assay",
		Version: version,
	}, server.WithInstructions(`
Assay grades code submissions against weighted regex rules.

Available tools:
- assay_exercises: List exercise packs and their exercises
- assay_assess: Assess code against an exercise or an inline YAML rule list
- assay_synthesize: Derive a starter rule list from a reference solution
- assay_summary: Summarize past attempts for an exercise

Verdicts: strong_pass (>=92%), pass (>=75%), partial (>=55%), needs_work.
Forbidden matches and missed required rules reduce the score.
`))

	s.registerTools()

	return s
}

// registerTools registers all assay MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("assay_exercises").
		Description("List exercise packs and exercises. Pass a pack to list only that pack.").
		Handler(s.handleExercises)

	s.mcpServer.Tool("assay_assess").
		Description("Assess code against an exercise's rules or an inline rule list.").
		Handler(s.handleAssess)

	s.mcpServer.Tool("assay_synthesize").
		Description("Synthesize a YAML rule list from a reference solution.").
		Handler(s.handleSynthesize)

	s.mcpServer.Tool("assay_summary").
		Description("Summarize recorded attempts for an exercise.").
		Handler(s.handleSummary)
}

// Input/Output types for tools

type ExercisesInput struct {
	Pack string `json:"pack,omitempty" jsonschema:"description=Optional pack ID to filter by"`
}

type ExerciseInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Language   string `json:"language"`
	Difficulty string `json:"difficulty"`
	RuleCount  int    `json:"rule_count"`
}

type ExercisesOutput struct {
	Exercises []ExerciseInfo `json:"exercises"`
	Count     int            `json:"count"`
}

type AssessInput struct {
	ExerciseID string `json:"exercise_id,omitempty" jsonschema:"description=Exercise ID in format pack/category/slug"`
	Rules      string `json:"rules,omitempty" jsonschema:"description=Inline rule list as YAML or JSON (used when exercise_id is empty)"`
	Code       string `json:"code" jsonschema:"description=Submitted source code"`
	Language   string `json:"language,omitempty" jsonschema:"description=Language of the submission"`
}

type CheckOutput struct {
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Impact      string `json:"impact"`
	Passed      bool   `json:"passed"`
	Hint        string `json:"hint,omitempty"`
}

type AssessOutput struct {
	ID         string        `json:"id"`
	Verdict    string        `json:"verdict"`
	Score      string        `json:"score"`
	Confidence string        `json:"confidence"`
	Points     string        `json:"points"`
	Summary    string        `json:"summary"`
	Hints      []string      `json:"hints,omitempty"`
	Checks     []CheckOutput `json:"checks"`
}

type SynthesizeInput struct {
	Reference string `json:"reference" jsonschema:"description=Reference solution source code"`
	Language  string `json:"language,omitempty" jsonschema:"description=Language of the reference"`
}

type SynthesizeOutput struct {
	Count int    `json:"count"`
	Rules string `json:"rules"`
}

type SummaryInput struct {
	ExerciseID string `json:"exercise_id,omitempty" jsonschema:"description=Exercise ID; empty for all exercises"`
}

type SummaryOutput struct {
	Attempts       int            `json:"attempts"`
	ByVerdict      map[string]int `json:"by_verdict"`
	AveragePercent string         `json:"average_percent"`
	BestPercent    string         `json:"best_percent"`
	PassRate       string         `json:"pass_rate"`
}

// Tool handlers

func (s *Server) handleExercises(ctx context.Context, input ExercisesInput) (ExercisesOutput, error) {
	if s.registry == nil {
		return ExercisesOutput{}, errors.New("no exercises loaded")
	}

	var exercises []*domain.Exercise
	if input.Pack != "" {
		list, err := s.registry.ListPackExercises(input.Pack)
		if err != nil {
			return ExercisesOutput{}, err
		}
		exercises = list
	} else {
		exercises = s.registry.ListExercises()
	}

	out := ExercisesOutput{Exercises: make([]ExerciseInfo, 0, len(exercises))}
	for _, ex := range exercises {
		out.Exercises = append(out.Exercises, ExerciseInfo{
			ID:         ex.ID,
			Title:      ex.Title,
			Language:   ex.Language,
			Difficulty: string(ex.Difficulty),
			RuleCount:  len(ex.Rules()),
		})
	}
	out.Count = len(out.Exercises)
	return out, nil
}

func (s *Server) handleAssess(ctx context.Context, input AssessInput) (AssessOutput, error) {
	if s.assessor == nil {
		return AssessOutput{}, errors.New("assessment service not configured")
	}

	req := assessment.Request{
		ExerciseID: input.ExerciseID,
		Submission: input.Code,
		Language:   input.Language,
	}
	if strings.TrimSpace(input.Rules) != "" {
		rules, err := exercise.DecodeRules([]byte(input.Rules))
		if err != nil {
			return AssessOutput{}, err
		}
		req.Rules = rules
	}

	result, err := s.assessor.Assess(ctx, req)
	if err != nil {
		return AssessOutput{}, fmt.Errorf("assessment failed: %w", err)
	}

	report := result.Report
	display := assessment.NewDisplay(report)

	out := AssessOutput{
		ID:         result.ID,
		Verdict:    report.Verdict.Code(),
		Score:      display.Score,
		Confidence: display.Confidence,
		Points:     display.Points,
		Hints:      display.Hints,
		Checks:     make([]CheckOutput, 0, len(report.Checks)),
	}
	passed := 0
	for i, c := range report.Checks {
		if c.Passed {
			passed++
		}
		out.Checks = append(out.Checks, CheckOutput{
			Description: c.Description,
			Kind:        display.Checks[i].KindLabel,
			Impact:      display.Checks[i].Impact,
			Passed:      c.Passed,
			Hint:        c.Hint,
		})
	}
	out.Summary = fmt.Sprintf("%s: %s (%s points), %d/%d checks passed",
		display.Verdict, display.Score, display.Points, passed, len(report.Checks))

	return out, nil
}

func (s *Server) handleSynthesize(ctx context.Context, input SynthesizeInput) (SynthesizeOutput, error) {
	if s.assessor == nil {
		return SynthesizeOutput{}, errors.New("assessment service not configured")
	}
	if strings.TrimSpace(input.Reference) == "" {
		return SynthesizeOutput{}, fmt.Errorf("%w: reference is required", domain.ErrInvalidInput)
	}

	rules := s.assessor.Synthesize(ctx, input.Reference, input.Language)
	encoded, err := exercise.EncodeRules(rules)
	if err != nil {
		return SynthesizeOutput{}, err
	}

	return SynthesizeOutput{
		Count: len(rules),
		Rules: string(encoded),
	}, nil
}

func (s *Server) handleSummary(ctx context.Context, input SummaryInput) (SummaryOutput, error) {
	if s.assessor == nil {
		return SummaryOutput{}, errors.New("assessment service not configured")
	}

	summary, err := s.assessor.Summary(ctx, input.ExerciseID)
	if err != nil {
		return SummaryOutput{}, err
	}

	return SummaryOutput{
		Attempts:       summary.Attempts,
		ByVerdict:      summary.ByVerdict,
		AveragePercent: domain.FormatPercent(summary.AveragePercent),
		BestPercent:    domain.FormatPercent(summary.BestPercent),
		PassRate:       domain.FormatPercent(summary.PassRate),
	}, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}
