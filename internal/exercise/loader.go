package exercise

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/matcher"
	"github.com/felixgeelhaar/assay/internal/synth"
	"gopkg.in/yaml.v3"
)

// PackFile represents the YAML structure for an exercise pack
type PackFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Exercises   []string `yaml:"exercises"`
}

// ExerciseFile represents the YAML structure for an exercise
type ExerciseFile struct {
	ID           string            `yaml:"id"`
	Title        string            `yaml:"title"`
	Prompt       string            `yaml:"prompt"`
	Language     string            `yaml:"language"`
	Difficulty   string            `yaml:"difficulty"`
	Tags         []string          `yaml:"tags"`
	Reference    string            `yaml:"reference"`
	AutoRules    bool              `yaml:"auto_rules"`
	Expectations []ExpectationFile `yaml:"expectations"`
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithSynthesizer sets the synthesizer used for auto_rules exercises
func WithSynthesizer(s *synth.Synthesizer) LoaderOption {
	return func(l *Loader) { l.synth = s }
}

// WithPatternCheck sets the matcher used to report patterns that cannot compile
func WithPatternCheck(m *matcher.RegexMatcher) LoaderOption {
	return func(l *Loader) { l.matcher = m }
}

// Loader handles loading exercises from YAML files
type Loader struct {
	basePath string
	synth    *synth.Synthesizer
	matcher  *matcher.RegexMatcher
}

// NewLoader creates a new exercise loader
func NewLoader(basePath string, opts ...LoaderOption) *Loader {
	l := &Loader{basePath: basePath}
	for _, o := range opts {
		o(l)
	}
	if l.synth == nil {
		l.synth = synth.New()
	}
	if l.matcher == nil {
		l.matcher = matcher.New(matcher.DefaultConfig())
	}
	return l
}

// LoadPack loads an exercise pack from a directory
func (l *Loader) LoadPack(packID string) (*domain.ExercisePack, error) {
	packPath := filepath.Join(l.basePath, packID, "pack.yaml")

	data, err := os.ReadFile(packPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, packID)
		}
		return nil, fmt.Errorf("read pack file: %w", err)
	}

	var packFile PackFile
	if err := yaml.Unmarshal(data, &packFile); err != nil {
		return nil, fmt.Errorf("parse pack file: %w", err)
	}

	// Exercise IDs are keyed by directory, so the directory name wins.
	if packFile.ID != "" && packFile.ID != packID {
		slog.Warn("pack id does not match directory", "id", packFile.ID, "dir", packID)
	}

	pack := &domain.ExercisePack{
		ID:          packID,
		Name:        packFile.Name,
		Version:     packFile.Version,
		Description: packFile.Description,
		Language:    domain.NormalizeLanguage(packFile.Language),
		ExerciseIDs: make([]string, len(packFile.Exercises)),
	}

	for i, ex := range packFile.Exercises {
		pack.ExerciseIDs[i] = fmt.Sprintf("%s/%s", packID, ex)
	}

	return pack, nil
}

// LoadExercise loads a single exercise from a YAML file
func (l *Loader) LoadExercise(packID, slug string) (*domain.Exercise, error) {
	// Build path: basePath/packID/category/exercise.yaml
	parts := strings.Split(slug, "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: invalid exercise slug: %s", domain.ErrInvalidInput, slug)
	}

	exercisePath := filepath.Join(l.basePath, packID, slug+".yaml")

	data, err := os.ReadFile(exercisePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrExerciseNotFound, packID, slug)
		}
		return nil, fmt.Errorf("read exercise file: %w", err)
	}

	var exFile ExerciseFile
	if err := yaml.Unmarshal(data, &exFile); err != nil {
		return nil, fmt.Errorf("parse exercise file: %w", err)
	}

	id := fmt.Sprintf("%s/%s", packID, slug)
	exercise := &domain.Exercise{
		ID:         id,
		PackID:     packID,
		Title:      exFile.Title,
		Prompt:     exFile.Prompt,
		Language:   domain.NormalizeLanguage(exFile.Language),
		Difficulty: domain.Difficulty(exFile.Difficulty),
		Tags:       exFile.Tags,
		Reference:  exFile.Reference,
	}

	rules := make([]domain.Rule, 0, len(exFile.Expectations))
	for _, e := range exFile.Expectations {
		rules = append(rules, e.Rule())
	}

	if exFile.AutoRules && strings.TrimSpace(exFile.Reference) != "" {
		rules = synth.Dedupe(append(rules, l.synth.Synthesize(exFile.Reference, exFile.Language)...))
		exercise.AutoRules = true
	}

	l.checkPatterns(id, rules)
	exercise.RuleSet = domain.NewRuleSet(rules)

	return exercise, nil
}

// checkPatterns warns about patterns that will never match
func (l *Loader) checkPatterns(exerciseID string, rules []domain.Rule) {
	for _, r := range rules {
		if _, err := l.matcher.Compile(r.Pattern); err != nil {
			slog.Warn("exercise pattern will never match",
				"exercise_id", exerciseID,
				"rule", r.Description,
				"error", err,
			)
		}
	}
}

// LoadAllPacks loads all exercise packs from the base directory
func (l *Loader) LoadAllPacks() ([]*domain.ExercisePack, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read exercises directory: %w", err)
	}

	var packs []*domain.ExercisePack
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		packPath := filepath.Join(l.basePath, entry.Name(), "pack.yaml")
		if _, err := os.Stat(packPath); os.IsNotExist(err) {
			continue
		}

		pack, err := l.LoadPack(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", entry.Name(), err)
		}
		packs = append(packs, pack)
	}

	return packs, nil
}

// LoadPackExercises loads all exercises for a pack
func (l *Loader) LoadPackExercises(packID string) ([]*domain.Exercise, error) {
	pack, err := l.LoadPack(packID)
	if err != nil {
		return nil, err
	}

	exercises := make([]*domain.Exercise, 0, len(pack.ExerciseIDs))
	for _, exID := range pack.ExerciseIDs {
		// packID/category/exercise -> category/exercise
		slug := strings.TrimPrefix(exID, packID+"/")

		exercise, err := l.LoadExercise(packID, slug)
		if err != nil {
			return nil, fmt.Errorf("load exercise %s: %w", exID, err)
		}
		exercises = append(exercises, exercise)
	}

	return exercises, nil
}
