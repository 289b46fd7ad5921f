package exercise

import (
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/assay/internal/domain"
)

// Registry provides access to exercises and packs
type Registry struct {
	loader    *Loader
	mu        sync.RWMutex
	packs     map[string]*domain.ExercisePack
	exercises map[string]*domain.Exercise
	loaded    bool
}

// NewRegistry creates a new exercise registry
func NewRegistry(loader *Loader) *Registry {
	return &Registry{
		loader:    loader,
		packs:     make(map[string]*domain.ExercisePack),
		exercises: make(map[string]*domain.Exercise),
	}
}

// Load loads all packs and exercises into memory
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	packs, err := r.loader.LoadAllPacks()
	if err != nil {
		return fmt.Errorf("load packs: %w", err)
	}

	for _, pack := range packs {
		r.packs[pack.ID] = pack

		exercises, err := r.loader.LoadPackExercises(pack.ID)
		if err != nil {
			return fmt.Errorf("load exercises for pack %s: %w", pack.ID, err)
		}

		for _, ex := range exercises {
			r.exercises[ex.ID] = ex
		}
	}

	r.loaded = true
	return nil
}

// Reload re-reads every pack from disk and swaps the result in. When loading
// fails the previously loaded exercises stay in place.
func (r *Registry) Reload() error {
	fresh := NewRegistry(r.loader)
	if err := fresh.Load(); err != nil {
		return err
	}

	r.mu.Lock()
	r.packs = fresh.packs
	r.exercises = fresh.exercises
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Loaded reports whether Load has completed successfully
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// GetPack returns a pack by ID
func (r *Registry) GetPack(id string) (*domain.ExercisePack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pack, ok := r.packs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, id)
	}
	return pack, nil
}

// GetExercise returns an exercise by ID
func (r *Registry) GetExercise(id string) (*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exercise, ok := r.exercises[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, id)
	}
	return exercise, nil
}

// RuleSet returns the rule set of an exercise
func (r *Registry) RuleSet(exerciseID string) (*domain.RuleSet, error) {
	ex, err := r.GetExercise(exerciseID)
	if err != nil {
		return nil, err
	}
	return ex.RuleSet, nil
}

// ListPacks returns all packs ordered by ID
func (r *Registry) ListPacks() []*domain.ExercisePack {
	r.mu.RLock()
	defer r.mu.RUnlock()

	packs := make([]*domain.ExercisePack, 0, len(r.packs))
	for _, pack := range r.packs {
		packs = append(packs, pack)
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].ID < packs[j].ID })
	return packs
}

// ListExercises returns all exercises ordered by ID
func (r *Registry) ListExercises() []*domain.Exercise {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exercises := make([]*domain.Exercise, 0, len(r.exercises))
	for _, ex := range r.exercises {
		exercises = append(exercises, ex)
	}
	sortExercises(exercises)
	return exercises
}

// ListPackExercises returns the exercises of a pack in pack order
func (r *Registry) ListPackExercises(packID string) ([]*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pack, ok := r.packs[packID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, packID)
	}

	exercises := make([]*domain.Exercise, 0, len(pack.ExerciseIDs))
	for _, exID := range pack.ExerciseIDs {
		if ex, ok := r.exercises[exID]; ok {
			exercises = append(exercises, ex)
		}
	}
	return exercises, nil
}

// GetExercisesByDifficulty returns exercises filtered by difficulty
func (r *Registry) GetExercisesByDifficulty(difficulty domain.Difficulty) []*domain.Exercise {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exercises []*domain.Exercise
	for _, ex := range r.exercises {
		if ex.Difficulty == difficulty {
			exercises = append(exercises, ex)
		}
	}
	sortExercises(exercises)
	return exercises
}

// GetNextExercise returns the exercise after currentExerciseID in its pack.
// It returns nil, nil when the current exercise is the last one.
func (r *Registry) GetNextExercise(currentExerciseID string) (*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.exercises[currentExerciseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, currentExerciseID)
	}

	pack, ok := r.packs[current.PackID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, current.PackID)
	}

	for i, exID := range pack.ExerciseIDs {
		if exID != currentExerciseID {
			continue
		}
		if i+1 < len(pack.ExerciseIDs) {
			if next, ok := r.exercises[pack.ExerciseIDs[i+1]]; ok {
				return next, nil
			}
		}
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s not listed in pack %s", domain.ErrExerciseNotFound, currentExerciseID, pack.ID)
}

// GetExercisesByTag returns exercises that have a specific tag
func (r *Registry) GetExercisesByTag(tag string) []*domain.Exercise {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exercises []*domain.Exercise
	for _, ex := range r.exercises {
		for _, t := range ex.Tags {
			if t == tag {
				exercises = append(exercises, ex)
				break
			}
		}
	}
	sortExercises(exercises)
	return exercises
}

// Stats returns statistics about loaded exercises
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		PackCount:     len(r.packs),
		ExerciseCount: len(r.exercises),
		ByDifficulty:  make(map[string]int),
	}

	for _, ex := range r.exercises {
		stats.ByDifficulty[string(ex.Difficulty)]++
		stats.RuleCount += len(ex.Rules())
		if ex.AutoRules {
			stats.AutoRuleExercises++
		}
	}

	return stats
}

// RegistryStats holds statistics about the registry
type RegistryStats struct {
	PackCount         int            `json:"pack_count"`
	ExerciseCount     int            `json:"exercise_count"`
	RuleCount         int            `json:"rule_count"`
	AutoRuleExercises int            `json:"auto_rule_exercises"`
	ByDifficulty      map[string]int `json:"by_difficulty"`
}

func sortExercises(exercises []*domain.Exercise) {
	sort.Slice(exercises, func(i, j int) bool { return exercises[i].ID < exercises[j].ID })
}
