package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// The grading engine itself never fails; these are used by the layers around it
// (exercise loading, history storage, queueing, caching).
// -----------------------------------------------------------------------------

// Exercise errors
var (
	ErrExerciseNotFound     = errors.New("exercise not found")
	ErrExercisePackNotFound = errors.New("exercise pack not found")
)

// Assessment errors
var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrQueueDisabled      = errors.New("assessment queue disabled")
	ErrJobNotFound        = errors.New("job not found")
	ErrCacheMiss          = errors.New("cache miss")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrOverloaded   = errors.New("too many concurrent assessments")
)
