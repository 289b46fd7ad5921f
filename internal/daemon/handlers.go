package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/felixgeelhaar/assay/internal/assessment"
	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/exercise"
	"github.com/felixgeelhaar/assay/internal/history"
	"github.com/felixgeelhaar/assay/internal/queue"
	"github.com/google/uuid"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":           "running",
		"version":          s.version,
		"storage":          s.cfg.Storage.Driver,
		"history":          s.assessor.HasStore(),
		"queue_enabled":    s.jobs != nil,
		"cache_enabled":    s.cacheOn,
		"exercises_loaded": s.registry.Loaded(),
		"pack_count":       stats.PackCount,
		"exercise_count":   stats.ExerciseCount,
		"rule_count":       stats.RuleCount,
	})
}

// Exercise handlers

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	difficulty := r.URL.Query().Get("difficulty")
	tag := r.URL.Query().Get("tag")
	if difficulty != "" || tag != "" {
		s.jsonResponse(w, http.StatusOK, map[string]any{
			"exercises": exerciseSummaries(s.filterExercises(domain.Difficulty(difficulty), tag)),
		})
		return
	}

	packs := s.registry.ListPacks()

	result := make([]map[string]any, 0, len(packs))
	for _, pack := range packs {
		result = append(result, map[string]any{
			"id":             pack.ID,
			"name":           pack.Name,
			"description":    pack.Description,
			"language":       pack.Language,
			"exercise_count": len(pack.ExerciseIDs),
		})
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"packs": result,
	})
}

func (s *Server) handleListPackExercises(w http.ResponseWriter, r *http.Request) {
	packID := r.PathValue("pack")

	exercises, err := s.registry.ListPackExercises(packID)
	if err != nil {
		s.domainError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"pack_id":   packID,
		"exercises": exerciseSummaries(exercises),
	})
}

// filterExercises applies the difficulty and tag filters; empty means any
func (s *Server) filterExercises(difficulty domain.Difficulty, tag string) []*domain.Exercise {
	if difficulty == "" {
		return s.registry.GetExercisesByTag(tag)
	}
	byDifficulty := s.registry.GetExercisesByDifficulty(difficulty)
	if tag == "" {
		return byDifficulty
	}
	filtered := byDifficulty[:0]
	for _, ex := range byDifficulty {
		if slices.Contains(ex.Tags, tag) {
			filtered = append(filtered, ex)
		}
	}
	return filtered
}

func exerciseSummaries(exercises []*domain.Exercise) []map[string]any {
	result := make([]map[string]any, 0, len(exercises))
	for _, ex := range exercises {
		result = append(result, map[string]any{
			"id":         ex.ID,
			"title":      ex.Title,
			"difficulty": ex.Difficulty,
			"tags":       ex.Tags,
			"rule_count": len(ex.Rules()),
		})
	}
	return result
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("pack") + "/" + r.PathValue("slug")

	ex, err := s.registry.GetExercise(id)
	if err != nil {
		s.domainError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, exerciseView(ex))
}

// exerciseView omits the reference solution
func exerciseView(ex *domain.Exercise) map[string]any {
	rules := ex.Rules()
	if rules == nil {
		rules = []domain.Rule{}
	}
	return map[string]any{
		"id":         ex.ID,
		"pack_id":    ex.PackID,
		"title":      ex.Title,
		"prompt":     ex.Prompt,
		"language":   ex.Language,
		"difficulty": ex.Difficulty,
		"tags":       ex.Tags,
		"auto_rules": ex.AutoRules,
		"rules":      rules,
	}
}

// Assessment handlers

// assessRequest carries inline rules in the same author-facing form as rules
// files, so flags and kind names both work and bad weights fall back to the default.
type assessRequest struct {
	ExerciseID string                     `json:"exercise_id,omitempty"`
	Rules      []exercise.ExpectationFile `json:"rules,omitempty"`
	Submission string                     `json:"submission"`
	Language   string                     `json:"language,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return false
		}
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.assessor.Assess(r.Context(), assessment.Request{
		ExerciseID: req.ExerciseID,
		Rules:      exercise.ToRules(req.Rules),
		Submission: req.Submission,
		Language:   req.Language,
	})
	if err != nil {
		s.domainError(w, err)
		return
	}
	noteRequest(r.Context(),
		"exercise_id", result.ExerciseID,
		"verdict", result.Report.Verdict.Code(),
		"cached", result.Cached,
	)

	body := map[string]any{
		"id":          result.ID,
		"exercise_id": result.ExerciseID,
		"cached":      result.Cached,
		"report":      result.Report,
		"display":     assessment.NewDisplay(result.Report),
	}
	if next := s.nextExercise(result); next != "" {
		body["next_exercise"] = next
	}
	s.jsonResponse(w, http.StatusOK, body)
}

// nextExercise names the following exercise in the pack once a submission passes
func (s *Server) nextExercise(result *assessment.Result) string {
	if result.ExerciseID == "" || !result.Report.CanProceed() {
		return ""
	}
	next, err := s.registry.GetNextExercise(result.ExerciseID)
	if err != nil || next == nil {
		return ""
	}
	return next.ID
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
		Language  string `json:"language,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reference == "" {
		s.jsonError(w, http.StatusBadRequest, "reference is required", nil)
		return
	}

	rules := s.assessor.Synthesize(r.Context(), req.Reference, req.Language)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"language": domain.NormalizeLanguage(req.Language),
		"rules":    rules,
	})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.domainError(w, domain.ErrQueueDisabled)
		return
	}

	var req assessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if (req.ExerciseID == "") == (len(req.Rules) == 0) {
		s.jsonError(w, http.StatusBadRequest, "exactly one of exercise_id and rules is required", nil)
		return
	}
	if req.ExerciseID != "" {
		if _, err := s.registry.GetExercise(req.ExerciseID); err != nil {
			s.domainError(w, err)
			return
		}
	}

	job := queue.NewAssessJob(req.ExerciseID, exercise.ToRules(req.Rules), req.Submission, req.Language)
	if s.tracker != nil {
		s.tracker.Track(job)
	}
	if err := s.jobs.PublishAssessJob(r.Context(), job); err != nil {
		if s.tracker != nil {
			s.tracker.Forget(job.ID)
		}
		s.jsonError(w, http.StatusServiceUnavailable, "failed to enqueue job", err)
		return
	}
	s.metrics.RecordJob("queued")
	noteRequest(r.Context(), "job_id", job.ID)

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     "queued",
		"created_at": job.CreatedAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil || s.tracker == nil {
		s.domainError(w, domain.ErrQueueDisabled)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.domainError(w, fmt.Errorf("%w: job id: %v", domain.ErrInvalidInput, err))
		return
	}

	state, ok := s.tracker.Lookup(id)
	if !ok {
		s.domainError(w, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id))
		return
	}

	body := map[string]any{
		"job_id":     state.JobID,
		"status":     state.Status,
		"created_at": state.CreatedAt,
	}
	if res := state.Result; res != nil {
		body["completed_at"] = res.CompletedAt
		body["duration_ms"] = res.Duration.Milliseconds()
		if res.AssessmentID != "" {
			body["assessment_id"] = res.AssessmentID
		}
		if res.Report != nil {
			body["report"] = res.Report
			body["display"] = assessment.NewDisplay(res.Report)
		}
		if res.Error != "" {
			body["error"] = res.Error
		}
	}
	s.jsonResponse(w, http.StatusOK, body)
}

// History handlers

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > history.MaxListLimit {
			s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 0 and %d", history.MaxListLimit), err)
			return
		}
		limit = n
	}

	records, err := s.assessor.List(r.Context(), r.URL.Query().Get("exercise_id"), limit)
	if err != nil {
		s.domainError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"assessments": records,
		"count":       len(records),
	})
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	record, err := s.assessor.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, record)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.assessor.Summary(r.Context(), r.URL.Query().Get("exercise_id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}
