package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatusQueued marks a tracked job whose result has not arrived yet
const StatusQueued = "queued"

// DefaultTrackLimit bounds how many jobs a Tracker remembers
const DefaultTrackLimit = 1000

// JobState is the last known state of an enqueued job
type JobState struct {
	JobID     uuid.UUID     `json:"job_id"`
	Status    string        `json:"status"` // queued, completed, failed
	CreatedAt time.Time     `json:"created_at"`
	Result    *AssessResult `json:"result,omitempty"`
}

// ResultSubscriber delivers results for individual jobs
type ResultSubscriber interface {
	Subscribe(jobID string, handler ResultHandler)
	Unsubscribe(jobID string)
}

// Tracker remembers jobs published by this process and records their results
// as they come back on the results queue. The oldest jobs are forgotten once
// the limit is reached.
type Tracker struct {
	results ResultSubscriber
	limit   int

	mu    sync.Mutex
	jobs  map[uuid.UUID]*JobState
	order []uuid.UUID
}

// NewTracker creates a tracker fed by results
func NewTracker(results ResultSubscriber, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultTrackLimit
	}
	return &Tracker{
		results: results,
		limit:   limit,
		jobs:    make(map[uuid.UUID]*JobState),
	}
}

// Track registers a job as queued. Call it before publishing so a fast
// result is not missed.
func (t *Tracker) Track(job *AssessJob) {
	t.mu.Lock()
	if _, ok := t.jobs[job.ID]; !ok {
		t.order = append(t.order, job.ID)
	}
	t.jobs[job.ID] = &JobState{JobID: job.ID, Status: StatusQueued, CreatedAt: job.CreatedAt}

	var evicted []uuid.UUID
	for len(t.order) > t.limit {
		evicted = append(evicted, t.order[0])
		delete(t.jobs, t.order[0])
		t.order = t.order[1:]
	}
	t.mu.Unlock()

	for _, id := range evicted {
		t.results.Unsubscribe(id.String())
	}
	t.results.Subscribe(job.ID.String(), t.complete)
}

// Forget drops a job, e.g. after its publish failed
func (t *Tracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	delete(t.jobs, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.results.Unsubscribe(id.String())
}

// Lookup returns a copy of a job's state
func (t *Tracker) Lookup(id uuid.UUID) (JobState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok {
		return JobState{}, false
	}
	return *state, true
}

func (t *Tracker) complete(result *AssessResult) {
	t.mu.Lock()
	state, ok := t.jobs[result.JobID]
	if ok {
		state.Status = result.Status
		state.Result = result
	}
	t.mu.Unlock()

	t.results.Unsubscribe(result.JobID.String())
}
