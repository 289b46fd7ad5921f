package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/google/uuid"
)

func TestNewConsumer_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          ConsumerConfig
		wantWorkers  int
		wantPrefetch int
	}{
		{"zero config", ConsumerConfig{}, 3, 1},
		{"negative values", ConsumerConfig{Workers: -1, Prefetch: -4}, 3, 1},
		{"custom values", ConsumerConfig{Workers: 10, Prefetch: 5}, 10, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConsumer(nil, nil, tt.cfg)
			if c.workers != tt.wantWorkers {
				t.Errorf("workers = %d; want %d", c.workers, tt.wantWorkers)
			}
			if c.prefetch != tt.wantPrefetch {
				t.Errorf("prefetch = %d; want %d", c.prefetch, tt.wantPrefetch)
			}
		})
	}
}

func TestDecodeJob(t *testing.T) {
	valid, _ := json.Marshal(NewAssessJob("go/basics/hello", nil, "fmt.Println()", "go"))
	noTarget, _ := json.Marshal(&AssessJob{ID: uuid.New(), Submission: "x"})
	noID, _ := json.Marshal(&AssessJob{ExerciseID: "go/basics/hello"})

	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{"valid", valid, false},
		{"garbage", []byte("{not json"), true},
		{"neither exercise nor rules", noTarget, true},
		{"missing id", noID, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := decodeJob(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJob() error = %v; wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && job.ExerciseID != "go/basics/hello" {
				t.Errorf("ExerciseID = %q", job.ExerciseID)
			}
			if tt.wantErr && tt.name != "garbage" && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error = %v; want ErrInvalidInput", err)
			}
		})
	}
}

func TestBuildResult(t *testing.T) {
	job := NewAssessJob("", []domain.Rule{{Pattern: "x"}}, "x", "go")
	report := &domain.AssessmentReport{Percent: 1, Verdict: domain.VerdictStrongPass}

	tests := []struct {
		name       string
		result     *AssessResult
		err        error
		wantStatus string
		wantError  string
	}{
		{"success", &AssessResult{Report: report, AssessmentID: "a1"}, nil, StatusCompleted, ""},
		{"nil result", nil, nil, StatusCompleted, ""},
		{"handler error", nil, errors.New("boom"), StatusFailed, "boom"},
		{"timeout", nil, context.DeadlineExceeded, StatusFailed, "assessment timed out"},
		{"wrapped timeout", nil, errors.Join(errors.New("engine"), context.DeadlineExceeded), StatusFailed, "assessment timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildResult(job, tt.result, tt.err, 5*time.Millisecond)
			if got.JobID != job.ID {
				t.Errorf("JobID = %v; want %v", got.JobID, job.ID)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q; want %q", got.Status, tt.wantStatus)
			}
			if got.Error != tt.wantError {
				t.Errorf("Error = %q; want %q", got.Error, tt.wantError)
			}
			if got.Duration != 5*time.Millisecond {
				t.Errorf("Duration = %v; want 5ms", got.Duration)
			}
			if got.CompletedAt.IsZero() {
				t.Error("CompletedAt should be set")
			}
		})
	}
}

func TestBuildResult_KeepsReport(t *testing.T) {
	job := NewAssessJob("go/x", nil, "", "go")
	report := &domain.AssessmentReport{Percent: 0.5}
	got := buildResult(job, &AssessResult{Report: report, AssessmentID: "abc"}, nil, 0)
	if got.Report != report || got.AssessmentID != "abc" {
		t.Errorf("result = %+v; want report and assessment id kept", got)
	}
}

type statusLog struct {
	mu       sync.Mutex
	statuses []string
}

func (s *statusLog) RecordJob(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func TestConsumer_Run(t *testing.T) {
	log := &statusLog{}
	c := NewConsumer(nil, func(ctx context.Context, job *AssessJob) (*AssessResult, error) {
		if job.Timeout == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &AssessResult{Report: &domain.AssessmentReport{Percent: 1}}, nil
	}, ConsumerConfig{})
	c.SetRecorder(log)

	ok := c.run(t.Context(), NewAssessJob("go/x", nil, "", "go"))
	if ok.Status != StatusCompleted {
		t.Errorf("Status = %q; want completed", ok.Status)
	}

	slow := NewAssessJob("go/x", nil, "", "go")
	slow.Timeout = 1
	timedOut := c.run(t.Context(), slow)
	if timedOut.Status != StatusFailed || timedOut.Error != "assessment timed out" {
		t.Errorf("result = %+v; want timeout failure", timedOut)
	}

	c.record(ok.Status)
	c.record(timedOut.Status)
	if len(log.statuses) != 2 || log.statuses[0] != StatusCompleted || log.statuses[1] != StatusFailed {
		t.Errorf("recorded = %v", log.statuses)
	}
}

func TestResultConsumer_SubscribeUnsubscribe(t *testing.T) {
	rc := NewResultConsumer(nil)
	jobID := uuid.New().String()

	rc.Subscribe(jobID, func(result *AssessResult) {})

	rc.handlersMu.RLock()
	_, exists := rc.handlers[jobID]
	rc.handlersMu.RUnlock()
	if !exists {
		t.Error("Handler should be registered after Subscribe")
	}

	rc.Unsubscribe(jobID)

	rc.handlersMu.RLock()
	_, exists = rc.handlers[jobID]
	rc.handlersMu.RUnlock()
	if exists {
		t.Error("Handler should be removed after Unsubscribe")
	}
}

func TestResultConsumer_Subscribe_ConcurrentSafe(t *testing.T) {
	rc := NewResultConsumer(nil)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobID := uuid.New().String()
			rc.Subscribe(jobID, func(result *AssessResult) {})
			time.Sleep(time.Microsecond)
			rc.Unsubscribe(jobID)
		}()
	}
	wg.Wait()

	rc.handlersMu.RLock()
	count := len(rc.handlers)
	rc.handlersMu.RUnlock()
	if count != 0 {
		t.Errorf("All handlers should be unsubscribed, got %d remaining", count)
	}
}

func TestResultConsumer_Dispatch(t *testing.T) {
	rc := NewResultConsumer(nil)
	jobID := uuid.New()

	var got *AssessResult
	rc.Subscribe(jobID.String(), func(result *AssessResult) { got = result })

	body, _ := json.Marshal(&AssessResult{JobID: jobID, Status: StatusCompleted})
	if !rc.dispatch(body) {
		t.Fatal("dispatch() = false; want true")
	}
	if got == nil || got.Status != StatusCompleted {
		t.Errorf("handler got %+v", got)
	}

	other, _ := json.Marshal(&AssessResult{JobID: uuid.New()})
	if rc.dispatch(other) {
		t.Error("dispatch() for unknown job = true; want false")
	}
	if rc.dispatch([]byte("nope")) {
		t.Error("dispatch() for garbage = true; want false")
	}
}

func TestResultConsumer_Subscribe_OverwritesPrevious(t *testing.T) {
	rc := NewResultConsumer(nil)
	jobID := uuid.New()
	called1, called2 := false, false

	rc.Subscribe(jobID.String(), func(*AssessResult) { called1 = true })
	rc.Subscribe(jobID.String(), func(*AssessResult) { called2 = true })

	body, _ := json.Marshal(&AssessResult{JobID: jobID})
	rc.dispatch(body)

	if called1 {
		t.Error("First handler should NOT have been called (was overwritten)")
	}
	if !called2 {
		t.Error("Second handler should have been called")
	}
}

func TestStop_NilCancelFunc(t *testing.T) {
	(&ResultConsumer{handlers: make(map[string]ResultHandler)}).Stop()
	(&Consumer{}).Stop()
}
