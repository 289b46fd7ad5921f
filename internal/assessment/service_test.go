package assessment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/history"
	"github.com/felixgeelhaar/assay/internal/storage/local"
)

var addRules = []domain.Rule{
	{Description: "Declares function add", Pattern: `/function\s+add\s*\(/`, Kind: domain.KindRequired, Weight: 1.3, Hint: "Declare a function named add."},
	{Description: "Returns a value", Pattern: `/return\s+/`, Kind: domain.KindRequired, Weight: 1.1, Hint: "Return the sum."},
	{Description: "Avoids console.log", Pattern: `/console\.log/`, Kind: domain.KindForbidden, Weight: 1.3, Hint: "Return the value instead of logging it."},
}

type fakeExercises map[string]*domain.Exercise

func (f fakeExercises) GetExercise(id string) (*domain.Exercise, error) {
	ex, ok := f[id]
	if !ok {
		return nil, domain.ErrExerciseNotFound
	}
	return ex, nil
}

type mapCache struct {
	mu      sync.Mutex
	reports map[string]*domain.AssessmentReport
	getErr  error
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.AssessmentReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	r, ok := c.reports[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	cp := *r
	return &cp, nil
}

func (c *mapCache) Set(_ context.Context, key string, r *domain.AssessmentReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports == nil {
		c.reports = make(map[string]*domain.AssessmentReport)
	}
	c.reports[key] = r
	return nil
}

type countingRecorder struct {
	mu          sync.Mutex
	assessments map[string]int
	hits        int
	misses      int
	synthesized int
}

func (r *countingRecorder) ObserveAssessment(source, verdict string, _ float64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assessments == nil {
		r.assessments = make(map[string]int)
	}
	r.assessments[source+"/"+verdict]++
}

func (r *countingRecorder) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *countingRecorder) AddSynthesized(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesized += n
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) Record(_ context.Context, eventType, _ string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
	return nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	exercises := fakeExercises{
		"javascript-easy/functions/add": {
			ID:       "javascript-easy/functions/add",
			Language: "javascript",
			RuleSet:  domain.NewRuleSet(addRules),
		},
	}
	return NewService(exercises, nil, nil, Config{})
}

func TestService_Assess_Exercise(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Assess(context.Background(), Request{
		ExerciseID: "javascript-easy/functions/add",
		Submission: "function add(a,b){ return a + b; }",
	})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if res.ID == "" {
		t.Error("Result.ID is empty")
	}
	if res.Cached {
		t.Error("Result.Cached = true without a cache")
	}
	if res.Report.Verdict != domain.VerdictStrongPass {
		t.Errorf("Verdict = %v; want Strong Pass", res.Report.Verdict)
	}
	if res.Report.Language != "javascript" {
		t.Errorf("Language = %q; want exercise language javascript", res.Report.Language)
	}
	if len(res.Report.Checks) != 3 {
		t.Errorf("Checks = %d; want 3", len(res.Report.Checks))
	}
}

func TestService_Assess_Inline(t *testing.T) {
	svc := NewService(nil, nil, nil, Config{})

	res, err := svc.Assess(context.Background(), Request{
		Rules:      addRules,
		Submission: "",
		Language:   "js",
	})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if res.Report.Verdict != domain.VerdictNeedsWork {
		t.Errorf("Verdict = %v; want Needs Work", res.Report.Verdict)
	}
	if got := len(res.Report.Hints()); got != 2 {
		t.Errorf("Hints() = %d; want 2", got)
	}
}

func TestService_Assess_Errors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"neither", Request{Submission: "x"}, domain.ErrInvalidInput},
		{"both", Request{ExerciseID: "javascript-easy/functions/add", Rules: addRules}, domain.ErrInvalidInput},
		{"unknown exercise", Request{ExerciseID: "nope/nope"}, domain.ErrExerciseNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Assess(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Assess() error = %v; want %v", err, tt.want)
			}
		})
	}

	noSource := NewService(nil, nil, nil, Config{})
	if _, err := noSource.Assess(ctx, Request{ExerciseID: "x/y"}); !errors.Is(err, domain.ErrExerciseNotFound) {
		t.Errorf("Assess() without exercises error = %v; want ErrExerciseNotFound", err)
	}
}

func TestService_Assess_Cache(t *testing.T) {
	svc := newTestService(t)
	c := &mapCache{}
	rec := &countingRecorder{}
	svc.SetCache(c)
	svc.SetRecorder(rec)

	req := Request{ExerciseID: "javascript-easy/functions/add", Submission: "function add(a,b){ return a + b; }"}

	first, err := svc.Assess(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Assess(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if first.Cached || !second.Cached {
		t.Errorf("Cached = %v, %v; want false, true", first.Cached, second.Cached)
	}
	if second.Report.Percent != first.Report.Percent || second.Report.Verdict != first.Report.Verdict {
		t.Errorf("cached report differs: %+v vs %+v", second.Report, first.Report)
	}
	if first.ID == second.ID {
		t.Error("cached assessment reused the record ID")
	}
	if rec.hits != 1 || rec.misses != 1 {
		t.Errorf("cache lookups = %d hits, %d misses; want 1, 1", rec.hits, rec.misses)
	}
	if rec.assessments["exercise/strong_pass"] != 2 {
		t.Errorf("assessments = %v", rec.assessments)
	}
}

func TestService_Assess_CacheErrorIsNotFatal(t *testing.T) {
	svc := newTestService(t)
	svc.SetCache(&mapCache{getErr: errors.New("redis down")})

	res, err := svc.Assess(context.Background(), Request{ExerciseID: "javascript-easy/functions/add", Submission: "function add(a,b){ return a + b; }"})
	if err != nil {
		t.Fatalf("Assess() error = %v; want cache errors ignored", err)
	}
	if res.Cached {
		t.Error("Cached = true after a cache error")
	}
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	store, err := local.NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	events := &eventLog{}
	svc.SetStore(store)
	svc.SetEvents(events)

	if !svc.HasStore() {
		t.Error("HasStore() = false after SetStore")
	}

	submissions := []string{
		"function add(a,b){ return a + b; }",
		"function add(a,b){ console.log(a); }",
	}
	var ids []string
	for _, code := range submissions {
		res, err := svc.Assess(ctx, Request{ExerciseID: "javascript-easy/functions/add", Submission: code})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.ID)
	}

	got, err := svc.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Verdict != domain.VerdictStrongPass || got.SubmissionHash == "" {
		t.Errorf("Get() = %+v", got)
	}

	list, err := svc.List(ctx, "javascript-easy/functions/add", 10)
	if err != nil || len(list) != 2 {
		t.Errorf("List() = %d records, %v; want 2", len(list), err)
	}

	summary, err := svc.Summary(ctx, "javascript-easy/functions/add")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.Attempts != 2 || summary.BestPercent != 1 {
		t.Errorf("Summary() = %+v", summary)
	}

	if len(events.events) != 2 || events.events[0] != history.EventAssessmentCompleted {
		t.Errorf("events = %v", events.events)
	}
}

func TestService_HistoryWithoutStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.Get(ctx, "any"); !errors.Is(err, domain.ErrAssessmentNotFound) {
		t.Errorf("Get() error = %v; want ErrAssessmentNotFound", err)
	}
	list, err := svc.List(ctx, "", 0)
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("List() = %v, %v; want empty non-nil", list, err)
	}
	summary, err := svc.Summary(ctx, "add")
	if err != nil || summary.Attempts != 0 {
		t.Errorf("Summary() = %+v, %v", summary, err)
	}
}

func TestService_Synthesize(t *testing.T) {
	svc := NewService(nil, nil, nil, Config{})
	rec := &countingRecorder{}
	events := &eventLog{}
	svc.SetRecorder(rec)
	svc.SetEvents(events)

	reference := "import rclpy\nfrom std_msgs.msg import String\npub = node.create_publisher(String, 'chatter', 10)\npub.publish(msg)\n"
	rules := svc.Synthesize(context.Background(), reference, "py")
	if len(rules) == 0 {
		t.Fatal("Synthesize() returned no rules")
	}
	if rec.synthesized != len(rules) {
		t.Errorf("synthesized = %d; want %d", rec.synthesized, len(rules))
	}
	if len(events.events) != 1 || events.events[0] != history.EventRulesSynthesized {
		t.Errorf("events = %v", events.events)
	}
}

func TestService_Assess_Concurrent(t *testing.T) {
	svc := NewService(nil, nil, nil, Config{MaxConcurrent: 5, QueueTimeout: 10 * time.Second})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Assess(context.Background(), Request{Rules: addRules, Submission: "function add(a,b){ return a + b; }"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Assess() error = %v", err)
		}
	}
}

func TestService_Assess_CancelledContext(t *testing.T) {
	svc := NewService(nil, nil, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context either fails fast or completes; it never reports overload
	_, err := svc.Assess(ctx, Request{Rules: addRules, Submission: "x"})
	if err != nil && errors.Is(err, domain.ErrOverloaded) {
		t.Errorf("Assess() error = %v; want context error, not overload", err)
	}
}
