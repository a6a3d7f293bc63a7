package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/copperline-io/opswatch/internal/events"
	"github.com/copperline-io/opswatch/internal/models"
)

// blockingRunner reports each start on a channel and holds every run until
// released (or until its context ends). It makes concurrency and ordering
// deterministic in tests.
type blockingRunner struct {
	started chan string
	release chan struct{}
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan string, 32),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, ex models.ScriptExecution) (Result, error) {
	r.started <- ex.ID
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-r.release:
	}
	if r.err != nil {
		return Result{ExitCode: 1}, r.err
	}
	return Result{Output: "ok", ExitCode: 0}, nil
}

// releaseOne unblocks a single held run.
func (r *blockingRunner) releaseOne(t *testing.T) {
	t.Helper()
	select {
	case r.release <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("no run waiting for release")
	}
}

// nextStarted waits for the next run to start and returns its execution id.
func (r *blockingRunner) nextStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no run started within deadline")
		return ""
	}
}

// assertNoStart fails if any run starts within the window.
func (r *blockingRunner) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case id := <-r.started:
		t.Fatalf("unexpected run started: %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

type instantRunner struct {
	err error
}

func (r instantRunner) Run(ctx context.Context, ex models.ScriptExecution) (Result, error) {
	if r.err != nil {
		return Result{ExitCode: 1}, r.err
	}
	return Result{Output: "done", ExitCode: 0}, nil
}

func request(devices ...string) models.ExecutionRequest {
	return models.ExecutionRequest{
		ScriptID:       "script-1",
		DeviceIDs:      devices,
		ExecutedBy:     "user-1",
		OrganizationID: "org-1",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmitValidation(t *testing.T) {
	s := NewScheduler(instantRunner{}, nil, nil, 1)
	defer s.Close()

	tests := []struct {
		name string
		req  models.ExecutionRequest
	}{
		{"missing script", models.ExecutionRequest{DeviceIDs: []string{"d"}, OrganizationID: "o"}},
		{"no devices", models.ExecutionRequest{ScriptID: "s", OrganizationID: "o"}},
		{"missing org", models.ExecutionRequest{ScriptID: "s", DeviceIDs: []string{"d"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Submit(tt.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSubmitDefaults(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 1)
	defer s.Close()

	created, err := s.Submit(request("dev-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("got %d executions, want 1", len(created))
	}
	ex := created[0]
	if ex.Metadata.Timeout != DefaultTimeoutSeconds {
		t.Errorf("timeout = %d, want %d", ex.Metadata.Timeout, DefaultTimeoutSeconds)
	}
	if ex.Metadata.Priority != models.PriorityNormal {
		t.Errorf("priority = %q, want normal", ex.Metadata.Priority)
	}
	if ex.ID == "" {
		t.Error("execution id empty")
	}

	runner.nextStarted(t)
	runner.releaseOne(t)
}

func TestConcurrencyBound(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 2)
	defer s.Close()

	if _, err := s.Submit(request("d1", "d2", "d3", "d4", "d5")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	runner.nextStarted(t)
	runner.nextStarted(t)
	runner.assertNoStart(t)

	st := s.QueueStatus()
	if st.Running != 2 {
		t.Errorf("running = %d, want 2", st.Running)
	}
	if st.Queued != 3 {
		t.Errorf("queued = %d, want 3", st.Queued)
	}
	if st.MaxConcurrent != 2 {
		t.Errorf("maxConcurrent = %d, want 2", st.MaxConcurrent)
	}

	// Finishing one run admits exactly one queued execution.
	runner.releaseOne(t)
	runner.nextStarted(t)
	runner.assertNoStart(t)

	for i := 0; i < 4; i++ {
		runner.releaseOne(t)
	}
	waitFor(t, "all executions completed", func() bool {
		return s.QueueStatus().Completed == 5
	})
}

func TestQueueIsFIFOForEqualPriority(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 1)
	defer s.Close()

	if _, err := s.Submit(request("d1", "d2", "d3")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		id := runner.nextStarted(t)
		ex, ok := s.Execution(id)
		if !ok {
			t.Fatalf("execution %s not found", id)
		}
		order = append(order, ex.DeviceID)
		runner.releaseOne(t)
	}

	want := []string{"d1", "d2", "d3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("start order = %v, want %v", order, want)
		}
	}
}

func TestHighPriorityJumpsQueue(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 1)
	defer s.Close()

	if _, err := s.Submit(request("d1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	runner.nextStarted(t) // d1 occupies the single slot

	if _, err := s.Submit(request("d2", "d3")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	urgent := request("d4")
	urgent.Priority = models.PriorityHigh
	if _, err := s.Submit(urgent); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		runner.releaseOne(t)
		id := runner.nextStarted(t)
		ex, _ := s.Execution(id)
		order = append(order, ex.DeviceID)
	}
	runner.releaseOne(t)

	want := []string{"d4", "d2", "d3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("start order = %v, want %v", order, want)
		}
	}
}

func TestCancelQueuedNeverRuns(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 1)
	defer s.Close()

	if _, err := s.Submit(request("d1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	runner.nextStarted(t)

	created, err := s.Submit(request("d2"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	queuedID := created[0].ID

	if !s.Cancel(queuedID) {
		t.Fatal("Cancel returned false for queued execution")
	}
	ex, _ := s.Execution(queuedID)
	if ex.Status != models.ExecutionCancelled {
		t.Errorf("status = %q, want cancelled", ex.Status)
	}
	if ex.CompletedAt == nil {
		t.Error("cancelled execution has no completion time")
	}

	// Cancelling a terminal execution is a no-op.
	if s.Cancel(queuedID) {
		t.Error("Cancel returned true for terminal execution")
	}

	runner.releaseOne(t)
	runner.assertNoStart(t)
	waitFor(t, "first execution completed", func() bool {
		return s.QueueStatus().Completed == 1
	})
}

func TestCancelRunningFreesSlot(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 1)
	defer s.Close()

	first, err := s.Submit(request("d1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	runner.nextStarted(t)
	if _, err := s.Submit(request("d2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Cancelling the running execution admits the queued one without
	// waiting for the runner to notice.
	if !s.Cancel(first[0].ID) {
		t.Fatal("Cancel returned false for running execution")
	}
	second := runner.nextStarted(t)

	ex, _ := s.Execution(first[0].ID)
	if ex.Status != models.ExecutionCancelled {
		t.Errorf("cancelled status = %q, want cancelled", ex.Status)
	}

	runner.releaseOne(t)
	waitFor(t, "second execution completed", func() bool {
		got, _ := s.Execution(second)
		return got.Status == models.ExecutionCompleted
	})
}

func TestRunTimeout(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, nil, nil, 1)
	defer s.Close()

	req := request("d1")
	req.Timeout = 1
	created, err := s.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	runner.nextStarted(t)

	waitFor(t, "execution timeout", func() bool {
		ex, _ := s.Execution(created[0].ID)
		return ex.Status == models.ExecutionTimeout
	})
	ex, _ := s.Execution(created[0].ID)
	if ex.ErrorOutput == "" {
		t.Error("timed-out execution has no error output")
	}
	if ex.CompletedAt == nil || ex.StartedAt == nil {
		t.Error("timed-out execution missing timestamps")
	}
}

func TestFailureAndRetry(t *testing.T) {
	s := NewScheduler(instantRunner{err: errors.New("exit status 1")}, nil, nil, 1)
	defer s.Close()

	req := request("d1")
	req.Parameters = map[string]string{"arg": "v"}
	created, err := s.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	origID := created[0].ID

	waitFor(t, "execution failed", func() bool {
		ex, _ := s.Execution(origID)
		return ex.Status == models.ExecutionFailed
	})
	orig, _ := s.Execution(origID)
	if orig.ErrorOutput != "exit status 1" {
		t.Errorf("error output = %q", orig.ErrorOutput)
	}

	retry, err := s.Retry(origID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.ID == origID {
		t.Error("retry reused the original id")
	}
	if retry.Status != models.ExecutionPending {
		t.Errorf("retry status = %q, want pending", retry.Status)
	}
	if retry.ScriptID != orig.ScriptID || retry.DeviceID != orig.DeviceID {
		t.Error("retry changed script or device")
	}
	if retry.Parameters["arg"] != "v" {
		t.Error("retry dropped parameters")
	}
	if retry.Output != "" || retry.ErrorOutput != "" || retry.ExitCode != nil {
		t.Error("retry carried over results from the original")
	}
	if retry.StartedAt != nil || retry.CompletedAt != nil || retry.Duration != 0 {
		t.Error("retry carried over timing from the original")
	}

	// The original record survives alongside the retry.
	if _, ok := s.Execution(origID); !ok {
		t.Error("original execution removed by retry")
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	s := NewScheduler(instantRunner{}, nil, nil, 1)
	defer s.Close()

	created, err := s.Submit(request("d1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "execution completed", func() bool {
		ex, _ := s.Execution(created[0].ID)
		return ex.Status == models.ExecutionCompleted
	})

	if _, err := s.Retry(created[0].ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry on completed: err = %v, want ErrNotRetryable", err)
	}
	if _, err := s.Retry("no-such-id"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("Retry on unknown id: err = %v, want ErrExecutionNotFound", err)
	}
}

// New executions are created pending; the returned snapshots reflect that
// state even when they cannot start because every slot is occupied.
func TestNewExecutionsStartPending(t *testing.T) {
	r := newBlockingRunner()
	r.err = errors.New("exit status 1")
	s := NewScheduler(r, nil, nil, 1)
	defer s.Close()

	created, err := s.Submit(request("d1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created[0].Status != models.ExecutionPending {
		t.Errorf("submit snapshot status = %q, want pending", created[0].Status)
	}
	origID := created[0].ID

	r.nextStarted(t)
	r.releaseOne(t)
	waitFor(t, "execution failed", func() bool {
		ex, _ := s.Execution(origID)
		return ex.Status == models.ExecutionFailed
	})

	// Occupy the only slot so the retry has to wait.
	if _, err := s.Submit(request("d2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r.nextStarted(t)

	retry, err := s.Retry(origID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.Status != models.ExecutionPending {
		t.Errorf("retry snapshot status = %q, want pending", retry.Status)
	}

	// In the registry the retry has been enqueued and waits for a slot.
	stored, ok := s.Execution(retry.ID)
	if !ok {
		t.Fatal("retry not tracked")
	}
	if stored.Status != models.ExecutionQueued {
		t.Errorf("stored retry status = %q, want queued", stored.Status)
	}
	r.assertNoStart(t)
}

func TestQueryFilters(t *testing.T) {
	s := NewScheduler(instantRunner{}, nil, nil, 4)
	defer s.Close()

	if _, err := s.Submit(request("d1", "d2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	other := request("d1")
	other.ScriptID = "script-2"
	if _, err := s.Submit(other); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "all completed", func() bool {
		return len(s.ExecutionsByStatus(models.ExecutionCompleted)) == 3
	})

	if got := len(s.DeviceExecutions("d1")); got != 2 {
		t.Errorf("DeviceExecutions(d1) = %d, want 2", got)
	}
	if got := len(s.ScriptExecutions("script-2")); got != 1 {
		t.Errorf("ScriptExecutions(script-2) = %d, want 1", got)
	}
	if got := len(s.Executions()); got != 3 {
		t.Errorf("Executions() = %d, want 3", got)
	}
}

func TestPurgeRemovesOldTerminalExecutions(t *testing.T) {
	s := NewScheduler(instantRunner{}, nil, nil, 1)
	defer s.Close()

	created, err := s.Submit(request("d1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "execution completed", func() bool {
		ex, _ := s.Execution(created[0].ID)
		return ex.Status == models.ExecutionCompleted
	})

	// Nothing is old enough yet.
	if removed := s.Purge(0); removed != 0 {
		t.Errorf("Purge removed %d, want 0", removed)
	}

	s.mu.Lock()
	s.nowFn = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	s.mu.Unlock()

	if removed := s.Purge(0); removed != 1 {
		t.Errorf("Purge removed %d, want 1", removed)
	}
	if _, ok := s.Execution(created[0].ID); ok {
		t.Error("purged execution still present")
	}
}

func TestExecutionLifecycleEvents(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := bus.Subscribe("test", 16)

	s := NewScheduler(instantRunner{}, bus, nil, 1)
	defer s.Close()

	if _, err := s.Submit(request("d1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	want := []events.Kind{
		events.KindExecutionQueued,
		events.KindExecutionStarted,
		events.KindExecutionCompleted,
	}
	for _, kind := range want {
		select {
		case ev := <-sub:
			if ev.EventKind() != kind {
				t.Fatalf("event kind = %q, want %q", ev.EventKind(), kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q event", kind)
		}
	}
}
