// Package scheduler queues and runs script executions with a bounded level
// of concurrency. Executions are tracked in memory for their full lifetime:
// pending -> queued -> running -> completed | failed | timeout | cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copperline-io/opswatch/internal/events"
	"github.com/copperline-io/opswatch/internal/metrics"
	"github.com/copperline-io/opswatch/internal/models"
)

const (
	// DefaultMaxConcurrent bounds simultaneous running executions.
	DefaultMaxConcurrent = 10
	// DefaultTimeoutSeconds applies when a request carries no timeout.
	DefaultTimeoutSeconds = 300
	// DefaultRetention is how long finished executions are kept before
	// Purge removes them.
	DefaultRetention = 30 * 24 * time.Hour
)

// ErrNotRetryable is returned by Retry for executions that did not fail.
var ErrNotRetryable = errors.New("only failed executions can be retried")

// ErrExecutionNotFound is returned when an execution id is unknown.
var ErrExecutionNotFound = errors.New("execution not found")

// QueueStatus is a point-in-time view of scheduler load.
type QueueStatus struct {
	Queued          int `json:"queued"`
	Running         int `json:"running"`
	MaxConcurrent   int `json:"maxConcurrent"`
	TotalExecutions int `json:"totalExecutions"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Cancelled       int `json:"cancelled"`
}

// Scheduler owns the execution registry, the two-tier queue, and the
// running set. All state is guarded by mu; executions are mutated only
// while it is held.
type Scheduler struct {
	mu            sync.Mutex
	executions    map[string]*models.ScriptExecution
	queue         []string
	running       map[string]struct{}
	cancels       map[string]context.CancelFunc
	maxConcurrent int

	runner Runner
	bus    *events.Bus
	logger *zap.Logger
	wg     sync.WaitGroup

	// nowFn is replaceable in tests.
	nowFn func() time.Time
}

// NewScheduler creates a scheduler. maxConcurrent <= 0 uses
// DefaultMaxConcurrent. A nil logger disables logging.
func NewScheduler(runner Runner, bus *events.Bus, logger *zap.Logger, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		executions:    make(map[string]*models.ScriptExecution),
		running:       make(map[string]struct{}),
		cancels:       make(map[string]context.CancelFunc),
		maxConcurrent: maxConcurrent,
		runner:        runner,
		bus:           bus,
		logger:        logger,
		nowFn:         time.Now,
	}
}

// Submit creates one execution per requested device, enqueues them, and
// starts as many as the concurrency bound allows. It returns snapshots of
// the created executions immediately; completion is reported through the
// event bus.
func (s *Scheduler) Submit(req models.ExecutionRequest) ([]models.ScriptExecution, error) {
	if req.ScriptID == "" {
		return nil, fmt.Errorf("submit: script id is required")
	}
	if len(req.DeviceIDs) == 0 {
		return nil, fmt.Errorf("submit: at least one device id is required")
	}
	if req.OrganizationID == "" {
		return nil, fmt.Errorf("submit: organization id is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]models.ScriptExecution, 0, len(req.DeviceIDs))
	for _, deviceID := range req.DeviceIDs {
		ex := &models.ScriptExecution{
			ID:             uuid.NewString(),
			ScriptID:       req.ScriptID,
			DeviceID:       deviceID,
			ExecutedBy:     req.ExecutedBy,
			Parameters:     req.Parameters,
			Status:         models.ExecutionPending,
			OrganizationID: req.OrganizationID,
			Metadata: models.ExecutionMetadata{
				Timeout:  timeout,
				RunAs:    req.RunAs,
				Priority: priority,
			},
		}
		s.executions[ex.ID] = ex

		// Snapshot while pending: callers see the as-created state.
		created = append(created, cloneExecution(ex))
		s.enqueueLocked(ex, priority == models.PriorityHigh)
	}

	metrics.QueueDepth.Set(float64(len(s.queue)))
	s.scheduleLocked()
	return created, nil
}

// enqueueLocked transitions a pending execution into the queue. front puts
// it ahead of all waiting work. Callers must hold mu.
func (s *Scheduler) enqueueLocked(ex *models.ScriptExecution, front bool) {
	ex.Status = models.ExecutionQueued
	if front {
		s.queue = append([]string{ex.ID}, s.queue...)
	} else {
		s.queue = append(s.queue, ex.ID)
	}
	s.publishLocked(ex)
}

// scheduleLocked starts queued executions until the queue drains or the
// concurrency bound is reached. Callers must hold mu.
func (s *Scheduler) scheduleLocked() {
	for len(s.queue) > 0 && len(s.running) < s.maxConcurrent {
		id := s.queue[0]
		s.queue = s.queue[1:]

		ex, ok := s.executions[id]
		if !ok || ex.Status != models.ExecutionQueued {
			continue
		}

		now := s.nowFn()
		ex.Status = models.ExecutionRunning
		ex.StartedAt = &now
		s.running[id] = struct{}{}

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(ex.Metadata.Timeout)*time.Second)
		s.cancels[id] = cancel

		metrics.ExecutionsRunning.Inc()
		s.publishLocked(ex)
		s.logger.Debug("execution started",
			zap.String("execution_id", id),
			zap.String("script_id", ex.ScriptID),
			zap.String("device_id", ex.DeviceID))

		snapshot := cloneExecution(ex)
		s.wg.Add(1)
		go s.run(ctx, snapshot)
	}
	metrics.QueueDepth.Set(float64(len(s.queue)))
}

// run executes a single script and records its outcome. If the execution
// was cancelled while running, its state is already terminal and the
// runner's return is discarded.
func (s *Scheduler) run(ctx context.Context, snapshot models.ScriptExecution) {
	defer s.wg.Done()

	result, err := s.runner.Run(ctx, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[snapshot.ID]; ok {
		delete(s.cancels, snapshot.ID)
		cancel()
	}

	ex, ok := s.executions[snapshot.ID]
	if !ok || ex.Status != models.ExecutionRunning {
		// Cancelled (or purged) while running; the slot was already freed.
		return
	}

	now := s.nowFn()
	ex.CompletedAt = &now
	if ex.StartedAt != nil {
		ex.Duration = now.Sub(*ex.StartedAt)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ex.Status = models.ExecutionTimeout
		ex.ErrorOutput = "script execution timed out"
	case errors.Is(err, context.Canceled):
		ex.Status = models.ExecutionCancelled
	case err != nil:
		ex.Status = models.ExecutionFailed
		ex.ErrorOutput = err.Error()
		ex.Output = result.Output
		code := result.ExitCode
		ex.ExitCode = &code
	default:
		ex.Status = models.ExecutionCompleted
		ex.Output = result.Output
		code := result.ExitCode
		ex.ExitCode = &code
	}

	delete(s.running, ex.ID)
	metrics.ExecutionsRunning.Dec()
	metrics.ExecutionsTotal.WithLabelValues(string(ex.Status)).Inc()
	s.publishLocked(ex)

	if ex.Status != models.ExecutionCompleted {
		s.logger.Warn("execution finished abnormally",
			zap.String("execution_id", ex.ID),
			zap.String("device_id", ex.DeviceID),
			zap.String("status", string(ex.Status)),
			zap.String("error_output", ex.ErrorOutput))
	}

	s.scheduleLocked()
}

// Cancel stops a queued or running execution. It reports whether the
// execution was cancelled; executions already in a terminal state (or
// unknown ids) return false. Cancelling a running execution frees its
// slot immediately.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.executions[id]
	if !ok {
		return false
	}

	switch ex.Status {
	case models.ExecutionPending, models.ExecutionQueued:
		for i, queued := range s.queue {
			if queued == id {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		s.finishCancelledLocked(ex)
		metrics.QueueDepth.Set(float64(len(s.queue)))
		return true

	case models.ExecutionRunning:
		delete(s.running, id)
		metrics.ExecutionsRunning.Dec()
		if cancel, ok := s.cancels[id]; ok {
			delete(s.cancels, id)
			cancel()
		}
		s.finishCancelledLocked(ex)
		s.scheduleLocked()
		return true

	default:
		return false
	}
}

func (s *Scheduler) finishCancelledLocked(ex *models.ScriptExecution) {
	now := s.nowFn()
	ex.Status = models.ExecutionCancelled
	ex.CompletedAt = &now
	if ex.StartedAt != nil {
		ex.Duration = now.Sub(*ex.StartedAt)
	}
	metrics.ExecutionsTotal.WithLabelValues(string(models.ExecutionCancelled)).Inc()
	s.publishLocked(ex)
	s.logger.Info("execution cancelled", zap.String("execution_id", ex.ID))
}

// Retry re-submits a failed execution as a fresh one with the same script,
// device, and parameters. The original record is kept. Only failed
// executions can be retried.
func (s *Scheduler) Retry(id string) (models.ScriptExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.executions[id]
	if !ok {
		return models.ScriptExecution{}, ErrExecutionNotFound
	}
	if ex.Status != models.ExecutionFailed {
		return models.ScriptExecution{}, ErrNotRetryable
	}

	retry := &models.ScriptExecution{
		ID:             uuid.NewString(),
		ScriptID:       ex.ScriptID,
		DeviceID:       ex.DeviceID,
		ExecutedBy:     ex.ExecutedBy,
		Parameters:     ex.Parameters,
		Status:         models.ExecutionPending,
		OrganizationID: ex.OrganizationID,
		Metadata:       ex.Metadata,
	}
	s.executions[retry.ID] = retry

	// Snapshot the as-created state; retries rejoin at the back of the
	// queue regardless of their original priority.
	snapshot := cloneExecution(retry)
	s.enqueueLocked(retry, false)
	metrics.QueueDepth.Set(float64(len(s.queue)))

	s.scheduleLocked()
	return snapshot, nil
}

// Execution returns a snapshot of one execution.
func (s *Scheduler) Execution(id string) (models.ScriptExecution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return models.ScriptExecution{}, false
	}
	return cloneExecution(ex), true
}

// DeviceExecutions returns snapshots of every execution for a device.
func (s *Scheduler) DeviceExecutions(deviceID string) []models.ScriptExecution {
	return s.filter(func(ex *models.ScriptExecution) bool {
		return ex.DeviceID == deviceID
	})
}

// ScriptExecutions returns snapshots of every execution of a script.
func (s *Scheduler) ScriptExecutions(scriptID string) []models.ScriptExecution {
	return s.filter(func(ex *models.ScriptExecution) bool {
		return ex.ScriptID == scriptID
	})
}

// ExecutionsByStatus returns snapshots of executions in the given state.
func (s *Scheduler) ExecutionsByStatus(status models.ExecutionStatus) []models.ScriptExecution {
	return s.filter(func(ex *models.ScriptExecution) bool {
		return ex.Status == status
	})
}

// Executions returns snapshots of all tracked executions.
func (s *Scheduler) Executions() []models.ScriptExecution {
	return s.filter(func(*models.ScriptExecution) bool { return true })
}

func (s *Scheduler) filter(keep func(*models.ScriptExecution) bool) []models.ScriptExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScriptExecution
	for _, ex := range s.executions {
		if keep(ex) {
			out = append(out, cloneExecution(ex))
		}
	}
	return out
}

// QueueStatus reports current scheduler load and lifetime counts.
func (s *Scheduler) QueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := QueueStatus{
		Queued:          len(s.queue),
		Running:         len(s.running),
		MaxConcurrent:   s.maxConcurrent,
		TotalExecutions: len(s.executions),
	}
	for _, ex := range s.executions {
		switch ex.Status {
		case models.ExecutionCompleted:
			st.Completed++
		case models.ExecutionFailed:
			st.Failed++
		case models.ExecutionCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Purge removes terminal executions whose completion is older than the
// retention window. retention <= 0 uses DefaultRetention. It returns the
// number of executions removed.
func (s *Scheduler) Purge(retention time.Duration) int {
	if retention <= 0 {
		retention = DefaultRetention
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFn().Add(-retention)
	removed := 0
	for id, ex := range s.executions {
		if !ex.Status.Terminal() || ex.CompletedAt == nil {
			continue
		}
		if ex.CompletedAt.Before(cutoff) {
			delete(s.executions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("purged old executions", zap.Int("removed", removed))
	}
	return removed
}

// Close cancels every running execution and waits for their runners to
// return. Queued executions stay queued; call Cancel on them first if a
// clean drain is required.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		delete(s.cancels, id)
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// publishLocked emits a state-change event with a snapshot taken under mu.
func (s *Scheduler) publishLocked(ex *models.ScriptExecution) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.ExecutionTransition{Execution: cloneExecution(ex)})
}

func cloneExecution(ex *models.ScriptExecution) models.ScriptExecution {
	cp := *ex
	if ex.ExitCode != nil {
		code := *ex.ExitCode
		cp.ExitCode = &code
	}
	if ex.StartedAt != nil {
		t := *ex.StartedAt
		cp.StartedAt = &t
	}
	if ex.CompletedAt != nil {
		t := *ex.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
