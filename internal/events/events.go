// Package events defines the typed event contract connecting the evaluator,
// dispatcher, and scheduler to their consumers (the realtime hub and any
// external persistence layer), and a small fan-out bus that delivers events
// to named subscribers over buffered channels.
package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/copperline-io/opswatch/internal/models"
)

// Kind tags the event variant.
type Kind string

const (
	KindAlertFired         Kind = "alert_fired"
	KindNotificationSent   Kind = "notification_sent"
	KindNotificationFailed Kind = "notification_failed"
	KindExecutionQueued    Kind = "execution_queued"
	KindExecutionStarted   Kind = "execution_started"
	KindExecutionCompleted Kind = "execution_completed"
	KindExecutionFailed    Kind = "execution_failed"
	KindExecutionTimeout   Kind = "execution_timeout"
	KindExecutionCancelled Kind = "execution_cancelled"
)

// Event is implemented by every event variant.
type Event interface {
	EventKind() Kind
}

// AlertFired is emitted by the evaluator when a rule fires. Channels carries
// the firing rule's notification-channel ids so consumers can dispatch
// without a registry lookup.
type AlertFired struct {
	Alert    *models.Alert
	Channels []string
}

func (AlertFired) EventKind() Kind { return KindAlertFired }

// NotificationResult is emitted by the dispatcher once per attempted channel
// send. Err is nil on success.
type NotificationResult struct {
	Alert       *models.Alert
	ChannelID   string
	ChannelType models.ChannelType
	Err         error
}

func (r NotificationResult) EventKind() Kind {
	if r.Err != nil {
		return KindNotificationFailed
	}
	return KindNotificationSent
}

// ExecutionTransition is emitted by the scheduler on every state change.
// Execution is a snapshot taken at transition time.
type ExecutionTransition struct {
	Execution models.ScriptExecution
}

func (t ExecutionTransition) EventKind() Kind {
	switch t.Execution.Status {
	case models.ExecutionRunning:
		return KindExecutionStarted
	case models.ExecutionCompleted:
		return KindExecutionCompleted
	case models.ExecutionFailed:
		return KindExecutionFailed
	case models.ExecutionTimeout:
		return KindExecutionTimeout
	case models.ExecutionCancelled:
		return KindExecutionCancelled
	default:
		return KindExecutionQueued
	}
}

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 100

// Bus fans events out to named subscribers. Publishing never blocks: a
// subscriber that falls behind has events dropped and counted against it.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	closed  bool
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewBus creates an event bus. A nil logger disables logging.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string]chan Event),
		logger: logger,
	}
}

// Subscribe registers a named subscriber and returns its event channel.
// Re-subscribing under an existing name replaces the previous subscription
// and closes its channel.
func (b *Bus) Subscribe(name string, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.subs[name]; ok {
		close(prev)
	}
	b.subs[name] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped := b.dropped.Add(1)
			if dropped == 1 || dropped%100 == 0 {
				b.logger.Warn("event subscriber falling behind, dropping events",
					zap.String("subscriber", name),
					zap.String("kind", string(ev.EventKind())),
					zap.Int64("dropped_total", dropped))
			}
		}
	}
}

// Dropped returns the total number of events dropped across all subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subs {
		delete(b.subs, name)
		close(ch)
	}
}
