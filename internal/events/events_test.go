package events

import (
	"errors"
	"testing"

	"github.com/copperline-io/opswatch/internal/models"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	a := bus.Subscribe("a", 4)
	b := bus.Subscribe("b", 4)

	ev := AlertFired{Alert: &models.Alert{ID: "alert-1"}, Channels: []string{"ch-1"}}
	bus.Publish(ev)

	for _, ch := range []<-chan Event{a, b} {
		select {
		case got := <-ch:
			fired, ok := got.(AlertFired)
			if !ok {
				t.Fatalf("got %T, want AlertFired", got)
			}
			if fired.Alert.ID != "alert-1" {
				t.Errorf("alert id = %q", fired.Alert.ID)
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	bus.Subscribe("slow", 1)

	ev := ExecutionTransition{Execution: models.ScriptExecution{Status: models.ExecutionQueued}}
	bus.Publish(ev)
	bus.Publish(ev) // buffer full, dropped
	bus.Publish(ev) // dropped

	if got := bus.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestResubscribeReplacesChannel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	old := bus.Subscribe("consumer", 1)
	fresh := bus.Subscribe("consumer", 1)

	if _, ok := <-old; ok {
		t.Error("previous channel should be closed")
	}

	bus.Publish(AlertFired{Alert: &models.Alert{ID: "alert-1"}})
	select {
	case <-fresh:
	default:
		t.Error("replacement channel did not receive event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch := bus.Subscribe("consumer", 1)
	bus.Unsubscribe("consumer")

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe neither panics nor counts drops.
	bus.Publish(AlertFired{Alert: &models.Alert{ID: "alert-1"}})
	if got := bus.Dropped(); got != 0 {
		t.Errorf("dropped = %d, want 0", got)
	}
}

func TestCloseStopsPublishing(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe("consumer", 1)

	bus.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	bus.Publish(AlertFired{Alert: &models.Alert{ID: "alert-1"}}) // no-op
	bus.Close()                                                  // idempotent
}

func TestNotificationResultKind(t *testing.T) {
	ok := NotificationResult{ChannelID: "ch-1"}
	if ok.EventKind() != KindNotificationSent {
		t.Errorf("kind = %q, want %q", ok.EventKind(), KindNotificationSent)
	}

	failed := NotificationResult{ChannelID: "ch-1", Err: errors.New("timeout")}
	if failed.EventKind() != KindNotificationFailed {
		t.Errorf("kind = %q, want %q", failed.EventKind(), KindNotificationFailed)
	}
}

func TestExecutionTransitionKind(t *testing.T) {
	tests := []struct {
		status models.ExecutionStatus
		want   Kind
	}{
		{models.ExecutionQueued, KindExecutionQueued},
		{models.ExecutionRunning, KindExecutionStarted},
		{models.ExecutionCompleted, KindExecutionCompleted},
		{models.ExecutionFailed, KindExecutionFailed},
		{models.ExecutionTimeout, KindExecutionTimeout},
		{models.ExecutionCancelled, KindExecutionCancelled},
	}
	for _, tt := range tests {
		ev := ExecutionTransition{Execution: models.ScriptExecution{Status: tt.status}}
		if got := ev.EventKind(); got != tt.want {
			t.Errorf("status %q: kind = %q, want %q", tt.status, got, tt.want)
		}
	}
}
