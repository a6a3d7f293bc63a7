package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/copperline-io/opswatch/internal/events"
	"github.com/copperline-io/opswatch/internal/models"
)

// fakeSender records sends and fails on demand.
type fakeSender struct {
	mu      sync.Mutex
	kind    models.ChannelType
	sent    []string // channel ids
	failFor map[string]error
}

func newFakeSender(kind models.ChannelType) *fakeSender {
	return &fakeSender{kind: kind, failFor: make(map[string]error)}
}

func (f *fakeSender) Type() models.ChannelType { return f.kind }

func (f *fakeSender) Send(ctx context.Context, alert *models.Alert, ch *models.NotificationChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ch.ID)
	return f.failFor[ch.ID]
}

func (f *fakeSender) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testChannel(id string, kind models.ChannelType, org string) *models.NotificationChannel {
	return &models.NotificationChannel{
		ID:             id,
		Type:           kind,
		Name:           id,
		Config:         map[string]string{},
		Enabled:        true,
		OrganizationID: org,
	}
}

func testAlertFor(org string) *models.Alert {
	return &models.Alert{
		ID:             "alert-1",
		RuleID:         "rule-1",
		DeviceID:       "dev-1",
		Metric:         models.MetricCPU,
		Severity:       models.SeverityWarning,
		Message:        "High CPU: cpu is 95% (greater than 90%)",
		CurrentValue:   95,
		Threshold:      90,
		Condition:      "greater than",
		TriggeredAt:    time.Now(),
		OrganizationID: org,
	}
}

func newTestDispatcher(t *testing.T, bus *events.Bus, channels ...*models.NotificationChannel) (*Dispatcher, *fakeSender) {
	t.Helper()
	d := NewDispatcherWithRateLimit(bus, nil, RateLimitConfig{Enabled: false})
	fake := newFakeSender(models.ChannelWebhook)
	d.RegisterSender(fake)
	if err := d.LoadChannels(channels); err != nil {
		t.Fatalf("LoadChannels: %v", err)
	}
	return d, fake
}

func collectResults(ch <-chan events.Event, n int, timeout time.Duration) []events.NotificationResult {
	var out []events.NotificationResult
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			if res, ok := ev.(events.NotificationResult); ok {
				out = append(out, res)
			}
		case <-deadline:
			return out
		}
	}
	return out
}

func TestDispatchFansOutToAllChannels(t *testing.T) {
	bus := events.NewBus(nil)
	sub := bus.Subscribe("test", 10)

	d, fake := newTestDispatcher(t, bus,
		testChannel("ch-1", models.ChannelWebhook, "org-1"),
		testChannel("ch-2", models.ChannelWebhook, "org-1"),
	)
	defer d.Close()

	err := d.Dispatch(context.Background(), testAlertFor("org-1"), []string{"ch-1", "ch-2"}, "org-1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	results := collectResults(sub, 2, 2*time.Second)
	if len(results) != 2 {
		t.Fatalf("got %d outcome events, want 2", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("channel %s: unexpected error %v", res.ChannelID, res.Err)
		}
	}
	if got := fake.sentIDs(); len(got) != 2 {
		t.Errorf("sender invoked %d times, want 2", len(got))
	}
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	bus := events.NewBus(nil)
	sub := bus.Subscribe("test", 10)

	d, fake := newTestDispatcher(t, bus,
		testChannel("ch-ok", models.ChannelWebhook, "org-1"),
		testChannel("ch-bad", models.ChannelWebhook, "org-1"),
	)
	defer d.Close()
	fake.failFor["ch-bad"] = errors.New("provider rejected")

	if err := d.Dispatch(context.Background(), testAlertFor("org-1"), []string{"ch-bad", "ch-ok"}, "org-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	results := collectResults(sub, 2, 2*time.Second)
	if len(results) != 2 {
		t.Fatalf("got %d outcome events, want 2", len(results))
	}

	var sent, failed int
	for _, res := range results {
		switch res.EventKind() {
		case events.KindNotificationSent:
			sent++
			if res.ChannelID != "ch-ok" {
				t.Errorf("success reported for %s", res.ChannelID)
			}
		case events.KindNotificationFailed:
			failed++
			if res.ChannelID != "ch-bad" {
				t.Errorf("failure reported for %s", res.ChannelID)
			}
			if res.ChannelType != models.ChannelWebhook {
				t.Errorf("failure event missing channel type")
			}
		}
	}
	if sent != 1 || failed != 1 {
		t.Errorf("sent=%d failed=%d, want 1/1", sent, failed)
	}
}

func TestDispatchSkipsMissingAndForeignChannels(t *testing.T) {
	d, fake := newTestDispatcher(t, nil,
		testChannel("ch-mine", models.ChannelWebhook, "org-1"),
		testChannel("ch-theirs", models.ChannelWebhook, "org-2"),
	)
	defer d.Close()

	err := d.Dispatch(context.Background(), testAlertFor("org-1"),
		[]string{"ch-mine", "ch-theirs", "ch-ghost"}, "org-1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Close()

	got := fake.sentIDs()
	if len(got) != 1 || got[0] != "ch-mine" {
		t.Fatalf("sent to %v, want only ch-mine", got)
	}
}

func TestDispatchRateLimited(t *testing.T) {
	d := NewDispatcherWithRateLimit(nil, nil, RateLimitConfig{
		PerMinute: 1,
		Burst:     1,
		Enabled:   true,
	})
	fake := newFakeSender(models.ChannelWebhook)
	d.RegisterSender(fake)
	if err := d.LoadChannels([]*models.NotificationChannel{
		testChannel("ch-1", models.ChannelWebhook, "org-1"),
	}); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	alert := testAlertFor("org-1")
	if err := d.Dispatch(context.Background(), alert, []string{"ch-1"}, "org-1"); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), alert, []string{"ch-1"}, "org-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second dispatch err = %v, want ErrRateLimited", err)
	}
}

func TestLoadChannelsSkipsDisabled(t *testing.T) {
	disabled := testChannel("ch-off", models.ChannelWebhook, "org-1")
	disabled.Enabled = false

	d, _ := newTestDispatcher(t, nil, disabled)
	defer d.Close()

	if _, ok := d.Channel("ch-off"); ok {
		t.Fatal("disabled channel present in registry")
	}
}

func TestTestChannel(t *testing.T) {
	d, fake := newTestDispatcher(t, nil, testChannel("ch-1", models.ChannelWebhook, "org-1"))
	defer d.Close()

	ok, err := d.TestChannel(context.Background(), "ch-1")
	if err != nil || !ok {
		t.Fatalf("TestChannel = (%v, %v), want (true, nil)", ok, err)
	}
	if got := fake.sentIDs(); len(got) != 1 {
		t.Fatalf("sender invoked %d times, want 1", len(got))
	}

	fake.failFor["ch-1"] = errors.New("boom")
	ok, err = d.TestChannel(context.Background(), "ch-1")
	if err != nil || ok {
		t.Fatalf("TestChannel with failing sender = (%v, %v), want (false, nil)", ok, err)
	}

	if _, err = d.TestChannel(context.Background(), "ch-ghost"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("TestChannel unknown id err = %v, want ErrChannelNotFound", err)
	}
}

func TestTestChannelWithoutSender(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, testChannel("ch-sms", models.ChannelSMS, "org-1"))
	defer d.Close()

	d.mu.Lock()
	delete(d.senders, models.ChannelSMS)
	d.mu.Unlock()

	ok, err := d.TestChannel(context.Background(), "ch-sms")
	if ok {
		t.Error("TestChannel succeeded without a sender")
	}
	if !errors.Is(err, ErrNoSender) {
		t.Errorf("err = %v, want ErrNoSender", err)
	}
	if errors.Is(err, ErrChannelNotFound) {
		t.Error("missing sender misreported as missing channel")
	}
}

func TestChannelRegistryOps(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	defer d.Close()

	ch := testChannel("ch-1", models.ChannelWebhook, "org-1")
	if err := d.AddChannel(ch); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}

	updated := testChannel("ch-1", models.ChannelWebhook, "org-1")
	updated.Name = "renamed"
	if err := d.UpdateChannel(updated); err != nil {
		t.Fatalf("UpdateChannel: %v", err)
	}
	got, ok := d.Channel("ch-1")
	if !ok || got.Name != "renamed" {
		t.Fatalf("Channel after update = %+v, ok=%v", got, ok)
	}

	d.RemoveChannel("ch-1")
	if _, ok := d.Channel("ch-1"); ok {
		t.Fatal("channel still present after removal")
	}

	bad := testChannel("", models.ChannelWebhook, "org-1")
	if err := d.AddChannel(bad); err == nil {
		t.Fatal("expected validation error for empty channel id")
	}
}
