// Package notifier provides notification dispatching for alerts. A
// Dispatcher holds the channel registry and fans each alert out to its
// configured channels concurrently; one channel's failure never prevents or
// delays delivery to the others, and per-channel outcomes are emitted as
// events. Retry is not this package's responsibility.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/copperline-io/opswatch/internal/events"
	"github.com/copperline-io/opswatch/internal/metrics"
	"github.com/copperline-io/opswatch/internal/models"
)

// ErrRateLimited is returned when a dispatch is dropped due to rate limiting.
var ErrRateLimited = errors.New("notification rate limited")

// ErrChannelNotFound is returned by TestChannel for an unknown channel id.
var ErrChannelNotFound = errors.New("notification channel not found")

// ErrNoSender is returned by TestChannel when the channel exists but no
// sender is registered for its type.
var ErrNoSender = errors.New("no sender registered for channel type")

// Sender delivers one alert to one configured channel. Implementations cover
// a single channel type and interpret that type's config bag.
type Sender interface {
	// Type returns the channel type this sender handles.
	Type() models.ChannelType
	// Send delivers the alert. It must respect ctx cancellation.
	Send(ctx context.Context, alert *models.Alert, channel *models.NotificationChannel) error
}

// RateLimitConfig bounds how many dispatches are attempted per time window,
// guarding downstream providers against alert storms.
type RateLimitConfig struct {
	PerMinute int  // dispatches allowed per minute (default: 60)
	Burst     int  // burst allowance (default: 10)
	Enabled   bool // whether rate limiting is applied (default: true)
}

// DefaultRateLimitConfig returns the default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerMinute: 60,
		Burst:     10,
		Enabled:   true,
	}
}

// sendTimeout bounds a single channel send.
const sendTimeout = 30 * time.Second

// Dispatcher routes alerts to notification channels.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]*models.NotificationChannel
	senders  map[models.ChannelType]Sender

	limiter *rate.Limiter
	bus     *events.Bus
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with default rate limiting and the
// default sender set. Outcomes are published to bus; a nil logger disables
// logging.
func NewDispatcher(bus *events.Bus, logger *zap.Logger) *Dispatcher {
	return NewDispatcherWithRateLimit(bus, logger, DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limiting.
func NewDispatcherWithRateLimit(bus *events.Bus, logger *zap.Logger, cfg RateLimitConfig) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	d := &Dispatcher{
		channels: make(map[string]*models.NotificationChannel),
		senders:  make(map[models.ChannelType]Sender),
		bus:      bus,
		logger:   logger,
	}
	if cfg.Enabled {
		d.limiter = rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), cfg.Burst)
	}
	for _, s := range defaultSenders() {
		d.RegisterSender(s)
	}
	return d
}

// RegisterSender installs (or replaces) the sender for a channel type.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Type()] = s
}

// LoadChannels replaces the registry with the given channels. Disabled
// channels are skipped.
func (d *Dispatcher) LoadChannels(channels []*models.NotificationChannel) error {
	for _, ch := range channels {
		if err := ch.Validate(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.channels = make(map[string]*models.NotificationChannel, len(channels))
	for _, ch := range channels {
		if ch.Enabled {
			d.channels[ch.ID] = ch
		}
	}
	return nil
}

// AddChannel inserts a channel into the registry.
func (d *Dispatcher) AddChannel(ch *models.NotificationChannel) error {
	if err := ch.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.ID] = ch
	return nil
}

// UpdateChannel replaces a channel in the registry.
func (d *Dispatcher) UpdateChannel(ch *models.NotificationChannel) error {
	return d.AddChannel(ch)
}

// RemoveChannel removes a channel by id.
func (d *Dispatcher) RemoveChannel(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, id)
}

// Channel returns a channel by id.
func (d *Dispatcher) Channel(id string) (*models.NotificationChannel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	return ch, ok
}

// Channels returns a snapshot of the registry.
func (d *Dispatcher) Channels() []*models.NotificationChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.NotificationChannel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}

// Dispatch fans an alert out to the named channels. Channels that are
// missing, disabled, or belong to another organization are skipped with a
// warning. All remaining sends run concurrently and independently; Dispatch
// returns once they are started, and each outcome is published as a
// NotificationResult event. Returns ErrRateLimited if the dispatch was
// dropped by the rate limiter.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, channelIDs []string, organizationID string) error {
	if len(channelIDs) == 0 {
		return nil
	}

	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Warn("notification dispatch rate limited",
			zap.String("alert_id", alert.ID))
		return ErrRateLimited
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range channelIDs {
		ch, ok := d.channels[id]
		if !ok || ch.OrganizationID != organizationID {
			d.logger.Warn("notification channel not found or organization mismatch",
				zap.String("channel_id", id),
				zap.String("alert_id", alert.ID))
			metrics.NotificationsSkipped.Inc()
			continue
		}

		sender, ok := d.senders[ch.Type]
		if !ok {
			d.logger.Warn("no sender registered for channel type",
				zap.String("channel_id", ch.ID),
				zap.String("channel_type", string(ch.Type)))
			metrics.NotificationsSkipped.Inc()
			continue
		}

		d.wg.Add(1)
		go d.send(ctx, sender, alert, ch)
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sender Sender, alert *models.Alert, ch *models.NotificationChannel) {
	defer d.wg.Done()

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := sender.Send(sctx, alert, ch)
	if err != nil {
		d.logger.Error("notification send failed",
			zap.String("channel_id", ch.ID),
			zap.String("channel_type", string(ch.Type)),
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		metrics.NotificationsTotal.WithLabelValues(string(ch.Type), "failure").Inc()
	} else {
		metrics.NotificationsTotal.WithLabelValues(string(ch.Type), "success").Inc()
	}

	if d.bus != nil {
		d.bus.Publish(events.NotificationResult{
			Alert:       alert,
			ChannelID:   ch.ID,
			ChannelType: ch.Type,
			Err:         err,
		})
	}
}

// TestChannel synchronously sends a canned low-severity alert through the
// channel's sender, returning whether the send succeeded. Used by the
// management surface's "test notification" action.
func (d *Dispatcher) TestChannel(ctx context.Context, channelID string) (bool, error) {
	d.mu.RLock()
	ch, ok := d.channels[channelID]
	var sender Sender
	var haveSender bool
	if ok {
		sender, haveSender = d.senders[ch.Type]
	}
	d.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if !haveSender {
		return false, fmt.Errorf("%w: %s", ErrNoSender, ch.Type)
	}

	testAlert := &models.Alert{
		ID:             "test-alert",
		RuleID:         "test-rule",
		DeviceID:       "test-device",
		Metric:         models.MetricCPU,
		Severity:       models.SeverityInfo,
		Message:        "This is a test alert from OpsWatch",
		CurrentValue:   50,
		Threshold:      80,
		Condition:      models.ConditionGT.Text(),
		TriggeredAt:    time.Now(),
		OrganizationID: ch.OrganizationID,
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := sender.Send(sctx, testAlert, ch); err != nil {
		d.logger.Warn("channel test failed",
			zap.String("channel_id", channelID), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Close waits for all in-flight sends to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
