// Package alerting provides the stateful alert-rule evaluator. It matches
// metric samples against rule conditions with duration (condition must hold
// continuously) and cooldown (suppression after firing) hysteresis.
//
// Duration state is tracked per (rule, device); cooldown is tracked per rule.
// Both live in process memory: running more than one evaluator instance over
// the same rule set will produce duplicate alerts.
package alerting

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copperline-io/opswatch/internal/events"
	"github.com/copperline-io/opswatch/internal/metrics"
	"github.com/copperline-io/opswatch/internal/models"
)

// Engine evaluates metric samples against the active rule registry.
// Only enabled rules are ever present in the registry.
type Engine struct {
	mu sync.Mutex

	rules map[string]*models.AlertRule

	// conditionStart tracks when a rule's condition first became true for a
	// device. Cleared when the condition evaluates false; deliberately not
	// cleared on firing.
	conditionStart map[stateKey]time.Time

	// lastFired tracks the most recent firing time per rule (not per
	// device) for cooldown suppression.
	lastFired map[string]time.Time

	bus    *events.Bus
	logger *zap.Logger
	stats  EngineStats
}

// stateKey identifies the (rule, device) pair a duration start belongs to.
type stateKey struct {
	ruleID   string
	deviceID string
}

// EngineStats tracks evaluator counters using atomics for lock-free reads.
type EngineStats struct {
	SamplesEvaluated atomic.Int64
	AlertsFired      atomic.Int64
	AlertsSuppressed atomic.Int64
}

// NewEngine creates an evaluator with an empty rule registry. Fired alerts
// are published to bus as AlertFired events in addition to being returned
// from Evaluate. A nil logger disables logging.
func NewEngine(bus *events.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:          make(map[string]*models.AlertRule),
		conditionStart: make(map[stateKey]time.Time),
		lastFired:      make(map[string]time.Time),
		bus:            bus,
		logger:         logger,
	}
}

// LoadRules replaces the registry with the given rules. Disabled rules are
// skipped, duration and cooldown state is cleared.
func (e *Engine) LoadRules(rules []*models.AlertRule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[string]*models.AlertRule, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			e.rules[rule.ID] = rule
		}
	}
	e.conditionStart = make(map[stateKey]time.Time)
	e.lastFired = make(map[string]time.Time)
	return nil
}

// AddRule inserts an enabled rule into the registry. Adding a disabled rule
// removes any active rule with the same id.
func (e *Engine) AddRule(rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !rule.Enabled {
		e.removeLocked(rule.ID)
		return nil
	}
	e.rules[rule.ID] = rule
	return nil
}

// UpdateRule replaces a rule in the registry. Disabling a rule removes it.
func (e *Engine) UpdateRule(rule *models.AlertRule) error {
	return e.AddRule(rule)
}

// RemoveRule removes a rule and its tracked state. Returns whether a rule
// with that id was active.
func (e *Engine) RemoveRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.rules[ruleID]
	e.removeLocked(ruleID)
	return ok
}

func (e *Engine) removeLocked(ruleID string) {
	delete(e.rules, ruleID)
	delete(e.lastFired, ruleID)
	for key := range e.conditionStart {
		if key.ruleID == ruleID {
			delete(e.conditionStart, key)
		}
	}
}

// Rule returns one active rule by id.
func (e *Engine) Rule(ruleID string) (*models.AlertRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[ruleID]
	return rule, ok
}

// Rules returns a snapshot of the active registry.
func (e *Engine) Rules() []*models.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.AlertRule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	return out
}

// DeviceRules returns the active rules that apply to a device: unscoped
// rules plus rules scoped to that device.
func (e *Engine) DeviceRules(deviceID string) []*models.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*models.AlertRule
	for _, rule := range e.rules {
		if rule.DeviceID == "" || rule.DeviceID == deviceID {
			out = append(out, rule)
		}
	}
	return out
}

// ClearRules empties the registry and all tracked state.
func (e *Engine) ClearRules() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[string]*models.AlertRule)
	e.conditionStart = make(map[stateKey]time.Time)
	e.lastFired = make(map[string]time.Time)
}

// Evaluate evaluates a single metric sample against all active rules and
// returns the alerts it fires.
func (e *Engine) Evaluate(sample *models.MetricSample) []*models.Alert {
	return e.EvaluateAt(sample, time.Now())
}

// EvaluateAt evaluates a sample at a specific time (useful for testing).
func (e *Engine) EvaluateAt(sample *models.MetricSample, now time.Time) []*models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.SamplesEvaluated.Add(1)
	metrics.SamplesEvaluated.Inc()

	var alerts []*models.Alert
	for _, rule := range e.rules {
		if rule.OrganizationID != sample.OrganizationID {
			continue
		}
		if rule.DeviceID != "" && rule.DeviceID != sample.DeviceID {
			continue
		}

		value, ok := sample.Value(rule.Metric)
		if !ok {
			continue
		}

		key := stateKey{ruleID: rule.ID, deviceID: sample.DeviceID}

		if !e.conditionMet(rule, value) {
			delete(e.conditionStart, key)
			continue
		}

		if rule.Duration > 0 && !e.durationMet(key, rule.DurationWindow(), now) {
			continue
		}

		if e.onCooldown(rule, now) {
			e.stats.AlertsSuppressed.Add(1)
			metrics.AlertsSuppressed.Inc()
			continue
		}

		alert := e.buildAlert(rule, sample.DeviceID, value, now)
		e.lastFired[rule.ID] = now
		alerts = append(alerts, alert)

		e.stats.AlertsFired.Add(1)
		metrics.AlertsFired.WithLabelValues(string(alert.Severity)).Inc()
		e.logger.Info("alert fired",
			zap.String("rule_id", rule.ID),
			zap.String("device_id", sample.DeviceID),
			zap.String("metric", rule.Metric),
			zap.Float64("value", value),
			zap.Float64("threshold", rule.Threshold))

		if e.bus != nil {
			e.bus.Publish(events.AlertFired{
				Alert:    alert,
				Channels: rule.NotificationChannels,
			})
		}
	}

	return alerts
}

// conditionMet applies the rule's comparison operator. Comparisons are exact;
// eq in particular carries no tolerance. An unknown operator never fires and
// is logged as a configuration problem.
func (e *Engine) conditionMet(rule *models.AlertRule, value float64) bool {
	switch rule.Condition {
	case models.ConditionGT:
		return value > rule.Threshold
	case models.ConditionGTE:
		return value >= rule.Threshold
	case models.ConditionLT:
		return value < rule.Threshold
	case models.ConditionLTE:
		return value <= rule.Threshold
	case models.ConditionEQ:
		return value == rule.Threshold
	default:
		e.logger.Warn("unknown condition operator, rule will never fire",
			zap.String("rule_id", rule.ID),
			zap.String("condition", string(rule.Condition)))
		return false
	}
}

// durationMet records the first time the condition held for this (rule,
// device) and reports whether it has held continuously for at least window.
// The tracked start persists across firings; only a false sample clears it.
func (e *Engine) durationMet(key stateKey, window time.Duration, now time.Time) bool {
	start, ok := e.conditionStart[key]
	if !ok {
		e.conditionStart[key] = now
		return false
	}
	return now.Sub(start) >= window
}

// onCooldown reports whether the rule is still inside its cooldown window.
func (e *Engine) onCooldown(rule *models.AlertRule, now time.Time) bool {
	if rule.Cooldown <= 0 {
		return false
	}
	last, ok := e.lastFired[rule.ID]
	if !ok {
		return false
	}
	return now.Sub(last) < rule.CooldownWindow()
}

func (e *Engine) buildAlert(rule *models.AlertRule, deviceID string, value float64, now time.Time) *models.Alert {
	unit := models.MetricUnit(rule.Metric)
	conditionText := rule.Condition.Text()
	return &models.Alert{
		ID:       uuid.NewString(),
		RuleID:   rule.ID,
		DeviceID: deviceID,
		Metric:   rule.Metric,
		Severity: rule.Severity,
		Message: fmt.Sprintf("%s: %s is %g%s (%s %g%s)",
			rule.Name, rule.Metric, value, unit, conditionText, rule.Threshold, unit),
		CurrentValue:   value,
		Threshold:      rule.Threshold,
		Condition:      conditionText,
		TriggeredAt:    now,
		OrganizationID: rule.OrganizationID,
	}
}

// EngineStatsSnapshot is a point-in-time copy of evaluator counters.
type EngineStatsSnapshot struct {
	SamplesEvaluated int64
	AlertsFired      int64
	AlertsSuppressed int64
}

// Stats returns a snapshot of evaluator counters.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		SamplesEvaluated: e.stats.SamplesEvaluated.Load(),
		AlertsFired:      e.stats.AlertsFired.Load(),
		AlertsSuppressed: e.stats.AlertsSuppressed.Load(),
	}
}
