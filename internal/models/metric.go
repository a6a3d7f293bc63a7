// Package models defines the core data types shared across OpsWatch
// components: metric samples, alert rules, alerts, notification channels,
// and script executions.
package models

import "time"

// Well-known metric names. Samples may carry any subset of these plus
// arbitrary custom metrics.
const (
	MetricCPU     = "cpu"
	MetricMemory  = "memory"
	MetricDisk    = "disk"
	MetricNetwork = "network"
	MetricUptime  = "uptime"
)

// MetricSample is a single point-in-time set of metric values reported for
// one device. Samples are consumed once by the evaluator and not retained.
type MetricSample struct {
	DeviceID       string             `json:"deviceId" yaml:"device_id"`
	OrganizationID string             `json:"organizationId" yaml:"organization_id"`
	Timestamp      time.Time          `json:"timestamp" yaml:"timestamp"`
	Metrics        map[string]float64 `json:"metrics" yaml:"metrics"`
}

// Value returns the named metric value and whether it is present.
func (s *MetricSample) Value(name string) (float64, bool) {
	v, ok := s.Metrics[name]
	return v, ok
}

// MetricUnit returns the display unit for a well-known metric name, or an
// empty string for custom metrics.
func MetricUnit(metric string) string {
	switch metric {
	case MetricCPU, MetricMemory, MetricDisk:
		return "%"
	case MetricNetwork:
		return " Mbps"
	case MetricUptime:
		return " seconds"
	default:
		return ""
	}
}
