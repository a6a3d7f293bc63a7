package models

import "time"

// ExecutionStatus is the state of a tracked script execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is absorbing: once reached, the
// execution never changes state again.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionTimeout, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// ExecutionPriority controls queue placement. High-priority requests are
// inserted at the front of the queue, everything else is appended.
type ExecutionPriority string

const (
	PriorityLow    ExecutionPriority = "low"
	PriorityNormal ExecutionPriority = "normal"
	PriorityHigh   ExecutionPriority = "high"
)

// ExecutionRequest asks the scheduler to run one script on a set of devices.
type ExecutionRequest struct {
	ScriptID       string            `json:"scriptId"`
	DeviceIDs      []string          `json:"deviceIds"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	ExecutedBy     string            `json:"executedBy"`
	OrganizationID string            `json:"organizationId"`
	// Timeout is the per-execution time limit in seconds. Zero uses the
	// scheduler default.
	Timeout  int               `json:"timeout,omitempty"`
	RunAs    string            `json:"runAs,omitempty"`
	Priority ExecutionPriority `json:"priority,omitempty"`
}

// ExecutionMetadata carries request options attached to each execution.
type ExecutionMetadata struct {
	Timeout  int               `json:"timeout"`
	RunAs    string            `json:"runAs,omitempty"`
	Priority ExecutionPriority `json:"priority"`
}

// ScriptExecution is one tracked attempt to run a script on one device.
// It is mutated only by the scheduling loop.
type ScriptExecution struct {
	ID             string            `json:"id"`
	ScriptID       string            `json:"scriptId"`
	DeviceID       string            `json:"deviceId"`
	ExecutedBy     string            `json:"executedBy"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Status         ExecutionStatus   `json:"status"`
	Output         string            `json:"output,omitempty"`
	ErrorOutput    string            `json:"errorOutput,omitempty"`
	ExitCode       *int              `json:"exitCode,omitempty"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Duration       time.Duration     `json:"duration,omitempty"`
	OrganizationID string            `json:"organizationId"`
	Metadata       ExecutionMetadata `json:"metadata"`
}
