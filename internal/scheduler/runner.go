package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/copperline-io/opswatch/internal/models"
)

// Result is what a Runner reports for a finished script.
type Result struct {
	Output   string
	ExitCode int
}

// Runner executes one script on one device. Run must honor ctx: when the
// deadline passes or the execution is cancelled, it should return promptly
// with ctx.Err().
type Runner interface {
	Run(ctx context.Context, execution models.ScriptExecution) (Result, error)
}

// SimulatedRunner is a development stand-in for agent-backed execution.
// It sleeps for a randomized interval and reports a randomized outcome.
// Replace it with a transport-backed Runner to run real scripts.
type SimulatedRunner struct {
	// MinDelay and MaxDelay bound the simulated execution time.
	MinDelay time.Duration
	MaxDelay time.Duration
	// FailureRate is the probability in [0,1] that a run reports failure.
	FailureRate float64
}

// NewSimulatedRunner returns a runner with 1-6s simulated runs and a 10%
// failure rate, matching typical short script workloads.
func NewSimulatedRunner() *SimulatedRunner {
	return &SimulatedRunner{
		MinDelay:    time.Second,
		MaxDelay:    6 * time.Second,
		FailureRate: 0.1,
	}
}

// Run simulates executing the script.
func (r *SimulatedRunner) Run(ctx context.Context, execution models.ScriptExecution) (Result, error) {
	delay := r.MinDelay
	if r.MaxDelay > r.MinDelay {
		delay += time.Duration(rand.Int63n(int64(r.MaxDelay - r.MinDelay)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
	}

	if rand.Float64() < r.FailureRate {
		return Result{ExitCode: 1}, errors.New("simulated error: command not found")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Script executed successfully on device %s\n", execution.DeviceID)
	fmt.Fprintf(&b, "Parameters: %s\n", formatParameters(execution.Parameters))
	b.WriteString("Exit code: 0\n")
	return Result{Output: b.String(), ExitCode: 0}, nil
}

func formatParameters(params map[string]string) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", k, params[k])
	}
	b.WriteByte('}')
	return b.String()
}
