package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/inventory"
)

// Result is the outcome of one task or sub-task on one host. Task bodies
// may return a *Result to report Changed or Diff; the engine fills in Host,
// Name, Severity and the timestamps.
type Result struct {
	// Host is the host the task ran on.
	Host *inventory.Host

	// Name is the task name.
	Name string

	// Payload is whatever the task body returned.
	Payload any

	// Changed reports that the task modified the host.
	Changed bool

	// Diff describes the modification, if any.
	Diff string

	// Failed reports that the task failed.
	Failed bool

	// Err is the error captured from the task body.
	Err error

	// Severity is the task's severity, or zerolog.ErrorLevel when Failed.
	// Left at its zero value by a task body it is replaced by the task's
	// severity; use SetSeverity to report debug explicitly.
	Severity zerolog.Level

	// StartedAt is when the task body was invoked.
	StartedAt time.Time

	// FinishedAt is when the task body returned.
	FinishedAt time.Time

	severitySet bool
}

// SetSeverity fixes the severity of r, including zerolog.DebugLevel, so
// the task's severity does not replace it. Failed results are still
// reported at zerolog.ErrorLevel.
func (r *Result) SetSeverity(level zerolog.Level) *Result {
	r.Severity = level
	r.severitySet = true
	return r
}

// Duration returns how long the task body ran.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HostName returns the name of the host, or "" when the result is detached.
func (r *Result) HostName() string {
	if r.Host == nil {
		return ""
	}
	return r.Host.Name()
}

func (r *Result) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Payload == nil {
		return ""
	}
	if s, ok := r.Payload.(string); ok {
		return s
	}
	return fmt.Sprint(r.Payload)
}

// MultiResult holds the results of one task on one host: the task's own
// result first, then its sub-task results in execution order.
type MultiResult []*Result

// Failed reports whether any result failed.
func (m MultiResult) Failed() bool {
	for _, r := range m {
		if r.Failed {
			return true
		}
	}
	return false
}

// Changed reports whether any result changed the host.
func (m MultiResult) Changed() bool {
	for _, r := range m {
		if r.Changed {
			return true
		}
	}
	return false
}

// First returns the top-level result, or nil when m is empty.
func (m MultiResult) First() *Result {
	if len(m) == 0 {
		return nil
	}
	return m[0]
}

// Err returns the first captured error, in execution order.
func (m MultiResult) Err() error {
	for _, r := range m {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// AggregatedResult holds the results of one task over every selected host,
// keyed by host name.
type AggregatedResult struct {
	// ID identifies the run.
	ID string

	// Name is the task name.
	Name string

	// StartedAt is when the runner started.
	StartedAt time.Time

	// FinishedAt is when the last host finished.
	FinishedAt time.Time

	// Hosts maps host names to their results.
	Hosts map[string]MultiResult
}

// NewAggregatedResult returns an empty result with a fresh run ID.
func NewAggregatedResult(name string) *AggregatedResult {
	return &AggregatedResult{
		ID:        uuid.New().String(),
		Name:      name,
		StartedAt: time.Now(),
		Hosts:     make(map[string]MultiResult),
	}
}

// Len returns the number of hosts.
func (a *AggregatedResult) Len() int { return len(a.Hosts) }

// Get returns the results of host.
func (a *AggregatedResult) Get(host string) (MultiResult, bool) {
	m, ok := a.Hosts[host]
	return m, ok
}

// HostNames returns every host name, sorted.
func (a *AggregatedResult) HostNames() []string {
	names := make([]string, 0, len(a.Hosts))
	for name := range a.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed reports whether any host failed.
func (a *AggregatedResult) Failed() bool {
	for _, m := range a.Hosts {
		if m.Failed() {
			return true
		}
	}
	return false
}

// Changed reports whether any host changed.
func (a *AggregatedResult) Changed() bool {
	for _, m := range a.Hosts {
		if m.Changed() {
			return true
		}
	}
	return false
}

// FailedHosts returns the names of the failed hosts, sorted.
func (a *AggregatedResult) FailedHosts() []string {
	var names []string
	for name, m := range a.Hosts {
		if m.Failed() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Status summarizes the run.
func (a *AggregatedResult) Status() RunStatus {
	failed := len(a.FailedHosts())
	switch {
	case failed == 0:
		return RunStatusSucceeded
	case failed == len(a.Hosts):
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// Duration returns how long the run took.
func (a *AggregatedResult) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}

// RaiseOnError returns an *AggregatedError carrying a when any host failed.
func (a *AggregatedResult) RaiseOnError() error {
	if !a.Failed() {
		return nil
	}
	return &AggregatedError{Result: a}
}
