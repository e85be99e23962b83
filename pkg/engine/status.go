package engine

import "fmt"

// InstanceStatus is the state of one task on one host.
type InstanceStatus string

const (
	// StatusPending indicates the task has not started on the host.
	StatusPending InstanceStatus = "pending"

	// StatusRunning indicates the task is executing on the host.
	StatusRunning InstanceStatus = "running"

	// StatusSucceeded indicates the task finished without failing.
	StatusSucceeded InstanceStatus = "succeeded"

	// StatusFailed indicates the task failed on the host.
	StatusFailed InstanceStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Validate checks if the instance status is valid.
func (s InstanceStatus) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid instance status: %s", s)
	}
}

// RunStatus summarizes a task run over every selected host.
type RunStatus string

const (
	// RunStatusSucceeded indicates no host failed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates every host failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some hosts failed and some did not.
	RunStatusPartial RunStatus = "partial"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
