package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openfroyo/herd/pkg/engine"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// Run is the stored summary of one task run over a set of hosts.
type Run struct {
	ID          string           `json:"id"`
	Task        string           `json:"task"`
	Status      engine.RunStatus `json:"status"`
	HostCount   int              `json:"host_count"`
	FailedCount int              `json:"failed_count"`
	Changed     bool             `json:"changed"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HostResult is one stored Result. Seq is the result's position in the
// host's MultiResult, so Seq 0 is the top-level task.
type HostResult struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Host       string    `json:"host"`
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Failed     bool      `json:"failed"`
	Changed    bool      `json:"changed"`
	Severity   string    `json:"severity"`
	Diff       string    `json:"diff"`
	Output     string    `json:"output"` // JSON blob unless the payload was a string
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// Task keeps runs of the named task only.
	Task string

	// Status keeps runs with the given status only.
	Status engine.RunStatus

	Limit  int
	Offset int
}

// Store defines the interface for the run history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	SaveRun(ctx context.Context, result *engine.AggregatedResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Host result operations
	ListHostResults(ctx context.Context, runID string, host string) ([]*HostResult, error)
	FailedHosts(ctx context.Context, runID string) ([]string, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
