package stores

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/engine"
)

// RunSaver persists aggregated results.
type RunSaver interface {
	SaveRun(ctx context.Context, result *engine.AggregatedResult) error
}

// Recorder is a processor saving every completed run. Hooks cannot fail,
// so save errors are logged and collected for Err.
type Recorder struct {
	engine.BaseProcessor

	store  RunSaver
	logger zerolog.Logger

	mu   sync.Mutex
	errs []error
}

// NewRecorder returns a processor saving runs to store.
func NewRecorder(store RunSaver, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// TaskCompleted saves the run.
func (r *Recorder) TaskCompleted(ctx context.Context, task *engine.Task, result *engine.AggregatedResult) {
	// The run may have been cancelled; the record should still land.
	if err := r.store.SaveRun(context.WithoutCancel(ctx), result); err != nil {
		r.logger.Error().Err(err).Str("run_id", result.ID).Str("task", task.Name).Msg("Failed to record run")
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
		return
	}
	r.logger.Debug().Str("run_id", result.ID).Str("task", task.Name).Msg("Run recorded")
}

// Err returns every save error so far, joined.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
