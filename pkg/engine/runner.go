package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/inventory"
)

// DefaultWorkers is the pool width of a ThreadedRunner with no explicit
// width.
const DefaultWorkers = 20

// Runner applies a task to a set of hosts.
type Runner interface {
	// Run runs task on every host and returns the results keyed by host
	// name. Failures are reported in the results, never as an error.
	Run(ctx context.Context, task *Task, hosts []*inventory.Host) *AggregatedResult
}

// SerialRunner runs a task on one host at a time, in the order given.
type SerialRunner struct{}

// Run implements Runner.
func (SerialRunner) Run(ctx context.Context, task *Task, hosts []*inventory.Host) *AggregatedResult {
	agg := NewAggregatedResult(task.Name)
	for _, h := range hosts {
		if err := ctx.Err(); err != nil {
			agg.Hosts[h.Name()] = skipped(task, h, err)
			continue
		}
		agg.Hosts[h.Name()] = task.Copy().Start(ctx, h)
	}
	agg.FinishedAt = time.Now()
	return agg
}

// ThreadedRunner runs a task on a fixed-size pool of goroutines, one host
// per unit of work. Every host gets its own copy of the task.
type ThreadedRunner struct {
	// Workers is the maximum number of hosts handled at once. Zero means
	// DefaultWorkers.
	Workers int
}

// Run implements Runner.
func (r ThreadedRunner) Run(ctx context.Context, task *Task, hosts []*inventory.Host) *AggregatedResult {
	agg := NewAggregatedResult(task.Name)

	// Determine worker count (min of Workers and number of hosts)
	workerCount := r.Workers
	if workerCount <= 0 {
		workerCount = DefaultWorkers
	}
	if len(hosts) < workerCount {
		workerCount = len(hosts)
	}

	// Each worker writes only its own slots, so results need no lock.
	results := make([]MultiResult, len(hosts))

	workQueue := make(chan int, len(hosts))
	for i := range hosts {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				h := hosts[idx]
				if err := ctx.Err(); err != nil {
					results[idx] = skipped(task, h, err)
					continue
				}
				results[idx] = task.Copy().Start(ctx, h)
			}
		}()
	}
	wg.Wait()

	for i, h := range hosts {
		agg.Hosts[h.Name()] = results[i]
	}
	agg.FinishedAt = time.Now()
	return agg
}

// RunnerFromConfig returns the runner named by cfg.
func RunnerFromConfig(cfg config.RunnerConfig) Runner {
	if cfg.Plugin == config.RunnerSerial {
		return SerialRunner{}
	}
	return ThreadedRunner{Workers: cfg.Workers}
}

// skipped is the result of a host never dispatched because ctx ended.
func skipped(task *Task, h *inventory.Host, err error) MultiResult {
	now := time.Now()
	return MultiResult{{
		Host:       h,
		Name:       task.Name,
		Failed:     true,
		Err:        err,
		Severity:   zerolog.ErrorLevel,
		StartedAt:  now,
		FinishedAt: now,
	}}
}
