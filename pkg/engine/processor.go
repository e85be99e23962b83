package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/telemetry"
)

// Processor observes task execution. Instance and sub-task hooks are called
// from the runner's worker goroutines, so implementations must be safe for
// concurrent use.
type Processor interface {
	// TaskStarted is called once before the task runs on any host.
	TaskStarted(ctx context.Context, task *Task)

	// TaskCompleted is called once after the task finished on every host.
	TaskCompleted(ctx context.Context, task *Task, result *AggregatedResult)

	// TaskInstanceStarted is called before the task runs on host.
	TaskInstanceStarted(ctx context.Context, task *Task, host *inventory.Host)

	// TaskInstanceCompleted is called after the task finished on host.
	TaskInstanceCompleted(ctx context.Context, task *Task, host *inventory.Host, result MultiResult)

	// SubtaskInstanceStarted is called before a sub-task runs on host.
	SubtaskInstanceStarted(ctx context.Context, task *Task, host *inventory.Host)

	// SubtaskInstanceCompleted is called after a sub-task finished on host.
	SubtaskInstanceCompleted(ctx context.Context, task *Task, host *inventory.Host, result MultiResult)
}

// BaseProcessor implements every Processor hook as a no-op. Embed it to
// implement only the hooks you need.
type BaseProcessor struct{}

func (BaseProcessor) TaskStarted(context.Context, *Task) {}

func (BaseProcessor) TaskCompleted(context.Context, *Task, *AggregatedResult) {}

func (BaseProcessor) TaskInstanceStarted(context.Context, *Task, *inventory.Host) {}

func (BaseProcessor) TaskInstanceCompleted(context.Context, *Task, *inventory.Host, MultiResult) {}

func (BaseProcessor) SubtaskInstanceStarted(context.Context, *Task, *inventory.Host) {}

func (BaseProcessor) SubtaskInstanceCompleted(context.Context, *Task, *inventory.Host, MultiResult) {}

// Processors fans every hook out to each processor in order.
type Processors []Processor

func (ps Processors) TaskStarted(ctx context.Context, task *Task) {
	for _, p := range ps {
		p.TaskStarted(ctx, task)
	}
}

func (ps Processors) TaskCompleted(ctx context.Context, task *Task, result *AggregatedResult) {
	for _, p := range ps {
		p.TaskCompleted(ctx, task, result)
	}
}

func (ps Processors) TaskInstanceStarted(ctx context.Context, task *Task, host *inventory.Host) {
	for _, p := range ps {
		p.TaskInstanceStarted(ctx, task, host)
	}
}

func (ps Processors) TaskInstanceCompleted(ctx context.Context, task *Task, host *inventory.Host, result MultiResult) {
	for _, p := range ps {
		p.TaskInstanceCompleted(ctx, task, host, result)
	}
}

func (ps Processors) SubtaskInstanceStarted(ctx context.Context, task *Task, host *inventory.Host) {
	for _, p := range ps {
		p.SubtaskInstanceStarted(ctx, task, host)
	}
}

func (ps Processors) SubtaskInstanceCompleted(ctx context.Context, task *Task, host *inventory.Host, result MultiResult) {
	for _, p := range ps {
		p.SubtaskInstanceCompleted(ctx, task, host, result)
	}
}

// loggingProcessor writes one log line per hook.
type loggingProcessor struct {
	logger zerolog.Logger
}

// LoggingProcessor returns a processor logging task progress to logger.
// Instance completions are logged at the severity of the top-level result.
func LoggingProcessor(logger zerolog.Logger) Processor {
	return &loggingProcessor{logger: logger}
}

func (p *loggingProcessor) TaskStarted(_ context.Context, task *Task) {
	p.logger.Info().Str("task", task.Name).Msg("Task started")
}

func (p *loggingProcessor) TaskCompleted(_ context.Context, task *Task, result *AggregatedResult) {
	ev := p.logger.Info()
	if result.Failed() {
		ev = p.logger.Warn()
	}
	ev.Str("task", task.Name).
		Str("run_id", result.ID).
		Str("status", string(result.Status())).
		Int("hosts", result.Len()).
		Strs("failed_hosts", result.FailedHosts()).
		Dur("duration", result.Duration()).
		Msg("Task completed")
}

func (p *loggingProcessor) TaskInstanceStarted(_ context.Context, task *Task, host *inventory.Host) {
	p.logger.Debug().Str("task", task.Name).Str("host", host.Name()).Msg("Task instance started")
}

func (p *loggingProcessor) TaskInstanceCompleted(_ context.Context, task *Task, host *inventory.Host, result MultiResult) {
	p.logResult(task, host, result, "Task instance completed")
}

func (p *loggingProcessor) SubtaskInstanceStarted(_ context.Context, task *Task, host *inventory.Host) {
	p.logger.Debug().Str("subtask", task.Name).Str("host", host.Name()).Msg("Subtask started")
}

func (p *loggingProcessor) SubtaskInstanceCompleted(_ context.Context, task *Task, host *inventory.Host, result MultiResult) {
	p.logResult(task, host, result, "Subtask completed")
}

func (p *loggingProcessor) logResult(task *Task, host *inventory.Host, result MultiResult, msg string) {
	level := task.Severity
	if r := result.First(); r != nil {
		level = r.Severity
	}
	ev := p.logger.WithLevel(level).
		Str("task", task.Name).
		Str("host", host.Name()).
		Bool("changed", result.Changed()).
		Bool("failed", result.Failed())
	if err := result.Err(); err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// metricsProcessor records Prometheus metrics per hook.
type metricsProcessor struct {
	BaseProcessor
	metrics *telemetry.Metrics
}

// MetricsProcessor returns a processor recording run, host instance and
// sub-task metrics.
func MetricsProcessor(metrics *telemetry.Metrics) Processor {
	if metrics == nil {
		metrics = &telemetry.Metrics{}
	}
	return &metricsProcessor{metrics: metrics}
}

func (p *metricsProcessor) TaskStarted(_ context.Context, task *Task) {
	p.metrics.RecordRunStarted(task.Name)
}

func (p *metricsProcessor) TaskCompleted(_ context.Context, task *Task, result *AggregatedResult) {
	p.metrics.RecordRunCompleted(task.Name, string(result.Status()), result.Duration())
}

func (p *metricsProcessor) TaskInstanceCompleted(_ context.Context, task *Task, _ *inventory.Host, result MultiResult) {
	p.metrics.RecordHostInstance(task.Name, metricStatus(result), result.First().Duration())
}

func (p *metricsProcessor) SubtaskInstanceCompleted(_ context.Context, task *Task, _ *inventory.Host, result MultiResult) {
	p.metrics.RecordSubtask(task.Name, metricStatus(result))
}

func metricStatus(result MultiResult) string {
	switch {
	case result.Failed():
		return telemetry.StatusFailed
	case result.Changed():
		return telemetry.StatusChanged
	default:
		return telemetry.StatusSucceeded
	}
}
