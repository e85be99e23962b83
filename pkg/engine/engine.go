package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/connections"
	"github.com/openfroyo/herd/pkg/filter"
	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/telemetry"
)

// Engine runs tasks over an inventory. Engines returned by Filter share the
// session, connections and processors of the engine they came from.
type Engine struct {
	inventory   *inventory.Inventory
	config      *config.Config
	runner      Runner
	processors  Processors
	logger      zerolog.Logger
	tracer      *telemetry.Tracer
	metrics     *telemetry.Metrics
	connections *connections.Manager
	session     *Session
	dryRun      bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime configuration. The runner and raise-on-error
// defaults are taken from it.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithRunner sets the default runner.
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithProcessors appends processors observing every run.
func WithProcessors(ps ...Processor) Option {
	return func(e *Engine) { e.processors = append(e.processors, ps...) }
}

// WithLogger sets the logger handed to tasks and the connection manager.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer records run and host spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithMetrics records failed-host and connection metrics. Add a
// MetricsProcessor to record per-run metrics too.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithConnections sets the connection manager.
func WithConnections(m *connections.Manager) Option {
	return func(e *Engine) { e.connections = m }
}

// WithSession sets the failed-hosts session.
func WithSession(s *Session) Option {
	return func(e *Engine) { e.session = s }
}

// WithDryRun asks tasks not to modify hosts.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// New creates an engine over inv.
func New(inv *inventory.Inventory, opts ...Option) *Engine {
	e := &Engine{
		inventory: inv,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.config == nil {
		e.config = config.Default()
	}
	if e.runner == nil {
		e.runner = RunnerFromConfig(e.config.Runner)
	}
	if e.tracer == nil {
		e.tracer = telemetry.NoopTracer()
	}
	if e.metrics == nil {
		e.metrics = &telemetry.Metrics{}
	}
	if e.session == nil {
		e.session = NewSession()
	}
	if e.connections == nil {
		e.connections = connections.NewManager(
			connections.WithConfig(e.config),
			connections.WithLogger(e.logger),
			connections.WithMetrics(e.metrics),
			connections.WithTracer(e.tracer),
		)
	}
	return e
}

// Inventory returns the hosts the engine runs over.
func (e *Engine) Inventory() *inventory.Inventory { return e.inventory }

// Config returns the runtime configuration.
func (e *Engine) Config() *config.Config { return e.config }

// Session returns the failed-hosts session.
func (e *Engine) Session() *Session { return e.session }

// Connections returns the connection manager.
func (e *Engine) Connections() *connections.Manager { return e.connections }

// Filter returns an engine over the hosts matching p.
func (e *Engine) Filter(p inventory.Predicate) *Engine {
	c := *e
	c.inventory = e.inventory.Filter(p)
	return &c
}

// FilterExpr returns an engine over the hosts matching a filter expression.
func (e *Engine) FilterExpr(expr string) (*Engine, error) {
	p, err := filter.Parse(expr)
	if err != nil {
		return nil, err
	}
	return e.Filter(p), nil
}

// Close closes every open connection.
func (e *Engine) Close() error {
	return e.connections.CloseAll()
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	onGood       bool
	onFailed     bool
	raiseOnError bool
	runner       Runner
}

// OnGood includes hosts not in the failed set. It is on by default.
func OnGood(on bool) RunOption {
	return func(o *runOptions) { o.onGood = on }
}

// OnFailed includes hosts in the failed set. It is off by default.
func OnFailed(on bool) RunOption {
	return func(o *runOptions) { o.onFailed = on }
}

// RaiseOnError makes Run return an *AggregatedError when any host failed.
func RaiseOnError() RunOption {
	return func(o *runOptions) { o.raiseOnError = true }
}

// RunWith overrides the engine runner for one run.
func RunWith(r Runner) RunOption {
	return func(o *runOptions) { o.runner = r }
}

// Run runs task on the selected hosts. Hosts that fail are added to the
// session's failed set. The returned error is non-nil only when raising on
// error was requested and a host failed; the result is returned either way.
func (e *Engine) Run(ctx context.Context, task *Task, opts ...RunOption) (*AggregatedResult, error) {
	o := runOptions{
		onGood:       true,
		raiseOnError: e.config.Core.RaiseOnError,
		runner:       e.runner,
	}
	for _, opt := range opts {
		opt(&o)
	}

	hosts := e.selectHosts(o.onGood, o.onFailed)

	t := task.Copy()
	t.env = &runEnv{
		config:      e.config,
		connections: e.connections,
		processors:  e.processors,
		tracer:      e.tracer,
		logger:      e.logger,
		dryRun:      e.dryRun,
	}

	logger := e.logger.With().Str("task", t.Name).Logger()
	logger.Info().Int("hosts", len(hosts)).Msg("Running task")

	e.processors.TaskStarted(ctx, t)

	runID := uuid.New().String()
	ctx, span := e.tracer.StartRunSpan(ctx, runID, t.Name, len(hosts))
	agg := o.runner.Run(ctx, t, hosts)
	agg.ID = runID

	failed := agg.FailedHosts()
	telemetry.SetAttributes(span, telemetry.AttrFailedCount.Int(len(failed)))
	if len(failed) > 0 {
		telemetry.RecordError(span, fmt.Errorf("%d hosts failed", len(failed)))
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()

	e.session.MarkFailed(failed...)
	e.metrics.SetFailedHosts(e.session.Len())

	for _, name := range failed {
		logger.Warn().Str("host", name).Err(agg.Hosts[name].Err()).Msg("Task failed on host")
	}
	logger.Info().
		Str("run_id", agg.ID).
		Str("status", string(agg.Status())).
		Int("failed", len(failed)).
		Dur("duration", agg.Duration()).
		Msg("Task completed")

	e.processors.TaskCompleted(ctx, t, agg)

	if o.raiseOnError {
		return agg, agg.RaiseOnError()
	}
	return agg, nil
}

func (e *Engine) selectHosts(onGood, onFailed bool) []*inventory.Host {
	var hosts []*inventory.Host
	for _, h := range e.inventory.Hosts() {
		failed := e.session.IsFailed(h.Name())
		if (failed && onFailed) || (!failed && onGood) {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
