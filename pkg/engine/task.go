package engine

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/connections"
	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/telemetry"
)

// Func is a task body. It runs once per host with t bound to that host and
// returns a raw payload, a Result, or a *Result.
type Func func(ctx context.Context, t *Task) (any, error)

// Task is a unit of work run against each selected host.
//
// A Task passed to a runner is copied for every host, so the per-host state
// (the current host and the accumulated results) is never shared between
// goroutines. Name, Severity and Params are shared and must be treated as
// read-only while the task runs.
type Task struct {
	// Name is the display name. It defaults to the name of the Go function.
	Name string

	// Severity is the severity of successful results.
	Severity zerolog.Level

	// Params are the parameters bound to the task body.
	Params map[string]any

	fn      Func
	env     *runEnv
	host    *inventory.Host
	results MultiResult
	status  InstanceStatus
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithName sets the task name.
func WithName(name string) TaskOption {
	return func(t *Task) { t.Name = name }
}

// WithSeverity sets the severity of successful results.
func WithSeverity(level zerolog.Level) TaskOption {
	return func(t *Task) { t.Severity = level }
}

// WithParams binds params to the task body.
func WithParams(params map[string]any) TaskOption {
	return func(t *Task) {
		for k, v := range params {
			t.Params[k] = v
		}
	}
}

// WithParam binds a single parameter to the task body.
func WithParam(key string, value any) TaskOption {
	return func(t *Task) { t.Params[key] = value }
}

// NewTask creates a task running fn.
func NewTask(fn Func, opts ...TaskOption) *Task {
	t := &Task{
		Severity: zerolog.InfoLevel,
		Params:   make(map[string]any),
		fn:       fn,
		status:   StatusPending,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.Name == "" {
		t.Name = funcName(fn)
	}
	return t
}

// funcName returns the unqualified name of fn.
func funcName(fn Func) string {
	if fn == nil {
		return "task"
	}
	return shortFuncName(runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name())
}

// shortFuncName reduces a runtime symbol name to the identifier of the
// callable. Closure suffixes (.func1, .2) are dropped before taking the last
// segment, so a closure factory inlined into its caller still yields the
// factory's name.
func shortFuncName(name string) string {
	name = name[strings.LastIndex(name, "/")+1:]
	name = strings.TrimSuffix(name, "-fm")
	name = strings.ReplaceAll(name, "[...]", "")

	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '.' })
	for len(parts) > 1 && isClosureSuffix(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return "task"
	}
	return parts[len(parts)-1]
}

func isClosureSuffix(seg string) bool {
	seg = strings.TrimPrefix(seg, "func")
	if seg == "" {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Copy returns a task sharing t's body, name, severity and engine bindings,
// with a copy of its parameters and no per-host state.
func (t *Task) Copy() *Task {
	return &Task{
		Name:     t.Name,
		Severity: t.Severity,
		Params:   maps.Clone(t.Params),
		fn:       t.fn,
		env:      t.env,
		status:   StatusPending,
	}
}

// Host returns the host the task is running on.
func (t *Task) Host() *inventory.Host { return t.host }

// Status returns the state of the task on its current host.
func (t *Task) Status() InstanceStatus { return t.status }

// Results returns the sub-task results accumulated so far on the current
// host, or every result once the task has finished.
func (t *Task) Results() MultiResult { return t.results }

// Param returns a bound parameter.
func (t *Task) Param(key string) (any, bool) {
	v, ok := t.Params[key]
	return v, ok
}

// StringParam returns a bound string parameter, or "" when it is unset or
// not a string.
func (t *Task) StringParam(key string) string {
	s, _ := t.Params[key].(string)
	return s
}

// Config returns the engine configuration. It is never nil.
func (t *Task) Config() *config.Config {
	if env := t.environment(); env.config != nil {
		return env.config
	}
	return config.Default()
}

// DryRun reports whether the engine asked tasks not to modify hosts.
func (t *Task) DryRun() bool { return t.environment().dryRun }

// Logger returns the engine logger with the task and host attached.
func (t *Task) Logger() *zerolog.Logger {
	ctx := t.environment().logger.With().Str("task", t.Name)
	if t.host != nil {
		ctx = ctx.Str("host", t.host.Name())
	}
	logger := ctx.Logger()
	return &logger
}

// Connection returns the named plugin connection to the current host,
// opening it on first use.
func (t *Task) Connection(ctx context.Context, plugin string) (connections.Connection, error) {
	if t.host == nil {
		return nil, errors.New("task is not running on a host")
	}
	mgr := t.environment().connections
	if mgr == nil {
		return nil, errors.New("no connection manager configured")
	}
	return mgr.Get(ctx, t.host, plugin)
}

// Start runs the task on h and returns its results. The task's own result
// is always first. A failing or panicking body yields a failed result; Start
// itself never fails.
func (t *Task) Start(ctx context.Context, h *inventory.Host) MultiResult {
	env := t.environment()
	env.processors.TaskInstanceStarted(ctx, t, h)

	ctx, span := env.tracer.StartHostSpan(ctx, t.Name, h.Name())
	results := t.execute(ctx, h)
	telemetry.SetAttributes(span,
		telemetry.AttrFailed.Bool(results.Failed()),
		telemetry.AttrChanged.Bool(results.Changed()),
	)
	telemetry.RecordError(span, results.Err())
	span.End()

	env.processors.TaskInstanceCompleted(ctx, t, h, results)
	return results
}

// Run runs fn as a sub-task on the current host and appends its results to
// the task's results. It returns a *SubTaskError when the sub-task failed;
// returning that error from the task body fails the task as well.
func (t *Task) Run(ctx context.Context, fn Func, opts ...TaskOption) (MultiResult, error) {
	if t.host == nil {
		return nil, errors.New("task is not running on a host")
	}

	sub := NewTask(fn, opts...)
	sub.env = t.env
	env := t.environment()

	env.processors.SubtaskInstanceStarted(ctx, sub, t.host)
	results := sub.execute(ctx, t.host)
	env.processors.SubtaskInstanceCompleted(ctx, sub, t.host, results)

	t.results = append(t.results, results...)
	if results.Failed() {
		return results, &SubTaskError{Task: sub.Name, Host: t.host.Name(), Result: results}
	}
	return results, nil
}

func (t *Task) execute(ctx context.Context, h *inventory.Host) MultiResult {
	t.host = h
	t.results = nil
	t.status = StatusRunning

	start := time.Now()
	r := t.invoke(ctx)
	r.Host = h
	r.Name = t.Name
	r.StartedAt = start
	r.FinishedAt = time.Now()
	if !r.severitySet && r.Severity == zerolog.DebugLevel {
		r.Severity = t.Severity
	}
	if r.Failed {
		r.Severity = zerolog.ErrorLevel
	}

	t.results = append(MultiResult{r}, t.results...)
	if t.results.Failed() {
		t.status = StatusFailed
	} else {
		t.status = StatusSucceeded
	}
	return t.results
}

func (t *Task) invoke(ctx context.Context) (r *Result) {
	defer func() {
		if v := recover(); v != nil {
			r = &Result{Failed: true, Err: &PanicError{Value: v, Stack: debug.Stack()}}
		}
	}()

	if t.fn == nil {
		return &Result{Failed: true, Err: errors.New("task has no body")}
	}

	out, err := t.fn(ctx, t)
	switch v := out.(type) {
	case *Result:
		r = v
		if r == nil {
			r = &Result{}
		}
	case Result:
		r = &v
	default:
		r = &Result{Payload: out}
	}
	if err != nil {
		r.Failed = true
		r.Err = err
	}
	return r
}

func (t *Task) environment() *runEnv {
	if t.env == nil {
		return detachedEnv
	}
	return t.env
}

// runEnv is what the engine shares with every task it runs.
type runEnv struct {
	config      *config.Config
	connections *connections.Manager
	processors  Processors
	tracer      *telemetry.Tracer
	logger      zerolog.Logger
	dryRun      bool
}

var detachedEnv = &runEnv{
	logger: zerolog.Nop(),
	tracer: telemetry.NoopTracer(),
}
