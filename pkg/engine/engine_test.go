package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/connections"
	"github.com/openfroyo/herd/pkg/filter"
	"github.com/openfroyo/herd/pkg/inventory"
)

func fixture(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.Build(&inventory.Records{
		Hosts: map[string]inventory.HostRecord{
			"h1": {Data: map[string]any{"role": "web", "site": "nyc"}},
			"h2": {Data: map[string]any{"role": "db", "site": "nyc"}},
			"h3": {Data: map[string]any{"role": "web", "site": "lon"}},
		},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return inv
}

func hostName(ctx context.Context, t *Task) (any, error) {
	return t.Host().Name(), nil
}

func failOn(host string) Func {
	return func(ctx context.Context, t *Task) (any, error) {
		if t.Host().Name() == host {
			return nil, fmt.Errorf("boom on %s", host)
		}
		return "ok", nil
	}
}

func debugValue(context.Context, *Task) (any, error) {
	r := Result{Payload: "v"}
	r.SetSeverity(zerolog.DebugLevel)
	return r, nil
}

// summary reduces results to comparable values.
func summary(agg *AggregatedResult) map[string][]string {
	out := make(map[string][]string)
	for name, m := range agg.Hosts {
		for _, r := range m {
			out[name] = append(out[name], fmt.Sprintf("%s|%v|%t|%t|%s", r.Name, r.Payload, r.Changed, r.Failed, r.Severity))
		}
	}
	return out
}

func TestRunners_SameResults(t *testing.T) {
	body := func(ctx context.Context, t *Task) (any, error) {
		for i := 0; i < 3; i++ {
			if _, err := t.Run(ctx, func(ctx context.Context, t *Task) (any, error) {
				return &Result{Payload: t.Host().Name(), Changed: i%2 == 0}, nil
			}, WithName(fmt.Sprintf("step%d", i))); err != nil {
				return nil, err
			}
		}
		if t.Host().Name() == "h2" {
			return nil, errors.New("db hosts fail")
		}
		return "done", nil
	}

	var runs []map[string][]string
	for _, r := range []Runner{SerialRunner{}, ThreadedRunner{Workers: 1}, ThreadedRunner{Workers: 3}, ThreadedRunner{}} {
		eng := New(fixture(t), WithRunner(r))
		agg, err := eng.Run(context.Background(), NewTask(body, WithName("steps")))
		if err != nil {
			t.Fatalf("%T Run() error = %v", r, err)
		}
		if agg.Len() != 3 {
			t.Fatalf("%T ran on %d hosts, want 3", r, agg.Len())
		}
		runs = append(runs, summary(agg))
	}

	for i := 1; i < len(runs); i++ {
		if !reflect.DeepEqual(runs[0], runs[i]) {
			t.Errorf("runner %d results differ:\n%v\n%v", i, runs[0], runs[i])
		}
	}
	if n := len(runs[0]["h1"]); n != 4 {
		t.Errorf("h1 has %d results, want 4", n)
	}
}

func TestRun_FailureOnOneHost(t *testing.T) {
	eng := New(fixture(t))

	agg, err := eng.Run(context.Background(), NewTask(failOn("h2")))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, name := range []string{"h1", "h3"} {
		if agg.Hosts[name].Failed() {
			t.Errorf("%s failed: %v", name, agg.Hosts[name].Err())
		}
	}
	if !agg.Hosts["h2"].Failed() {
		t.Fatal("h2 should have failed")
	}
	if got := agg.FailedHosts(); !reflect.DeepEqual(got, []string{"h2"}) {
		t.Errorf("FailedHosts() = %v", got)
	}
	if agg.Status() != RunStatusPartial {
		t.Errorf("Status() = %s, want partial", agg.Status())
	}
	if r := agg.Hosts["h2"].First(); r.Severity != zerolog.ErrorLevel {
		t.Errorf("failed severity = %s, want error", r.Severity)
	}
}

func TestRun_RaiseOnError(t *testing.T) {
	eng := New(fixture(t))

	agg, err := eng.Run(context.Background(), NewTask(failOn("h2")), RaiseOnError())
	var aggErr *AggregatedError
	if !errors.As(err, &aggErr) {
		t.Fatalf("Run() error = %v, want *AggregatedError", err)
	}
	if aggErr.Result != agg {
		t.Error("error should carry the returned result")
	}
	if aggErr.Result.Len() != 3 {
		t.Errorf("aggregate holds %d hosts, want every host", aggErr.Result.Len())
	}
	if r := aggErr.Result.Hosts["h1"].First(); r.Payload != "ok" {
		t.Errorf("h1 payload = %v, want ok", r.Payload)
	}
	if !strings.Contains(err.Error(), "failed on 1 of 3 hosts: h2") {
		t.Errorf("Error() = %q", err)
	}
	if errs := aggErr.Unwrap(); len(errs) != 1 || !strings.Contains(errs[0].Error(), "boom on h2") {
		t.Errorf("Unwrap() = %v, want the h2 error", errs)
	}

	t.Run("from configuration", func(t *testing.T) {
		cfg := config.Default()
		cfg.Core.RaiseOnError = true
		eng := New(fixture(t), WithConfig(cfg))
		if _, err := eng.Run(context.Background(), NewTask(failOn("h1"))); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("no failure", func(t *testing.T) {
		if _, err := eng.Run(context.Background(), NewTask(hostName), RaiseOnError(), OnFailed(true)); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestTask_Subtask(t *testing.T) {
	sub := func(ctx context.Context, t *Task) (any, error) {
		if t.Host().Name() == "h1" {
			return nil, errors.New("sub failed")
		}
		return "sub ok", nil
	}
	parent := func(ctx context.Context, t *Task) (any, error) {
		if _, err := t.Run(ctx, sub, WithName("sub")); err != nil {
			return nil, err
		}
		return "parent ok", nil
	}

	agg, _ := New(fixture(t)).Run(context.Background(), NewTask(parent, WithName("parent")))

	h1 := agg.Hosts["h1"]
	if len(h1) != 2 {
		t.Fatalf("h1 has %d results, want 2", len(h1))
	}
	if !h1[0].Failed || !h1[1].Failed {
		t.Errorf("h1 failed = [%t %t], want both failed", h1[0].Failed, h1[1].Failed)
	}
	if h1[0].Name != "parent" || h1[1].Name != "sub" {
		t.Errorf("h1 names = [%s %s]", h1[0].Name, h1[1].Name)
	}
	var subErr *SubTaskError
	if !errors.As(h1[0].Err, &subErr) || subErr.Task != "sub" || subErr.Host != "h1" {
		t.Errorf("parent error = %v, want *SubTaskError", h1[0].Err)
	}
	if !strings.Contains(h1[0].Err.Error(), "sub failed") {
		t.Errorf("parent error = %q", h1[0].Err)
	}

	for _, name := range []string{"h2", "h3"} {
		m := agg.Hosts[name]
		if len(m) != 2 || m.Failed() {
			t.Errorf("%s = %d results, failed %t; want 2 not failed", name, len(m), m.Failed())
		}
		if m[0].Payload != "parent ok" || m[1].Payload != "sub ok" {
			t.Errorf("%s payloads = [%v %v]", name, m[0].Payload, m[1].Payload)
		}
	}
}

func TestTask_SubtaskHandled(t *testing.T) {
	parent := func(ctx context.Context, t *Task) (any, error) {
		_, err := t.Run(ctx, func(ctx context.Context, t *Task) (any, error) {
			return nil, errors.New("optional step failed")
		})
		var subErr *SubTaskError
		if !errors.As(err, &subErr) {
			return nil, fmt.Errorf("unexpected error %v", err)
		}
		return "recovered", nil
	}

	results := NewTask(parent).Start(context.Background(), mustHost(t, fixture(t), "h1"))
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Failed || results[0].Payload != "recovered" {
		t.Errorf("parent = %+v, want recovered", results[0])
	}
	if !results[1].Failed {
		t.Error("sub-task should stay failed")
	}
	if !results.Failed() {
		t.Error("MultiResult should report the failed sub-task")
	}
}

func TestTask_NestedSubtasksFlatten(t *testing.T) {
	leaf := func(ctx context.Context, t *Task) (any, error) { return "leaf", nil }
	mid := func(ctx context.Context, t *Task) (any, error) {
		if _, err := t.Run(ctx, leaf, WithName("leaf")); err != nil {
			return nil, err
		}
		return "mid", nil
	}
	top := func(ctx context.Context, t *Task) (any, error) {
		if _, err := t.Run(ctx, mid, WithName("mid")); err != nil {
			return nil, err
		}
		if _, err := t.Run(ctx, leaf, WithName("leaf")); err != nil {
			return nil, err
		}
		return "top", nil
	}

	results := NewTask(top, WithName("top")).Start(context.Background(), mustHost(t, fixture(t), "h1"))

	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	if want := []string{"top", "mid", "leaf", "leaf"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestTask_PanicRecovered(t *testing.T) {
	body := func(ctx context.Context, t *Task) (any, error) {
		if t.Host().Name() == "h3" {
			panic("unexpected state")
		}
		return "ok", nil
	}

	agg, err := New(fixture(t)).Run(context.Background(), NewTask(body))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var p *PanicError
	if !errors.As(agg.Hosts["h3"].Err(), &p) {
		t.Fatalf("h3 error = %v, want *PanicError", agg.Hosts["h3"].Err())
	}
	if p.Value != "unexpected state" || len(p.Stack) == 0 {
		t.Errorf("panic = %v, stack %d bytes", p.Value, len(p.Stack))
	}
	if agg.Hosts["h1"].Failed() || agg.Hosts["h2"].Failed() {
		t.Error("other hosts should not fail")
	}
}

func TestTask_ResultForms(t *testing.T) {
	h := mustHost(t, fixture(t), "h1")

	tests := []struct {
		name         string
		body         Func
		opts         []TaskOption
		wantPayload  any
		wantChanged  bool
		wantFailed   bool
		wantSeverity zerolog.Level
	}{
		{
			name:         "raw payload",
			body:         func(context.Context, *Task) (any, error) { return 42, nil },
			wantPayload:  42,
			wantSeverity: zerolog.InfoLevel,
		},
		{
			name:         "result pointer",
			body:         func(context.Context, *Task) (any, error) { return &Result{Payload: "x", Changed: true, Diff: "+x"}, nil },
			wantPayload:  "x",
			wantChanged:  true,
			wantSeverity: zerolog.InfoLevel,
		},
		{
			name:         "result value with severity",
			body:         func(context.Context, *Task) (any, error) { return Result{Payload: "y", Severity: zerolog.WarnLevel}, nil },
			wantPayload:  "y",
			wantSeverity: zerolog.WarnLevel,
		},
		{
			name:         "task severity",
			body:         func(context.Context, *Task) (any, error) { return nil, nil },
			opts:         []TaskOption{WithSeverity(zerolog.WarnLevel)},
			wantSeverity: zerolog.WarnLevel,
		},
		{
			name:         "error forces failure",
			body:         func(context.Context, *Task) (any, error) { return &Result{Payload: "partial"}, errors.New("bad") },
			opts:         []TaskOption{WithSeverity(zerolog.DebugLevel)},
			wantPayload:  "partial",
			wantFailed:   true,
			wantSeverity: zerolog.ErrorLevel,
		},
		{
			name:         "explicit debug severity is kept",
			body:         func(context.Context, *Task) (any, error) { return (&Result{Payload: "d"}).SetSeverity(zerolog.DebugLevel), nil },
			opts:         []TaskOption{WithSeverity(zerolog.WarnLevel)},
			wantPayload:  "d",
			wantSeverity: zerolog.DebugLevel,
		},
		{
			name:         "explicit debug severity on a value",
			body:         debugValue,
			wantPayload:  "v",
			wantSeverity: zerolog.DebugLevel,
		},
		{
			name:         "explicit severity does not hide failure",
			body:         func(context.Context, *Task) (any, error) { return (&Result{}).SetSeverity(zerolog.DebugLevel), errors.New("bad") },
			wantFailed:   true,
			wantSeverity: zerolog.ErrorLevel,
		},
		{
			name:         "failed result without error",
			body:         func(context.Context, *Task) (any, error) { return &Result{Failed: true}, nil },
			wantFailed:   true,
			wantSeverity: zerolog.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask(tt.body, tt.opts...)
			results := task.Start(context.Background(), h)
			r := results.First()
			if r.Payload != tt.wantPayload {
				t.Errorf("Payload = %v, want %v", r.Payload, tt.wantPayload)
			}
			if r.Changed != tt.wantChanged || r.Failed != tt.wantFailed {
				t.Errorf("Changed/Failed = %t/%t, want %t/%t", r.Changed, r.Failed, tt.wantChanged, tt.wantFailed)
			}
			if r.Severity != tt.wantSeverity {
				t.Errorf("Severity = %s, want %s", r.Severity, tt.wantSeverity)
			}
			if r.Host != h || r.FinishedAt.Before(r.StartedAt) {
				t.Errorf("result host/timestamps not set: %+v", r)
			}
			wantStatus := StatusSucceeded
			if tt.wantFailed {
				wantStatus = StatusFailed
			}
			if task.Status() != wantStatus {
				t.Errorf("Status() = %s, want %s", task.Status(), wantStatus)
			}
		})
	}
}

func TestNewTask_Name(t *testing.T) {
	if got := NewTask(hostName).Name; got != "hostName" {
		t.Errorf("Name = %q, want hostName", got)
	}
	if got := NewTask(hostName, WithName("custom")).Name; got != "custom" {
		t.Errorf("Name = %q, want custom", got)
	}
	if got := NewTask(failOn("h1")).Name; got != "failOn" {
		t.Errorf("closure Name = %q, want failOn", got)
	}
}

func TestShortFuncName(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"github.com/openfroyo/herd/pkg/engine.hostName", "hostName"},
		{"github.com/openfroyo/herd/pkg/engine.failOn.func1", "failOn"},
		{"github.com/openfroyo/herd/pkg/engine.TestNewTask_Name.failOn.func1", "failOn"},
		{"github.com/openfroyo/herd/pkg/tasks.Retry.func1.2", "Retry"},
		{"github.com/openfroyo/herd/pkg/tasks.(*Gatherer).Run-fm", "Run"},
		{"github.com/openfroyo/herd/pkg/tasks.Each[...].func1", "Each"},
		{"gopkg.in/yaml.v3.Marshal", "Marshal"},
		{"main.main", "main"},
	}

	for _, tt := range tests {
		if got := shortFuncName(tt.symbol); got != tt.want {
			t.Errorf("shortFuncName(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestTask_Logger(t *testing.T) {
	var buf strings.Builder
	eng := New(fixture(t), WithLogger(zerolog.New(&buf)), WithRunner(SerialRunner{}))

	body := func(ctx context.Context, task *Task) (any, error) {
		task.Logger().Info().Msg("inside task")
		return nil, nil
	}
	if _, err := eng.Filter(inventory.PredicateFunc(func(h *inventory.Host) bool { return h.Name() == "h1" })).Run(context.Background(), NewTask(body, WithName("greet"))); err != nil {
		t.Fatal(err)
	}

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "inside task") {
			line = l
		}
	}
	for _, want := range []string{`"task":"greet"`, `"host":"h1"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q lacks %s", line, want)
		}
	}
}

func TestTask_CopyIsolatesParams(t *testing.T) {
	orig := NewTask(hostName, WithParam("a", 1))
	c := orig.Copy()
	c.Params["a"] = 2
	if orig.Params["a"] != 1 {
		t.Error("copy shares params with the original")
	}

	h := mustHost(t, fixture(t), "h1")
	c.Start(context.Background(), h)
	if orig.Host() != nil || len(orig.Results()) != 0 {
		t.Error("running a copy changed the original")
	}
}

func TestTask_Params(t *testing.T) {
	body := func(ctx context.Context, t *Task) (any, error) {
		v, ok := t.Param("count")
		if !ok {
			return nil, errors.New("count missing")
		}
		return fmt.Sprintf("%s=%v", t.StringParam("name"), v), nil
	}

	task := NewTask(body, WithParams(map[string]any{"name": "x", "count": 3}))
	r := task.Start(context.Background(), mustHost(t, fixture(t), "h1")).First()
	if r.Payload != "x=3" {
		t.Errorf("Payload = %v, want x=3", r.Payload)
	}
}

func TestSession_FailedHostScoping(t *testing.T) {
	eng := New(fixture(t))
	ctx := context.Background()

	if _, err := eng.Run(ctx, NewTask(failOn("h2"))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := eng.Session().FailedHosts(); !reflect.DeepEqual(got, []string{"h2"}) {
		t.Fatalf("FailedHosts() = %v", got)
	}

	tests := []struct {
		name string
		opts []RunOption
		want []string
	}{
		{"good only", nil, []string{"h1", "h3"}},
		{"failed only", []RunOption{OnGood(false), OnFailed(true)}, []string{"h2"}},
		{"both", []RunOption{OnFailed(true)}, []string{"h1", "h2", "h3"}},
		{"neither", []RunOption{OnGood(false)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := eng.Run(ctx, NewTask(hostName), tt.opts...)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got := agg.HostNames()
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("hosts = %v, want %v", got, tt.want)
			}
		})
	}

	eng.Session().RecoverHost("h2")
	if eng.Session().IsFailed("h2") {
		t.Error("h2 should have recovered")
	}

	eng.Session().MarkFailed("h1", "h3")
	eng.Session().Reset()
	if n := eng.Session().Len(); n != 0 {
		t.Errorf("Len() after Reset = %d", n)
	}
}

func TestEngine_Filter(t *testing.T) {
	eng := New(fixture(t))

	tests := []struct {
		expr string
		want []string
	}{
		{"role=='web' AND site=='nyc'", []string{"h1"}},
		{"role=='web' OR site=='lon'", []string{"h1", "h3"}},
		{"NOT role=='web'", []string{"h2"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sub, err := eng.FilterExpr(tt.expr)
			if err != nil {
				t.Fatalf("FilterExpr() error = %v", err)
			}
			if got := sub.Inventory().HostNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("hosts = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := eng.FilterExpr("role == "); err == nil {
		t.Error("expected syntax error")
	}

	web := eng.Filter(filter.F{"role": "web"})
	if _, err := web.Run(context.Background(), NewTask(failOn("h3"))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !eng.Session().IsFailed("h3") {
		t.Error("filtered engine should share the session")
	}
	if eng.Inventory().Len() != 3 {
		t.Error("filtering must not narrow the source engine")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, r := range []Runner{SerialRunner{}, ThreadedRunner{Workers: 2}} {
		var calls int
		var mu sync.Mutex
		body := func(ctx context.Context, t *Task) (any, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, nil
		}
		agg, _ := New(fixture(t), WithRunner(r)).Run(ctx, NewTask(body))
		if calls != 0 {
			t.Errorf("%T invoked the body %d times", r, calls)
		}
		for name, m := range agg.Hosts {
			if !errors.Is(m.Err(), context.Canceled) {
				t.Errorf("%T %s error = %v, want context.Canceled", r, name, m.Err())
			}
		}
	}
}

type fakeConn struct {
	params inventory.ConnectionParams
	closed bool
}

func (c *fakeConn) Open(_ context.Context, p inventory.ConnectionParams, _ *config.Config) error {
	c.params = p
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestTask_Connection(t *testing.T) {
	reg := connections.NewRegistry()
	if err := reg.Register("fake", func() connections.Connection { return &fakeConn{} }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	mgr := connections.NewManager(connections.WithRegistry(reg))
	eng := New(fixture(t), WithConnections(mgr), WithRunner(ThreadedRunner{Workers: 3}))

	body := func(ctx context.Context, t *Task) (any, error) {
		conn, err := t.Connection(ctx, "fake")
		if err != nil {
			return nil, err
		}
		again, err := t.Connection(ctx, "fake")
		if err != nil {
			return nil, err
		}
		if conn != again {
			return nil, errors.New("connection was reopened")
		}
		return conn.(*fakeConn).params.Hostname, nil
	}

	agg, err := eng.Run(context.Background(), NewTask(body), RaiseOnError())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := agg.Hosts["h2"].First().Payload; got != "h2" {
		t.Errorf("hostname = %v, want the host name", got)
	}
	if got := mgr.Opened("h1"); !reflect.DeepEqual(got, []string{"fake"}) {
		t.Errorf("Opened() = %v", got)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := mgr.Opened("h1"); len(got) != 0 {
		t.Errorf("Opened() after Close = %v", got)
	}

	agg, _ = eng.Run(context.Background(), NewTask(func(ctx context.Context, t *Task) (any, error) {
		return t.Connection(ctx, "missing")
	}))
	if !errors.Is(agg.Hosts["h1"].Err(), connections.ErrPluginNotFound) {
		t.Errorf("error = %v, want ErrPluginNotFound", agg.Hosts["h1"].Err())
	}
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingProcessor) add(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingProcessor) TaskStarted(_ context.Context, t *Task) {
	p.add("start " + t.Name)
}

func (p *recordingProcessor) TaskCompleted(_ context.Context, t *Task, r *AggregatedResult) {
	p.add(fmt.Sprintf("done %s %d", t.Name, r.Len()))
}

func (p *recordingProcessor) TaskInstanceStarted(_ context.Context, t *Task, h *inventory.Host) {
	p.add("instance start " + h.Name())
}

func (p *recordingProcessor) TaskInstanceCompleted(_ context.Context, t *Task, h *inventory.Host, r MultiResult) {
	p.add(fmt.Sprintf("instance done %s %d", h.Name(), len(r)))
}

func (p *recordingProcessor) SubtaskInstanceStarted(_ context.Context, t *Task, h *inventory.Host) {
	p.add("sub start " + h.Name() + " " + t.Name)
}

func (p *recordingProcessor) SubtaskInstanceCompleted(_ context.Context, t *Task, h *inventory.Host, r MultiResult) {
	p.add("sub done " + h.Name() + " " + t.Name)
}

func TestProcessors(t *testing.T) {
	rec := &recordingProcessor{}
	onlyCompleted := &struct {
		BaseProcessor
	}{}
	eng := New(fixture(t),
		WithProcessors(rec, onlyCompleted, LoggingProcessor(zerolog.Nop()), MetricsProcessor(nil)),
		WithRunner(SerialRunner{}),
	)
	eng = eng.Filter(filter.F{"site": "nyc"})

	body := func(ctx context.Context, t *Task) (any, error) {
		return t.Run(ctx, hostName, WithName("sub"))
	}
	if _, err := eng.Run(context.Background(), NewTask(body, WithName("main"))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		"start main",
		"instance start h1",
		"sub start h1 sub",
		"sub done h1 sub",
		"instance done h1 2",
		"instance start h2",
		"sub start h2 sub",
		"sub done h2 sub",
		"instance done h2 2",
		"done main 2",
	}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events:\n%s\nwant:\n%s", strings.Join(rec.events, "\n"), strings.Join(want, "\n"))
	}
}

func TestAggregatedResult(t *testing.T) {
	agg := NewAggregatedResult("t")
	if agg.ID == "" {
		t.Error("ID should be set")
	}
	if agg.Status() != RunStatusSucceeded || agg.RaiseOnError() != nil {
		t.Error("an empty result has not failed")
	}

	agg.Hosts["b"] = MultiResult{{Failed: true, Err: errors.New("b")}}
	agg.Hosts["a"] = MultiResult{{Changed: true}}
	if got := agg.HostNames(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("HostNames() = %v", got)
	}
	if !agg.Changed() || !agg.Failed() {
		t.Error("Changed/Failed should aggregate over hosts")
	}

	agg.Hosts["a"][0].Failed = true
	if agg.Status() != RunStatusFailed {
		t.Errorf("Status() = %s, want failed", agg.Status())
	}
	if err := RunStatusPartial.Validate(); err != nil {
		t.Error(err)
	}
	if err := RunStatus("bogus").Validate(); err == nil {
		t.Error("expected invalid run status")
	}
}

func TestEngineError(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", NewTransientError("device busy", base).WithHost("h1").WithTask("cfg"))

	if !IsTransient(err) || IsPermanent(err) || !IsRetryable(err) {
		t.Errorf("classification of %v is wrong", err)
	}
	if !errors.Is(err, base) {
		t.Error("should unwrap to the cause")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassTransient}) {
		t.Error("should match by class")
	}
	if want := "[transient] device busy (host=h1, task=cfg): connection reset"; !strings.Contains(err.Error(), want) {
		t.Errorf("Error() = %q", err)
	}
	if IsRetryable(NewPermanentError("bad credentials", nil)) || IsRetryable(nil) {
		t.Error("permanent and nil errors are not retryable")
	}
	if !IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors are retryable")
	}
}

func mustHost(t *testing.T, inv *inventory.Inventory, name string) *inventory.Host {
	t.Helper()
	h, ok := inv.Host(name)
	if !ok {
		t.Fatalf("host %s not found", name)
	}
	return h
}

func sortedKeys(m map[string]MultiResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestRun_Timing(t *testing.T) {
	body := func(ctx context.Context, t *Task) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	}
	agg, _ := New(fixture(t), WithRunner(ThreadedRunner{Workers: 3})).Run(context.Background(), NewTask(body))
	if got := sortedKeys(agg.Hosts); !reflect.DeepEqual(got, []string{"h1", "h2", "h3"}) {
		t.Fatalf("hosts = %v", got)
	}
	if d := agg.Duration(); d < 20*time.Millisecond {
		t.Errorf("Duration() = %v", d)
	}
	if d := agg.Hosts["h1"].First().Duration(); d < 20*time.Millisecond {
		t.Errorf("host Duration() = %v", d)
	}
}
