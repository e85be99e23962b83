// Package engine runs tasks against the hosts of an inventory.
//
// # Tasks and results
//
// A Task wraps a Func, the body run once per host. The body receives the
// Task bound to the current host and returns a raw payload, a Result or a
// *Result. Returning an error, or panicking, fails the result; the engine
// never lets a body's failure escape to other hosts.
//
//	task := engine.NewTask(func(ctx context.Context, t *engine.Task) (any, error) {
//	    return t.Host().GetOr("site", ""), nil
//	}, engine.WithName("site"))
//
// Bodies can run sub-tasks on the same host with Task.Run. The results of one
// task on one host form a MultiResult: the task's own result first, then
// every sub-task result in execution order. A failed sub-task makes Run
// return a *SubTaskError; the body may handle it or return it.
//
// # Runners
//
// A Runner applies a task to a list of hosts and collects an
// AggregatedResult keyed by host name. SerialRunner handles one host at a
// time. ThreadedRunner dispatches hosts to a fixed pool of goroutines and
// gives every host its own copy of the task. Both produce the same results.
//
// # Engine
//
// Engine ties an inventory to a runner, the connection manager, processors
// and a Session tracking failed hosts:
//
//	eng := engine.New(inv, engine.WithConfig(cfg))
//	defer eng.Close()
//
//	web, err := eng.FilterExpr("role == 'web'")
//	if err != nil {
//	    return err
//	}
//	result, err := web.Run(ctx, task, engine.RaiseOnError())
//
// Hosts that fail are added to the session. Later runs skip them unless
// OnFailed(true) is given, and OnGood(false) restricts a run to them.
//
// # Retry
//
// Retry wraps a body so it is invoked again when it returns an error, up to
// a number of attempts, optionally with exponential backoff. Errors
// classified as permanent with NewPermanentError are not retried.
//
// # Processors
//
// Processors observe the start and completion of runs, host instances and
// sub-tasks. LoggingProcessor and MetricsProcessor are provided.
package engine
