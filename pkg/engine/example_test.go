package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/inventory"
)

func exampleInventory() *inventory.Inventory {
	inv, err := inventory.Build(&inventory.Records{
		Groups: map[string]inventory.GroupRecord{
			"nyc": {Data: map[string]any{"site": "nyc"}},
		},
		Hosts: map[string]inventory.HostRecord{
			"web1": {Groups: []string{"nyc"}, Data: map[string]any{"role": "web"}},
			"web2": {Groups: []string{"nyc"}, Data: map[string]any{"role": "web"}},
			"db1":  {Groups: []string{"nyc"}, Data: map[string]any{"role": "db"}},
		},
	})
	if err != nil {
		panic(err)
	}
	return inv
}

// Example_run shows a task with a sub-task running over filtered hosts.
func Example_run() {
	eng := engine.New(exampleInventory())
	defer eng.Close()

	web, err := eng.FilterExpr("role == 'web' AND site == 'nyc'")
	if err != nil {
		fmt.Println(err)
		return
	}

	greet := engine.NewTask(func(ctx context.Context, t *engine.Task) (any, error) {
		if _, err := t.Run(ctx, func(ctx context.Context, t *engine.Task) (any, error) {
			return t.Host().GetOr("site", ""), nil
		}, engine.WithName("site")); err != nil {
			return nil, err
		}
		return "hello " + t.Host().Name(), nil
	}, engine.WithName("greet"))

	result, err := web.Run(context.Background(), greet)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, host := range result.HostNames() {
		for _, r := range result.Hosts[host] {
			fmt.Printf("%s %s: %v\n", host, r.Name, r.Payload)
		}
	}
	// Output:
	// web1 greet: hello web1
	// web1 site: nyc
	// web2 greet: hello web2
	// web2 site: nyc
}

// Example_failedHosts shows failures being raised and retried on the failed
// hosts only.
func Example_failedHosts() {
	eng := engine.New(exampleInventory(), engine.WithRunner(engine.SerialRunner{}))

	flaky := true
	deploy := engine.NewTask(func(ctx context.Context, t *engine.Task) (any, error) {
		if flaky && t.Host().Name() == "db1" {
			return nil, errors.New("disk full")
		}
		return "deployed", nil
	}, engine.WithName("deploy"))

	_, err := eng.Run(context.Background(), deploy, engine.RaiseOnError())
	var aggErr *engine.AggregatedError
	if errors.As(err, &aggErr) {
		fmt.Println(err)
		fmt.Println("web1:", aggErr.Result.Hosts["web1"].First().Payload)
	}

	flaky = false
	result, _ := eng.Run(context.Background(), deploy, engine.OnGood(false), engine.OnFailed(true))
	fmt.Println("retried:", result.HostNames())

	eng.Session().RecoverHost("db1")
	fmt.Println("failed:", eng.Session().FailedHosts())
	// Output:
	// task deploy failed on 1 of 3 hosts: db1
	// web1: deployed
	// retried: [db1]
	// failed: []
}

// ExampleRetry shows a body retried until it succeeds.
func ExampleRetry() {
	h, _ := exampleInventory().Host("web1")

	body := engine.Retry(3, func(ctx context.Context, t *engine.Task, attempt int) (any, error) {
		if attempt < 2 {
			return nil, engine.NewTransientError("device busy", nil)
		}
		return fmt.Sprintf("ok after %d attempts", attempt+1), nil
	})

	r := engine.NewTask(body).Start(context.Background(), h).First()
	fmt.Println(r.Payload, r.Failed)
	// Output: ok after 3 attempts false
}
