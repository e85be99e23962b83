package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/telemetry"
)

// Example_basicSetup demonstrates deriving telemetry from the runtime
// configuration.
func Example_basicSetup() {
	runtime := config.Default()
	runtime.Logging.Level = "disabled"

	tel, err := telemetry.NewTelemetry(telemetry.FromConfig(runtime, "1.0.0"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info().Msg("herd started")

	fmt.Println(tel.Config.ServiceName, tel.Config.ServiceVersion)
	// Output: herd 1.0.0
}

// Example_runInstrumentation shows the spans and metrics recorded for one
// task run.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "disabled"
	cfg.Metrics.Enabled = true

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	ctx := tel.WithContext(context.Background())

	ctx, runSpan := tel.Tracer.StartRunSpan(ctx, "run-1", "backup", 2)
	tel.Metrics.RecordRunStarted("backup")

	for _, host := range []string{"edge1", "edge2"} {
		_, span := tel.Tracer.StartHostSpan(ctx, "backup", host)
		tel.Metrics.RecordHostInstance("backup", telemetry.StatusSucceeded, 10*time.Millisecond)
		telemetry.RecordSuccess(span)
		span.End()
	}

	tel.Metrics.RecordRunCompleted("backup", telemetry.StatusSucceeded, 20*time.Millisecond)
	runSpan.End()

	families, _ := tel.Metrics.Registry().Gather()
	fmt.Println(len(families) > 0)
	// Output: true
}
