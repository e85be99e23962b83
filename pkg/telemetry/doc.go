// Package telemetry provides logging, tracing and metrics for herd.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus). The engine feeds it through
// processors and spans, so every task run and every host instance shows up
// in all three.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.FromConfig(runtimeConfig, version)
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithTask("backup").WithHost("edge1").Info().Msg("task started")
//	logger.Error().Err(err).Msg("connection failed")
//
// Log levels: trace, debug, info, warn, error, fatal, panic, disabled.
//
// # Distributed Tracing
//
// A run produces one "task.run" span with a "task.host" child per host:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, "backup", 12)
//	defer span.End()
//
// Supported exporters: otlp (gRPC), stdout and none.
//
// # Metrics
//
//	tel.Metrics.RecordRunStarted("backup")
//	tel.Metrics.RecordHostInstance("backup", telemetry.StatusFailed, time.Second)
//
// Exposed metrics, prefixed with the configured namespace:
//
//   - runs_started_total, runs_completed_total, run_duration_seconds
//   - host_instances_total, host_instance_duration_seconds, subtasks_total
//   - connection_opens_total
//   - active_runs, failed_hosts
//
// Set metrics.listen_address to serve them on /metrics while herd runs.
package telemetry
