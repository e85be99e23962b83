// Package config loads the runtime configuration of herd.
//
// Configuration is read with viper from a YAML file (herd.yaml in the
// working directory or ~/.herd by default) and overlaid with HERD_*
// environment variables. Every key has a default, so an empty file or no
// file at all yields a usable configuration.
//
// # Sections
//
//   - core: engine-wide switches (raise_on_error)
//   - runner: runner plugin (serial or threaded) and worker count
//   - inventory: inventory plugin (simple YAML files or cue sources)
//   - ssh: options of the ssh connection plugin
//   - logging, tracing, metrics: telemetry
//   - store: sqlite run history
//   - user: free-form data for tasks
//
// # Example
//
//	runner:
//	  plugin: threaded
//	  workers: 50
//	inventory:
//	  plugin: simple
//	  host_file: inventory/hosts.yaml
//	  group_file: inventory/groups.yaml
//	ssh:
//	  private_key_file: ~/.ssh/id_ed25519
//	  connect_timeout: 10s
//
// HERD_RUNNER_WORKERS=5 overrides runner.workers for a single invocation.
package config
