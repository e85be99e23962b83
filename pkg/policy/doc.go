// Package policy selects hosts with Open Policy Agent (OPA) Rego policies.
//
// Each policy is a Rego module evaluated once per host with the host's
// resolved attributes as input:
//
//	{
//	  "name": "edge1",
//	  "hostname": "10.0.0.1",
//	  "port": 22,
//	  "username": "admin",
//	  "platform": "linux",
//	  "groups": ["edge", "prod"],
//	  "data": {"site": "nyc", "maintenance": false}
//	}
//
// A host passes a policy when the package's "allow" rule is true or
// undefined and its "deny" set is empty. A host is selected when it passes
// every enabled policy.
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	if err := engine.EnablePolicy("require-hostname"); err != nil {
//	    return err
//	}
//	selected := inv.Filter(engine.Selector(ctx))
//
// A policy file looks like:
//
//	# Only production web servers
//	package herd.select.web
//
//	import rego.v1
//
//	default allow := false
//
//	allow if {
//	    "web" in input.groups
//	    input.data.env == "prod"
//	}
//
// # Built-in Policies
//
// The engine ships with disabled built-ins that can be enabled by name:
//
//   - require-hostname: skip hosts with no resolved hostname
//   - require-platform: skip hosts with no resolved platform
//   - skip-maintenance: skip hosts whose data sets maintenance to true
//
// # Hot Reload
//
// Engine.Watch watches policy files with fsnotify and recompiles them after
// writes, so a long-running process picks up edits without restarting.
package policy
