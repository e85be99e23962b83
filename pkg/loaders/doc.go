// Package loaders provides the inventory plugins that turn files into
// inventory.Records.
//
// Two plugins are available:
//
//   - SimpleLoader reads YAML files: a hosts file (required) and optional
//     groups and defaults files.
//   - CUELoader evaluates CUE files or directories, unifies them with a
//     closed inventory schema and decodes the hosts, groups and defaults
//     fields.
//
// The hosts and groups documents map element names to records:
//
//	edge1.nyc:
//	  hostname: 10.0.0.1
//	  groups: [edge, nyc]
//	  data:
//	    role: edge
//	  connection_options:
//	    ssh:
//	      port: 2222
//
// New selects a plugin from the inventory section of the runtime
// configuration.
package loaders
