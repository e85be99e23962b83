// Package tasks provides built-in task bodies.
//
// Command and Upload work through the host's "ssh" connection (see
// package transports/ssh), or the plugin named by the "connection"
// parameter, such as "local" (see package transports/local). Facts gathers
// OS and hardware facts into the host's data. Echo and HostData need no
// connection.
//
//	result, err := eng.Run(ctx, tasks.NewCommand("uptime"))
package tasks
