// Package connections manages connection plugins and the connections opened
// through them.
//
// A connection plugin is a Go type implementing Connection, registered under
// a name with a Factory:
//
//	func init() {
//	    connections.MustRegister("ssh", func() connections.Connection { return &Client{} })
//	}
//
// Registering the same type twice under one name is a no-op; registering a
// different type under a taken name fails with ErrPluginConflict.
//
// A Manager tracks the connections opened for each host during a run. Task
// bodies call Manager.Get, which opens the connection on first use with the
// host's resolved connection parameters for that plugin.
package connections
