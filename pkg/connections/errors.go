package connections

import (
	"errors"
	"fmt"
)

// Errors returned by the registry and the manager.
var (
	// ErrPluginNotFound is returned when no plugin is registered under a name.
	ErrPluginNotFound = errors.New("connection plugin not found")

	// ErrPluginConflict is returned when a name is already taken by another type.
	ErrPluginConflict = errors.New("connection plugin already registered")

	// ErrAlreadyOpen is returned when opening a connection that is open.
	ErrAlreadyOpen = errors.New("connection already open")

	// ErrNotOpen is returned when closing a connection that is not open.
	ErrNotOpen = errors.New("connection not open")
)

// ConnectionError reports a failed operation on one host's connection.
type ConnectionError struct {
	// Host is the inventory host name.
	Host string

	// Plugin is the connection plugin name.
	Plugin string

	// Op is the failed operation (open or close).
	Op string

	// Err is the underlying error.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s connection to %s: %v", e.Op, e.Plugin, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
