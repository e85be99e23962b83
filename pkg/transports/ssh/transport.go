// Package ssh is the "ssh" connection plugin. It runs commands and transfers
// files over golang.org/x/crypto/ssh and SFTP.
package ssh

import (
	"context"
	"time"

	"github.com/openfroyo/herd/pkg/connections"
)

// PluginName is the name the plugin is registered under.
const PluginName = "ssh"

func init() {
	connections.MustRegister(PluginName, func() connections.Connection { return &Client{} })
}

// Executor runs commands on a host. Tasks depend on it rather than on
// Client so other plugins can serve them.
type Executor interface {
	Execute(ctx context.Context, cmd string) (*ExecResult, error)
}

// ConnectionInfo describes an open connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// ExecResult is the outcome of one command. Stdout and Stderr are trimmed
// of surrounding whitespace.
type ExecResult struct {
	Command    string
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

func (r *ExecResult) String() string { return r.Stdout }

// Success reports whether the command exited 0.
func (r *ExecResult) Success() bool { return r.ExitCode == 0 }

// FileTransferResult is the outcome of an upload or download. Checksum is
// the hex SHA-256 of the bytes copied.
type FileTransferResult struct {
	BytesTransferred int64
	Duration         time.Duration
	Checksum         string
}

// TransportError wraps a failure of the connection itself, as opposed to a
// command that ran and exited non-zero.
type TransportError struct {
	Op  string // connect, execute, upload, download, ...
	Err error

	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool { return e.IsTemporary }
