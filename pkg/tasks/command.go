package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openfroyo/herd/pkg/connections"
	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/transports/ssh"
)

// Parameter names read by the built-in tasks.
const (
	ParamCommand    = "command"
	ParamSudo       = "sudo"
	ParamSource     = "src"
	ParamDest       = "dest"
	ParamMode       = "mode"
	ParamConnection = "connection"
	ParamGather     = "gather"
)

type sudoExecutor interface {
	ExecuteWithSudo(ctx context.Context, cmd string) (*ssh.ExecResult, error)
}

type uploader interface {
	Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) (*ssh.FileTransferResult, error)
}

// NewCommand returns a task running cmd on every host.
func NewCommand(cmd string, opts ...engine.TaskOption) *engine.Task {
	opts = append([]engine.TaskOption{engine.WithName("command"), engine.WithParam(ParamCommand, cmd)}, opts...)
	return engine.NewTask(Command, opts...)
}

// Command runs the "command" parameter through the host's SSH connection,
// with sudo when the "sudo" parameter is true. The payload is the
// *ssh.ExecResult. A non-zero exit status fails the result; any command that
// ran is reported as changed.
func Command(ctx context.Context, t *engine.Task) (any, error) {
	cmd := t.StringParam(ParamCommand)
	if cmd == "" {
		return nil, engine.NewPermanentError("command parameter is required", nil)
	}
	sudo, _ := t.Params[ParamSudo].(bool)

	if t.DryRun() {
		return &engine.Result{Diff: "would run: " + cmd}, nil
	}

	conn, err := connection(ctx, t)
	if err != nil {
		return nil, err
	}
	exec, ok := conn.(ssh.Executor)
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("connection %T cannot run commands", conn), nil)
	}

	var res *ssh.ExecResult
	if sudo {
		s, ok := conn.(sudoExecutor)
		if !ok {
			return nil, engine.NewPermanentError(fmt.Sprintf("connection %T cannot run commands with sudo", conn), nil)
		}
		res, err = s.ExecuteWithSudo(ctx, cmd)
	} else {
		res, err = exec.Execute(ctx, cmd)
	}
	if err != nil {
		return nil, classify(err)
	}

	r := &engine.Result{Payload: res, Changed: true}
	if !res.Success() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return r, fmt.Errorf("command exited with status %d: %s", res.ExitCode, msg)
	}
	return r, nil
}

// Upload copies the local "src" file to "dest" on the host over SFTP. The
// optional "mode" parameter is applied to the remote file.
func Upload(ctx context.Context, t *engine.Task) (any, error) {
	src, dest := t.StringParam(ParamSource), t.StringParam(ParamDest)
	if src == "" || dest == "" {
		return nil, engine.NewPermanentError("src and dest parameters are required", nil)
	}
	var mode os.FileMode
	switch v := t.Params[ParamMode].(type) {
	case os.FileMode:
		mode = v
	case int:
		mode = os.FileMode(v)
	}

	if t.DryRun() {
		return &engine.Result{Diff: fmt.Sprintf("would upload %s to %s", src, dest)}, nil
	}

	conn, err := connection(ctx, t)
	if err != nil {
		return nil, err
	}
	up, ok := conn.(uploader)
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("connection %T cannot transfer files", conn), nil)
	}

	res, err := up.Upload(ctx, src, dest, mode)
	if err != nil {
		return nil, classify(err)
	}
	return &engine.Result{
		Payload: res,
		Changed: true,
		Diff:    fmt.Sprintf("uploaded %s (%d bytes, sha256 %s)", dest, res.BytesTransferred, res.Checksum),
	}, nil
}

// connection opens the plugin named by the "connection" parameter, the SSH
// plugin by default.
func connection(ctx context.Context, t *engine.Task) (connections.Connection, error) {
	plugin := t.StringParam(ParamConnection)
	if plugin == "" {
		plugin = ssh.PluginName
	}
	conn, err := t.Connection(ctx, plugin)
	if err != nil {
		return nil, classify(err)
	}
	return conn, nil
}

// classify marks transport failures for Retry: temporary ones are transient,
// authentication failures permanent.
func classify(err error) error {
	var te *ssh.TransportError
	if !errors.As(err, &te) {
		return err
	}
	switch {
	case te.IsAuthError:
		return engine.NewPermanentError("authentication failed", err)
	case te.Temporary():
		return engine.NewTransientError(te.Op+" failed", err)
	default:
		return err
	}
}
