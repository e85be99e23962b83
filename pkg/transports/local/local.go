// Package local is the "local" connection plugin. It runs commands and
// copies files on the machine herd itself runs on, which is useful for
// hosts that stand for the control node and for tests.
package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/connections"
	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/transports/ssh"
)

// PluginName is the name the plugin is registered under.
const PluginName = "local"

// Extras keys read from the host's connection options.
const (
	ExtraShell        = "shell"
	ExtraWorkDir      = "workdir"
	ExtraEnv          = "env"
	ExtraSudoPassword = "sudo_password"
)

const defaultShell = "/bin/sh"

var errNotOpen = errors.New("connection not open")

func init() {
	connections.MustRegister(PluginName, func() connections.Connection { return &Client{} })
}

// Client runs commands through a local shell.
type Client struct {
	shell        string
	workDir      string
	env          []string
	sudoPassword string
	timeout      time.Duration
	open         bool
}

// Open reads the shell, working directory, environment and sudo password
// from the connection extras. The host password is used for sudo when no
// sudo_password extra is set.
func (c *Client) Open(ctx context.Context, params inventory.ConnectionParams, cfg *config.Config) error {
	c.shell = defaultShell
	if s, ok := params.Extras[ExtraShell].(string); ok && s != "" {
		c.shell = s
	}
	if dir, ok := params.Extras[ExtraWorkDir].(string); ok {
		c.workDir = dir
	}
	env, err := environ(params.Extras[ExtraEnv])
	if err != nil {
		return &ssh.TransportError{Op: "connect", Err: err}
	}
	c.env = env
	c.sudoPassword = params.Password
	if pw, ok := params.Extras[ExtraSudoPassword].(string); ok && pw != "" {
		c.sudoPassword = pw
	}
	if cfg != nil {
		c.timeout = cfg.SSH.CommandTimeout
	}
	c.open = true

	zerolog.Ctx(ctx).Debug().Str("shell", c.shell).Str("workdir", c.workDir).Msg("local shell ready")
	return nil
}

// environ renders an env extra as KEY=value pairs, sorted by key.
func environ(v any) ([]string, error) {
	var env map[string]any
	switch e := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		env = e
	case map[string]string:
		env = make(map[string]any, len(e))
		for k, s := range e {
			env[k] = s
		}
	default:
		return nil, fmt.Errorf("invalid %s extra %T", ExtraEnv, v)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s=%v", k, env[k])
	}
	return out, nil
}

// Close implements connections.Connection.
func (c *Client) Close() error {
	c.open = false
	return nil
}

// Execute runs cmd through the shell. A command that runs and exits
// non-zero is not an error: its status is reported in ExecResult.ExitCode.
func (c *Client) Execute(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
	return c.run(ctx, cmd, nil, c.shell, "-c", cmd)
}

// ExecuteWithSudo runs cmd through sudo, feeding the sudo password on
// stdin when one is set.
func (c *Client) ExecuteWithSudo(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
	if c.sudoPassword != "" {
		return c.run(ctx, cmd, bytes.NewBufferString(c.sudoPassword+"\n"), "sudo", "-S", "-p", "", c.shell, "-c", cmd)
	}
	return c.run(ctx, cmd, nil, "sudo", "-n", c.shell, "-c", cmd)
}

func (c *Client) run(ctx context.Context, display string, stdin io.Reader, name string, args ...string) (*ssh.ExecResult, error) {
	if !c.open {
		return nil, &ssh.TransportError{Op: "execute", Err: errNotOpen}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, name, args...)
	command.Dir = c.workDir
	if len(c.env) > 0 {
		command.Env = append(os.Environ(), c.env...)
	}
	command.Stdin = stdin

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	result := &ssh.ExecResult{
		Command:   display,
		StartedAt: time.Now(),
	}
	err := command.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &ssh.TransportError{Op: "execute", Err: ctxErr, IsTemporary: errors.Is(ctxErr, context.DeadlineExceeded)}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ssh.TransportError{Op: "execute", Err: fmt.Errorf("failed to execute command: %w", err)}
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Upload copies localPath to remotePath on this machine, creating parent
// directories. The file is written to a temporary name and renamed into
// place. A zero mode keeps the source file's permissions.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) (*ssh.FileTransferResult, error) {
	if !c.open {
		return nil, &ssh.TransportError{Op: "upload", Err: errNotOpen}
	}
	start := time.Now()

	if c.workDir != "" && !filepath.IsAbs(remotePath) {
		remotePath = filepath.Join(c.workDir, remotePath)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer src.Close()

	if mode == 0 {
		info, err := src.Stat()
		if err != nil {
			return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to stat local file: %w", err)}
		}
		mode = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(remotePath), "."+filepath.Base(remotePath)+".herd-*")
	if err != nil {
		return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to create file: %w", err)}
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), contextReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to copy file: %w", err)}
	}

	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to set mode: %w", err)}
	}
	if err := os.Rename(tmp.Name(), remotePath); err != nil {
		return nil, &ssh.TransportError{Op: "upload", Err: fmt.Errorf("failed to move file into place: %w", err)}
	}

	return &ssh.FileTransferResult{
		BytesTransferred: n,
		Duration:         time.Since(start),
		Checksum:         fmt.Sprintf("%x", hash.Sum(nil)),
	}, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
