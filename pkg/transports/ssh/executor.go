package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// killGrace is how long a cancelled command has between SIGTERM and SIGKILL.
const killGrace = 100 * time.Millisecond

// Execute runs cmd on the host. A non-zero exit is reported in
// ExecResult.ExitCode, not as an error. The configured command timeout
// applies on top of ctx.
func (c *Client) Execute(ctx context.Context, cmd string) (*ExecResult, error) {
	return c.run(ctx, cmd)
}

// ExecuteWithSudo runs cmd under sudo. With a sudo password configured it
// is piped to sudo -S; otherwise sudo must not prompt.
func (c *Client) ExecuteWithSudo(ctx context.Context, cmd string) (*ExecResult, error) {
	if c.config == nil {
		return nil, &TransportError{Op: "execute", Err: errNotConnected}
	}
	if pw := c.config.SudoPassword; pw != "" {
		return c.run(ctx, fmt.Sprintf("echo %s | sudo -S -p '' %s", shellQuote(pw), cmd))
	}
	return c.run(ctx, "sudo -n "+cmd)
}

func (c *Client) run(ctx context.Context, cmd string) (*ExecResult, error) {
	conn, err := c.session()
	if err != nil {
		return nil, &TransportError{Op: "execute", Err: err}
	}
	if d := c.config.CommandTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("new session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	res := &ExecResult{Command: cmd, StartedAt: time.Now()}
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = session.Signal(ssh.SIGKILL)
		}
		runErr = ctx.Err()
	}

	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	res.Stdout = strings.TrimSpace(stdout.String())
	res.Stderr = strings.TrimSpace(stderr.String())

	var exit *ssh.ExitError
	if errors.As(runErr, &exit) {
		res.ExitCode = exit.ExitStatus()
		runErr = nil
	} else if runErr != nil {
		res.ExitCode = -1
	}

	c.logger.Debug().
		Str("command", cmd).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Err(runErr).
		Msg("Command finished")

	if runErr != nil {
		return res, &TransportError{
			Op:          "execute",
			Err:         runErr,
			IsTemporary: !errors.Is(runErr, context.Canceled),
		}
	}
	return res, nil
}

// shellQuote single-quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
