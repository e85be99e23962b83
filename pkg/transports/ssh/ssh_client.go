package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/inventory"
)

var errNotConnected = errors.New("not connected")

// Client is an SSH connection to one host. The zero value is ready for
// Open.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *ssh.Client
	done     chan struct{}
	since    time.Time
	lastUsed time.Time
}

// NewClient returns an unconnected client for cfg.
func NewClient(cfg *Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: cfg, logger: logger}, nil
}

// Open resolves the connection settings for params and connects.
func (c *Client) Open(ctx context.Context, params inventory.ConnectionParams, cfg *config.Config) error {
	resolved, err := NewConfig(params, cfg)
	if err != nil {
		return &TransportError{Op: "connect", Err: fmt.Errorf("invalid config: %w", err)}
	}
	c.config = resolved
	c.logger = zerolog.Ctx(ctx).With().Str("address", resolved.Address()).Logger()
	return c.Connect(ctx)
}

// Close disconnects. Closing twice is harmless.
func (c *Client) Close() error { return c.Disconnect() }

// Connect dials the host unless a live connection is already open. The
// dial and the handshake both honour ctx.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if probe(c.conn) == nil {
			return nil
		}
		c.logger.Warn().Msg("SSH connection went away, reconnecting")
		_ = c.teardown()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	conn, err := dial(ctx, c.config.Address(), clientConfig)
	if err != nil {
		return err
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.since = time.Now()
	c.lastUsed = c.since
	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(conn, c.done)
	}

	c.logger.Debug().Str("user", c.config.User).Msg("SSH connection established")
	return nil
}

func dial(ctx context.Context, addr string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: clientConfig.Timeout}
	tcp, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	// Handshake deadline follows ctx when it has one.
	stop := context.AfterFunc(ctx, func() { _ = tcp.SetDeadline(time.Now()) })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = tcp.SetDeadline(deadline)
	}

	sc, chans, reqs, err := ssh.NewClientConn(tcp, addr, clientConfig)
	if err != nil {
		_ = tcp.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: !isAuthFailure(err),
			IsAuthError: isAuthFailure(err),
		}
	}
	_ = tcp.SetDeadline(time.Time{})
	return ssh.NewClient(sc, chans, reqs), nil
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// probe runs a no-op command to see whether conn still works.
func probe(conn *ssh.Client) error {
	session, err := conn.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run("true")
}

// Disconnect closes the connection if one is open.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.logger.Debug().Msg("Closing SSH connection")
	if err := c.teardown(); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// teardown requires c.mu.
func (c *Client) teardown() error {
	close(c.done)
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// HealthCheck runs a no-op command on the host.
func (c *Client) HealthCheck(ctx context.Context) error {
	conn, err := c.session()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err}
	}
	if err := probe(conn); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) keepAlive(conn *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			misses++
			c.logger.Warn().Err(err).Int("misses", misses).Msg("SSH keep-alive failed")
			if misses >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("Giving up on SSH keep-alives")
				return
			}
			continue
		}
		misses = 0

		c.mu.Lock()
		c.lastUsed = time.Now()
		c.mu.Unlock()
	}
}

// Info describes the open connection.
func (c *Client) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ConnectionInfo{ConnectedAt: c.since, LastActivity: c.lastUsed}
	if c.config != nil {
		info.Host, info.Port, info.User = c.config.Host, c.config.Port, c.config.User
	}
	return info
}

// Config returns the resolved connection settings.
func (c *Client) Config() *Config { return c.config }

// session hands out the live connection for a new session or SFTP channel.
func (c *Client) session() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errNotConnected
	}
	c.lastUsed = time.Now()
	return c.conn, nil
}
