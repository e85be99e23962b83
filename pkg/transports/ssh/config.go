package ssh

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/inventory"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// Keys read from the "ssh" connection options extras of a host.
const (
	ExtraPrivateKeyFile        = "private_key_file"
	ExtraPrivateKeyPassphrase  = "private_key_passphrase"
	ExtraKnownHostsFile        = "known_hosts_file"
	ExtraStrictHostKeyChecking = "strict_host_key_checking"
	ExtraSudoPassword          = "sudo_password"
)

// Config is the resolved connection setup for one host.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// With StrictHostKeyChecking off any host key is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	SudoPassword string

	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration

	// Zero KeepAliveInterval disables keep-alives.
	KeepAliveInterval   time.Duration
	MaxKeepAliveRetries int
}

// DefaultConfig returns key-auth settings for user@host with strict host
// key checking against ~/.ssh/known_hosts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        5 * time.Minute,
		MaxKeepAliveRetries:   3,
	}
}

// NewConfig builds the connection configuration for one host from its
// resolved "ssh" connection parameters and the runtime configuration.
// Extras override the runtime ssh section; cfg may be nil.
func NewConfig(params inventory.ConnectionParams, cfg *config.Config) (*Config, error) {
	c := DefaultConfig(params.Hostname, params.Username)
	if params.Port != 0 {
		c.Port = params.Port
	}

	if cfg != nil {
		s := cfg.SSH
		if s.KnownHostsFile != "" {
			c.KnownHostsPath = s.KnownHostsFile
		}
		c.StrictHostKeyChecking = s.StrictHostKeyChecking
		c.PrivateKeyPath = s.PrivateKeyFile
		c.PrivateKeyPassphrase = s.PrivateKeyPassphrase
		if s.ConnectTimeout > 0 {
			c.ConnectionTimeout = s.ConnectTimeout
		}
		if s.CommandTimeout > 0 {
			c.CommandTimeout = s.CommandTimeout
		}
		c.KeepAliveInterval = s.KeepAliveInterval
	}

	extras := params.Extras
	if v, ok := extras[ExtraPrivateKeyFile].(string); ok {
		c.PrivateKeyPath = v
	}
	if v, ok := extras[ExtraPrivateKeyPassphrase].(string); ok {
		c.PrivateKeyPassphrase = v
	}
	if v, ok := extras[ExtraKnownHostsFile].(string); ok {
		c.KnownHostsPath = v
	}
	if v, ok := extras[ExtraSudoPassword].(string); ok {
		c.SudoPassword = v
	}
	if v, ok := extras[ExtraStrictHostKeyChecking]; ok {
		strict, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ExtraStrictHostKeyChecking, err)
		}
		c.StrictHostKeyChecking = strict
	}

	if params.Password != "" {
		c.AuthMethod = AuthMethodPassword
		c.Password = params.Password
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

// defaultKeyFiles are tried in order when key auth has no key configured.
var defaultKeyFiles = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Validate checks c and fills in a default private key when needed.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if c.ConnectionTimeout <= 0 {
		return errors.New("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command timeout must be positive")
	}
	return nil
}

func (c *Config) validateAuth() error {
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password is required for password authentication")
		}
		return nil
	case AuthMethodKey:
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.PrivateKeyPath == "" {
		dir := filepath.Join(os.Getenv("HOME"), ".ssh")
		for _, name := range defaultKeyFiles {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				c.PrivateKeyPath = filepath.Join(dir, name)
				break
			}
		}
		if c.PrivateKeyPath == "" {
			return errors.New("no password set and no private key found")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}
	return nil
}

// BuildSSHClientConfig turns c into an x/crypto/ssh client config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	if c.AuthMethod == AuthMethodPassword {
		// Some servers only prompt through keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			out := make([]string, len(questions))
			for i := range out {
				out[i] = c.Password
			}
			return out, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
	}

	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if c.KnownHostsPath == "" {
		return nil, errors.New("strict host key checking requires a known_hosts file")
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
