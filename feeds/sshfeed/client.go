package sshfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort           = 22
	defaultDialTimeout    = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
)

// Config describes how to reach and authenticate against one host.
//
// Exactly one of Password, PrivateKey or PrivateKeyPath should be set. Host
// keys are verified against KnownHostsPath unless InsecureIgnoreHostKey is
// set.
type Config struct {
	Host                  string        `validate:"required"`
	Port                  int           `validate:"omitempty,min=1,max=65535"`
	User                  string        `validate:"required"`
	Password              string        `validate:"required_without_all=PrivateKey PrivateKeyPath"`
	PrivateKey            []byte        `validate:"required_without_all=Password PrivateKeyPath"`
	PrivateKeyPath        string        `validate:"required_without_all=Password PrivateKey"`
	Passphrase            string        `validate:"-"`
	KnownHostsPath        string        `validate:"required_without=InsecureIgnoreHostKey"`
	InsecureIgnoreHostKey bool          `validate:"-"`
	DialTimeout           time.Duration `validate:"gte=0"`
	CommandTimeout        time.Duration `validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Address returns host:port.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password),
			// many servers only offer keyboard-interactive for passwords
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		)
	}

	key := c.PrivateKey
	if len(key) == 0 && c.PrivateKeyPath != "" {
		var err error
		key, err = os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
	}
	if len(key) > 0 {
		var signer ssh.Signer
		var err error
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	timeout := c.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Result is the raw sample produced by running one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client runs commands on one host over a lazily established connection.
//
// A failed session or dial drops the connection; the next Run reconnects.
// A command exiting non-zero is a valid [Result], not an error.
type Client struct {
	cfg       Config
	sshConfig *ssh.ClientConfig

	mu        sync.Mutex
	conn      *ssh.Client
	connected atomic.Bool
}

// NewClient validates cfg and returns a client. It does not connect.
func NewClient(cfg Config) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	sshConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, sshConfig: sshConfig}, nil
}

// Connected reports whether the last dial or command succeeded at the
// transport level.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run executes cmd and returns its output. The command is killed when ctx is
// cancelled or the command timeout elapses.
func (c *Client) Run(ctx context.Context, cmd string) (*Result, error) {
	timeout := c.cfg.CommandTimeout
	if timeout == 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	session, err := conn.NewSession()
	if err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("command %q: %w", cmd, ctx.Err())
	case err = <-done:
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	default:
		c.drop(conn)
		return nil, fmt.Errorf("command %q: %w", cmd, err)
	}
}

// client returns the live connection, dialing if needed.
func (c *Client) client(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	addr := c.cfg.Address()
	dialer := net.Dialer{Timeout: c.sshConfig.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.connected.Store(false)
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	// the handshake is bounded by the dial timeout and by ctx
	deadline := time.Now().Add(c.sshConfig.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = netConn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, c.sshConfig)
	if !stop() || err != nil {
		_ = netConn.Close()
		c.connected.Store(false)
		if err == nil || ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.connected.Store(true)
	return c.conn, nil
}

// drop discards conn if it is still the current connection.
func (c *Client) drop(conn *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
		c.connected.Store(false)
	}
}

// Close closes the connection, if any. The client reconnects on next Run.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
