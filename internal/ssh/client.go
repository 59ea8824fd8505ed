// Package ssh connects to rented instances for file copies and self-test
// GPU checks.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	// DefaultConnectTimeout is the default timeout for establishing SSH connections
	DefaultConnectTimeout = 30 * time.Second

	// DefaultCommandTimeout is the default timeout for command execution
	DefaultCommandTimeout = 60 * time.Second

	// DefaultUser is the login user on marketplace images
	DefaultUser = "root"
)

// defaultIdentities are tried in order when no identity file is given.
var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Target identifies an sshd endpoint and how to authenticate to it.
type Target struct {
	Host string
	Port int
	User string
	// IdentityFile is a private key path. Empty means ssh-agent, then the
	// usual ~/.ssh keys.
	IdentityFile string
}

// Validate checks the target before any network activity
func (t Target) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", t.Port)
	}
	return nil
}

func (t Target) user() string {
	if t.User == "" {
		return DefaultUser
	}
	return t.User
}

// Addr returns host:port
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, fmt.Sprint(t.Port))
}

// Connection represents an established SSH connection to an instance
type Connection struct {
	client *ssh.Client
	target Target
}

// Target returns the endpoint this connection was opened against
func (c *Connection) Target() Target {
	return c.target
}

// Client exposes the underlying client so SFTP sessions can share it
func (c *Connection) Client() *ssh.Client {
	return c.client
}

// Close closes the SSH connection
func (c *Connection) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Dialer opens SSH connections with configurable timeouts.
type Dialer struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
	hostKey        ssh.HostKeyCallback
	auth           []ssh.AuthMethod
}

// Option configures the Dialer
type Option func(*Dialer)

// WithConnectTimeout sets the timeout for each connection attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(dl *Dialer) {
		dl.connectTimeout = d
	}
}

// WithCommandTimeout sets the default command execution timeout
func WithCommandTimeout(d time.Duration) Option {
	return func(dl *Dialer) {
		dl.commandTimeout = d
	}
}

// WithHostKeyCallback replaces the host key policy. Instances are recreated
// with fresh host keys, so the default accepts any key.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(dl *Dialer) {
		dl.hostKey = cb
	}
}

// WithAuth bypasses identity discovery. Used by tests.
func WithAuth(methods ...ssh.AuthMethod) Option {
	return func(dl *Dialer) {
		dl.auth = methods
	}
}

// NewDialer creates a dialer with defaults applied
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
		hostKey:        ssh.InsecureIgnoreHostKey(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial establishes an SSH connection to t
func (d *Dialer) Dial(ctx context.Context, t Target) (*Connection, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	auth := d.auth
	if len(auth) == 0 {
		var err error
		auth, err = AuthMethods(t.IdentityFile)
		if err != nil {
			return nil, err
		}
	}

	config := &ssh.ClientConfig{
		User:            t.user(),
		Auth:            auth,
		HostKeyCallback: d.hostKey,
		Timeout:         d.connectTimeout,
	}

	addr := t.Addr()
	dialer := net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	return &Connection{
		client: ssh.NewClient(sshConn, chans, reqs),
		target: t,
	}, nil
}

// Run executes a command and returns trimmed stdout/stderr
func (d *Dialer) Run(ctx context.Context, conn *Connection, cmd string) (stdout, stderr string, err error) {
	if conn == nil || conn.client == nil {
		return "", "", fmt.Errorf("connection is nil or closed")
	}

	session, err := conn.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, d.commandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case runErr := <-done:
		stdout = strings.TrimSpace(stdoutBuf.String())
		stderr = strings.TrimSpace(stderrBuf.String())
		if runErr != nil {
			return stdout, stderr, fmt.Errorf("%q failed: %w", cmd, runErr)
		}
		return stdout, stderr, nil
	case <-cmdCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", "", fmt.Errorf("command timed out: %w", cmdCtx.Err())
	}
}

// CheckHealth verifies the connection is responsive by running "echo ok"
func (d *Dialer) CheckHealth(ctx context.Context, conn *Connection) error {
	stdout, stderr, err := d.Run(ctx, conn, "echo ok")
	if err != nil {
		return fmt.Errorf("health check failed: %w (stderr: %s)", err, stderr)
	}
	if stdout != "ok" {
		return fmt.Errorf("health check returned unexpected output: %q", stdout)
	}
	return nil
}

// WaitReachable dials t every interval until a health check passes, ctx
// expires or timeout elapses. It returns the live connection and the number
// of attempts made.
func (d *Dialer) WaitReachable(ctx context.Context, t Target, timeout, interval time.Duration) (*Connection, int, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	var lastErr error
	for {
		attempts++
		conn, err := d.Dial(ctx, t)
		if err == nil {
			if err = d.CheckHealth(ctx, conn); err == nil {
				return conn, attempts, nil
			}
			conn.Close()
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, attempts, fmt.Errorf("ssh to %s not reachable after %d attempts: %w (last error: %v)", t.Addr(), attempts, ctx.Err(), lastErr)
		case <-time.After(interval):
		}
	}
}

// AuthMethods resolves how to authenticate: an explicit identity file, else
// ssh-agent when SSH_AUTH_SOCK is set, else the first readable default key.
func AuthMethods(identity string) ([]ssh.AuthMethod, error) {
	if identity != "" {
		signer, err := LoadSigner(identity)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		for _, name := range defaultIdentities {
			signer, err := LoadSigner(filepath.Join(home, ".ssh", name))
			if err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
				break
			}
		}
	}

	if len(methods) == 0 {
		return nil, errors.New("no ssh identity found: pass --identity or start ssh-agent")
	}
	return methods, nil
}

// LoadSigner parses an unencrypted private key file
func LoadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key %s is encrypted: add it to ssh-agent instead", path)
		}
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}
