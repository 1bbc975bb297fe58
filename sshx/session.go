package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rickicode/bulkpanel/id"
)

// RunResult captures one remote command execution.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Session is an established SSH connection to one host.
type Session interface {
	// Run executes the command and returns its exit code and output.
	// A non-zero exit code is reported in RunResult, not as an error;
	// errors mean the command could not be executed at all.
	Run(ctx context.Context, command string) (*RunResult, error)

	// Close tears down the connection.
	Close() error
}

// Factory dials sessions. Stages depend on this interface so tests can
// substitute a fake transport.
type Factory interface {
	Dial(ctx context.Context, host string, port int, user, password string) (Session, error)
}

// Option configures the dialer.
type Option func(*Dialer)

// WithTimeout sets the TCP connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(dl *Dialer) { dl.logger = l }
}

// WithHostKeyCallback overrides host key verification. The default
// accepts any host key; bulk provisioning targets are addressed by
// operator-supplied credentials, not a curated known_hosts file.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(dl *Dialer) { dl.hostKey = cb }
}

// Dialer is the production Factory backed by golang.org/x/crypto/ssh.
type Dialer struct {
	timeout time.Duration
	hostKey ssh.HostKeyCallback
	logger  *slog.Logger
}

var _ Factory = (*Dialer)(nil)

// NewDialer creates a Dialer with a 15s connect timeout.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		timeout: 15 * time.Second,
		hostKey: ssh.InsecureIgnoreHostKey(), //nolint:gosec // see WithHostKeyCallback
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial opens an SSH connection with password auth.
func (d *Dialer) Dial(ctx context.Context, host string, port int, user, password string) (Session, error) {
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: d.hostKey,
		Timeout:         d.timeout,
	}

	// ssh.Dial does not take a context; dial the TCP leg ourselves so
	// ctx cancellation is honored before the handshake.
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sshx: dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sshx: handshake %s: %w", addr, err)
	}

	sid := id.NewSessionID()
	d.logger.Debug("ssh session established",
		slog.String("session_id", sid.String()),
		slog.String("addr", addr),
		slog.String("user", user),
	)

	return &session{
		client: ssh.NewClient(sshConn, chans, reqs),
		id:     sid,
		addr:   addr,
		logger: d.logger,
	}, nil
}

type session struct {
	client *ssh.Client
	id     id.SessionID
	addr   string
	logger *slog.Logger
}

func (s *session) Run(ctx context.Context, command string) (*RunResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("sshx: open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		// Best effort; most servers honor the signal, and Close below
		// unblocks the Run goroutine regardless.
		_ = sess.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("sshx: run %q: %w", command, err)
	}
	return res, nil
}

func (s *session) Close() error {
	s.logger.Debug("ssh session closed", slog.String("session_id", s.id.String()))
	return s.client.Close()
}
