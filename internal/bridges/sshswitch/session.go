package sshswitch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

// Default timeouts for SSH operations.
const (
	// DefaultConnectTimeout bounds TCP dial plus SSH handshake and auth.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultCommandTimeout bounds a single remote command, including
	// reading its whole output.
	DefaultCommandTimeout = 10 * time.Second

	// MaxOutputLine caps one line of command output.
	MaxOutputLine = 1 << 20

	// maxStderrLog caps how much stderr is kept for debug logging.
	maxStderrLog = 4096
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Dialer opens authenticated sessions to a device.
// This allows mocking the SSH transport in tests.
type Dialer interface {
	// Dial connects and authenticates. Errors wrap ErrHostKeyMismatch or
	// ErrConnectionRefused.
	Dial(ctx context.Context, creds Credentials) (Session, error)
}

// Session is one live, authenticated connection.
type Session interface {
	// Execute runs command and returns the last non-blank stdout line.
	// Errors wrap ErrExecutionFailure.
	Execute(ctx context.Context, command string) (string, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Ensure SSHDialer implements Dialer.
var _ Dialer = (*SSHDialer)(nil)

// SSHDialer dials devices with golang.org/x/crypto/ssh using password
// authentication over a transport that only accepts the pinned host key.
type SSHDialer struct {
	// ConnectTimeout bounds dial, handshake and authentication.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each Execute call made on returned sessions.
	// Default: 10 seconds.
	CommandTimeout time.Duration

	// Logger receives stderr output and exit codes at debug level (optional).
	Logger Logger
}

// Dial establishes a new session.
//
// The host key callback accepts only creds.HostKey; any other key aborts the
// handshake with ErrHostKeyMismatch before the password is sent. Every other
// failure, including ctx cancellation, is reported as ErrConnectionRefused.
func (d *SSHDialer) Dial(ctx context.Context, creds Credentials) (Session, error) {
	if creds.HostKey.IsZero() {
		return nil, fmt.Errorf("%w: %w: no host key pinned", ErrConnectionRefused, ErrInvalidHostKey)
	}

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := creds.Address()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionRefused, addr, err)
	}

	// The handshake itself has no context support; the deadline and the
	// AfterFunc close make sure it cannot outlive dialCtx.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // Best effort, AfterFunc still applies
	}
	stop := context.AfterFunc(dialCtx, func() {
		conn.Close()
	})

	var mismatch atomic.Bool
	clientCfg := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: func(_ string, _ net.Addr, presented ssh.PublicKey) error {
			if creds.HostKey.Matches(presented) {
				return nil
			}
			mismatch.Store(true)
			return fmt.Errorf("%w: presented %s, pinned %s",
				ErrHostKeyMismatch, ssh.FingerprintSHA256(presented), creds.HostKey.Fingerprint())
		},
		HostKeyAlgorithms: hostKeyAlgorithms(creds.HostKey.Algorithm()),
		Timeout:           timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	interrupted := !stop()
	if err != nil {
		conn.Close()
		if mismatch.Load() || errors.Is(err, ErrHostKeyMismatch) {
			return nil, fmt.Errorf("%w: %s: %w", ErrHostKeyMismatch, addr, err)
		}
		if interrupted {
			return nil, fmt.Errorf("%w: handshake with %s: %w", ErrConnectionRefused, addr, dialCtx.Err())
		}
		return nil, fmt.Errorf("%w: handshake with %s: %w", ErrConnectionRefused, addr, err)
	}
	if interrupted {
		sshConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %w", ErrConnectionRefused, addr, dialCtx.Err())
	}
	_ = conn.SetDeadline(time.Time{}) //nolint:errcheck // Clearing a deadline on a live conn

	commandTimeout := d.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}

	return &sshSession{
		client:         ssh.NewClient(sshConn, chans, reqs),
		commandTimeout: commandTimeout,
		logger:         d.Logger,
	}, nil
}

// hostKeyAlgorithms restricts negotiation to algorithms usable with the pinned
// key, so a server holding several host keys presents the one we know.
func hostKeyAlgorithms(keyType string) []string {
	switch keyType {
	case ssh.KeyAlgoRSA:
		return []string{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA}
	case "":
		return nil
	default:
		return []string{keyType}
	}
}

// sshSession implements Session on top of an *ssh.Client.
type sshSession struct {
	mu             sync.Mutex
	client         *ssh.Client
	commandTimeout time.Duration
	logger         Logger
}

// execResult carries the output of a finished remote command.
type execResult struct {
	line   string
	err    error
	waitEr error
}

// Execute runs command in a fresh SSH channel.
//
// Only stdout is returned, reduced to its last non-blank line. A non-zero exit
// status is not treated as a failure; it is logged at debug level with stderr.
// If the command outlives the timeout the whole connection is closed.
func (s *sshSession) Execute(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return "", ErrSessionClosed
	}

	cmd := strings.TrimRight(command, "\r\n")

	execCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: opening channel: %w", ErrExecutionFailure, err)
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: stdout pipe: %w", ErrExecutionFailure, err)
	}
	stderr := &cappedBuffer{limit: maxStderrLog}
	sess.Stderr = stderr

	if err := sess.Start(cmd); err != nil {
		return "", fmt.Errorf("%w: starting command: %w", ErrExecutionFailure, err)
	}

	done := make(chan execResult, 1)
	go func() {
		line, readErr := TailLine(stdout)
		if readErr != nil {
			// Unread output would block Wait; the deferred Close ends the channel.
			done <- execResult{err: readErr}
			return
		}
		done <- execResult{line: line, waitEr: sess.Wait()}
	}()

	var res execResult
	select {
	case <-execCtx.Done():
		s.Close()
		return "", fmt.Errorf("%w: %q: %w", ErrExecutionFailure, cmd, execCtx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return "", fmt.Errorf("%w: reading output: %w", ErrExecutionFailure, res.err)
	}

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case res.waitEr == nil:
	case errors.As(res.waitEr, &exitErr):
		s.logDebug("remote command exited non-zero",
			"command", cmd, "exit_status", exitErr.ExitStatus(), "stderr", stderr.String())
	case errors.As(res.waitEr, &missingErr):
		s.logDebug("remote command ended without exit status", "command", cmd)
	default:
		return "", fmt.Errorf("%w: waiting for command: %w", ErrExecutionFailure, res.waitEr)
	}

	if stderr.Len() > 0 {
		s.logDebug("remote command stderr", "command", cmd, "stderr", stderr.String())
	}

	return res.line, nil
}

// Close closes the SSH client. Subsequent calls are no-ops.
func (s *sshSession) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *sshSession) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

// TailLine reads r to EOF and returns its last non-blank line with the
// trailing line terminator removed. Output "0\n1\n" yields "1".
// A line longer than MaxOutputLine fails with ErrExecutionFailure.
func TailLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxOutputLine)

	var last string
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); strings.TrimSpace(line) != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return last, fmt.Errorf("%w: output line exceeds %d bytes: %w", ErrExecutionFailure, MaxOutputLine, err)
		}
		return last, err
	}
	return last, nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimRight(c.buf.String(), "\n")
}
