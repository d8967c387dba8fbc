package sshswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Controller drives one device: it connects on demand, runs the on/off/status
// commands and keeps the last known SwitchState.
//
// No method returns a transport error. Every failure is logged, the session
// is dropped, and the next call starts again from a clean disconnected state.
//
// Thread Safety: All methods are safe for concurrent use. Remote operations
// are serialised by a single lock held across connect, execute and
// disconnect; state reads never wait for the network.
type Controller struct {
	creds       Credentials
	commands    CommandSet
	dialer      Dialer
	interpreter Interpreter
	isOn        func(string) bool
	intent      IntentPolicy
	clock       func() time.Time

	// mu serialises every remote operation and guards session.
	mu      sync.Mutex
	session Session

	// connected mirrors session != nil and is only written while mu is held.
	connected atomic.Bool

	state   SwitchState
	stateMu sync.RWMutex

	stats   ControllerStats
	statsMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// ControllerStats holds counters for health reporting.
type ControllerStats struct {
	Connected       bool
	ConnectedSince  time.Time
	Connects        uint64
	ConnectFailures uint64
	CommandsSent    uint64
	Refreshes       uint64
	Errors          uint64
	LastErrorKind   ErrorKind
	LastErrorAt     time.Time
}

// ControllerOptions holds configuration for creating a controller.
type ControllerOptions struct {
	// Credentials identify the device. Host and a pinned host key are required.
	Credentials Credentials

	// Commands are the shell commands run on the device. Status is required.
	Commands CommandSet

	// Dialer opens sessions. Default: &SSHDialer{} with default timeouts.
	Dialer Dialer

	// Interpreter transforms the raw status line (optional).
	// If nil, the raw line is the state verbatim.
	Interpreter Interpreter

	// IsOn maps an interpreted state to on/off. Default: OnStates().
	IsOn func(string) bool

	// Intent decides when on/off intent is written to the state.
	// Default: OptimisticIntent.
	Intent IntentPolicy

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time

	// Logger is optional structured logger.
	Logger Logger
}

// NewController creates a controller. No connection is made until the first
// command or refresh.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Credentials.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Credentials.HostKey.IsZero() {
		return nil, fmt.Errorf("%w: pinned host key is required", ErrInvalidHostKey)
	}
	if opts.Commands.Status == "" {
		return nil, fmt.Errorf("status command is required")
	}

	c := &Controller{
		creds:       opts.Credentials,
		commands:    opts.Commands,
		dialer:      opts.Dialer,
		interpreter: opts.Interpreter,
		isOn:        opts.IsOn,
		intent:      opts.Intent,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if c.dialer == nil {
		c.dialer = &SSHDialer{Logger: opts.Logger}
	}
	if c.isOn == nil {
		c.isOn = OnStates()
	}
	if c.intent == nil {
		c.intent = OptimisticIntent{}
	}
	if c.clock == nil {
		c.clock = time.Now
	}

	return c, nil
}

// SetLogger sets the logger for this controller.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// TurnOn records the on intent and runs the on command.
func (c *Controller) TurnOn(ctx context.Context) {
	c.runCommand(ctx, true)
}

// TurnOff records the off intent and runs the off command.
func (c *Controller) TurnOff(ctx context.Context) {
	c.runCommand(ctx, false)
}

// runCommand implements TurnOn/TurnOff and reports whether the command ran.
// Output is discarded.
func (c *Controller) runCommand(ctx context.Context, on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, command := StateOff, c.commands.Off
	if on {
		name, command = StateOn, c.commands.On
	}

	now := c.clock()
	c.applyIntent(c.intent.BeforeCommand(c.State(), on, now))

	if !c.ensureConnected(ctx) {
		c.applyIntent(c.intent.AfterCommand(c.State(), on, false, now))
		return false
	}

	output, err := c.session.Execute(ctx, command)
	if err != nil {
		c.recordError(err)
		c.logError("command failed", err, "command", name, "host", c.creds.Address())
		c.disconnectLocked()
		c.applyIntent(c.intent.AfterCommand(c.State(), on, false, now))
		return false
	}

	c.statsMu.Lock()
	c.stats.CommandsSent++
	c.statsMu.Unlock()

	c.logDebug("command executed", "command", name, "output", output)
	c.applyIntent(c.intent.AfterCommand(c.State(), on, true, now))
	return true
}

// RefreshStatus runs the status command and stores the interpreted result.
// On any failure the previous state is kept and the session is dropped.
func (c *Controller) RefreshStatus(ctx context.Context) {
	c.refresh(ctx)
}

// refresh implements RefreshStatus and reports whether a new state was read.
func (c *Controller) refresh(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ensureConnected(ctx) {
		return false
	}

	raw, err := c.session.Execute(ctx, c.commands.Status)
	if err != nil {
		c.recordError(err)
		c.logError("status command failed", err, "host", c.creds.Address())
		c.disconnectLocked()
		return false
	}
	c.logDebug("status response", "raw", raw)

	next, err := c.interpret(raw)
	if err != nil {
		c.recordError(err)
		c.logError("status interpretation failed", err, "raw", raw)
		c.disconnectLocked()
		return false
	}

	c.stateMu.Lock()
	c.state = next
	c.stateMu.Unlock()

	c.statsMu.Lock()
	c.stats.Refreshes++
	c.statsMu.Unlock()

	c.logDebug("computed state", "state", next.Raw, "is_on", next.IsOn)
	return true
}

// interpret turns a tail line into a SwitchState. A panicking interpreter or
// on-mapping is reported as an execution failure.
func (c *Controller) interpret(raw string) (state SwitchState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: interpreting %q: %v", ErrExecutionFailure, raw, r)
		}
	}()

	value := raw
	if c.interpreter != nil {
		value = c.interpreter.Interpret(raw)
	}
	return SwitchState{
		IsOn:        c.isOn(value),
		Raw:         value,
		LastUpdated: c.clock(),
	}, nil
}

// ensureConnected dials if there is no live session. Must be called with mu
// held. Returns false if no session could be established.
func (c *Controller) ensureConnected(ctx context.Context) bool {
	if c.session != nil {
		return true
	}

	sess, err := c.dialer.Dial(ctx, c.creds)
	if err == nil && sess == nil {
		err = fmt.Errorf("%w: dialer returned no session", ErrConnectionRefused)
	}
	if err == nil && ctx.Err() != nil {
		sess.Close()
		err = fmt.Errorf("%w: %w", ErrConnectionRefused, ctx.Err())
	}
	if err != nil {
		c.recordError(err)
		c.statsMu.Lock()
		c.stats.ConnectFailures++
		c.statsMu.Unlock()

		if errors.Is(err, ErrHostKeyMismatch) {
			c.logError("host key mismatch", err,
				"host", c.creds.Address(), "pinned", c.creds.HostKey.Fingerprint())
		} else {
			c.logError("connection refused, is SSH enabled?", err, "host", c.creds.Address())
		}
		return false
	}

	c.session = sess
	c.connected.Store(true)

	c.statsMu.Lock()
	c.stats.Connects++
	c.stats.ConnectedSince = c.clock()
	c.statsMu.Unlock()

	c.logInfo("connected to device", "host", c.creds.Address(), "user", c.creds.Username)
	return true
}

// Disconnect closes the session if one is open.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// disconnectLocked drops the session. Must be called with mu held.
func (c *Controller) disconnectLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logDebug("closing session", "error", err)
	}
	c.session = nil
	c.connected.Store(false)
}

// IsOn reports whether the last known state is on.
func (c *Controller) IsOn() bool {
	return c.State().IsOn
}

// CurrentState returns the last known interpreted state value.
// Empty until the first refresh or command.
func (c *Controller) CurrentState() string {
	return c.State().Raw
}

// State returns a copy of the last known state.
func (c *Controller) State() SwitchState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected reports whether a session is currently open.
func (c *Controller) IsConnected() bool {
	return c.connected.Load()
}

// Address returns the device's host:port.
func (c *Controller) Address() string {
	return c.creds.Address()
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() ControllerStats {
	c.statsMu.Lock()
	s := c.stats
	c.statsMu.Unlock()

	s.Connected = c.IsConnected()
	if !s.Connected {
		s.ConnectedSince = time.Time{}
	}
	return s
}

func (c *Controller) applyIntent(next SwitchState, ok bool) {
	if !ok {
		return
	}
	c.stateMu.Lock()
	c.state = next
	c.stateMu.Unlock()
	c.logDebug("intent applied", "state", next.Raw)
}

func (c *Controller) recordError(err error) {
	c.statsMu.Lock()
	c.stats.Errors++
	c.stats.LastErrorKind = KindOf(err)
	c.stats.LastErrorAt = c.clock()
	c.statsMu.Unlock()
}

func (c *Controller) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, err error, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		args := append([]any{"error", err, "kind", KindOf(err).String()}, keysAndValues...)
		logger.Error(msg, args...)
	}
}
