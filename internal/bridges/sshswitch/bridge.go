package sshswitch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// DefaultScanInterval is how often the bridge asks the poller for a refresh.
	DefaultScanInterval = 10 * time.Second

	// commandDeadline bounds handling of one MQTT command, connect included.
	commandDeadline = 30 * time.Second

	// recordTimeout bounds each StateRecorder call.
	recordTimeout = 5 * time.Second
)

// Bridge exposes one device to the outside world. It handles:
//   - Receiving on/off/refresh commands via MQTT and acknowledging them
//   - Running the scan ticker that feeds the throttled poller
//   - Publishing retained state updates and feeding state recorders
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceID     string
	controller   *Controller
	poller       *Poller
	mqtt         MQTTClient
	recorders    []StateRecorder
	health       *HealthReporter
	scanInterval time.Duration
	clock        func() time.Time

	// publishedMu serialises publishState; published is the last state it sent.
	published   SwitchState
	publishedMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// StateRecorder persists state changes (history database, time-series).
type StateRecorder interface {
	RecordState(ctx context.Context, deviceID string, state SwitchState, source string) error
}

// StateRecorderFunc adapts a function to StateRecorder.
type StateRecorderFunc func(ctx context.Context, deviceID string, state SwitchState, source string) error

// RecordState calls f.
func (f StateRecorderFunc) RecordState(ctx context.Context, deviceID string, state SwitchState, source string) error {
	return f(ctx, deviceID, state, source)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this process in health messages.
	BridgeID string

	// DeviceID identifies the device in topics and history.
	DeviceID string

	// Version is reported in health messages.
	Version string

	// Controller drives the device. Required.
	Controller *Controller

	// Poller throttles refreshes. Default: NewPoller(Controller, DefaultPollInterval).
	Poller *Poller

	// MQTTClient is optional. Without it the bridge only runs the scan loop
	// and serves direct calls (HTTP API, CLI).
	MQTTClient MQTTClient

	// Recorders are called on every state change (optional).
	Recorders []StateRecorder

	// ScanInterval is the poll schedule. Default: 10 seconds.
	ScanInterval time.Duration

	// HealthInterval is the health publish period. Default: 30 seconds.
	HealthInterval time.Duration

	// Clock returns the current time for the poller. Default: time.Now.
	Clock func() time.Time

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		deviceID:     opts.DeviceID,
		controller:   opts.Controller,
		poller:       opts.Poller,
		mqtt:         opts.MQTTClient,
		recorders:    opts.Recorders,
		scanInterval: opts.ScanInterval,
		clock:        opts.Clock,
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       opts.Logger,
	}
	if b.poller == nil {
		b.poller = NewPoller(opts.Controller, DefaultPollInterval)
	}
	if b.scanInterval <= 0 {
		b.scanInterval = DefaultScanInterval
	}
	if b.clock == nil {
		b.clock = time.Now
	}

	cfg := HealthReporterConfig{
		BridgeID: opts.BridgeID,
		Version:  opts.Version,
		DeviceID: opts.DeviceID,
		Interval: opts.HealthInterval,
		Device:   opts.Controller,
	}
	if opts.MQTTClient != nil {
		cfg.Publisher = opts.MQTTClient
	}
	b.health = NewHealthReporter(cfg)
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands, starts health reporting and the scan loop.
func (b *Bridge) Start(ctx context.Context) error {
	if b.mqtt != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}

		topic := CommandTopic(b.deviceID)
		if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", topic)

		b.health.Start(ctx)
	}

	b.wg.Add(1)
	go b.scanLoop(ctx)

	b.logInfo("bridge started",
		"device_id", b.deviceID,
		"address", b.controller.Address(),
		"scan_interval", b.scanInterval.String(),
		"poll_interval", b.poller.Interval().String())

	return nil
}

// Stop gracefully shuts down the bridge and closes the SSH session.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		if b.mqtt != nil {
			b.health.Stop()
		}

		b.wg.Wait()
		b.controller.Disconnect()

		b.logInfo("bridge stopped")
	})
}

// scanLoop polls once immediately and then on every tick.
func (b *Bridge) scanLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.scanInterval)
	defer ticker.Stop()

	b.Poll(b.ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.Poll(b.ctx)
		}
	}
}

// IsOn reports whether the last known state is on.
func (b *Bridge) IsOn() bool {
	return b.controller.IsOn()
}

// CurrentState returns the last known interpreted state value.
func (b *Bridge) CurrentState() string {
	return b.controller.CurrentState()
}

// State returns the last known state.
func (b *Bridge) State() SwitchState {
	return b.controller.State()
}

// DeviceID returns the managed device's identifier.
func (b *Bridge) DeviceID() string {
	return b.deviceID
}

// IsConnected reports whether the SSH session is open.
func (b *Bridge) IsConnected() bool {
	return b.controller.IsConnected()
}

// Health returns the current health message.
func (b *Bridge) Health() HealthMessage {
	return b.health.Message()
}

// PublishHealth publishes a health message immediately. Used after an MQTT
// reconnect, where the broker may have replaced the retained health with
// the LWT.
func (b *Bridge) PublishHealth() error {
	if b.mqtt == nil {
		return nil
	}
	return b.health.PublishNow()
}

// TurnOn switches the device on and returns the resulting state.
func (b *Bridge) TurnOn(ctx context.Context, source string) SwitchState {
	state, _ := b.switchTo(ctx, true, source)
	return state
}

// TurnOff switches the device off and returns the resulting state.
func (b *Bridge) TurnOff(ctx context.Context, source string) SwitchState {
	state, _ := b.switchTo(ctx, false, source)
	return state
}

// switchTo runs the on or off command and reports whether it reached the
// device.
func (b *Bridge) switchTo(ctx context.Context, on bool, source string) (SwitchState, bool) {
	ok := b.controller.runCommand(ctx, on)
	return b.publishState(ctx, source), ok
}

// Poll refreshes the status, subject to the poll throttle.
func (b *Bridge) Poll(ctx context.Context) SwitchState {
	b.poller.MaybeRefresh(ctx, b.clock())
	return b.publishState(ctx, "poll")
}

// Refresh refreshes the status now, ignoring the throttle.
func (b *Bridge) Refresh(ctx context.Context, source string) SwitchState {
	state, _ := b.refresh(ctx, source)
	return state
}

func (b *Bridge) refresh(ctx context.Context, source string) (SwitchState, bool) {
	_, ok := b.poller.force(ctx, b.clock())
	return b.publishState(ctx, source), ok
}

// publishState publishes and records the state if its value changed since
// the last call. publishedMu is held from reading the controller state until
// the recorders return, so publishes and records follow state order.
func (b *Bridge) publishState(ctx context.Context, source string) SwitchState {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()

	state := b.controller.State()
	if !state.Known() {
		return state
	}

	prev := b.published
	if prev.Known() && prev.Raw == state.Raw && prev.IsOn == state.IsOn {
		return state
	}
	b.published = state

	b.logInfo("state changed", "device_id", b.deviceID, "state", state.Raw, "is_on", state.IsOn, "source", source)

	if b.mqtt != nil {
		msg := NewStateMessage(b.deviceID, b.controller.Address(), state)
		if payload, err := json.Marshal(msg); err != nil {
			b.logError("failed to marshal state", err)
		} else if err := b.mqtt.Publish(StateTopic(b.deviceID), payload, 1, true); err != nil {
			b.logError("failed to publish state", err)
		}
	}

	for _, rec := range b.recorders {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if err := rec.RecordState(recCtx, b.deviceID, state, source); err != nil {
			b.logError("failed to record state", err)
		}
		cancel()
	}

	return state
}

// handleMQTTMessage processes a command message.
func (b *Bridge) handleMQTTMessage(_ string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	if cmd.DeviceID != "" && cmd.DeviceID != b.deviceID {
		b.publishAckError(cmd, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID))
		return
	}
	cmd.DeviceID = b.deviceID

	source := cmd.Source
	if source == "" {
		source = "mqtt"
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandDeadline)
	defer cancel()

	var (
		state   SwitchState
		reached bool
	)
	switch cmd.Command {
	case CommandOn:
		state, reached = b.switchTo(ctx, true, source)
	case CommandOff:
		state, reached = b.switchTo(ctx, false, source)
	case CommandRefresh:
		state, reached = b.refresh(ctx, source)
	default:
		b.publishAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command %q", cmd.Command))
		return
	}

	if !reached {
		b.publishAckError(cmd, ErrCodeDeviceUnreachable,
			fmt.Sprintf("device %s unreachable", b.controller.Address()))
		return
	}
	b.publishAck(NewAckMessage(cmd, AckAccepted, b.controller.Address(), state))
}

func (b *Bridge) publishAck(ack AckMessage) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(b.deviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	b.publishAck(NewAckError(cmd, b.controller.Address(), code, message))
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
	b.controller.SetLogger(logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
