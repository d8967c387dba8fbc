package sshswitch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

const testDeviceID = "garage-pi"

// recordedState is one StateRecorder call.
type recordedState struct {
	deviceID string
	state    SwitchState
	source   string
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []recordedState
	err   error
}

func (r *mockRecorder) RecordState(_ context.Context, deviceID string, state SwitchState, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedState{deviceID: deviceID, state: state, source: source})
	return r.err
}

func (r *mockRecorder) getCalls() []recordedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedState(nil), r.calls...)
}

type bridgeFixture struct {
	bridge   *Bridge
	mqtt     *MockMQTTClient
	dialer   *fakeDialer
	recorder *mockRecorder
	now      time.Time
}

func newBridgeFixture(t *testing.T, outputs map[string]string) *bridgeFixture {
	t.Helper()

	f := &bridgeFixture{
		mqtt:     NewMockMQTTClient(),
		dialer:   newFakeDialer(outputs),
		recorder: &mockRecorder{},
		now:      time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	c, _ := newTestController(t, f.dialer, func(o *ControllerOptions) { o.Clock = clock })

	b, err := NewBridge(BridgeOptions{
		BridgeID:     "sshswitch",
		DeviceID:     testDeviceID,
		Version:      "test",
		Controller:   c,
		Poller:       NewPoller(c, 30*time.Second),
		MQTTClient:   f.mqtt,
		Recorders:    []StateRecorder{f.recorder},
		ScanInterval: time.Hour,
		Clock:        clock,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(b.Stop)

	f.bridge = b
	return f
}

func (f *bridgeFixture) sendCommand(t *testing.T, cmd CommandMessage) {
	t.Helper()
	payload, err := json.Marshal(&cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	f.bridge.handleMQTTMessage(CommandTopic(testDeviceID), payload)
}

func (f *bridgeFixture) lastAck(t *testing.T) AckMessage {
	t.Helper()
	acks := f.mqtt.GetPublished(AckTopic(testDeviceID))
	if len(acks) == 0 {
		t.Fatal("no ack published")
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestNewBridge_Validation(t *testing.T) {
	c, _ := newTestController(t, newFakeDialer(nil), nil)

	if _, err := NewBridge(BridgeOptions{DeviceID: "x"}); err == nil {
		t.Error("NewBridge() without controller expected error")
	}
	if _, err := NewBridge(BridgeOptions{Controller: c}); err == nil {
		t.Error("NewBridge() without device ID expected error")
	}

	b, err := NewBridge(BridgeOptions{Controller: c, DeviceID: "x"})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if b.scanInterval != DefaultScanInterval {
		t.Errorf("scanInterval = %v, want %v", b.scanInterval, DefaultScanInterval)
	}
	if b.poller.Interval() != DefaultPollInterval {
		t.Errorf("poller interval = %v, want %v", b.poller.Interval(), DefaultPollInterval)
	}
}

func TestBridge_CommandOnPublishesStateAndAck(t *testing.T) {
	f := newBridgeFixture(t, map[string]string{testCommands.On: ""})

	f.sendCommand(t, CommandMessage{ID: "cmd-1", Command: CommandOn, Source: "automation"})

	ack := f.lastAck(t)
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want accepted cmd-1", ack)
	}
	if ack.DeviceID != testDeviceID {
		t.Errorf("ack.DeviceID = %q, want %q", ack.DeviceID, testDeviceID)
	}
	if ack.State == nil || !ack.State.IsOn {
		t.Errorf("ack.State = %+v, want on", ack.State)
	}

	states := f.mqtt.GetPublished(StateTopic(testDeviceID))
	if len(states) != 1 {
		t.Fatalf("state messages = %d, want 1", len(states))
	}
	if !states[0].Retained || states[0].QoS != 1 {
		t.Errorf("state publish retained=%v qos=%d, want retained qos 1", states[0].Retained, states[0].QoS)
	}
	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State != StateOn || !msg.IsOn || msg.DeviceID != testDeviceID {
		t.Errorf("state message = %+v", msg)
	}

	calls := f.recorder.getCalls()
	if len(calls) != 1 || calls[0].source != "automation" || !calls[0].state.IsOn {
		t.Errorf("recorder calls = %+v", calls)
	}
}

func TestBridge_CommandGeneratesIDWhenMissing(t *testing.T) {
	f := newBridgeFixture(t, nil)

	f.bridge.handleMQTTMessage(CommandTopic(testDeviceID), []byte(`{"command":"off"}`))

	if ack := f.lastAck(t); ack.CommandID == "" {
		t.Error("ack.CommandID empty, want generated ID")
	}
}

func TestBridge_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		cmd      CommandMessage
		dialErr  error
		wantCode string
	}{
		{
			name:     "unknown command",
			cmd:      CommandMessage{ID: "c1", Command: "dim"},
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:     "other device",
			cmd:      CommandMessage{ID: "c2", DeviceID: "kitchen-pi", Command: CommandOn},
			wantCode: ErrCodeNotConfigured,
		},
		{
			name:     "device unreachable",
			cmd:      CommandMessage{ID: "c3", Command: CommandOn},
			dialErr:  ErrConnectionRefused,
			wantCode: ErrCodeDeviceUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t, nil)
			f.dialer.setDialErr(tt.dialErr)

			f.sendCommand(t, tt.cmd)

			ack := f.lastAck(t)
			if ack.Status != AckFailed {
				t.Errorf("ack.Status = %q, want %q", ack.Status, AckFailed)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack.Error = %+v, want code %s", ack.Error, tt.wantCode)
			}
			if ack.CommandID != tt.cmd.ID {
				t.Errorf("ack.CommandID = %q, want %q", ack.CommandID, tt.cmd.ID)
			}
		})
	}
}

// onFirstStatePublish runs fn once, on the first state publish.
func onFirstStatePublish(m *MockMQTTClient, fn func()) {
	var once sync.Once
	m.SetOnPublish(func(topic string, _ []byte) {
		if topic == StateTopic(testDeviceID) {
			once.Do(fn)
		}
	})
}

func TestBridge_AckReflectsCommandOutcome(t *testing.T) {
	tests := []struct {
		name        string
		execErr     error
		interleave  func(f *bridgeFixture)
		wantStatus  AckStatus
		wantErrCode string
	}{
		{
			name: "session dropped after success",
			interleave: func(f *bridgeFixture) {
				f.bridge.controller.Disconnect()
			},
			wantStatus: AckAccepted,
		},
		{
			name:    "session restored after failure",
			execErr: errors.New("channel reset"),
			interleave: func(f *bridgeFixture) {
				f.dialer.setExecErr(nil)
				f.bridge.controller.RefreshStatus(context.Background())
			},
			wantStatus:  AckFailed,
			wantErrCode: ErrCodeDeviceUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t, map[string]string{testCommands.On: "", testCommands.Status: "1"})
			f.dialer.setExecErr(tt.execErr)
			onFirstStatePublish(f.mqtt, func() { tt.interleave(f) })

			f.sendCommand(t, CommandMessage{ID: "cmd-1", Command: CommandOn})

			ack := f.lastAck(t)
			if ack.Status != tt.wantStatus {
				t.Errorf("ack.Status = %q, want %q", ack.Status, tt.wantStatus)
			}
			if tt.wantErrCode == "" && ack.Error != nil {
				t.Errorf("ack.Error = %+v, want none", ack.Error)
			}
			if tt.wantErrCode != "" && (ack.Error == nil || ack.Error.Code != tt.wantErrCode) {
				t.Errorf("ack.Error = %+v, want code %s", ack.Error, tt.wantErrCode)
			}
		})
	}
}

func TestBridge_ConcurrentCommandsPublishInStateOrder(t *testing.T) {
	f := newBridgeFixture(t, map[string]string{testCommands.On: "", testCommands.Off: ""})

	held := make(chan struct{})
	release := make(chan struct{})
	onFirstStatePublish(f.mqtt, func() {
		close(held)
		<-release
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.bridge.TurnOn(ctx, "api")
	}()
	<-held
	go func() {
		defer wg.Done()
		f.bridge.TurnOff(ctx, "mqtt")
	}()

	// Let the off command land while the on state is still being published.
	deadline := time.Now().Add(2 * time.Second)
	for f.bridge.IsOn() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if f.bridge.IsOn() {
		t.Fatal("controller still on after TurnOff")
	}

	states := f.mqtt.GetPublished(StateTopic(testDeviceID))
	if len(states) == 0 {
		t.Fatal("no state published")
	}
	var last StateMessage
	if err := json.Unmarshal(states[len(states)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if last.IsOn || last.State != StateOff {
		t.Errorf("last retained state = %q (is_on=%v), want %q", last.State, last.IsOn, StateOff)
	}

	calls := f.recorder.getCalls()
	if len(calls) == 0 {
		t.Fatal("no state recorded")
	}
	if got := calls[len(calls)-1]; got.state.IsOn || got.source != "mqtt" {
		t.Errorf("last recorded = %+v, want off from mqtt", got)
	}
}

func TestBridge_UnreachableStillRecordsOptimisticState(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.dialer.setDialErr(ErrConnectionRefused)

	state := f.bridge.TurnOn(context.Background(), "api")

	if !state.IsOn || !f.bridge.IsOn() {
		t.Error("optimistic on state not kept while unreachable")
	}
	if f.bridge.IsConnected() {
		t.Error("IsConnected() = true while unreachable")
	}
	if len(f.mqtt.GetPublished(StateTopic(testDeviceID))) != 1 {
		t.Error("expected optimistic state to be published")
	}
}

func TestBridge_InvalidPayloadIgnored(t *testing.T) {
	f := newBridgeFixture(t, nil)

	f.bridge.handleMQTTMessage(CommandTopic(testDeviceID), []byte("{not json"))

	if got := len(f.mqtt.GetPublished("")); got != 0 {
		t.Errorf("published %d messages for invalid payload, want 0", got)
	}
}

func TestBridge_PollPublishesOnlyOnChange(t *testing.T) {
	f := newBridgeFixture(t, map[string]string{testCommands.Status: "on"})
	ctx := context.Background()

	f.bridge.Poll(ctx)
	f.now = f.now.Add(time.Minute)
	f.bridge.Poll(ctx)

	if got := len(f.mqtt.GetPublished(StateTopic(testDeviceID))); got != 1 {
		t.Errorf("state messages = %d, want 1 (unchanged value)", got)
	}
	if got := len(f.recorder.getCalls()); got != 1 {
		t.Errorf("recorder calls = %d, want 1", got)
	}

	f.bridge.TurnOff(ctx, "api")
	if got := len(f.mqtt.GetPublished(StateTopic(testDeviceID))); got != 2 {
		t.Errorf("state messages = %d, want 2 after change", got)
	}
}

func TestBridge_PollThrottledAndRefreshForced(t *testing.T) {
	f := newBridgeFixture(t, map[string]string{testCommands.Status: "off"})
	ctx := context.Background()

	f.bridge.Poll(ctx)
	f.bridge.Poll(ctx)
	f.bridge.Refresh(ctx, "api")

	s := f.dialer.lastSession()
	if s == nil {
		t.Fatal("no session opened")
	}
	if got := len(s.executed()); got != 2 {
		t.Errorf("status commands = %d, want 2 (one throttled poll, one forced)", got)
	}
	if f.bridge.CurrentState() != StateOff {
		t.Errorf("CurrentState() = %q, want %q", f.bridge.CurrentState(), StateOff)
	}
}

func TestBridge_RecorderErrorLogged(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.recorder.err = errors.New("disk full")
	logger := &recordingLogger{}
	f.bridge.SetLogger(logger)

	f.bridge.TurnOn(context.Background(), "api")

	if !logger.has("error", "failed to record state") {
		t.Errorf("expected recorder error log, got:\n%s", logger)
	}
}

func TestBridge_StartSubscribesAndPolls(t *testing.T) {
	f := newBridgeFixture(t, map[string]string{testCommands.Status: "on"})

	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	subs := f.mqtt.GetSubscriptions()
	if len(subs) != 1 || subs[0] != CommandTopic(testDeviceID) {
		t.Errorf("subscriptions = %v, want [%s]", subs, CommandTopic(testDeviceID))
	}

	deadline := time.Now().Add(2 * time.Second)
	for !f.bridge.IsOn() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !f.bridge.IsOn() {
		t.Error("initial poll did not run")
	}

	f.bridge.Stop()

	if f.bridge.IsConnected() {
		t.Error("IsConnected() = true after Stop")
	}

	var sawStarting, sawStopping bool
	for _, p := range f.mqtt.GetPublished(HealthTopic("sshswitch")) {
		var msg HealthMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal health: %v", err)
		}
		switch msg.Status {
		case HealthStarting:
			sawStarting = true
		case HealthStopping:
			sawStopping = true
		}
	}
	if !sawStarting || !sawStopping {
		t.Errorf("health starting=%v stopping=%v, want both", sawStarting, sawStopping)
	}
}

func TestBridge_WithoutMQTT(t *testing.T) {
	c, _ := newTestController(t, newFakeDialer(map[string]string{testCommands.Status: "on"}), nil)
	b, err := NewBridge(BridgeOptions{DeviceID: testDeviceID, Controller: c, ScanInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.TurnOn(context.Background(), "cli")
	b.Stop()

	if !b.IsOn() {
		t.Error("IsOn() = false after TurnOn")
	}
	if h := b.Health(); h.DeviceID != testDeviceID {
		t.Errorf("Health().DeviceID = %q, want %q", h.DeviceID, testDeviceID)
	}
}

func TestBridge_PublishHealth(t *testing.T) {
	f := newBridgeFixture(t, nil)

	if err := f.bridge.PublishHealth(); err != nil {
		t.Fatalf("PublishHealth() error = %v", err)
	}
	if got := len(f.mqtt.GetPublished(HealthTopic("sshswitch"))); got != 1 {
		t.Errorf("health messages = %d, want 1", got)
	}
}
