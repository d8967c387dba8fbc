package sshswitch

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]func(topic string, payload []byte)

	// onPublish, if set, runs before each publish is recorded.
	onPublish func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	hook := m.onPublish
	m.mu.Unlock()
	if hook != nil {
		hook(topic, payload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetOnPublish(hook func(topic string, payload []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPublish = hook
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// GetPublished returns published messages, optionally filtered by topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if topic == "" || p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscriptions...)
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// fakeSession implements Session with canned outputs.
type fakeSession struct {
	mu       sync.Mutex
	outputs  map[string]string
	execErr  error
	commands []string
	closed   bool
	closes   int
}

func (s *fakeSession) Execute(_ context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	s.commands = append(s.commands, command)
	if s.execErr != nil {
		return "", s.execErr
	}
	return s.outputs[command], nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closes++
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// fakeDialer implements Dialer. Every successful Dial returns a new
// fakeSession sharing the dialer's outputs and exec error.
type fakeDialer struct {
	mu       sync.Mutex
	dialErr  error
	execErr  error
	outputs  map[string]string
	dials    int
	sessions []*fakeSession
}

func newFakeDialer(outputs map[string]string) *fakeDialer {
	return &fakeDialer{outputs: outputs}
}

func (d *fakeDialer) Dial(_ context.Context, _ Credentials) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := &fakeSession{outputs: d.outputs, execErr: d.execErr}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// setExecErr changes the exec error for the live session and future ones.
func (d *fakeDialer) setExecErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execErr = err
	for _, s := range d.sessions {
		s.mu.Lock()
		s.execErr = err
		s.mu.Unlock()
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// logEntry is one captured log call.
type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger implements Logger and keeps every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func (l *recordingLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sb strings.Builder
	for _, e := range l.entries {
		fmt.Fprintf(&sb, "%s %s %v\n", e.level, e.msg, e.args)
	}
	return sb.String()
}

var (
	sharedSignerOnce sync.Once
	sharedSigner     ssh.Signer
	sharedSignerErr  error
)

// testSigner returns an RSA host key shared by the whole test binary.
func testSigner(t *testing.T) ssh.Signer {
	t.Helper()
	sharedSignerOnce.Do(func() {
		sharedSigner, sharedSignerErr = generateSigner()
	})
	if sharedSignerErr != nil {
		t.Fatalf("generating host key: %v", sharedSignerErr)
	}
	return sharedSigner
}

// newSigner returns a fresh RSA host key.
func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	s, err := generateSigner()
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	return s
}

func generateSigner() (ssh.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// testCredentials returns credentials pinned to the shared test key.
func testCredentials(t *testing.T) Credentials {
	t.Helper()
	return Credentials{
		Host:     "192.0.2.10",
		Port:     22,
		Username: "pi",
		Password: "raspberry",
		HostKey:  NewPinnedHostKey(testSigner(t).PublicKey()),
	}
}
