package sshswitch

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between the bridge and its clients.

// Command names accepted in CommandMessage.Command.
const (
	CommandOn      = "on"
	CommandOff     = "off"
	CommandRefresh = "refresh"
)

// CommandMessage asks the bridge to act on its device.
// Topic: sshswitch/command/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	// Generated by the bridge if empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device. Empty means the bridge's own device.
	DeviceID string `json:"device_id,omitempty"`

	// Command is one of "on", "off", "refresh".
	Command string `json:"command"`

	// Source indicates where the command originated ("api", "mqtt", "cli").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was delivered to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be delivered.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: sshswitch/ack/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`

	// Address is the device's host:port.
	Address string `json:"address"`

	// State is the cached state after the command ran.
	State *SwitchState `json:"state,omitempty"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)

// StateMessage reports the device state.
// Topic: sshswitch/state/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// State is the interpreted status value ("on", "off", "unknown", ...).
	State string `json:"state"`

	IsOn        bool      `json:"is_on"`
	LastUpdated time.Time `json:"last_updated"`
	Address     string    `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates MQTT is connected and the device answered.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but MQTT or the device is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is the LWT status set by the broker.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: sshswitch/health/{bridge_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	DeviceID      string       `json:"device_id,omitempty"`

	// Connection describes the SSH session to the device.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the SSH session.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status         string     `json:"status"`
	Address        string     `json:"address"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	Connects        uint64 `json:"connects"`
	ConnectFailures uint64 `json:"connect_failures"`
	CommandsSent    uint64 `json:"commands_sent"`
	Refreshes       uint64 `json:"refreshes"`
	Errors          uint64 `json:"errors"`
	LastErrorKind   string `json:"last_error_kind,omitempty"`
}

// MarshalJSON marshals a CommandMessage with an RFC3339 timestamp.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	ts := ""
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp,omitempty"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: ts,
	})
}

// UnmarshalJSON unmarshals a CommandMessage. The timestamp is optional.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string, state SwitchState) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Address:   address,
		State:     &state,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckFailed,
		Address:   address,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID, address string, state SwitchState) StateMessage {
	return StateMessage{
		DeviceID:    deviceID,
		Timestamp:   time.Now().UTC(),
		State:       state.Raw,
		IsOn:        state.IsOn,
		LastUpdated: state.LastUpdated,
		Address:     address,
	}
}

// NewHealthMessage creates a health status message from controller stats.
func NewHealthMessage(bridgeID, version, deviceID, address string, status HealthStatus, stats ControllerStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		DeviceID:      deviceID,
		Connection: &ConnectionStatus{
			Status:  "disconnected",
			Address: address,
		},
		Statistics: &BridgeStatistics{
			Connects:        stats.Connects,
			ConnectFailures: stats.ConnectFailures,
			CommandsSent:    stats.CommandsSent,
			Refreshes:       stats.Refreshes,
			Errors:          stats.Errors,
		},
	}

	if stats.Connected {
		since := stats.ConnectedSince
		msg.Connection.Status = "connected"
		msg.Connection.ConnectedSince = &since
	}
	if stats.LastErrorKind != KindNone {
		msg.Statistics.LastErrorKind = stats.LastErrorKind.String()
	}

	return msg
}

// NewLWTMessage creates the Last Will and Testament published by the broker
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// TopicPrefix is the base topic for all bridge messages.
const TopicPrefix = "sshswitch"

// CommandTopic returns the topic the bridge listens on for commands.
// Example: sshswitch/command/garage-pi
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// AckTopic returns the topic for command acknowledgments.
// Example: sshswitch/ack/garage-pi
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// StateTopic returns the topic for state updates.
// Example: sshswitch/state/garage-pi
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// HealthTopic returns the topic for health status.
// Example: sshswitch/health/sshswitch
func HealthTopic(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}
