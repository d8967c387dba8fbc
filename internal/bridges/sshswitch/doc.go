// Package sshswitch controls a single device over SSH as an on/off switch.
//
// The device is anything reachable with password authentication that can run
// three shell commands: one to switch on, one to switch off, and one that
// prints its status. The last non-blank line printed by the status command is
// the device state.
//
// # Architecture
//
//	┌──────────────┐   MQTT    ┌───────────────────────────────┐   SSH
//	│  Automation  │◄─────────►│ Bridge ─ Poller ─ Controller  │◄────────► Device
//	│  / HTTP API  │           │            (this pkg)         │
//	└──────────────┘           └───────────────────────────────┘
//
// # Components
//
//   - Controller: connect on demand, run commands, keep the last SwitchState
//   - Poller: throttle status refreshes to one per interval
//   - Interpreter: optional transform from raw status line to state value
//   - SSHDialer / Session: the golang.org/x/crypto/ssh transport
//   - Bridge: MQTT commands, state publishing, scan loop, health
//
// # Host Key Pinning
//
// Exactly one host key is trusted per device. It is configured as the base64
// SSH wire-format blob (the second field of a known_hosts line):
//
//	key, err := sshswitch.ParsePinnedHostKey("AAAAB3NzaC1yc2E...")
//
// A server presenting any other key fails the handshake with
// ErrHostKeyMismatch before the password is sent.
//
// # Failure Model
//
// Controller methods never return transport errors. A failed connect or
// command is logged, the session is closed, and the cached state is kept.
// The next command or poll reconnects from scratch. On/off intent is
// recorded before the command is sent (OptimisticIntent) unless
// ConfirmedIntent is configured.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package sshswitch
