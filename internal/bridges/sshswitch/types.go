package sshswitch

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// StateUnknown is the state value used when a status line cannot be interpreted.
const StateUnknown = "unknown"

// Canonical state values written by on/off commands.
const (
	StateOn  = "on"
	StateOff = "off"
)

// PinnedHostKey is the single host key a device is allowed to present.
//
// There is no known_hosts file and no CA chain: a connection succeeds only if
// the server's key is byte-identical to this one.
type PinnedHostKey struct {
	key ssh.PublicKey
}

// ParsePinnedHostKey decodes a base64 SSH wire-format key blob
// (the second field of a known_hosts or authorized_keys line).
func ParsePinnedHostKey(encoded string) (PinnedHostKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return PinnedHostKey{}, fmt.Errorf("%w: base64: %w", ErrInvalidHostKey, err)
	}

	key, err := ssh.ParsePublicKey(raw)
	if err != nil {
		return PinnedHostKey{}, fmt.Errorf("%w: %w", ErrInvalidHostKey, err)
	}
	if key.Type() != ssh.KeyAlgoRSA {
		return PinnedHostKey{}, fmt.Errorf("%w: expected %s key, got %s", ErrInvalidHostKey, ssh.KeyAlgoRSA, key.Type())
	}

	return PinnedHostKey{key: key}, nil
}

// NewPinnedHostKey wraps an already parsed key.
func NewPinnedHostKey(key ssh.PublicKey) PinnedHostKey {
	return PinnedHostKey{key: key}
}

// Matches reports whether presented is the pinned key.
func (p PinnedHostKey) Matches(presented ssh.PublicKey) bool {
	if p.key == nil || presented == nil {
		return false
	}
	return bytes.Equal(p.key.Marshal(), presented.Marshal())
}

// IsZero reports whether no key has been pinned.
func (p PinnedHostKey) IsZero() bool {
	return p.key == nil
}

// Fingerprint returns the SHA256 fingerprint of the pinned key for logging.
func (p PinnedHostKey) Fingerprint() string {
	if p.key == nil {
		return ""
	}
	return ssh.FingerprintSHA256(p.key)
}

// Algorithm returns the key type, e.g. "ssh-rsa".
func (p PinnedHostKey) Algorithm() string {
	if p.key == nil {
		return ""
	}
	return p.key.Type()
}

// Credentials identify and authenticate against one device.
// Immutable after construction.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
	HostKey  PinnedHostKey
}

// Address returns host:port.
func (c Credentials) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a representation safe for logging.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s (host key %s)", c.Username, c.Address(), c.HostKey.Fingerprint())
}

// CommandSet holds the three shell commands run on the device.
type CommandSet struct {
	On     string
	Off    string
	Status string
}

// SwitchState is the last known state of the device.
type SwitchState struct {
	// IsOn is the binary interpretation of Raw.
	IsOn bool `json:"is_on"`

	// Raw is the interpreted status value, or "on"/"off" after a command.
	// Empty until the first successful refresh or command.
	Raw string `json:"state"`

	// LastUpdated is when the state was last written. Zero if never.
	LastUpdated time.Time `json:"last_updated"`
}

// Known reports whether the state has been set at least once.
func (s SwitchState) Known() bool {
	return !s.LastUpdated.IsZero()
}
