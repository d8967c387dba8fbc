package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sshswitch/internal/bridges/sshswitch"
)

const (
	// DefaultLimit is the number of entries List returns when limit <= 0.
	DefaultLimit = 50

	// MaxLimit caps a single List call.
	MaxLimit = 500
)

// ErrDeviceIDRequired is returned when a call omits the device ID.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// Entry is one recorded state change.
type Entry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	IsOn      bool      `json:"is_on"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps switch state changes in the state_history table.
//
// Timestamps are stored as Unix milliseconds (UTC) so rows order correctly
// even when several changes land within the same second.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record inserts one state change. An empty source is stored as "poll".
func (s *Store) Record(ctx context.Context, deviceID string, state sshswitch.SwitchState, source string) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	if source == "" {
		source = "poll"
	}

	at := state.LastUpdated
	if at.IsZero() {
		at = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, is_on, source, created_at) VALUES (?, ?, ?, ?, ?)",
		deviceID,
		state.Raw,
		boolToInt(state.IsOn),
		source,
		at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// RecordState implements sshswitch.StateRecorder.
func (s *Store) RecordState(ctx context.Context, deviceID string, state sshswitch.SwitchState, source string) error {
	return s.Record(ctx, deviceID, state, source)
}

// List returns the most recent entries for a device, newest first.
// limit defaults to DefaultLimit and is clamped to MaxLimit.
func (s *Store) List(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, state, is_on, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var isOn int
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.State, &isOn, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.IsOn = isOn != 0
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := s.now().UTC().Add(-olderThan).UnixMilli()
	result, err := s.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
