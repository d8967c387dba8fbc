package sshswitch

import "time"

// IntentPolicy decides when a command's intended state becomes the cached
// state.
//
// The controller calls BeforeCommand before it tries to connect and
// AfterCommand once the command has run (succeeded reports whether it did).
// Each hook returns the state to store, or ok=false to leave the cache alone.
type IntentPolicy interface {
	BeforeCommand(current SwitchState, on bool, now time.Time) (next SwitchState, ok bool)
	AfterCommand(current SwitchState, on bool, succeeded bool, now time.Time) (next SwitchState, ok bool)
}

// OptimisticIntent records the intended state before anything is sent and
// never rolls it back. A command that cannot be delivered still leaves the
// cache showing what was asked for; the next status refresh corrects it.
type OptimisticIntent struct{}

// BeforeCommand always applies the intent.
func (OptimisticIntent) BeforeCommand(_ SwitchState, on bool, now time.Time) (SwitchState, bool) {
	return intendedState(on, now), true
}

// AfterCommand never changes the state.
func (OptimisticIntent) AfterCommand(SwitchState, bool, bool, time.Time) (SwitchState, bool) {
	return SwitchState{}, false
}

// ConfirmedIntent only records the intended state once the command ran
// without a transport error.
type ConfirmedIntent struct{}

// BeforeCommand never changes the state.
func (ConfirmedIntent) BeforeCommand(SwitchState, bool, time.Time) (SwitchState, bool) {
	return SwitchState{}, false
}

// AfterCommand applies the intent when succeeded is true.
func (ConfirmedIntent) AfterCommand(_ SwitchState, on bool, succeeded bool, now time.Time) (SwitchState, bool) {
	if !succeeded {
		return SwitchState{}, false
	}
	return intendedState(on, now), true
}

func intendedState(on bool, now time.Time) SwitchState {
	raw := StateOff
	if on {
		raw = StateOn
	}
	return SwitchState{IsOn: on, Raw: raw, LastUpdated: now}
}
