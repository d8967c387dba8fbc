// Package history keeps a local SQLite log of switch state changes.
//
// The bridge feeds it through the sshswitch.StateRecorder interface, the
// HTTP API and the history CLI command read it back, and a Pruner trims it
// to the configured retention.
package history
