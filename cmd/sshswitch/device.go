package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/sshswitch/internal/bridges/sshswitch"
	"github.com/nerrad567/sshswitch/internal/infrastructure/config"
	"github.com/nerrad567/sshswitch/internal/infrastructure/logging"
)

// switchAction is a one-shot operation against the device.
type switchAction string

const (
	actionOn     switchAction = "on"
	actionOff    switchAction = "off"
	actionStatus switchAction = "status"
)

var actionShort = map[switchAction]string{
	actionOn:     "Run the on command and report the resulting state",
	actionOff:    "Run the off command and report the resulting state",
	actionStatus: "Run the status command and report the device state",
}

func newSwitchCmd(action switchAction) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   string(action),
		Short: actionShort[action],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return runSwitch(cmd.Context(), cfg, action, cmdLogger(cfg), cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the state as JSON")

	return cmd
}

// cmdLogger returns the logger for one-shot commands: silent unless --verbose,
// and never on stdout so the printed state stays machine readable.
func cmdLogger(cfg *config.Config) *logging.Logger {
	if !verbose {
		return logging.Discard()
	}
	lc := cfg.Logging
	lc.Output = "stderr"
	return logging.New(lc, version)
}

// runSwitch performs one action with a fresh controller and prints the state.
func runSwitch(ctx context.Context, cfg *config.Config, action switchAction, log *logging.Logger, out io.Writer, asJSON bool) error {
	controller, err := newController(cfg.Device, log)
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	defer controller.Disconnect()

	switch action {
	case actionOn:
		controller.TurnOn(ctx)
	case actionOff:
		controller.TurnOff(ctx)
	case actionStatus:
		controller.RefreshStatus(ctx)
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if err := printState(out, cfg.Device.ID, controller.State(), asJSON); err != nil {
		return err
	}

	if stats := controller.Stats(); stats.Errors > 0 {
		return fmt.Errorf("%s failed: %s", action, stats.LastErrorKind)
	}
	return nil
}

// cliState is the JSON shape printed with --json.
type cliState struct {
	DeviceID string                `json:"device_id"`
	State    sshswitch.SwitchState `json:"state"`
}

func printState(out io.Writer, deviceID string, state sshswitch.SwitchState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cliState{DeviceID: deviceID, State: state})
	}

	if !state.Known() {
		_, err := fmt.Fprintf(out, "%s: unknown\n", deviceID)
		return err
	}

	onOff := "off"
	if state.IsOn {
		onOff = "on"
	}
	_, err := fmt.Fprintf(out, "%s: %s (state %q, updated %s)\n",
		deviceID, onOff, state.Raw, state.LastUpdated.Format(time.RFC3339))
	return err
}

// newController builds a device controller from the device section.
func newController(dc config.DeviceConfig, log *logging.Logger) (*sshswitch.Controller, error) {
	hostKey, err := sshswitch.ParsePinnedHostKey(dc.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("device.private_key: %w", err)
	}

	opts := sshswitch.ControllerOptions{
		Credentials: sshswitch.Credentials{
			Host:     dc.Host,
			Port:     dc.Port,
			Username: dc.Username,
			Password: dc.Password,
			HostKey:  hostKey,
		},
		Commands: sshswitch.CommandSet{
			On:     dc.CommandOn,
			Off:    dc.CommandOff,
			Status: dc.CommandStatus,
		},
		Dialer: &sshswitch.SSHDialer{
			ConnectTimeout: dc.ConnectTimeout(),
			CommandTimeout: dc.CommandTimeout(),
			Logger:         log,
		},
		IsOn:   sshswitch.OnStates(dc.OnStates...),
		Logger: log,
	}

	if dc.ValueTemplate != "" {
		interp, err := sshswitch.NewTemplateInterpreter(dc.ValueTemplate)
		if err != nil {
			return nil, fmt.Errorf("device.value_template: %w", err)
		}
		opts.Interpreter = interp
	}

	if dc.StateMode == config.StateModeConfirmed {
		opts.Intent = sshswitch.ConfirmedIntent{}
	}

	return sshswitch.NewController(opts)
}
