package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/sshswitch/migrations"

	"github.com/nerrad567/sshswitch/internal/api"
	"github.com/nerrad567/sshswitch/internal/bridges/sshswitch"
	"github.com/nerrad567/sshswitch/internal/history"
	"github.com/nerrad567/sshswitch/internal/infrastructure/config"
	"github.com/nerrad567/sshswitch/internal/infrastructure/database"
	"github.com/nerrad567/sshswitch/internal/infrastructure/influxdb"
	"github.com/nerrad567/sshswitch/internal/infrastructure/logging"
	"github.com/nerrad567/sshswitch/internal/infrastructure/mqtt"
)

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Long: `Run the bridge: poll the device, accept commands over MQTT and the
HTTP API, publish state and health, and record state history.

Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath())
		},
	}
}

// run is the serve logic, separated from the command for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, path string) error {
	log := logging.Default()
	log.Info("sshswitch starting",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", path,
		"bridge_id", cfg.Bridge.ID,
		"device", cfg.Device.String(),
	)

	// Database
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	journalMode, err := db.JournalMode(ctx)
	if err != nil {
		return err
	}
	log.Info("database connected", "path", db.Path(), "journal_mode", journalMode)

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	historyStore := history.NewStore(db.DB)
	recorders := []sshswitch.StateRecorder{historyStore}

	if retention := cfg.Database.HistoryRetention(); retention > 0 {
		pruner := history.NewPruner(historyStore, retention, history.DefaultPruneInterval, log.With("component", "history"))
		pruner.Start(ctx)
		defer pruner.Stop()
		log.Info("history pruner started", "retention", retention.String())
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to influxdb: %w", err)
		}
		defer func() {
			log.Info("closing influxdb connection", "points_written", influxClient.Written())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("influxdb write error", "error", err)
		})
		recorders = append(recorders, influxRecorder(influxClient))
		log.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("influxdb disabled")
	}

	// Device controller
	controller, err := newController(cfg.Device, log.With("component", "controller"))
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	var bridgeMQTT sshswitch.MQTTClient
	if cfg.MQTT.Enabled {
		will, willErr := healthWill(cfg.Bridge.ID)
		if willErr != nil {
			return willErr
		}
		mqttClient, err = mqtt.Connect(cfg.MQTT, will)
		if err != nil {
			return fmt.Errorf("connecting to mqtt: %w", err)
		}
		defer func() {
			log.Info("closing mqtt connection")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing mqtt", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("mqtt disconnected", "error", err)
		})
		bridgeMQTT = &mqttBridgeAdapter{client: mqttClient}
		log.Info("mqtt connected", "broker", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port)
	} else {
		log.Info("mqtt disabled")
	}

	// Bridge
	bridge, err := sshswitch.NewBridge(sshswitch.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		DeviceID:       cfg.Device.ID,
		Version:        version,
		Controller:     controller,
		Poller:         sshswitch.NewPoller(controller, cfg.Device.PollInterval()),
		MQTTClient:     bridgeMQTT,
		Recorders:      recorders,
		ScanInterval:   cfg.Device.ScanInterval(),
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if mqttClient != nil {
		// The broker retains the will on every reconnect, so the real status
		// has to be republished once the session is back.
		mqttClient.SetOnConnect(func() {
			log.Info("mqtt reconnected")
			if err := bridge.PublishHealth(); err != nil {
				log.Error("republishing health after reconnect", "error", err)
			}
		})
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, serverErr := api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Switch:   bridge,
			History:  historyStore,
			Version:  version,
		})
		if serverErr != nil {
			return fmt.Errorf("creating api server: %w", serverErr)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting api server: %w", err)
		}
		defer func() {
			log.Info("stopping api server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping api server", "error", closeErr)
			}
		}()
		log.Info("api server started", "addr", server.Addr())
	} else {
		log.Info("api server disabled")
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	err = healthCheck(checkCtx, db, mqttClient, influxClient)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, bridge, MQTT, InfluxDB, pruner, database.

	log.Info("sshswitch stopped")
	return nil
}

// healthCheck verifies the infrastructure connections that are enabled.
// The device itself is not checked; an unreachable device is a normal
// runtime condition reported through health messages.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// healthWill builds the last will registered with the broker: a retained
// offline health message on the bridge's health topic.
func healthWill(bridgeID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(sshswitch.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, fmt.Errorf("encoding last will: %w", err)
	}
	return &mqtt.Will{
		Topic:   sshswitch.HealthTopic(bridgeID),
		Payload: payload,
	}, nil
}

// influxRecorder writes every state change as a switch_state point.
func influxRecorder(client *influxdb.Client) sshswitch.StateRecorder {
	return sshswitch.StateRecorderFunc(func(_ context.Context, deviceID string, state sshswitch.SwitchState, source string) error {
		client.WriteSwitchState(deviceID, state.Raw, state.IsOn, source, state.LastUpdated)
		return nil
	})
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The only difference is the handler signature:
// the infrastructure client's handlers return an error, the bridge's do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements sshswitch.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements sshswitch.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements sshswitch.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
