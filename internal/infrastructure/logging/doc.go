// Package logging configures the service's log/slog logger.
//
// Records are JSON by default (text with format: "text") and carry the
// service name and build version:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a child logger:
//
//	log := logging.New(cfg.Logging, version)
//	bridgeLog := log.With("component", "bridge")
//
// Do not log credentials. Log config.DeviceConfig through its String
// method, which redacts the SSH password.
package logging
