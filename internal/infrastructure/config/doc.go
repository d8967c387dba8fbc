// Package config loads the bridge configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults
//  2. the YAML file passed to Load
//  3. a .env file in the working directory, if present
//  4. SSHSWITCH_* environment variables
//
// Validate runs last and rejects a config missing the device host,
// credentials, host key or any of the three commands.
//
// Keep secrets (SSHSWITCH_DEVICE_PASSWORD, MQTT and InfluxDB credentials,
// the JWT secret) in the environment and the file at mode 0600.
// DeviceConfig redacts its password in String and MarshalJSON.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
