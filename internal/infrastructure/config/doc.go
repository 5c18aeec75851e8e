// Package config handles loading and validating feeder core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FEEDER_*)
//   - Validation of required fields
//   - Default value handling
//
// Bus credentials and the role-token secret should come from the environment,
// not the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
