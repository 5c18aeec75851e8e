// Package logging provides structured logging for the feeder core.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device discovered", "device_id", "007")
//	logger.Component("liveness").Warn("device offline", "device_id", "007")
//
// Never log bus passwords or role tokens.
package logging
