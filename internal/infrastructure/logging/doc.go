// Package logging provides structured logging for FleetLink Core.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape: JSON in production, text during development, and
// service/version fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("agent registered", "mac_address", mac)
//	logger.Error("store write failed", "error", err)
//
// # Security
//
// Never log session tokens, broker passwords, or database credentials.
package logging
