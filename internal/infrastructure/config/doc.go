// Package config provides 12-factor configuration for the shell.
//
// Configuration is loaded from environment variables with defaults;
// command-line flags in cmd/shell override a few of them.
//
// Configuration Sections:
//   - Server: upward HTTP/websocket API (PORT, HOST)
//   - AppServer: agent binary location, launch arguments, timeouts, spawn breaker
//   - Logging: LOG_LEVEL, LOG_DEV
//   - RateLimit: per-client limits on the upward API
//   - Preferences: PREFERENCES_PATH
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("listening on %s\n", cfg.Server.Addr())
package config
