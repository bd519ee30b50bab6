// Package main is the entry point for agentshell.
//
// agentshell runs the desktop shell core: it launches the coding agent's
// app-server as a child process, speaks JSON-RPC to it over stdio, and
// exposes threads, turns, approvals and process state to UI windows.
//
// Architecture:
//
//	UI windows ⇄ REST + WebSocket ⇄ agentshell ⇄ stdio JSON-RPC ⇄ app-server
//
// Configuration:
//   - Environment variables (12-factor, see internal/infrastructure/config)
//   - CLI flags (override env vars)
//   - Preferences file (TOML or YAML, edited from the UI)
//
// Usage:
//
//	# Default: listen on 127.0.0.1:8765 and start the app-server
//	./agentshell
//
//	# Explicit binary, development logs, manual start
//	./agentshell --app-server /opt/codex/bin/codex --dev --no-autostart
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, including the app-server
package main
