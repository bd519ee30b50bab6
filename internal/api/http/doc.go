// Package http provides the shell's REST API.
//
// Endpoints:
//   - Health: / and /health
//   - Process: /process, /process/start, /process/stop
//   - Operations: /ops, /ops/{operation}
//   - Requests: /approvals, /approvals/{requestId}, /user-input/{requestId}
//     where a string request id is sent quoted, e.g. /approvals/%22req%2F1%22
//   - Surfaces: /surfaces
//   - Tray: /tray, /tray/dismiss
//   - Preferences: /preferences, /preferences/:key
//   - Logs: /logs
//
// Failures answer with {"error": {code, message, rpcCode?, data?}}; an
// error reported by the app-server keeps its JSON-RPC code and data.
//
// Example Usage:
//
//	handlers := http.NewHandlers(sh, tr, prefs, logger)
//	handlers.Register(router)
package http
