// Package appserver is the typed facade over the agent's app-server protocol.
//
// It owns the protocol vocabulary: the notification event table, the
// server-initiated request methods that need a human, and the operation
// table mapping each logical operation to its wire method. Where the
// protocol renamed a method, the old name is kept in a small
// primary/legacy table and tried once when the server rejects the new name
// as unknown. No other error triggers the retry.
//
// Client does not hold a connection. It calls through a Transport, which
// in production is the supervisor's current connection, so the facade
// keeps working across process restarts.
package appserver
