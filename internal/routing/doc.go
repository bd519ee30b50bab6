// Package routing decides which UI surface sees each inbound event.
//
// A session (conversation thread) is owned by at most one surface at a
// time; the last Associate wins. Events for an owned session go only to
// that surface. Events for unowned sessions, or for sessions whose owner
// has gone away, are broadcast so that some window can still react.
// Process-wide events always broadcast.
//
// The router holds only revocable associations. A surface that reports
// itself not alive, or fails delivery with ErrSurfaceClosed, is dropped
// together with its sessions.
package routing
