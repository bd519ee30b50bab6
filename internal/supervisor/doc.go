// Package supervisor runs the app-server subprocess.
//
// Lifecycle: Stopped -> Starting -> Running -> Stopping -> Stopped. A process
// that exits on its own while Running is reported as Crashed and then
// Stopped. Nothing is restarted automatically; callers decide by calling
// Start again. Repeated failed starts open a breaker so a broken install
// is not respawned in a loop.
//
// The process's stdout carries JSON-RPC, handled by a jsonrpc.Conn. Its
// stderr is logged line by line and the last 64 KiB is kept for exit
// reports. When the process exits every pending call fails with a
// *ProcessExitedError, which matches jsonrpc.ErrTransportClosed.
package supervisor
