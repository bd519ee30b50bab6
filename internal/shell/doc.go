// Package shell connects the app-server to UI surfaces.
//
// A Shell owns the session-to-surface router and the table of inbound
// requests waiting for a human. Notifications go to the surface that owns
// their thread, or to every surface when the thread has no live owner or
// the event concerns the whole process. Approval and user-input prompts
// are delivered the same way, but answers bypass the router: RespondApproval
// and RespondUserInput reply through the responder captured when the
// request arrived, exactly once.
//
// When the process exits, requests it sent can no longer be answered; they
// are dropped and every surface receives an approval/expired event.
package shell
