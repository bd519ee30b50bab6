// Package ws exposes the shell to UI windows over WebSocket.
//
// Each connection is a routing surface: it is registered with the router
// on connect and unregistered on disconnect, and it receives the
// notifications of every session it owns. Sessions become owned by
// starting, resuming or forking a thread through a call, or by an
// explicit attach.
//
// Message Types (Client → Server):
//   - call: {id, operation, params} runs an app-server operation
//   - attach / detach: {sessionId} claims or releases a session
//   - approval_response: {requestId, decision}
//   - user_input_response: {requestId, answers}
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - hello: carries the surface id
//   - result / error: answer to a call, matched by id
//   - ack: answer to attach, detach and responses
//   - event: a routed notification, request or process change
//   - pong
//
// Example Usage:
//
//	handler := ws.NewHandler(sh, ws.DefaultConfig(), logger, metrics)
//	router.GET("/stream", handler.HandleConnection)
package ws
