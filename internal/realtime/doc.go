// Package realtime manages a single persistent WebSocket connection and
// multiplexes named event streams over it.
//
// The package implements:
//   - Transport: one physical connection (WSTransport on gorilla/websocket)
//   - Supervisor: connection state machine with bounded, backed-off reconnects
//   - Router: event name to handler registry with snapshot dispatch
//   - Request/ack correlation for Emit
//   - StreamReassembler: per-session chunk/end delivery for chat streams
//
// Client wires these together and is the only type most callers need.
package realtime
