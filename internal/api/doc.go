// Package api exposes the feeder engine to dashboards over HTTP and
// WebSocket.
//
// Routes live under /api/v1. Every route except /health and /metrics needs
// an "Authorization: Bearer <jwt>" header whose token was issued by the
// external auth server. The role claim decides what the caller may do;
// commands are checked by the engine's gate so that refusals are audited.
//
// Change notifications reach browsers through /ws. A client first asks
// for a single-use ticket with POST /auth/ws-ticket, connects with
// ?ticket=..., then subscribes to the change kinds it wants:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["device.online","alert.food"]}}
//
// The channel "*" receives everything. Adding "snapshot":true to the
// payload returns the current device list in the response. Events for a
// client that falls behind are dropped; /connection reports the count.
package api
