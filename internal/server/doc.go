// ABOUTME: Package documentation for the HTTP API server
// ABOUTME: Describes the route surface and how requests map onto the store

// Package server exposes the order-tracking store over HTTP.
//
// Every route is a thin adapter: reads resolve through registered getters
// and writes dispatch registered actions, so the API surface and any other
// store client (CLI, tests, persistence) observe identical semantics.
//
// Routes:
//
//	GET  /health                     - liveness check, no auth
//	POST /api/register               - create an account, no auth
//	POST /api/login                  - exchange credentials for a JWT, no auth
//	GET  /api/orders                 - list orders
//	POST /api/orders                 - create an order
//	GET  /api/orders/{id}            - order detail with rendered notes
//	DELETE /api/orders/{id}          - delete an order
//	PATCH /api/orders/{id}/status    - advance order status
//	GET  /api/processes              - list processes
//	POST /api/processes              - create a process
//	POST /api/processes/{id}/advance - advance a process one step
//	GET  /api/stats                  - composed cross-module stats
//	GET  /api/events                 - SSE stream of mutations and actions
//	GET  /api/history                - mutation history (admin only)
//	GET  /api/state                  - full state record dump (admin only)
//
// All /api routes below /api/login require a bearer token issued by login.
package server
