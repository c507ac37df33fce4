// Package gateway serves the coven-chat HTTP API.
//
// # Overview
//
// The gateway owns the HTTP server and the store.Repository behind it. It
// opens the configured backend, registers routes, and on shutdown drains
// in-flight requests before closing the repository.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// # HTTP API
//
// Health endpoints (never authenticated):
//
//	GET /health           200 "OK"
//	GET /health/ready     200 "ready (N agents)", 503 when the store fails
//
// Agents:
//
//	GET    /api/agents
//	POST   /api/agents              {"name", "role", "description", "color", "avatar"}
//	GET    /api/agents/{id}
//	DELETE /api/agents/{id}         409 for default agents
//
// Conversations:
//
//	GET    /api/conversations       most recently updated first
//	POST   /api/conversations       {"title"}
//	GET    /api/conversations/{id}
//	DELETE /api/conversations/{id}  removes its messages too
//
// Messages:
//
//	GET    /api/conversations/{id}/messages[?render=html]
//	POST   /api/conversations/{id}/messages   {"content", "agent_id", "is_user"}
//	DELETE /api/conversations/{id}/messages
//
// Errors are JSON objects of the form {"error": "..."}. Timestamps are
// RFC 3339 with nanoseconds, in UTC.
//
// # Authentication
//
// When auth.jwt_secret is set, every /api/ route requires an HS256 bearer
// token (see package auth).
package gateway
