// Package session owns the client side of one Flower session.
//
// Ownership boundary:
// - channel establishment with keepalive and message-size limits
// - the stream driver (receive loop, dispatch worker, send loop)
// - reconnect, abort and idempotent teardown
// - retry/backoff helpers for callers that redial
package session
