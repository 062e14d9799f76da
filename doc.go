// Package tether is a websocket client that keeps itself connected.
//
// A Socket looks like a plain websocket connection with open, send,
// receive, close and lifecycle events, but when the connection drops it
// consults a ReconnectPolicy and quietly dials again, backing off between
// attempts until the server comes back or the policy gives up. An optional
// application-level heartbeat keeps idle connections warm.
//
// Events for one connection cycle (connecting, open, messages, errors,
// close) are delivered sequentially from that connection's goroutine;
// handlers should not block. Sends while the socket is not open fail
// immediately with ErrInvalidState rather than being queued.
package tether
