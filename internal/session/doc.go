// Package session implements the peer protocol: handshake, heartbeat,
// acknowledgment/RTT tracking, and staleness detection over a registry of
// peer sessions. It owns message construction and protocol-level dispatch;
// delta and consensus payloads pass through to the application layer.
package session
