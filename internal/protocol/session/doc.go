// Package session owns one device->collector TCP session.
//
// Ownership boundary:
// - dial + confirmation handshake
// - single-attempt audio and heartbeat exchanges with deadlines
// - reconnect delay primitives
//
// Retry policy is not owned here. Every call reports exactly one attempt;
// the engine decides whether to try again.
package session
