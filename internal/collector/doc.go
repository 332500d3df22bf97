// Package collector is the server side of the device wire protocol.
//
// It accepts device sessions, acknowledges audio in sequence order, answers
// heartbeats, and optionally writes accepted audio to disk and fans it out
// to WebSocket subscribers.
package collector
