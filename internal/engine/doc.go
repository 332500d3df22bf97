// Package engine owns the device reliability loop.
//
// Ownership boundary:
// - connection lifecycle: disconnected -> connecting -> connected
// - capture -> detect -> send -> heartbeat cycle
// - per-operation retry policy and unbounded reconnection
// - the outbound sequence counter and its persistence
//
// Everything runs on the goroutine that calls Run; no operation is ever in
// flight concurrently with another, so engine state needs no locking beyond
// the snapshot read by Status.
package engine
