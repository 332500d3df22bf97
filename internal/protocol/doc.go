// Package protocol owns the device<->collector wire contract.
//
// Ownership boundary:
// - fixed-layout message encode/decode (confirmation, audio, heartbeat)
// - reply layouts and their acceptance rules
// - magic-dispatched stream decoding for the collector side
//
// Header integers are big-endian. Audio sample payloads are signed 16-bit
// little-endian, the byte order the capture hardware produces.
//
// Nothing in this package touches a socket.
package protocol
