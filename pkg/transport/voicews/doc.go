// Package voicews implements the persistent socket transport against the
// voice-agent backend.
//
// Lifecycle:
//   - Negotiate obtains a conversation ID and a signed websocket URL.
//   - Open dials the signed URL, starts the read loop and the heartbeat, and
//     announces direct mode so the backend skips its default greeting.
//   - Send writes one user turn; Close performs a normal closure.
//
// Inbound frames are dispatched through a closed tagged union (see
// ParseFrame). Audio frames are discarded without being decoded: in
// text-only mode they must never be processed or billed.
package voicews
