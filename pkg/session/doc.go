// Package session owns the conversational session lifecycle. The Controller
// exposes a single contract (Start, Send, End, Clear) to the presentation
// layer regardless of which transport carries the session, and it is the
// sole mutator of the message store: transports report inbound activity
// through callbacks, the controller applies the updates.
//
// State machine:
//
//	Idle --Start--> Connecting --connected--> Connected
//	Connecting --failure--> Error
//	Connected --abnormal close--> Connecting (one retry) --failure--> Error
//	Connected/Connecting/Error --End--> Idle
package session
