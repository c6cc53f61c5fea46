// Package protocol defines the wire-level vocabulary shared by the router and its agents.
//
// An agent talks to the router by sending JSON objects whose keys name protocol messages:
//   - register: bind an MRN to the connection and declare topic interests
//   - authenticate: ask the router to prove its own identity
//   - authentication: answer a router challenge with a signed nonce
//   - send: post a message to a subject or a list of recipients
//   - deliver: fetch pending messages, filtered, ordered and limited
//   - unregister: drop live interest registrations for the connection
//
// A single envelope may carry several protocol messages; they are processed in document order,
// which is why Envelope keeps the order of keys instead of decoding into a map.
//
// The router pushes three kinds of objects back to agents:
//
//	{"error": "<message>"}                     // protocol message was invalid
//	{"notification": {"<topic>": <count>}}     // messages are pending
//	{"authenticate": {"nonce": "<nonce>"}}     // identity challenge
//
// Errors are reported with the *Error type which carries one of a fixed set of codes.
package protocol
