// Package agent defines the capability the router uses to talk to a connected agent.
//
// A transport (WebSocket, gRPC stream, in-process) implements Handle for each connection,
// usually by embedding *Base and providing Send and CloseConnection. Base keeps the state the
// router needs per connection: the MRN bound by register, the declared interests and the
// authentication challenge.
//
// Several handles may carry the same MRN at the same time; each connection is identified by ID.
package agent
