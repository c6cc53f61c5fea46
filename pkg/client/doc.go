// Package client provides Go clients for an MMS router.
//
// Agent speaks the agent protocol over a WebSocket connection: it registers an MRN and
// interests, answers authentication challenges with a Signer, sends messages and asks for
// pending messages to be delivered. Pushes from the router arrive on channels.
//
// AdminClient calls the HTTP health and admin API with a bearer token.
package client
