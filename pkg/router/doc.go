// Package router provides the contract between agent transports and the message router.
//
// A transport owns the connections. For each connection it creates an agent.Handle, calls
// Connect once, hands every received frame to Process and calls Disconnect when the connection
// ends:
//
//	if err := r.Connect(ctx, handle); err != nil {
//		return err
//	}
//	defer r.Disconnect(ctx, handle)
//
//	for frame := range frames {
//		if err := r.Process(ctx, handle, frame); err != nil {
//			// a bad message from one agent never affects the others
//			logger.Warn().Err(err).Msg("protocol message rejected")
//		}
//	}
//
// Errors returned by Process carry a protocol.Code; agents that sent an invalid protocol message
// have already been told so with an {"error": "..."} push.
package router
