// Package interest provides the live interest registry used for notification fan-out.
//
// The registry maps a topic to the connected agent handles interested in it right now. It holds
// no messages and has no persistence obligation: it is rebuilt from incoming register calls and
// an agent is scrubbed from it when its connection goes away. Offline agents keep accumulating
// pending messages in the store through their subscriptions.
//
// Example usage:
//
//	err := registry.RegisterInterest(ctx, handle, "urn:mrn:mcp:id:aboamare:topic:weather")
//	if err != nil {
//		return err
//	}
//
//	targets, err := registry.FanoutTargets(ctx, "urn:mrn:mcp:id:aboamare:topic:weather")
//	if err != nil {
//		return err
//	}
//	for _, h := range targets {
//		scheduler.Schedule(h)
//	}
package interest
