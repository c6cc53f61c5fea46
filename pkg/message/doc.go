// Package message validates and normalizes the messages agents post to the router.
//
// A message is a JSON object with at least a subject or a list of recipients:
//
//	{
//	  "id": "3b241101-e2bb-4255-8caf-4136c566a962",
//	  "sender": "urn:mrn:mcp:id:aboamare:vessel:1",
//	  "subject": "urn:mrn:mcp:id:aboamare:topic:weather",
//	  "body": "wind 12 knots from SW",
//	  "expires": 1767225600
//	}
//
// Parse turns the raw object into a *Message, assigning an id and an expiry when they are
// absent, and classifies it as Plain or Signed. A message is Signed when it carries the three
// members of a flattened JWS (protected, payload, signature), either at the top level or inside
// its body. Signature verification is not done here; Signed messages expose their JWS so a
// verifier can check it.
//
// Parse never touches router state and is safe to call from any goroutine.
package message
