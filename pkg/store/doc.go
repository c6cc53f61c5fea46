// Package store defines the message store contract.
//
// The store keeps one append-only log per topic and, per (MRN, topic) subscription, the set of
// message ids the agent has not yet received. A topic is either a subject or an agent's own MRN,
// which serves as its direct-message topic.
//
// Invariant: a pending id always refers to a message that is still in its topic log. Delivery
// removes ids from pending sets only; expiry and explicit deletion remove messages from the log
// and scrub every pending set in the same critical section.
package store
