package store

import (
	"context"
	"io"
	"time"

	"github.com/aboamare/mms-router/pkg/message"
)

// Pending is a message waiting in a topic for a subscriber.
type Pending struct {
	Topic      string
	Message    *message.Message
	AcceptedAt int64 // unix seconds
}

// Selection bounds a TakePending call. Zero values mean no limit.
type Selection struct {
	Topics  []string // most important first
	Count   int      // maximum number of messages
	Chars   int      // maximum cumulative JSON size
	Latests bool     // newest first within each topic
	Since   int64    // skip messages accepted before this unix time
}

// MessageStore holds topic logs and per-subscriber pending sets.
type MessageStore interface {
	io.Closer

	// Register ensures a subscription exists for each (mrn, topic). A new subscription is
	// seeded with the ids currently live in the topic. Registering again is a no-op.
	Register(ctx context.Context, mrn string, topics []string) error

	// SaveMessage appends the message to each of its destination topics and marks it pending
	// for every subscriber of those topics. It returns the topics the message was newly added to;
	// a topic that already holds the id is skipped.
	SaveMessage(ctx context.Context, msg *message.Message) ([]string, error)

	// MarkDelivered removes each message from the mrn's pending set for its topic.
	// Ids that are no longer pending are ignored.
	MarkDelivered(ctx context.Context, mrn string, delivered []Pending) error

	// TakePending walks sel.Topics in order, takes pending messages of mrn until a limit is
	// reached and marks them delivered in the same step. A message that would exceed
	// sel.Chars is not taken and ends the walk.
	TakePending(ctx context.Context, mrn string, sel Selection) ([]Pending, error)

	// MessagesFor returns the pending messages of mrn in topic, oldest first.
	MessagesFor(ctx context.Context, mrn string, topic string) ([]Pending, error)

	// PendingCounts returns, per topic, the number of messages pending for mrn.
	// Topics without pending messages are omitted.
	PendingCounts(ctx context.Context, mrn string) (map[string]int, error)

	// PurgeExpired removes every message that expired before now and returns how many
	// (topic, id) entries were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	// DeleteMessage removes one message from a topic regardless of its expiry.
	DeleteMessage(ctx context.Context, topic string, id string) (bool, error)

	// GetStatistics returns aggregate counters.
	GetStatistics(ctx context.Context) (Statistics, error)
}

// Statistics provides aggregate statistics about the store.
type Statistics struct {
	TotalMessages int            `json:"total_messages"` // (topic, id) entries across all logs
	TopicCounts   map[string]int `json:"topic_counts"`   // live messages per topic
	TopicCount    int            `json:"topic_count"`
	Subscriptions int            `json:"subscriptions"`
	TotalPending  int            `json:"total_pending"`
}
