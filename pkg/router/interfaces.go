package router

import (
	"context"
	"io"

	"github.com/aboamare/mms-router/pkg/agent"
	"github.com/aboamare/mms-router/pkg/store"
)

// Router dispatches protocol messages from connected agents.
type Router interface {
	io.Closer

	// Connect adds a freshly opened connection to the set of connected agents.
	Connect(ctx context.Context, handle agent.Handle) error

	// Process decodes one frame and dispatches every protocol message in it, in order.
	Process(ctx context.Context, handle agent.Handle, frame []byte) error

	// Disconnect forgets the connection: its live interests, its notification timer and
	// any outstanding challenge. Pending messages of its MRN are kept.
	Disconnect(ctx context.Context, handle agent.Handle)

	// DeleteMessage removes a message from a topic regardless of its expiry.
	DeleteMessage(ctx context.Context, topic string, id string) (bool, error)

	// ConnectedAgents returns a snapshot of the open connections.
	ConnectedAgents() []agent.Handle

	// GetHealth returns the status of the router.
	GetHealth(ctx context.Context) (HealthStatus, error)

	// GetStatistics returns store and connection counters.
	GetStatistics(ctx context.Context) (Statistics, error)
}

// HealthStatus represents the overall health of a router.
type HealthStatus struct {
	Healthy         bool   `json:"healthy"`
	MRN             string `json:"mrn,omitempty"`
	ConnectedAgents int    `json:"connected_agents"`
	Message         string `json:"message,omitempty"`
}

// Statistics aggregates store and connection counters.
type Statistics struct {
	Store           store.Statistics `json:"store"`
	ConnectedAgents int              `json:"connected_agents"`
	LiveTopics      int              `json:"live_topics"`
}
