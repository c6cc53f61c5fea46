package interest

import (
	"context"
	"io"

	"github.com/aboamare/mms-router/pkg/agent"
)

// Registry manages topic-to-handle mappings for live notification.
type Registry interface {
	io.Closer

	// RegisterInterest adds the handle to the live set of a topic. Registering twice is a no-op.
	RegisterInterest(ctx context.Context, handle agent.Handle, topic string) error

	// RemoveAgent removes the handle from every topic.
	RemoveAgent(ctx context.Context, handle agent.Handle) error

	// FanoutTargets returns the handles currently interested in topic.
	FanoutTargets(ctx context.Context, topic string) ([]agent.Handle, error)

	// GetTopicCount returns the number of topics with at least one live handle.
	GetTopicCount(ctx context.Context) (int, error)

	// GetAgentCount returns the number of distinct handles with at least one interest.
	GetAgentCount(ctx context.Context) (int, error)
}
