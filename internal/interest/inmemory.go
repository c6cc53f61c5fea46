package interest

import (
	"context"
	"errors"
	"sync"

	"github.com/aboamare/mms-router/pkg/agent"
	"github.com/aboamare/mms-router/pkg/interest"
)

var (
	// ErrNilHandle is returned when a nil agent handle is provided
	ErrNilHandle = errors.New("agent handle cannot be nil")
	// ErrEmptyTopic is returned when an empty topic is provided
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrClosed is returned by operations on a closed registry
	ErrClosed = errors.New("registry is closed")
)

// InMemoryRegistry implements interest.Registry. It is safe for concurrent use.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	byTopic map[string]map[string]agent.Handle // topic -> handle id -> handle
	byAgent map[string]map[string]struct{}     // handle id -> topics
	closed  bool
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byTopic: make(map[string]map[string]agent.Handle),
		byAgent: make(map[string]map[string]struct{}),
	}
}

// RegisterInterest adds handle to the live set of topic.
func (r *InMemoryRegistry) RegisterInterest(ctx context.Context, handle agent.Handle, topic string) error {
	if handle == nil {
		return ErrNilHandle
	}
	if topic == "" {
		return ErrEmptyTopic
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	id := handle.ID()
	if r.byTopic[topic] == nil {
		r.byTopic[topic] = make(map[string]agent.Handle)
	}
	r.byTopic[topic][id] = handle

	if r.byAgent[id] == nil {
		r.byAgent[id] = make(map[string]struct{})
	}
	r.byAgent[id][topic] = struct{}{}
	return nil
}

// RemoveAgent scrubs handle from every topic.
func (r *InMemoryRegistry) RemoveAgent(ctx context.Context, handle agent.Handle) error {
	if handle == nil {
		return ErrNilHandle
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := handle.ID()
	for topic := range r.byAgent[id] {
		delete(r.byTopic[topic], id)
		if len(r.byTopic[topic]) == 0 {
			delete(r.byTopic, topic)
		}
	}
	delete(r.byAgent, id)
	return nil
}

// FanoutTargets returns a snapshot of the handles interested in topic.
func (r *InMemoryRegistry) FanoutTargets(ctx context.Context, topic string) ([]agent.Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]agent.Handle, 0, len(r.byTopic[topic]))
	for _, h := range r.byTopic[topic] {
		handles = append(handles, h)
	}
	return handles, nil
}

// GetTopicCount returns the number of topics with live handles.
func (r *InMemoryRegistry) GetTopicCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic), nil
}

// GetAgentCount returns the number of handles with interests.
func (r *InMemoryRegistry) GetAgentCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAgent), nil
}

// Close clears the registry. It is idempotent.
func (r *InMemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byTopic = make(map[string]map[string]agent.Handle)
	r.byAgent = make(map[string]map[string]struct{})
	r.closed = true
	return nil
}

var _ interest.Registry = (*InMemoryRegistry)(nil)
