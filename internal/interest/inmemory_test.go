package interest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboamare/mms-router/pkg/agent"
)

func TestInMemoryRegistry_RegisterInterest(t *testing.T) {
	r := NewInMemoryRegistry()
	defer r.Close()
	ctx := context.Background()

	a := agent.NewBase("agent-1")

	if err := r.RegisterInterest(ctx, a, "weather"); err != nil {
		t.Fatalf("RegisterInterest failed: %v", err)
	}
	if err := r.RegisterInterest(ctx, a, "weather"); err != nil {
		t.Fatalf("RegisterInterest twice failed: %v", err)
	}

	targets, err := r.FanoutTargets(ctx, "weather")
	if err != nil {
		t.Fatalf("FanoutTargets failed: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("Expected 1 target, got %d", len(targets))
	}
	if targets[0].ID() != "agent-1" {
		t.Errorf("Expected target 'agent-1', got '%s'", targets[0].ID())
	}
}

func TestInMemoryRegistry_InvalidArguments(t *testing.T) {
	r := NewInMemoryRegistry()
	defer r.Close()
	ctx := context.Background()

	assert.ErrorIs(t, r.RegisterInterest(ctx, nil, "weather"), ErrNilHandle)
	assert.ErrorIs(t, r.RegisterInterest(ctx, agent.NewBase(""), ""), ErrEmptyTopic)
	assert.ErrorIs(t, r.RemoveAgent(ctx, nil), ErrNilHandle)
}

func TestInMemoryRegistry_SameMRNTwoConnections(t *testing.T) {
	r := NewInMemoryRegistry()
	defer r.Close()
	ctx := context.Background()

	first := agent.NewBase("conn-1")
	second := agent.NewBase("conn-2")
	require.NoError(t, first.BindMRN("urn:mrn:mcp:id:a"))
	require.NoError(t, second.BindMRN("urn:mrn:mcp:id:a"))

	require.NoError(t, r.RegisterInterest(ctx, first, "urn:mrn:mcp:id:a"))
	require.NoError(t, r.RegisterInterest(ctx, second, "urn:mrn:mcp:id:a"))

	targets, err := r.FanoutTargets(ctx, "urn:mrn:mcp:id:a")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

func TestInMemoryRegistry_RemoveAgent(t *testing.T) {
	r := NewInMemoryRegistry()
	defer r.Close()
	ctx := context.Background()

	a := agent.NewBase("a")
	b := agent.NewBase("b")
	require.NoError(t, r.RegisterInterest(ctx, a, "weather"))
	require.NoError(t, r.RegisterInterest(ctx, a, "notices"))
	require.NoError(t, r.RegisterInterest(ctx, b, "weather"))

	require.NoError(t, r.RemoveAgent(ctx, a))

	weather, _ := r.FanoutTargets(ctx, "weather")
	require.Len(t, weather, 1)
	assert.Equal(t, "b", weather[0].ID())

	notices, _ := r.FanoutTargets(ctx, "notices")
	assert.Empty(t, notices)

	topics, _ := r.GetTopicCount(ctx)
	agents, _ := r.GetAgentCount(ctx)
	assert.Equal(t, 1, topics)
	assert.Equal(t, 1, agents)

	// Removing an unknown agent is harmless
	assert.NoError(t, r.RemoveAgent(ctx, agent.NewBase("ghost")))
}

func TestInMemoryRegistry_ContextCancelled(t *testing.T) {
	r := NewInMemoryRegistry()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.RegisterInterest(ctx, agent.NewBase(""), "weather"), context.Canceled)
	_, err := r.FanoutTargets(ctx, "weather")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemoryRegistry_Close(t *testing.T) {
	r := NewInMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterInterest(ctx, agent.NewBase(""), "weather"))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.RegisterInterest(ctx, agent.NewBase(""), "weather"), ErrClosed)
	targets, err := r.FanoutTargets(ctx, "weather")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestInMemoryRegistry_Concurrent(t *testing.T) {
	r := NewInMemoryRegistry()
	defer r.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := agent.NewBase(fmt.Sprintf("agent-%d", i))
			for j := 0; j < 10; j++ {
				_ = r.RegisterInterest(ctx, h, fmt.Sprintf("topic-%d", j))
				_, _ = r.FanoutTargets(ctx, "topic-0")
			}
			if i%2 == 0 {
				_ = r.RemoveAgent(ctx, h)
			}
		}(i)
	}
	wg.Wait()

	agents, err := r.GetAgentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, agents)

	targets, err := r.FanoutTargets(ctx, "topic-3")
	require.NoError(t, err)
	assert.Len(t, targets, 10)
}
