package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboamare/mms-router/pkg/message"
	"github.com/aboamare/mms-router/pkg/store"
)

const (
	alice = "urn:mrn:mcp:id:aboamare:alice"
	bob   = "urn:mrn:mcp:id:aboamare:bob"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore(Config{Clock: func() time.Time { return epoch }})
	t.Cleanup(func() { s.Close() })
	return s
}

func subjectMsg(id, subject string, expires int64) *message.Message {
	return &message.Message{ID: id, Subject: subject, Expires: expires}
}

func pendingIDs(p []store.Pending) []string {
	ids := make([]string, 0, len(p))
	for _, m := range p {
		ids = append(ids, m.Message.ID)
	}
	return ids
}

// TestStore_RegisterSeedsPending verifies a new subscription sees the messages already in the topic
func TestStore_RegisterSeedsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveMessage(ctx, subjectMsg("m1", "weather", 0)); err != nil {
		t.Fatalf("Expected no error saving message, got: %v", err)
	}

	if err := s.Register(ctx, alice, []string{"weather"}); err != nil {
		t.Fatalf("Expected no error registering, got: %v", err)
	}

	counts, err := s.PendingCounts(ctx, alice)
	if err != nil {
		t.Fatalf("Expected no error getting counts, got: %v", err)
	}
	if counts["weather"] != 1 {
		t.Errorf("Expected 1 pending weather message, got %d", counts["weather"])
	}
}

// TestStore_RegisterIdempotent verifies re-registering does not re-seed delivered messages
func TestStore_RegisterIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	_, err := s.SaveMessage(ctx, subjectMsg("m1", "weather", 0))
	require.NoError(t, err)

	pending, err := s.MessagesFor(ctx, alice, "weather")
	require.NoError(t, err)
	require.NoError(t, s.MarkDelivered(ctx, alice, pending))

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	counts, err := s.PendingCounts(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, counts, "delivered messages must not come back on re-registration")
}

func TestStore_RegisterRequiresMRN(t *testing.T) {
	s := newTestStore(t)
	err := s.Register(context.Background(), "", []string{"weather"})
	assert.True(t, errors.Is(err, ErrEmptyMRN))
}

// TestStore_SaveMessageIdempotent verifies re-sending the same id is a no-op
func TestStore_SaveMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))

	added, err := s.SaveMessage(ctx, subjectMsg("m1", "weather", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, added)

	added, err = s.SaveMessage(ctx, subjectMsg("m1", "weather", 0))
	require.NoError(t, err)
	assert.Empty(t, added)

	counts, err := s.PendingCounts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"weather": 1}, counts)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMessages)
}

// TestStore_SaveMessageToRecipients verifies each recipient is its own topic
func TestStore_SaveMessageToRecipients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{alice}))
	require.NoError(t, s.Register(ctx, bob, []string{bob, "weather"}))

	msg := &message.Message{ID: "dm1", Subject: "weather", Recipients: []string{alice, bob}}
	added, err := s.SaveMessage(ctx, msg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, added)

	aliceCounts, _ := s.PendingCounts(ctx, alice)
	bobCounts, _ := s.PendingCounts(ctx, bob)
	assert.Equal(t, map[string]int{alice: 1}, aliceCounts)
	assert.Equal(t, map[string]int{bob: 1}, bobCounts, "subject is ignored when recipients are present")
}

func TestStore_SaveMessageErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveMessage(ctx, nil)
	assert.True(t, errors.Is(err, ErrNilMessage))

	_, err = s.SaveMessage(ctx, &message.Message{ID: "x"})
	assert.True(t, errors.Is(err, ErrNoTopics))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.SaveMessage(cancelled, subjectMsg("m1", "weather", 0))
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestStore_MessagesForOrder verifies pending messages come back in acceptance order
func TestStore_MessagesForOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := s.SaveMessage(ctx, subjectMsg(id, "weather", 0))
		require.NoError(t, err)
	}

	pending, err := s.MessagesFor(ctx, alice, "weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, pendingIDs(pending))
	assert.Equal(t, "weather", pending[0].Topic)
	assert.Equal(t, epoch.Unix(), pending[0].AcceptedAt)

	none, err := s.MessagesFor(ctx, bob, "weather")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestStore_MarkDelivered verifies delivered ids leave the pending set and others stay
func TestStore_MarkDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	require.NoError(t, s.Register(ctx, bob, []string{"weather"}))
	for _, id := range []string{"m1", "m2"} {
		_, err := s.SaveMessage(ctx, subjectMsg(id, "weather", 0))
		require.NoError(t, err)
	}

	pending, err := s.MessagesFor(ctx, alice, "weather")
	require.NoError(t, err)
	require.NoError(t, s.MarkDelivered(ctx, alice, pending[:1]))

	remaining, err := s.MessagesFor(ctx, alice, "weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, pendingIDs(remaining))

	bobPending, err := s.MessagesFor(ctx, bob, "weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, pendingIDs(bobPending), "other subscribers are untouched")

	// Marking again is tolerated
	require.NoError(t, s.MarkDelivered(ctx, alice, pending[:1]))

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TopicCounts["weather"], "delivery does not remove messages from the log")
}

// TestStore_PurgeExpired verifies expired messages leave the log and every pending set
func TestStore_PurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := epoch.Unix()

	require.NoError(t, s.Register(ctx, alice, []string{"weather", "notices"}))
	_, _ = s.SaveMessage(ctx, subjectMsg("old", "weather", now-1))
	_, _ = s.SaveMessage(ctx, subjectMsg("edge", "weather", now))
	_, _ = s.SaveMessage(ctx, subjectMsg("fresh", "weather", now+100))
	_, _ = s.SaveMessage(ctx, &message.Message{ID: "both", Recipients: []string{"weather", "notices"}, Expires: now - 10})

	n, err := s.PurgeExpired(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "old in weather, both in weather and notices")

	pending, err := s.MessagesFor(ctx, alice, "weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"edge", "fresh"}, pendingIDs(pending))

	counts, err := s.PendingCounts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"weather": 2}, counts)

	// A late subscriber is not seeded with purged ids
	require.NoError(t, s.Register(ctx, bob, []string{"notices"}))
	bobCounts, _ := s.PendingCounts(ctx, bob)
	assert.Empty(t, bobCounts)
}

// TestStore_PurgeLoop verifies the background sweep runs and stops on Close
func TestStore_PurgeLoop(t *testing.T) {
	s := NewInMemoryStore(Config{PurgeInterval: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	_, err := s.SaveMessage(ctx, subjectMsg("old", "weather", time.Now().Add(-time.Hour).Unix()))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		counts, err := s.PendingCounts(ctx, alice)
		return err == nil && len(counts) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	_, err = s.SaveMessage(ctx, subjectMsg("late", "weather", 0))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestStore_DeleteMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	_, _ = s.SaveMessage(ctx, subjectMsg("m1", "weather", 0))
	_, _ = s.SaveMessage(ctx, subjectMsg("m2", "weather", 0))

	deleted, err := s.DeleteMessage(ctx, "weather", "m1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteMessage(ctx, "weather", "m1")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteMessage(ctx, "nowhere", "m1")
	require.NoError(t, err)
	assert.False(t, deleted)

	pending, err := s.MessagesFor(ctx, alice, "weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, pendingIDs(pending))
}

func TestStore_Statistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
	assert.Zero(t, stats.TopicCount)

	require.NoError(t, s.Register(ctx, alice, []string{"weather", alice}))
	_, _ = s.SaveMessage(ctx, subjectMsg("m1", "weather", 0))
	_, _ = s.SaveMessage(ctx, &message.Message{ID: "m2", Recipients: []string{alice}})

	stats, err = s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 2, stats.TopicCount)
	assert.Equal(t, 2, stats.Subscriptions)
	assert.Equal(t, 2, stats.TotalPending)
}

// TestStore_ConcurrentAccess exercises save, deliver and purge from many goroutines
func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := string(rune('a'+i)) + string(rune('a'+j))
				_, _ = s.SaveMessage(ctx, subjectMsg(id, "weather", 0))
				pending, _ := s.MessagesFor(ctx, alice, "weather")
				_ = s.MarkDelivered(ctx, alice, pending)
				_, _ = s.PurgeExpired(ctx, epoch)
			}
		}(i)
	}
	wg.Wait()

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.TotalMessages)
	assert.Zero(t, stats.TotalPending)
}

// TestStore_TakePending verifies priority order, limits and that taken messages stop being pending
func TestStore_TakePending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather", "notices"}))
	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := s.SaveMessage(ctx, subjectMsg(id, "weather", 0))
		require.NoError(t, err)
	}
	_, err := s.SaveMessage(ctx, subjectMsg("n1", "notices", 0))
	require.NoError(t, err)

	taken, err := s.TakePending(ctx, alice, store.Selection{Topics: []string{"notices", "weather"}, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "w1", "w2"}, pendingIDs(taken))

	counts, err := s.PendingCounts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"weather": 1}, counts)

	taken, err = s.TakePending(ctx, alice, store.Selection{Topics: []string{"weather"}, Since: epoch.Unix() + 1})
	require.NoError(t, err)
	assert.Empty(t, taken, "everything was accepted before since")

	_, err = s.SaveMessage(ctx, subjectMsg("w4", "weather", 0))
	require.NoError(t, err)
	limit := subjectMsg("w4", "weather", 0).Size() + 1
	taken, err = s.TakePending(ctx, alice, store.Selection{Topics: []string{"weather"}, Latests: true, Chars: limit})
	require.NoError(t, err)
	assert.Equal(t, []string{"w4"}, pendingIDs(taken))

	_, err = s.TakePending(ctx, "", store.Selection{})
	assert.ErrorIs(t, err, ErrEmptyMRN)
}

// TestStore_TakePendingConcurrent verifies concurrent takers of one MRN never share a message
func TestStore_TakePendingConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, alice, []string{"weather"}))
	for i := 0; i < 50; i++ {
		_, err := s.SaveMessage(ctx, subjectMsg(string(rune('A'+i)), "weather", 0))
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				taken, err := s.TakePending(ctx, alice, store.Selection{Topics: []string{"weather"}, Count: 3})
				if err != nil || len(taken) == 0 {
					return
				}
				mu.Lock()
				for _, id := range pendingIDs(taken) {
					seen[id]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s taken more than once", id)
	}
}
