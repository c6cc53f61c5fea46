package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/pkg/message"
	"github.com/aboamare/mms-router/pkg/store"
)

// DefaultPurgeInterval is how often expired messages are swept.
const DefaultPurgeInterval = 5 * time.Second

var (
	// ErrEmptyMRN is returned when a subscriber MRN is empty
	ErrEmptyMRN = errors.New("mrn cannot be empty")
	// ErrNilMessage is returned when a nil message is provided
	ErrNilMessage = errors.New("message cannot be nil")
	// ErrNoTopics is returned when a message has neither recipients nor subject
	ErrNoTopics = errors.New("message has no destination topic")
	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store is closed")
)

// Config configures an InMemoryStore.
type Config struct {
	// PurgeInterval is the period of the expiry sweep. Zero disables the background sweep.
	PurgeInterval time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock  func() time.Time
	Logger zerolog.Logger
}

type entry struct {
	msg        *message.Message
	acceptedAt int64
}

// topicLog keeps insertion order plus an id index.
type topicLog struct {
	order []string
	byID  map[string]*entry
}

func newTopicLog() *topicLog {
	return &topicLog{byID: make(map[string]*entry)}
}

func (l *topicLog) remove(ids map[string]struct{}) {
	kept := l.order[:0]
	for _, id := range l.order {
		if _, gone := ids[id]; gone {
			delete(l.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

type subKey struct {
	mrn   string
	topic string
}

type topicID struct {
	topic string
	id    string
}

// InMemoryStore implements store.MessageStore with in-memory topic logs.
// It is safe for concurrent use.
type InMemoryStore struct {
	mu          sync.RWMutex
	logs        map[string]*topicLog           // topic -> log
	pending     map[subKey]map[string]struct{} // (mrn, topic) -> pending ids
	subscribers map[string]map[string]struct{} // topic -> mrns
	closed      bool

	clock  func() time.Time
	logger zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewInMemoryStore creates a store and starts its purge loop.
func NewInMemoryStore(cfg Config) *InMemoryStore {
	s := &InMemoryStore{
		logs:        make(map[string]*topicLog),
		pending:     make(map[subKey]map[string]struct{}),
		subscribers: make(map[string]map[string]struct{}),
		clock:       cfg.Clock,
		logger:      cfg.Logger.With().Str("component", "store").Logger(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	if cfg.PurgeInterval > 0 {
		go s.purgeLoop(cfg.PurgeInterval)
	} else {
		close(s.done)
	}
	return s
}

func (s *InMemoryStore) purgeLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(context.Background(), s.clock())
			if err != nil {
				return
			}
			if n > 0 {
				s.logger.Debug().Int("purged", n).Msg("expired messages purged")
			}
		}
	}
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Register ensures subscriptions for mrn on each topic.
func (s *InMemoryStore) Register(ctx context.Context, mrn string, topics []string) error {
	if mrn == "" {
		return ErrEmptyMRN
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, topic := range topics {
		key := subKey{mrn: mrn, topic: topic}
		if _, exists := s.pending[key]; exists {
			continue
		}

		ids := make(map[string]struct{})
		if log := s.logs[topic]; log != nil {
			for _, id := range log.order {
				ids[id] = struct{}{}
			}
		}
		s.pending[key] = ids

		if s.subscribers[topic] == nil {
			s.subscribers[topic] = make(map[string]struct{})
		}
		s.subscribers[topic][mrn] = struct{}{}
	}
	return nil
}

// SaveMessage appends msg to its destination topics.
func (s *InMemoryStore) SaveMessage(ctx context.Context, msg *message.Message) ([]string, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	topics := msg.Topics()
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	accepted := s.clock().Unix()
	var added []string
	for _, topic := range topics {
		log := s.logs[topic]
		if log == nil {
			log = newTopicLog()
			s.logs[topic] = log
		}
		if _, exists := log.byID[msg.ID]; exists {
			continue
		}

		log.byID[msg.ID] = &entry{msg: msg, acceptedAt: accepted}
		log.order = append(log.order, msg.ID)
		added = append(added, topic)

		for mrn := range s.subscribers[topic] {
			s.pending[subKey{mrn: mrn, topic: topic}][msg.ID] = struct{}{}
		}
	}
	return added, nil
}

// MarkDelivered clears delivered ids from the pending sets of mrn.
func (s *InMemoryStore) MarkDelivered(ctx context.Context, mrn string, delivered []store.Pending) error {
	if mrn == "" {
		return ErrEmptyMRN
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, p := range delivered {
		if p.Message == nil {
			continue
		}
		ids := s.pending[subKey{mrn: mrn, topic: p.Topic}]
		if _, ok := ids[p.Message.ID]; !ok {
			s.logger.Debug().
				Str("mrn", mrn).
				Str("topic", p.Topic).
				Str("id", p.Message.ID).
				Msg("delivered message was not pending")
			continue
		}
		delete(ids, p.Message.ID)
	}
	return nil
}

// TakePending selects and marks delivered under one write lock, so two connections of the
// same MRN never take the same message.
func (s *InMemoryStore) TakePending(ctx context.Context, mrn string, sel store.Selection) ([]store.Pending, error) {
	if mrn == "" {
		return nil, ErrEmptyMRN
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	var taken []store.Pending
	chars := 0
	for _, topic := range sel.Topics {
		ids := s.pending[subKey{mrn: mrn, topic: topic}]
		log := s.logs[topic]
		if len(ids) == 0 || log == nil {
			continue
		}

		n := len(log.order)
		for i := 0; i < n; i++ {
			id := log.order[i]
			if sel.Latests {
				id = log.order[n-1-i]
			}
			if _, ok := ids[id]; !ok {
				continue
			}
			e := log.byID[id]
			if sel.Since > 0 && e.acceptedAt < sel.Since {
				continue
			}
			if sel.Count > 0 && len(taken) >= sel.Count {
				return taken, nil
			}
			size := e.msg.Size()
			if sel.Chars > 0 && chars+size > sel.Chars {
				return taken, nil
			}
			delete(ids, id)
			taken = append(taken, store.Pending{Topic: topic, Message: e.msg, AcceptedAt: e.acceptedAt})
			chars += size
		}
	}
	return taken, nil
}

// MessagesFor returns the pending messages of mrn in topic in log order.
func (s *InMemoryStore) MessagesFor(ctx context.Context, mrn string, topic string) ([]store.Pending, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.pending[subKey{mrn: mrn, topic: topic}]
	log := s.logs[topic]
	if len(ids) == 0 || log == nil {
		return []store.Pending{}, nil
	}

	results := make([]store.Pending, 0, len(ids))
	for _, id := range log.order {
		if _, ok := ids[id]; !ok {
			continue
		}
		e := log.byID[id]
		results = append(results, store.Pending{Topic: topic, Message: e.msg, AcceptedAt: e.acceptedAt})
	}
	return results, nil
}

// PendingCounts returns the non-zero pending counts of mrn per topic.
func (s *InMemoryStore) PendingCounts(ctx context.Context, mrn string) (map[string]int, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for key, ids := range s.pending {
		if key.mrn == mrn && len(ids) > 0 {
			counts[key.topic] = len(ids)
		}
	}
	return counts, nil
}

// PurgeExpired removes messages whose expiry is before now. The removed (topic, id) pairs are
// collected first, then the logs and every pending set are scrubbed under the same lock.
func (s *InMemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	cutoff := now.Unix()
	purged := make(map[topicID]struct{})
	for topic, log := range s.logs {
		for _, id := range log.order {
			if log.byID[id].msg.Expired(cutoff) {
				purged[topicID{topic: topic, id: id}] = struct{}{}
			}
		}
	}
	if len(purged) == 0 {
		return 0, nil
	}

	s.scrubLocked(purged)
	return len(purged), nil
}

// DeleteMessage removes a single message from a topic.
func (s *InMemoryStore) DeleteMessage(ctx context.Context, topic string, id string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	log := s.logs[topic]
	if log == nil {
		return false, nil
	}
	if _, ok := log.byID[id]; !ok {
		return false, nil
	}

	s.scrubLocked(map[topicID]struct{}{{topic: topic, id: id}: {}})
	return true, nil
}

// scrubLocked removes the given entries from their logs and from every subscriber's pending set.
func (s *InMemoryStore) scrubLocked(removed map[topicID]struct{}) {
	byTopic := make(map[string]map[string]struct{})
	for key := range removed {
		if byTopic[key.topic] == nil {
			byTopic[key.topic] = make(map[string]struct{})
		}
		byTopic[key.topic][key.id] = struct{}{}
	}

	for topic, ids := range byTopic {
		s.logs[topic].remove(ids)
		if len(s.logs[topic].order) == 0 {
			delete(s.logs, topic)
		}
		for mrn := range s.subscribers[topic] {
			pending := s.pending[subKey{mrn: mrn, topic: topic}]
			for id := range ids {
				delete(pending, id)
			}
		}
	}
}

// GetStatistics returns aggregate counters.
func (s *InMemoryStore) GetStatistics(ctx context.Context) (store.Statistics, error) {
	if err := checkContext(ctx); err != nil {
		return store.Statistics{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := store.Statistics{
		TopicCounts:   make(map[string]int, len(s.logs)),
		TopicCount:    len(s.logs),
		Subscriptions: len(s.pending),
	}
	for topic, log := range s.logs {
		stats.TopicCounts[topic] = len(log.order)
		stats.TotalMessages += len(log.order)
	}
	for _, ids := range s.pending {
		stats.TotalPending += len(ids)
	}
	return stats, nil
}

// Close stops the purge loop and clears all state. It is idempotent.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.logs = make(map[string]*topicLog)
	s.pending = make(map[subKey]map[string]struct{})
	s.subscribers = make(map[string]map[string]struct{})
	close(s.stop)
	s.mu.Unlock()

	<-s.done
	return nil
}

// Verify that InMemoryStore implements the MessageStore interface at compile time
var _ store.MessageStore = (*InMemoryStore)(nil)
