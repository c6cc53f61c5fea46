// Package notify debounces "you have pending messages" pushes so an agent receives at most one
// notification per window, however many messages arrive for it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/pkg/agent"
	"github.com/aboamare/mms-router/pkg/protocol"
)

// DefaultWindow is the debounce window.
const DefaultWindow = 10 * time.Second

// CountsFunc returns the pending counts of an MRN per topic.
type CountsFunc func(ctx context.Context, mrn string) (map[string]int, error)

type pendingTimer struct {
	timer  *time.Timer
	handle agent.Handle
}

// Scheduler holds at most one notification timer per agent connection.
type Scheduler struct {
	window time.Duration
	counts CountsFunc
	logger zerolog.Logger

	mu     sync.Mutex
	timers map[string]*pendingTimer // handle id -> timer
	closed bool
}

// NewScheduler creates a scheduler. A window <= 0 uses DefaultWindow.
func NewScheduler(window time.Duration, counts CountsFunc, logger zerolog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scheduler{
		window: window,
		counts: counts,
		logger: logger.With().Str("component", "notify").Logger(),
		timers: make(map[string]*pendingTimer),
	}
}

// Schedule starts a timer for the agent unless one is already outstanding.
// It reports whether a new timer was started.
func (s *Scheduler) Schedule(h agent.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, outstanding := s.timers[h.ID()]; outstanding {
		return false
	}

	pt := &pendingTimer{handle: h}
	pt.timer = time.AfterFunc(s.window, func() { s.fire(pt) })
	s.timers[h.ID()] = pt
	return true
}

func (s *Scheduler) fire(pt *pendingTimer) {
	id := pt.handle.ID()

	s.mu.Lock()
	if current := s.timers[id]; current != pt {
		// cancelled or replaced while the timer was firing
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	if err := s.NotifyNow(context.Background(), pt.handle); err != nil {
		s.logger.Debug().Err(err).Str("agent", id).Msg("notification not delivered")
	}
}

// NotifyNow pushes the current pending counts to the agent if there are any.
func (s *Scheduler) NotifyNow(ctx context.Context, h agent.Handle) error {
	mrn := h.MRN()
	if mrn == "" {
		return nil
	}

	counts, err := s.counts(ctx, mrn)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}

	s.logger.Debug().Str("agent", h.ID()).Str("mrn", mrn).Interface("counts", counts).Msg("notifying agent")
	return h.Send(protocol.NotificationPush{Notification: counts})
}

// Outstanding reports whether the agent has a timer running.
func (s *Scheduler) Outstanding(h agent.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[h.ID()]
	return ok
}

// Cancel stops the agent's timer, if any.
func (s *Scheduler) Cancel(h agent.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pt, ok := s.timers[h.ID()]; ok {
		pt.timer.Stop()
		delete(s.timers, h.ID())
	}
}

// Close stops every timer. Later Schedule calls are ignored.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, pt := range s.timers {
		pt.timer.Stop()
		delete(s.timers, id)
	}
	s.closed = true
	return nil
}
