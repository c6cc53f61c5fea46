package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/internal/interest"
	"github.com/aboamare/mms-router/internal/notify"
	internalstore "github.com/aboamare/mms-router/internal/store"
	"github.com/aboamare/mms-router/pkg/agent"
	interestpkg "github.com/aboamare/mms-router/pkg/interest"
	"github.com/aboamare/mms-router/pkg/protocol"
	routerpkg "github.com/aboamare/mms-router/pkg/router"
	"github.com/aboamare/mms-router/pkg/store"
)

var (
	// ErrClosed is returned when connecting to a closed router
	ErrClosed = errors.New("router is closed")
	// ErrAgentClosed is returned when sending to a closed local agent
	ErrAgentClosed = errors.New("agent connection is closed")
)

type handler func(ctx context.Context, h agent.Handle, value json.RawMessage) error

// Router implements the routerpkg.Router interface.
// It owns one message store and one interest registry shared by all connections.
type Router struct {
	config *Config
	logger zerolog.Logger

	store     store.MessageStore
	interests interestpkg.Registry
	notifier  *notify.Scheduler
	handlers  map[string]handler

	mu     sync.RWMutex
	agents map[string]agent.Handle
	closed bool
}

// New creates a router with an in-memory store and interest registry.
// The store's purge loop starts immediately.
func New(config *Config) (*Router, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st := internalstore.NewInMemoryStore(internalstore.Config{
		PurgeInterval: config.PurgeInterval,
		Clock:         config.Clock,
		Logger:        config.Logger,
	})
	return NewWithComponents(config, st, interest.NewInMemoryRegistry()), nil
}

// NewWithComponents creates a router around existing components. The router takes
// ownership and closes them on Close. config must already be valid.
func NewWithComponents(config *Config, st store.MessageStore, registry interestpkg.Registry) *Router {
	config.SetDefaults()
	logger := config.Logger.With().Str("component", "router").Logger()

	r := &Router{
		config:    config,
		logger:    logger,
		store:     st,
		interests: registry,
		notifier:  notify.NewScheduler(config.NotifyWindow, st.PendingCounts, config.Logger),
		agents:    make(map[string]agent.Handle),
	}
	r.handlers = map[string]handler{
		protocol.MsgAuthenticate:   r.authenticate,
		protocol.MsgAuthentication: r.authentication,
		protocol.MsgDeliver:        r.deliver,
		protocol.MsgRegister:       r.register,
		protocol.MsgSend:           r.send,
		protocol.MsgUnregister:     r.unregister,
	}
	return r
}

// MRN returns the identity of the router.
func (r *Router) MRN() string {
	return r.config.MRN
}

// Connect adds a connection to the connected set.
func (r *Router) Connect(ctx context.Context, h agent.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.agents[h.ID()] = h
	r.logger.Debug().Str("agent", h.ID()).Msg("agent connected")
	return nil
}

// Disconnect forgets a connection and cancels its timers. The agent leaves the connected
// set before its timer is cancelled, so a concurrent send cannot schedule a new one.
func (r *Router) Disconnect(ctx context.Context, h agent.Handle) {
	if err := r.unregisterAgent(ctx, h); err != nil {
		r.logger.Debug().Err(err).Str("agent", h.ID()).Msg("unregister on disconnect")
	}
	r.notifier.Cancel(h)
	h.CancelChallenge()
	r.logger.Debug().Str("agent", h.ID()).Str("mrn", h.MRN()).Msg("agent disconnected")
}

// Process decodes a frame and dispatches its protocol messages.
func (r *Router) Process(ctx context.Context, h agent.Handle, frame []byte) error {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		perr := protocol.Wrap(protocol.CodeInvalidMsg, err)
		r.tellAgent(h, perr)
		return perr
	}
	return r.ProcessMsg(ctx, h, env)
}

// ProcessMsg dispatches every protocol message of env, in order. Processing stops at the
// first failure. Agents are told about invalid protocol messages with an error push.
func (r *Router) ProcessMsg(ctx context.Context, h agent.Handle, env protocol.Envelope) error {
	for _, entry := range env {
		fn, ok := r.handlers[entry.Name]
		if !ok {
			return protocol.Errorf(protocol.CodeUnknownMsg, "%s is not understood", entry.Name)
		}

		err := r.dispatch(ctx, h, entry, fn)
		if err == nil {
			continue
		}
		if protocol.CodeOf(err) == protocol.CodeInvalidMsg {
			r.tellAgent(h, err)
			return &protocol.Error{Code: protocol.CodeInvalidMsg, Message: "Invalid " + entry.Name, Err: err}
		}
		return err
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, h agent.Handle, entry protocol.Entry, fn handler) error {
	if !entry.IsObject() {
		return protocol.Errorf(protocol.CodeInvalidMsg, "Invalid %s", entry.Name)
	}
	return fn(ctx, h, entry.Value)
}

// tellAgent pushes {error: ...} on a best-effort basis.
func (r *Router) tellAgent(h agent.Handle, err error) {
	if sendErr := h.Send(protocol.ErrorPush{Error: err.Error()}); sendErr != nil {
		r.logger.Warn().Err(sendErr).Str("agent", h.ID()).Msg("could not report error to agent")
	}
}

func (r *Router) addAgent(h agent.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.agents[h.ID()] = h
	}
}

// scheduleNotify starts notification timers for the targets that are still connected.
func (r *Router) scheduleNotify(targets map[string]agent.Handle) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, t := range targets {
		if r.agents[id] != t {
			continue
		}
		r.notifier.Schedule(t)
	}
}

func (r *Router) unregisterAgent(ctx context.Context, h agent.Handle) error {
	r.mu.Lock()
	delete(r.agents, h.ID())
	r.mu.Unlock()

	return r.interests.RemoveAgent(ctx, h)
}

// ConnectedAgents returns a snapshot of the connected agents.
func (r *Router) ConnectedAgents() []agent.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]agent.Handle, 0, len(r.agents))
	for _, h := range r.agents {
		agents = append(agents, h)
	}
	return agents
}

// Store returns the router's message store.
func (r *Router) Store() store.MessageStore {
	return r.store
}

// DeleteMessage removes a message from a topic.
func (r *Router) DeleteMessage(ctx context.Context, topic string, id string) (bool, error) {
	deleted, err := r.store.DeleteMessage(ctx, topic, id)
	if err != nil {
		return false, err
	}
	if deleted {
		r.logger.Info().Str("topic", topic).Str("id", id).Msg("message deleted")
	}
	return deleted, nil
}

// GetHealth returns the status of the router.
func (r *Router) GetHealth(ctx context.Context) (routerpkg.HealthStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := routerpkg.HealthStatus{
		Healthy:         !r.closed,
		MRN:             r.config.MRN,
		ConnectedAgents: len(r.agents),
	}
	if r.closed {
		status.Message = "router is closed"
	}
	return status, nil
}

// GetStatistics returns store and connection counters.
func (r *Router) GetStatistics(ctx context.Context) (routerpkg.Statistics, error) {
	storeStats, err := r.store.GetStatistics(ctx)
	if err != nil {
		return routerpkg.Statistics{}, err
	}
	topics, err := r.interests.GetTopicCount(ctx)
	if err != nil {
		return routerpkg.Statistics{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return routerpkg.Statistics{
		Store:           storeStats,
		ConnectedAgents: len(r.agents),
		LiveTopics:      topics,
	}, nil
}

// Close stops the purge loop and every notification timer, then closes every connection.
// It is idempotent.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	agents := make([]agent.Handle, 0, len(r.agents))
	for _, h := range r.agents {
		agents = append(agents, h)
	}
	r.agents = make(map[string]agent.Handle)
	r.mu.Unlock()

	var errs []error
	if err := r.notifier.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, h := range agents {
		h.CancelChallenge()
		if err := h.CloseConnection(); err != nil {
			r.logger.Debug().Err(err).Str("agent", h.ID()).Msg("close connection")
		}
	}
	if err := r.interests.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Verify that Router implements the routerpkg.Router interface at compile time
var _ routerpkg.Router = (*Router)(nil)
