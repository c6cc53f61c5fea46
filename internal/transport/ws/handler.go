package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/pkg/router"
)

const (
	// DefaultHeartRate is the number of pings per minute.
	DefaultHeartRate = 4
	// DefaultMaxMessageBytes limits the size of a received frame.
	DefaultMaxMessageBytes = 1 << 20
)

// Options configures a Handler.
type Options struct {
	// HeartRate is the number of pings per minute. An agent that did not answer the previous
	// ping is disconnected.
	HeartRate int
	// MaxMessageBytes limits the size of a received frame.
	MaxMessageBytes int64
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Handler upgrades HTTP requests to agent connections.
type Handler struct {
	router   router.Router
	upgrader websocket.Upgrader
	opts     Options
	logger   zerolog.Logger
}

// NewHandler creates a WebSocket handler dispatching to r.
func NewHandler(r router.Router, opts Options) *Handler {
	if opts.HeartRate <= 0 {
		opts.HeartRate = DefaultHeartRate
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Handler{
		router:   r,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "ws").Logger(),
	}
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser agents
			}
			return originSet[origin]
		},
	}
}

// Interval returns the time between pings.
func (h *Handler) Interval() time.Duration {
	return time.Minute / time.Duration(h.opts.HeartRate)
}

// ServeHTTP runs one agent connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(h.opts.MaxMessageBytes)

	a := NewAgent(conn)
	defer a.CloseConnection()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.router.Connect(ctx, a); err != nil {
		h.logger.Warn().Err(err).Msg("router refused connection")
		return
	}
	defer h.router.Disconnect(ctx, a)

	logger := h.logger.With().Str("agent", a.ID()).Str("remote", req.RemoteAddr).Logger()
	logger.Info().Msg("agent connected")

	conn.SetPongHandler(func(string) error {
		a.pong()
		return nil
	})
	go h.heartbeat(ctx, a, logger)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("read error")
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := h.router.Process(ctx, a, data); err != nil {
			logger.Warn().Err(err).Str("mrn", a.MRN()).Msg("protocol message rejected")
		}
	}
	logger.Info().Str("mrn", a.MRN()).Msg("agent disconnected")
}

func (h *Handler) heartbeat(ctx context.Context, a *Agent, logger zerolog.Logger) {
	ticker := time.NewTicker(h.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.ping() {
				logger.Info().Msg("agent missed heartbeat, terminating")
				_ = a.CloseConnection()
				return
			}
		}
	}
}
