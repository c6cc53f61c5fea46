package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/pkg/message"
)

// ErrClosed is returned when writing on a closed agent connection.
var ErrClosed = errors.New("agent connection closed")

// Agent is a WebSocket connection to a router.
type Agent struct {
	config Config
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex // serializes writes
	closed bool

	messages      chan *message.Message
	notifications chan map[string]int
	errs          chan string
	proofs        chan *message.JWS
	done          chan struct{}
}

// Dial connects to the router's /ws endpoint.
func Dial(ctx context.Context, config Config) (*Agent, error) {
	config.SetDefaults()
	wsURL, err := websocketURL(config.ServerURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: config.Timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	a := &Agent{
		config:        config,
		conn:          conn,
		logger:        config.Logger.With().Str("component", "agent").Str("mrn", config.MRN).Logger(),
		messages:      make(chan *message.Message, config.BufferSize),
		notifications: make(chan map[string]int, config.BufferSize),
		errs:          make(chan string, config.BufferSize),
		proofs:        make(chan *message.JWS, config.BufferSize),
		done:          make(chan struct{}),
	}
	go a.readLoop()
	return a, nil
}

// websocketURL maps http(s)://host to ws(s)://host/ws.
func websocketURL(serverURL string) (string, error) {
	if serverURL == "" {
		return "", fmt.Errorf("ServerURL is required")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid ServerURL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// Messages returns delivered messages. Collated bundles are split into single messages.
func (a *Agent) Messages() <-chan *message.Message { return a.messages }

// Notifications returns pending-message counts per topic.
func (a *Agent) Notifications() <-chan map[string]int { return a.notifications }

// Errors returns the error texts the router reported for invalid protocol messages.
func (a *Agent) Errors() <-chan string { return a.errs }

// RouterProofs returns the router's signed answers to Authenticate.
func (a *Agent) RouterProofs() <-chan *message.JWS { return a.proofs }

// Done is closed when the connection ends.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Register binds the configured MRN and declares interests. With dm the router also
// subscribes the agent to its direct messages and challenges it to authenticate.
func (a *Agent) Register(interests []string, dm bool) error {
	if a.config.MRN == "" {
		return fmt.Errorf("MRN is required to register")
	}
	return a.write("register", registerRequest{MRN: a.config.MRN, Interests: interests, DM: dm})
}

// Send posts a message.
func (a *Agent) Send(msg Outgoing) error {
	return a.write("send", msg)
}

// Deliver asks for pending messages.
func (a *Agent) Deliver(req DeliverRequest) error {
	return a.write("deliver", req)
}

// Authenticate asks the router to prove its identity by signing nonce.
func (a *Agent) Authenticate(nonce string) error {
	return a.write("authenticate", map[string]string{"nonce": nonce})
}

// Unregister drops the live interests of this connection.
func (a *Agent) Unregister() error {
	return a.write("unregister", struct{}{})
}

func (a *Agent) write(name string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	return a.conn.WriteJSON(map[string]any{name: value})
}

// Close ends the connection and waits for the read loop to stop.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	_ = a.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := a.conn.Close()
	a.mu.Unlock()

	<-a.done
	return err
}

func (a *Agent) readLoop() {
	defer close(a.done)

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug().Err(err).Msg("connection lost")
			}
			return
		}
		a.handle(data)
	}
}

// handle routes one push from the router.
func (a *Agent) handle(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var bundle []*message.Message
		if err := json.Unmarshal(data, &bundle); err != nil {
			a.logger.Warn().Err(err).Msg("unreadable message bundle")
			return
		}
		for _, m := range bundle {
			emit(a, a.messages, m)
		}
		return
	}

	var push map[string]json.RawMessage
	if err := json.Unmarshal(data, &push); err != nil {
		a.logger.Warn().Err(err).Msg("unreadable push")
		return
	}

	switch {
	case push["notification"] != nil:
		var counts map[string]int
		if err := json.Unmarshal(push["notification"], &counts); err == nil {
			emit(a, a.notifications, counts)
		}
	case push["error"] != nil:
		var text string
		_ = json.Unmarshal(push["error"], &text)
		emit(a, a.errs, text)
	case push["authenticate"] != nil:
		var challenge struct {
			Nonce string `json:"nonce"`
		}
		if err := json.Unmarshal(push["authenticate"], &challenge); err == nil {
			a.answerChallenge(challenge.Nonce)
		}
	case push["authentication"] != nil:
		var proof message.JWS
		if err := json.Unmarshal(push["authentication"], &proof); err == nil {
			emit(a, a.proofs, &proof)
		}
	case push["id"] != nil:
		var m message.Message
		if err := json.Unmarshal(data, &m); err == nil {
			emit(a, a.messages, &m)
		}
	default:
		a.logger.Debug().RawJSON("push", data).Msg("unknown push ignored")
	}
}

func (a *Agent) answerChallenge(nonce string) {
	if a.config.Signer == nil {
		a.logger.Warn().Msg("challenged but no signer configured")
		return
	}
	jws, err := a.config.Signer.Sign(nonce)
	if err != nil {
		a.logger.Error().Err(err).Msg("signing challenge failed")
		return
	}
	if err := a.write("authentication", jws); err != nil {
		a.logger.Warn().Err(err).Msg("answering challenge failed")
	}
}

// emit delivers v unless the channel is full, in which case the push is dropped.
func emit[T any](a *Agent, ch chan T, v T) {
	select {
	case ch <- v:
	default:
		a.logger.Warn().Msg("push buffer full, push dropped")
	}
}
