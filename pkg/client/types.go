package client

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/pkg/message"
)

// Signer proves the agent's MRN by signing a challenge nonce.
type Signer interface {
	Sign(nonce string) (*message.JWS, error)
}

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the router (e.g., "http://localhost:3001")
	ServerURL string

	// MRN is the identity the agent registers with
	MRN string

	// Signer answers authentication challenges. Without one challenges go unanswered.
	Signer Signer

	// Token is the admin bearer token used by AdminClient
	Token string

	// Timeout for HTTP requests and the WebSocket handshake
	Timeout time.Duration

	// BufferSize is the capacity of each push channel
	BufferSize int

	Logger zerolog.Logger
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 100
	}
}

// Outgoing is a message to post with Send.
type Outgoing struct {
	ID         string   `json:"id,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Body       any      `json:"body,omitempty"`
	Expires    int64    `json:"expires,omitempty"`
}

// DeliverRequest selects pending messages to deliver.
type DeliverRequest struct {
	Interests []string `json:"interests,omitempty"`
	Count     int      `json:"count,omitempty"`
	Chars     int      `json:"chars,omitempty"`
	Latests   bool     `json:"latests,omitempty"`
	Collate   bool     `json:"collate,omitempty"`
	Since     int64    `json:"since,omitempty"`
}

type registerRequest struct {
	MRN       string   `json:"mrn"`
	Interests []string `json:"interests,omitempty"`
	DM        bool     `json:"dm"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy         bool   `json:"healthy"`
	MRN             string `json:"mrn,omitempty"`
	ConnectedAgents int    `json:"connected_agents"`
	Message         string `json:"message,omitempty"`
}

// StatsResponse represents router statistics
type StatsResponse struct {
	Store struct {
		TotalMessages int            `json:"total_messages"`
		TopicCounts   map[string]int `json:"topic_counts"`
		TopicCount    int            `json:"topic_count"`
		Subscriptions int            `json:"subscriptions"`
		TotalPending  int            `json:"total_pending"`
	} `json:"store"`
	ConnectedAgents int `json:"connected_agents"`
	LiveTopics      int `json:"live_topics"`
}

// AgentInfo describes a connected agent
type AgentInfo struct {
	ID              string     `json:"id"`
	MRN             string     `json:"mrn,omitempty"`
	Interests       []string   `json:"interests"`
	Authenticated   bool       `json:"authenticated"`
	AuthenticatedAt *time.Time `json:"authenticatedAt,omitempty"`
}

// AgentsResponse lists connected agents
type AgentsResponse struct {
	Agents []AgentInfo `json:"agents"`
}

// DeleteMessageResponse reports the outcome of a message deletion
type DeleteMessageResponse struct {
	Topic   string `json:"topic"`
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
