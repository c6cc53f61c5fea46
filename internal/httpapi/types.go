package httpapi

import "time"

// Request/Response types for the HTTP API

// AgentInfo describes a connected agent
type AgentInfo struct {
	ID              string     `json:"id"`
	MRN             string     `json:"mrn,omitempty"`
	Interests       []string   `json:"interests"`
	Authenticated   bool       `json:"authenticated"`
	AuthenticatedAt *time.Time `json:"authenticatedAt,omitempty"`
}

// AdminAgentsResponse represents admin view of connected agents
type AdminAgentsResponse struct {
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
