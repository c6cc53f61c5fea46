package message

import (
	"encoding/json"
	"strings"
)

// Kind discriminates plain from signed messages.
type Kind int

const (
	Plain Kind = iota
	Signed
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Signed:
		return "signed"
	default:
		return "unknown"
	}
}

// JWS is a flattened JSON Web Signature.
type JWS struct {
	Protected string         `json:"protected"`
	Payload   string         `json:"payload"`
	Signature string         `json:"signature"`
	Header    map[string]any `json:"header,omitempty"`
}

// Compact returns the compact serialization protected.payload.signature.
func (j *JWS) Compact() string {
	return j.Protected + "." + j.Payload + "." + j.Signature
}

// JWSFromCompact splits a compact serialization into a flattened JWS.
func JWSFromCompact(compact string) (*JWS, bool) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, false
	}
	return &JWS{Protected: parts[0], Payload: parts[1], Signature: parts[2]}, true
}

// Message is a normalized message. Stored messages are never mutated.
type Message struct {
	ID         string          `json:"id"`
	Sender     string          `json:"sender,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Recipients []string        `json:"recipients,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Expires    int64           `json:"expires,omitempty"`

	kind  Kind
	jws   *JWS
	extra map[string]json.RawMessage // top-level fields outside the ones above
}

// knownFields are the members written from the struct fields.
var knownFields = map[string]bool{
	"id": true, "sender": true, "subject": true, "recipients": true, "body": true, "expires": true,
}

// MarshalJSON writes the normalized fields together with any other top-level field the
// sender supplied, so a delivered message carries everything that was posted.
func (m Message) MarshalJSON() ([]byte, error) {
	type fields Message
	data, err := json.Marshal(fields(m))
	if err != nil || len(m.extra) == 0 {
		return data, err
	}

	merged := make(map[string]json.RawMessage, len(m.extra)+len(knownFields))
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Extra returns the value of a top-level field the message was posted with that has no
// dedicated struct field.
func (m *Message) Extra(name string) (json.RawMessage, bool) {
	v, ok := m.extra[name]
	return v, ok
}

// Kind returns whether the message is plain or signed.
func (m *Message) Kind() Kind {
	return m.kind
}

// JWS returns the signature structure of a signed message, or nil for plain messages.
func (m *Message) JWS() *JWS {
	if m.kind != Signed {
		return nil
	}
	return m.jws
}

// Topics returns the topics the message is addressed to: each recipient,
// or the subject when there are no recipients.
func (m *Message) Topics() []string {
	if len(m.Recipients) > 0 {
		return append([]string(nil), m.Recipients...)
	}
	if m.Subject != "" {
		return []string{m.Subject}
	}
	return nil
}

// Size returns the length of the JSON serialization of the message.
func (m *Message) Size() int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}

// Expired reports whether the message expired before the given unix time.
func (m *Message) Expired(now int64) bool {
	return m.Expires > 0 && m.Expires < now
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Recipients = append([]string(nil), m.Recipients...)
	if m.Body != nil {
		c.Body = append(json.RawMessage(nil), m.Body...)
	}
	if m.jws != nil {
		jws := *m.jws
		c.jws = &jws
	}
	if m.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(m.extra))
		for k, v := range m.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}
