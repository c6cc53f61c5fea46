package message

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aboamare/mms-router/pkg/protocol"
)

// DefaultTTL is how long a message without an expiry stays deliverable.
const DefaultTTL = 100 * 24 * time.Hour

// Options control validation.
type Options struct {
	// ProtocolMsg skips every envelope-shape check; used for authentication payloads.
	ProtocolMsg bool

	// Strict requires a v4 UUID id and a determinable sender.
	Strict bool

	// TTL is added to Now when the message carries no expiry. Defaults to DefaultTTL.
	TTL time.Duration

	// Now is the acceptance time. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

func (o *Options) ttl() time.Duration {
	if o.TTL <= 0 {
		return DefaultTTL
	}
	return o.TTL
}

// Parse validates a raw message and returns its normalized form.
// sender is the MRN of the posting agent, empty when unknown.
func Parse(raw json.RawMessage, sender string, opts Options) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, protocol.NewError(protocol.CodeInvalidMessage, "MMS Message must be an object")
	}

	msg := &Message{}
	if err := decodeFields(fields, msg); err != nil && !opts.ProtocolMsg {
		return nil, err
	}

	if !opts.ProtocolMsg {
		if err := checkShape(msg, sender, opts); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Expires == 0 {
			msg.Expires = opts.now().Add(opts.ttl()).Unix()
		}
	}
	if sender != "" {
		msg.Sender = sender
	}

	msg.kind, msg.jws = classifyMessage(fields, msg.Body)
	for k, v := range fields {
		if knownFields[k] {
			continue
		}
		if msg.extra == nil {
			msg.extra = make(map[string]json.RawMessage)
		}
		msg.extra[k] = append(json.RawMessage(nil), v...)
	}
	return msg, nil
}

func checkShape(msg *Message, sender string, opts Options) error {
	if msg.Subject == "" && len(msg.Recipients) == 0 {
		return protocol.NewError(protocol.CodeInvalidMessage, "MMS Message must have subject or recipients!")
	}

	if !opts.Strict {
		return nil
	}

	if !IsUUIDv4(msg.ID) {
		return protocol.NewError(protocol.CodeInvalidMessage, "Message id is not a valid UUID")
	}
	if sender == "" && msg.Sender == "" {
		return protocol.NewError(protocol.CodeNoSender, "")
	}
	if sender != "" && msg.Sender != "" && msg.Sender != sender {
		return protocol.NewError(protocol.CodeInvalidMessage, "Sender of message is not the agent")
	}
	return nil
}

func decodeFields(fields map[string]json.RawMessage, msg *Message) error {
	if err := decodeString(fields, "id", &msg.ID); err != nil {
		return err
	}
	if err := decodeString(fields, "sender", &msg.Sender); err != nil {
		return err
	}
	if err := decodeString(fields, "subject", &msg.Subject); err != nil {
		return err
	}
	if raw, ok := fields["recipients"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &msg.Recipients); err != nil {
			return protocol.NewError(protocol.CodeInvalidMessage, "recipients must be a list of MRNs")
		}
	}
	if raw, ok := fields["body"]; ok && !isNull(raw) {
		msg.Body = append(json.RawMessage(nil), raw...)
	}
	if raw, ok := fields["expires"]; ok && !isNull(raw) {
		var expires float64
		if err := json.Unmarshal(raw, &expires); err != nil || expires < 0 || expires >= math.MaxInt64 {
			return protocol.NewError(protocol.CodeInvalidMessage, "expires must be a unix timestamp")
		}
		msg.Expires = int64(expires)
	}
	return nil
}

func decodeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return protocol.Errorf(protocol.CodeInvalidMessage, "%s must be a string", key)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// IsUUIDv4 reports whether id is a canonical version 4 UUID.
func IsUUIDv4(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}
