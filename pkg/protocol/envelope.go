package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol message names.
const (
	MsgAuthenticate   = "authenticate"
	MsgAuthentication = "authentication"
	MsgDeliver        = "deliver"
	MsgRegister       = "register"
	MsgSend           = "send"
	MsgUnregister     = "unregister"
)

// Names lists every protocol message the router understands.
var Names = []string{MsgAuthenticate, MsgAuthentication, MsgDeliver, MsgRegister, MsgSend, MsgUnregister}

// IsKnown reports whether name is a protocol message name.
func IsKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// ErrNotAnObject is returned when an envelope is not a JSON object.
var ErrNotAnObject = errors.New("envelope must be a JSON object")

// Entry is one protocol message inside an envelope.
type Entry struct {
	Name  string
	Value json.RawMessage
}

// IsObject reports whether the value is a JSON object or null.
// null is accepted as an absent message body.
func (e Entry) IsObject() bool {
	v := bytes.TrimSpace(e.Value)
	if len(v) == 0 {
		return false
	}
	return v[0] == '{' || bytes.Equal(v, []byte("null"))
}

// IsNull reports whether the value is the JSON null literal.
func (e Entry) IsNull() bool {
	return bytes.Equal(bytes.TrimSpace(e.Value), []byte("null"))
}

// Envelope is a JSON object of protocol messages, in document order.
type Envelope []Entry

// UnmarshalJSON decodes an object while keeping the order of its keys.
func (env *Envelope) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotAnObject
	}

	entries := make(Envelope, 0, 1)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode %q: %w", name, err)
		}
		entries = append(entries, Entry{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*env = entries
	return nil
}

// MarshalJSON encodes the envelope as an object, in order.
func (env Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range env {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if len(e.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(e.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeEnvelope parses raw bytes into an Envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env, nil
}

// NewEnvelope builds a single-message envelope from a name and a value to marshal.
func NewEnvelope(name string, value any) (Envelope, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return Envelope{{Name: name, Value: raw}}, nil
}

// ErrorPush is sent to an agent whose protocol message was invalid.
type ErrorPush struct {
	Error string `json:"error"`
}

// NotificationPush tells an agent how many messages are pending per topic.
type NotificationPush struct {
	Notification map[string]int `json:"notification"`
}

// Challenge is the body of an authenticate message.
type Challenge struct {
	Nonce string `json:"nonce"`
}

// ChallengePush asks an agent to prove its identity.
type ChallengePush struct {
	Authenticate Challenge `json:"authenticate"`
}
