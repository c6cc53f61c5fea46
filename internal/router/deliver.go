package router

import (
	"context"
	"encoding/json"

	"github.com/aboamare/mms-router/pkg/agent"
	"github.com/aboamare/mms-router/pkg/message"
	"github.com/aboamare/mms-router/pkg/protocol"
	"github.com/aboamare/mms-router/pkg/store"
)

// Interest tokens that stand for the agent's own direct-message topic.
const (
	directMessages  = "dm"
	privateMessages = "pm"
)

// DeliverSpec selects which pending messages are delivered and how.
type DeliverSpec struct {
	// Interests are the topics to consider, most important first. Defaults to the agent's interests.
	Interests []string `json:"interests,omitempty"`
	// Count limits the number of messages. Zero means no limit.
	Count int `json:"count,omitempty"`
	// Chars limits the cumulative JSON size of the messages. Zero means no limit.
	Chars int `json:"chars,omitempty"`
	// Latests delivers the newest messages of each topic first.
	Latests bool `json:"latests,omitempty"`
	// Collate bundles the messages into a single push.
	Collate bool `json:"collate,omitempty"`
	// Since skips messages accepted before this unix time.
	Since int64 `json:"since,omitempty"`
}

func (r *Router) deliver(ctx context.Context, h agent.Handle, value json.RawMessage) error {
	var spec DeliverSpec
	if !isNull(value) {
		if err := json.Unmarshal(value, &spec); err != nil {
			return protocol.Wrap(protocol.CodeInvalidMsg, err)
		}
	}
	if spec.Count < 0 || spec.Chars < 0 || spec.Since < 0 {
		return protocol.NewError(protocol.CodeInvalidMsg, "count, chars and since cannot be negative")
	}

	id := h.MRN()
	if id == "" {
		r.logger.Debug().Str("agent", h.ID()).Msg("deliver before register, nothing to deliver")
		return nil
	}

	// Delivery is fire-and-forget: the mark stands even if a send below fails.
	selected, err := r.store.TakePending(ctx, id, store.Selection{
		Topics:  r.deliverTopics(h, spec.Interests),
		Count:   spec.Count,
		Chars:   spec.Chars,
		Latests: spec.Latests,
		Since:   spec.Since,
	})
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	r.logger.Debug().Str("agent", h.ID()).Int("messages", len(selected)).Bool("collate", spec.Collate).Msg("delivering")

	if spec.Collate {
		bundle := make([]*message.Message, 0, len(selected))
		for _, p := range selected {
			bundle = append(bundle, p.Message)
		}
		return h.Send(bundle)
	}
	for _, p := range selected {
		if err := h.Send(p.Message); err != nil {
			return err
		}
	}
	return nil
}

// deliverTopics resolves the dm/pm tokens and drops duplicates, keeping priority order.
func (r *Router) deliverTopics(h agent.Handle, requested []string) []string {
	if requested == nil {
		requested = h.Interests()
	}

	seen := make(map[string]bool, len(requested))
	topics := make([]string, 0, len(requested))
	for _, t := range requested {
		if t == directMessages || t == privateMessages {
			t = h.MRN()
		}
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
	}
	return topics
}
