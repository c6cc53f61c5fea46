package router

import (
	"context"
	"encoding/json"

	"github.com/aboamare/mms-router/internal/auth"
	"github.com/aboamare/mms-router/pkg/agent"
	"github.com/aboamare/mms-router/pkg/message"
	"github.com/aboamare/mms-router/pkg/mrn"
	"github.com/aboamare/mms-router/pkg/protocol"
)

type registerRequest struct {
	MRN       json.RawMessage `json:"mrn"`
	Interests json.RawMessage `json:"interests"`
	DM        *bool           `json:"dm"`
}

type authenticateRequest struct {
	Nonce string `json:"nonce"`
}

type authenticationPush struct {
	Authentication *message.JWS `json:"authentication"`
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// register binds the agent MRN, records its interests and starts authentication when the
// agent asks for direct messages.
func (r *Router) register(ctx context.Context, h agent.Handle, value json.RawMessage) error {
	r.addAgent(h)
	if isNull(value) {
		return nil
	}

	var req registerRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return protocol.Wrap(protocol.CodeInvalidMsg, err)
	}

	var id string
	if isNull(req.MRN) || json.Unmarshal(req.MRN, &id) != nil || id == "" {
		return protocol.NewError(protocol.CodeInvalidMsg, "register requires an mrn")
	}
	if r.config.Strict {
		if err := mrn.Validate(id, mrn.Any); err != nil {
			return protocol.Wrap(protocol.CodeInvalidMsg, err)
		}
	}
	if err := h.BindMRN(id); err != nil {
		return err
	}

	var declared []string
	if !isNull(req.Interests) {
		if err := json.Unmarshal(req.Interests, &declared); err != nil {
			return protocol.NewError(protocol.CodeInvalidMsg, "interests must be a list of topics")
		}
	}

	authRequired := req.DM == nil || *req.DM
	topics := make([]string, 0, len(declared)+1)
	if authRequired {
		topics = append(topics, id)
	}
	for _, t := range declared {
		if t != "" {
			topics = append(topics, t)
		}
	}

	for _, topic := range topics {
		h.AddInterest(topic)
		if err := r.interests.RegisterInterest(ctx, h, topic); err != nil {
			return err
		}
	}
	if err := r.store.Register(ctx, id, topics); err != nil {
		return err
	}

	r.logger.Info().
		Str("agent", h.ID()).
		Str("mrn", id).
		Strs("interests", topics).
		Bool("auth_required", authRequired).
		Msg("agent registered")

	if authRequired {
		return r.requestAuthentication(h, func() { r.notifyNow(h) })
	}
	r.notifyNow(h)
	return nil
}

// requestAuthentication challenges the agent to prove its MRN.
func (r *Router) requestAuthentication(h agent.Handle, onceAuthenticated func()) error {
	nonce, err := auth.NewNonce(r.config.NonceLength)
	if err != nil {
		return err
	}
	h.IssueChallenge(nonce, onceAuthenticated, r.config.Clock())
	return h.Send(protocol.ChallengePush{Authenticate: protocol.Challenge{Nonce: nonce}})
}

func (r *Router) notifyNow(h agent.Handle) {
	if err := r.notifier.NotifyNow(context.Background(), h); err != nil {
		r.logger.Debug().Err(err).Str("agent", h.ID()).Msg("notification not delivered")
	}
}

// authenticate answers an agent that wants the router to prove its own identity.
func (r *Router) authenticate(ctx context.Context, h agent.Handle, value json.RawMessage) error {
	var req authenticateRequest
	if isNull(value) || json.Unmarshal(value, &req) != nil || !auth.ValidNonce(req.Nonce) {
		return protocol.NewError(protocol.CodeInvalidMsg, "authenticate requires a nonce of 10 to 32 letters or digits")
	}

	if r.config.Signer == nil {
		r.logger.Debug().Str("agent", h.ID()).Msg("no signing key, authenticate not answered")
		return nil
	}
	jws, err := r.config.Signer.Sign(req.Nonce)
	if err != nil {
		return err
	}
	return h.Send(authenticationPush{Authentication: jws})
}

// authentication completes a challenge issued by register. Answers that do not match the
// outstanding nonce are ignored.
func (r *Router) authentication(ctx context.Context, h agent.Handle, value json.RawMessage) error {
	msg, err := message.Parse(value, "", message.Options{ProtocolMsg: true})
	if err != nil || msg.Kind() != message.Signed {
		r.logger.Debug().Str("agent", h.ID()).Msg("authentication without signed payload ignored")
		return nil
	}

	var claims *auth.Claims
	if r.config.Verifier != nil {
		claims, err = r.config.Verifier.Verify(msg.JWS())
		if err != nil {
			return protocol.Wrap(protocol.CodeInvalidSignature, err)
		}
	} else if claims, err = auth.UnverifiedClaims(msg.JWS()); err != nil {
		r.logger.Debug().Err(err).Str("agent", h.ID()).Msg("authentication payload unreadable")
		return nil
	}

	if id := h.MRN(); id != "" && claims.Subject != "" && claims.Subject != id {
		return protocol.Errorf(protocol.CodeInvalidSignature, "signed subject %s is not %s", claims.Subject, id)
	}

	callback, outcome := h.CompleteChallenge(claims.Nonce, r.config.Clock(), r.config.ChallengeTimeout)
	if outcome != agent.Accepted {
		r.logger.Info().Str("agent", h.ID()).Str("outcome", outcome.String()).Msg("authentication ignored")
		return nil
	}

	r.logger.Info().Str("agent", h.ID()).Str("mrn", h.MRN()).Time("at", h.AuthenticatedAt()).Msg("agent authenticated")
	if callback != nil {
		callback()
	}
	return nil
}

// send stores a message and schedules a notification for every interested connection.
func (r *Router) send(ctx context.Context, h agent.Handle, value json.RawMessage) error {
	msg, err := message.Parse(value, h.MRN(), message.Options{
		Strict: r.config.Strict,
		TTL:    r.config.DefaultTTL,
		Now:    r.config.Clock,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("agent", h.ID()).Msg("message rejected")
		return protocol.Wrap(protocol.CodeInvalidMsg, err)
	}

	if _, err := r.store.SaveMessage(ctx, msg); err != nil {
		return err
	}

	targets := make(map[string]agent.Handle)
	for _, topic := range msg.Topics() {
		handles, err := r.interests.FanoutTargets(ctx, topic)
		if err != nil {
			return err
		}
		for _, t := range handles {
			targets[t.ID()] = t
		}
	}
	r.scheduleNotify(targets)

	r.logger.Debug().
		Str("id", msg.ID).
		Str("sender", msg.Sender).
		Strs("topics", msg.Topics()).
		Int("targets", len(targets)).
		Msg("message accepted")
	return nil
}

// unregister removes the connection from the live interests. Its subscriptions are kept.
func (r *Router) unregister(ctx context.Context, h agent.Handle, value json.RawMessage) error {
	return r.unregisterAgent(ctx, h)
}
