package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aboamare/mms-router/pkg/protocol"
)

// Base implements the transport-independent part of Handle.
// Send and CloseConnection are expected to be overridden by the embedding type.
type Base struct {
	id string

	mu            sync.RWMutex
	mrn           string
	interests     []string
	nonce         string
	issuedAt      time.Time
	onceAuth      func()
	authenticated time.Time
}

// NewBase creates a Base with the given connection id, or a random one when id is empty.
func NewBase(id string) *Base {
	if id == "" {
		id = uuid.NewString()
	}
	return &Base{id: id}
}

// ID returns the connection id.
func (b *Base) ID() string {
	return b.id
}

// MRN returns the bound identity.
func (b *Base) MRN() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mrn
}

// BindMRN binds the identity once.
func (b *Base) BindMRN(mrn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mrn != "" && b.mrn != mrn {
		return protocol.Errorf(protocol.CodeMRNChanged, "MRN changed from %s to %s", b.mrn, mrn)
	}
	b.mrn = mrn
	return nil
}

// Interests returns a copy of the declared interests.
func (b *Base) Interests() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.interests...)
}

// AddInterest records a declared interest.
func (b *Base) AddInterest(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.interests {
		if t == topic {
			return
		}
	}
	b.interests = append(b.interests, topic)
}

// Send is not provided by Base.
func (b *Base) Send(msg any) error {
	return protocol.ErrShouldBeImplementedBySubclass
}

// CloseConnection is a no-op for Base.
func (b *Base) CloseConnection() error {
	return nil
}

// IssueChallenge stores the nonce and its completion callback.
func (b *Base) IssueChallenge(nonce string, onAuthenticated func(), at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nonce = nonce
	b.onceAuth = onAuthenticated
	b.issuedAt = at
}

// CompleteChallenge consumes a matching challenge and returns its callback.
// The callback is returned rather than run so the caller controls where it executes.
func (b *Base) CompleteChallenge(nonce string, at time.Time, timeout time.Duration) (func(), ChallengeOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nonce == "" {
		return nil, NoChallenge
	}
	if timeout > 0 && at.Sub(b.issuedAt) > timeout {
		b.clearChallengeLocked()
		return nil, Expired
	}
	if nonce != b.nonce {
		return nil, Mismatch
	}

	callback := b.onceAuth
	b.clearChallengeLocked()
	b.authenticated = at
	return callback, Accepted
}

// CancelChallenge drops the outstanding challenge.
func (b *Base) CancelChallenge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearChallengeLocked()
}

func (b *Base) clearChallengeLocked() {
	b.nonce = ""
	b.onceAuth = nil
	b.issuedAt = time.Time{}
}

// PendingNonce returns the outstanding nonce.
func (b *Base) PendingNonce() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nonce
}

// AuthenticatedAt returns the time of the last successful authentication.
func (b *Base) AuthenticatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.authenticated
}

var _ Handle = (*Base)(nil)
