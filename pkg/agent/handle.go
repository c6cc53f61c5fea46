package agent

import "time"

// Handle is a connected agent as seen by the router.
type Handle interface {
	// ID uniquely identifies the connection.
	ID() string

	// MRN returns the bound identity, empty until register binds one.
	MRN() string

	// BindMRN sets the identity once. Binding the same value again is a no-op,
	// binding a different value fails with protocol.ErrMRNChanged.
	BindMRN(mrn string) error

	// Interests returns the topics the agent declared, in declaration order.
	Interests() []string

	// AddInterest records a declared interest. Duplicates are ignored.
	AddInterest(topic string)

	// Send pushes a JSON-serializable object to the agent.
	Send(msg any) error

	// CloseConnection tears down the underlying connection.
	CloseConnection() error

	// IssueChallenge stores a nonce and the callback to run once the agent answers it.
	// A previous challenge is replaced.
	IssueChallenge(nonce string, onAuthenticated func(), at time.Time)

	// CompleteChallenge consumes the outstanding challenge if nonce matches it.
	// timeout of zero means challenges never expire.
	CompleteChallenge(nonce string, at time.Time, timeout time.Duration) (func(), ChallengeOutcome)

	// CancelChallenge drops any outstanding challenge.
	CancelChallenge()

	// PendingNonce returns the outstanding nonce, empty when none.
	PendingNonce() string

	// AuthenticatedAt returns when the agent last proved its identity; zero if never.
	AuthenticatedAt() time.Time
}

// ChallengeOutcome is the result of answering a challenge.
type ChallengeOutcome int

const (
	// Accepted means the nonce matched and the agent is now authenticated.
	Accepted ChallengeOutcome = iota
	// NoChallenge means no challenge was outstanding.
	NoChallenge
	// Mismatch means the nonce did not match; the challenge stays outstanding.
	Mismatch
	// Expired means the challenge was older than the timeout and has been dropped.
	Expired
)

func (o ChallengeOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case NoChallenge:
		return "no_challenge"
	case Mismatch:
		return "mismatch"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
