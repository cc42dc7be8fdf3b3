package auth

import (
	"context"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
)

// EventKind names a session change pushed by the authentication provider.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Listener receives pushed session changes. session is nil for EventSignedOut
// and for an initial event when nobody is signed in.
type Listener func(session *sessions.Session, kind EventKind)

// SessionSource is the half of the provider the acquisition state machine races:
// an explicit pull and a push channel.
type SessionSource interface {
	// PullSession returns the current session, or nil when there is none.
	PullSession(ctx context.Context) (*sessions.Session, error)
	// Subscribe registers l and returns a func that removes it. Subscribe may
	// deliver an EventInitialSession before it returns.
	Subscribe(l Listener) (unsubscribe func())
}

// Provider is the external authentication provider.
type Provider interface {
	SessionSource
	// SignOut ends session at the provider. Callers pass the session they
	// held because their local copy may already be gone.
	SignOut(ctx context.Context, session *sessions.Session) error
	profiles.RecordReader
}

const (
	PullOutcomeSession            = "session"
	PullOutcomeNoSession          = "no-session"
	PullOutcomeProviderRejected   = "provider-rejected"
	PullOutcomeNetworkUnreachable = "network-unreachable"
	PullOutcomeTimeout            = "timeout"
)

// ClassifyPullError names a pull failure for logs and metrics. Every failure
// still counts as "no session" to the caller.
func ClassifyPullError(err error) string {
	switch {
	case err == nil:
		return PullOutcomeNoSession
	case errors.Is(err, errors.ErrProviderRejected), errors.Is(err, errors.ErrUnauthorized):
		return PullOutcomeProviderRejected
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return PullOutcomeTimeout
	default:
		return PullOutcomeNetworkUnreachable
	}
}
