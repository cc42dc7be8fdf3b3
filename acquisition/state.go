package acquisition

import (
	"github.com/longanisha/Mahidol-Forum-sub000/auth"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
)

// State is the acquisition state. Only the arbiter's loop writes it.
type State int

const (
	StateUninitialized State = iota
	StateAcquiring
	StateResolvedWithSession
	StateResolvedWithoutSession
	StateReconciling
	StateStable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAcquiring:
		return "acquiring"
	case StateResolvedWithSession:
		return "resolved-with-session"
	case StateResolvedWithoutSession:
		return "resolved-without-session"
	case StateReconciling:
		return "reconciling-in-background"
	case StateStable:
		return "stable"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source is what caused a transition.
type Source string

const (
	SourceStartup Source = "startup"
	SourcePull    Source = "pull"
	SourcePush    Source = "push"
	SourceTimeout Source = "timeout"
	SourceSignOut Source = "sign-out"
)

// Transition is delivered to listeners after every state change. Session is
// the arbiter's session once the transition has been applied. From equals To
// when a pushed refresh replaced the session in place.
type Transition struct {
	From        State
	To          State
	Session     *sessions.Session
	Source      Source
	Provisional bool           // "No session" decided by the timeout, still being reconciled
	Kind        auth.EventKind // Set when a push caused the transition
}

type Listener func(Transition)

// Snapshot is a consistent read of the arbiter's state and session.
type Snapshot struct {
	State   State
	Session *sessions.Session
}
