package repofakes

import (
	"context"
	"sync"

	"github.com/longanisha/Mahidol-Forum-sub000/auth"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
)

var _ auth.Provider = (*FakeProvider)(nil)

// PullFunc scripts one pull. attempt counts from 1.
type PullFunc func(ctx context.Context, attempt int) (*sessions.Session, error)

// FakeProvider is a scriptable authentication provider. By default a pull
// returns no session, Subscribe delivers nothing, and SignOut succeeds and
// pushes EventSignedOut.
type FakeProvider struct {
	broadcaster *auth.Broadcaster

	lock         sync.Mutex
	pull         PullFunc
	pullCalls    int
	initial      *sessions.Session
	hasInitial   bool
	signOutErr   error
	signOutCalls int
	signedOut    *sessions.Session
	records      map[sessions.Identity]*profiles.Profile
	recordErr    error
	recordCalls  int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		broadcaster: auth.NewBroadcaster(),
		records:     make(map[sessions.Identity]*profiles.Profile),
	}
}

func (fp *FakeProvider) SetPull(fn PullFunc) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.pull = fn
}

// PullReturns makes every pull answer immediately with session and err.
func (fp *FakeProvider) PullReturns(session *sessions.Session, err error) {
	fp.SetPull(func(context.Context, int) (*sessions.Session, error) {
		return session, err
	})
}

// PullBlocks makes every pull wait for release (or its context) before
// answering with session.
func (fp *FakeProvider) PullBlocks(release <-chan struct{}, session *sessions.Session) {
	fp.SetPull(func(ctx context.Context, _ int) (*sessions.Session, error) {
		select {
		case <-release:
			return session, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// SetInitial makes Subscribe deliver session as EventInitialSession before it
// returns, the way real providers hydrate a new subscriber.
func (fp *FakeProvider) SetInitial(session *sessions.Session) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.initial = session
	fp.hasInitial = true
}

func (fp *FakeProvider) SetSignOutErr(err error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.signOutErr = err
}

func (fp *FakeProvider) SetRecord(identity sessions.Identity, profile *profiles.Profile) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.records[identity] = profile
}

func (fp *FakeProvider) SetRecordErr(err error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.recordErr = err
}

// Emit pushes an event to every subscriber.
func (fp *FakeProvider) Emit(session *sessions.Session, kind auth.EventKind) {
	fp.broadcaster.Emit(session, kind)
}

func (fp *FakeProvider) PullCalls() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.pullCalls
}

func (fp *FakeProvider) SignOutCalls() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.signOutCalls
}

// SignedOut is the session handed to the last SignOut call.
func (fp *FakeProvider) SignedOut() *sessions.Session {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.signedOut
}

func (fp *FakeProvider) RecordCalls() int {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	return fp.recordCalls
}

func (fp *FakeProvider) Subscribers() int {
	return fp.broadcaster.Len()
}

func (fp *FakeProvider) PullSession(ctx context.Context) (*sessions.Session, error) {
	fp.lock.Lock()
	fp.pullCalls++
	attempt := fp.pullCalls
	pull := fp.pull
	fp.lock.Unlock()

	if pull == nil {
		return nil, nil
	}
	return pull(ctx, attempt)
}

func (fp *FakeProvider) Subscribe(l auth.Listener) func() {
	unsubscribe := fp.broadcaster.Subscribe(l)

	fp.lock.Lock()
	initial, hasInitial := fp.initial, fp.hasInitial
	fp.lock.Unlock()

	if hasInitial && l != nil {
		l(initial, auth.EventInitialSession)
	}
	return unsubscribe
}

func (fp *FakeProvider) SignOut(_ context.Context, session *sessions.Session) error {
	fp.lock.Lock()
	fp.signOutCalls++
	fp.signedOut = session
	err := fp.signOutErr
	fp.lock.Unlock()

	if err != nil {
		return err
	}
	fp.broadcaster.Emit(nil, auth.EventSignedOut)
	return nil
}

func (fp *FakeProvider) ReadUserRecord(_ context.Context, identity sessions.Identity) (*profiles.Profile, error) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.recordCalls++
	if fp.recordErr != nil {
		return nil, fp.recordErr
	}
	return fp.records[identity].Clone(), nil
}
