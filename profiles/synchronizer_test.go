package profiles_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/cache"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchFunc func(ctx context.Context, session *sessions.Session) (*profiles.Profile, error)

func (f fetchFunc) FetchProfile(ctx context.Context, session *sessions.Session) (*profiles.Profile, error) {
	return f(ctx, session)
}

type recordFunc func(ctx context.Context, identity sessions.Identity) (*profiles.Profile, error)

func (f recordFunc) ReadUserRecord(ctx context.Context, identity sessions.Identity) (*profiles.Profile, error) {
	return f(ctx, identity)
}

var session = &sessions.Session{AccessToken: "at", Identity: "u1"}

func newCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.NewStore(cache.NewInMemoryRepo())
	require.NoError(t, err)
	return store
}

func failing(err error) fetchFunc {
	return func(context.Context, *sessions.Session) (*profiles.Profile, error) {
		return nil, err
	}
}

type recorder struct {
	mu      sync.Mutex
	updates []profiles.Update
}

func (r *recorder) publish(u profiles.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func TestNewSynchronizerValidatesDeps(t *testing.T) {
	_, err := profiles.NewSynchronizer(nil, nil, newCache(t))
	require.Error(t, err)
	_, err = profiles.NewSynchronizer(failing(errors.ErrOther), nil, nil)
	require.Error(t, err)
}

func TestSyncPaintsCacheThenAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := newCache(t)
	_, err := store.SaveProfile(ctx, "u1", &profiles.Profile{ID: "u1", Username: "cached"})
	require.NoError(t, err)

	primary := fetchFunc(func(context.Context, *sessions.Session) (*profiles.Profile, error) {
		return &profiles.Profile{ID: "u1", Username: "remote", TotalPoints: 300}, nil
	})
	syncer, err := profiles.NewSynchronizer(primary, nil, store)
	require.NoError(t, err)

	rec := &recorder{}
	update, err := syncer.Sync(ctx, session, false, rec.publish)
	require.NoError(t, err)
	require.True(t, update.Authoritative)
	require.Equal(t, profiles.SourceBackend, update.Source)
	require.Equal(t, 4, update.Profile.Level)

	require.Len(t, rec.updates, 2)
	require.False(t, rec.updates[0].Authoritative)
	require.Equal(t, "cached", rec.updates[0].Profile.Username)
	require.True(t, rec.updates[1].Authoritative)
	require.Equal(t, "remote", rec.updates[1].Profile.Username)

	stored, ok, err := store.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remote", stored.Username)
}

func TestForcedSyncSkipsCache(t *testing.T) {
	ctx := context.Background()
	store := newCache(t)
	_, err := store.SaveProfile(ctx, "u1", &profiles.Profile{ID: "u1", Username: "cached"})
	require.NoError(t, err)

	primary := fetchFunc(func(context.Context, *sessions.Session) (*profiles.Profile, error) {
		return &profiles.Profile{ID: "u1", Username: "remote"}, nil
	})
	syncer, err := profiles.NewSynchronizer(primary, nil, store)
	require.NoError(t, err)

	rec := &recorder{}
	_, err = syncer.Sync(ctx, session, true, rec.publish)
	require.NoError(t, err)
	require.Len(t, rec.updates, 1)
	require.True(t, rec.updates[0].Authoritative)
}

func TestSyncFallsBackToUserRecord(t *testing.T) {
	ctx := context.Background()
	fallback := recordFunc(func(_ context.Context, identity sessions.Identity) (*profiles.Profile, error) {
		require.Equal(t, sessions.Identity("u1"), identity)
		return &profiles.Profile{Username: "from-store", TotalPoints: 100}, nil
	})
	syncer, err := profiles.NewSynchronizer(failing(errors.ErrNetworkUnreachable), fallback, newCache(t))
	require.NoError(t, err)

	update, err := syncer.Sync(ctx, session, true, nil)
	require.NoError(t, err)
	require.Equal(t, profiles.SourceProvider, update.Source)
	require.Equal(t, "u1", update.Profile.ID)
	require.Equal(t, 2, update.Profile.Level)
}

func TestForcedSyncFailureReturnsFetchFailed(t *testing.T) {
	ctx := context.Background()
	store := newCache(t)
	_, err := store.SaveProfile(ctx, "u1", &profiles.Profile{ID: "u1", Username: "cached"})
	require.NoError(t, err)

	missing := recordFunc(func(context.Context, sessions.Identity) (*profiles.Profile, error) {
		return nil, nil
	})
	syncer, err := profiles.NewSynchronizer(failing(errors.ErrNetworkUnreachable), missing, store)
	require.NoError(t, err)

	rec := &recorder{}
	update, err := syncer.Sync(ctx, session, true, rec.publish)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrProfileFetchFailed))
	require.True(t, errors.Is(err, errors.ErrNotFound))
	require.Nil(t, update.Profile)
	require.Empty(t, rec.updates)
}

func TestPlainSyncFailureKeepsCachedValue(t *testing.T) {
	ctx := context.Background()
	store := newCache(t)
	_, err := store.SaveProfile(ctx, "u1", &profiles.Profile{ID: "u1", Username: "cached"})
	require.NoError(t, err)

	syncer, err := profiles.NewSynchronizer(failing(errors.ErrNetworkUnreachable), nil, store)
	require.NoError(t, err)

	update, err := syncer.Sync(ctx, session, false, nil)
	require.NoError(t, err)
	require.False(t, update.Authoritative)
	require.Equal(t, "cached", update.Profile.Username)

	empty, err := profiles.NewSynchronizer(failing(errors.ErrNetworkUnreachable), nil, newCache(t))
	require.NoError(t, err)
	_, err = empty.Sync(ctx, session, false, nil)
	require.True(t, errors.Is(err, errors.ErrProfileFetchFailed))
}

func TestSyncWithoutSession(t *testing.T) {
	syncer, err := profiles.NewSynchronizer(failing(errors.ErrOther), nil, newCache(t))
	require.NoError(t, err)
	_, err = syncer.Sync(context.Background(), nil, false, nil)
	require.True(t, errors.Is(err, errors.ErrNoSession))
}

func TestConcurrentSyncsAreCoalesced(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	primary := fetchFunc(func(context.Context, *sessions.Session) (*profiles.Profile, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return &profiles.Profile{ID: "u1", Username: "remote"}, nil
	})
	syncer, err := profiles.NewSynchronizer(primary, nil, newCache(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]profiles.Update, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := syncer.Sync(context.Background(), session, true, nil)
			assert.NoError(t, err)
			results[i] = u
		}(i)
		if i == 0 {
			<-entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, "remote", results[0].Profile.Username)
	require.Equal(t, "remote", results[1].Profile.Username)
	require.NotSame(t, results[0].Profile, results[1].Profile)
}

func TestCancelledCallerDoesNotFailCoalescedSync(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	primary := fetchFunc(func(ctx context.Context, _ *sessions.Session) (*profiles.Profile, error) {
		close(entered)
		select {
		case <-release:
			return &profiles.Profile{ID: "u1", Username: "remote"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	syncer, err := profiles.NewSynchronizer(primary, nil, newCache(t))
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := syncer.Sync(firstCtx, session, true, nil)
		firstErr <- err
	}()
	<-entered

	second := make(chan profiles.Update, 1)
	secondErr := make(chan error, 1)
	go func() {
		u, err := syncer.Sync(context.Background(), session, true, nil)
		secondErr <- err
		second <- u
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	require.Equal(t, "remote", (<-second).Profile.Username)
}

func TestFetchTimeoutBoundsSharedRead(t *testing.T) {
	primary := fetchFunc(func(ctx context.Context, _ *sessions.Session) (*profiles.Profile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	syncer, err := profiles.NewSynchronizer(primary, nil, newCache(t), profiles.WithFetchTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = syncer.Sync(context.Background(), session, true, nil)
	require.True(t, errors.Is(err, errors.ErrProfileFetchFailed))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
