// Package authstate is the one object the rest of an application talks to for
// "who is signed in". It owns the acquisition arbiter and the profile
// synchronizer and exposes a single consistent snapshot of both.
package authstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/acquisition"
	"github.com/longanisha/Mahidol-Forum-sub000/auth"
	"github.com/longanisha/Mahidol-Forum-sub000/cache"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/metrics"
	"github.com/longanisha/Mahidol-Forum-sub000/navigation"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
)

const defaultLoadingGrace = 500 * time.Millisecond

// Snapshot is what consumers see. Version increases with every change, so a
// listener can drop a snapshot older than one it already rendered.
type Snapshot struct {
	Version              uint64            `json:"version"`
	State                acquisition.State `json:"state"`
	Session              *sessions.Session `json:"-"`
	Identity             sessions.Identity `json:"identity,omitempty"`
	Profile              *profiles.Profile `json:"profile,omitempty"`
	ProfileAuthoritative bool              `json:"profile_authoritative"`
	Loading              bool              `json:"loading"`
}

// ProfileUpdater writes user editable profile fields to the backend.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, session *sessions.Session, patch profiles.Patch) (*profiles.Profile, error)
}

// Deps are the collaborators of a Facade. Updater, Records and Classifier are
// optional; Records defaults to the Provider.
type Deps struct {
	Provider   auth.Provider
	Backend    profiles.Fetcher
	Updater    ProfileUpdater
	Records    profiles.RecordReader
	Cache      *cache.Store
	Classifier *navigation.Classifier
}

type settings struct {
	acquisition  acquisition.Options
	loadingGrace time.Duration
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

type Option func(*settings)

func WithAcquisitionOptions(opts acquisition.Options) Option {
	return func(s *settings) {
		s.acquisition = opts
	}
}

// WithLoadingGrace sets how long past the acquisition timeout the loading
// watchdog waits before forcing loading off.
func WithLoadingGrace(d time.Duration) Option {
	return func(s *settings) {
		s.loadingGrace = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

type Facade struct {
	deps     Deps
	settings settings
	arbiter  *acquisition.Arbiter
	syncer   *profiles.Synchronizer
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	lifecycle  sync.Mutex
	started    bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	stopParent func() bool
	wg         sync.WaitGroup

	mu         sync.RWMutex
	snap       Snapshot
	generation uint64
	watchdog   *time.Timer

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
}

func New(deps Deps, opts ...Option) (*Facade, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("[authstate New] provider is nil")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("[authstate New] backend is nil")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("[authstate New] cache is nil")
	}
	if deps.Records == nil {
		deps.Records = deps.Provider
	}

	s := settings{
		acquisition:  acquisition.DefaultOptions(),
		loadingGrace: defaultLoadingGrace,
		logger:       logging.Component("authstate"),
	}
	for _, opt := range opts {
		opt(&s)
	}

	f := &Facade{
		deps:      deps,
		settings:  s,
		logger:    s.logger,
		metrics:   s.metrics,
		listeners: make(map[int]func(Snapshot)),
	}

	var err error
	f.syncer, err = profiles.NewSynchronizer(deps.Backend, deps.Records, identityCache{f: f},
		profiles.WithMetrics(s.metrics), profiles.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	f.arbiter, err = acquisition.NewArbiter(deps.Provider,
		acquisition.WithOptions(s.acquisition),
		acquisition.WithSessionCache(deps.Cache),
		acquisition.WithMetrics(s.metrics),
		acquisition.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.arbiter.OnTransition(f.onTransition)
	return f, nil
}

// Start classifies the load, raises the loading flag and starts acquisition.
// The facade runs until Close or until ctx ends.
func (f *Facade) Start(ctx context.Context) error {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()
	if f.closed {
		return errors.ErrClosed
	}
	if f.started {
		return fmt.Errorf("[Facade.Start] already started")
	}
	f.started = true

	reload := false
	if f.deps.Classifier != nil {
		reload = f.deps.Classifier.Classify(ctx).Reload
	}

	f.mu.Lock()
	f.snap.Loading = true
	f.armWatchdogLocked(f.settings.acquisition.Timeout(reload) + f.settings.loadingGrace)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.stopParent = context.AfterFunc(ctx, f.cancel)

	f.logger.Info().Bool("reload", reload).Msg("starting session acquisition")
	return f.arbiter.Start(f.ctx, reload)
}

// Close stops acquisition, timers and in-flight profile syncs. Listeners get
// nothing after Close returns.
func (f *Facade) Close() {
	f.lifecycle.Lock()
	if f.closed {
		f.lifecycle.Unlock()
		return
	}
	f.closed = true
	stopParent := f.stopParent
	f.lifecycle.Unlock()

	if stopParent != nil {
		stopParent()
	}
	f.cancel()
	f.arbiter.Close()

	f.mu.Lock()
	f.generation++
	f.stopWatchdogLocked()
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Facade) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.copyLocked()
}

func (f *Facade) currentIdentity() sessions.Identity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap.Identity
}

// Subscribe calls fn with every new snapshot. fn runs on whichever goroutine
// made the change and must not block or call SignOut.
func (f *Facade) Subscribe(fn func(Snapshot)) func() {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.listenersMu.Lock()
		defer f.listenersMu.Unlock()
		delete(f.listeners, id)
	}
}

// SignOut clears the session, identity, profile and the identity's cache
// entries, then asks the provider to end the session it held. A provider
// failure is logged and counted, never returned: local state is already gone.
func (f *Facade) SignOut(ctx context.Context) {
	f.mu.Lock()
	identity := f.snap.Identity
	session := f.snap.Session
	f.generation++
	f.snap.Session = nil
	f.snap.Identity = ""
	f.snap.Profile = nil
	f.snap.ProfileAuthoritative = false
	f.snap.Loading = false
	f.stopWatchdogLocked()
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	if session == nil {
		// Still acquiring: the cache may hold a session nobody has resolved yet
		cached, err := f.deps.Cache.LoadSession(ctx)
		if err != nil {
			f.logger.Warn().Err(err).Msg("reading cached session")
		}
		session = cached
	}
	if identity != "" {
		if err := f.deps.Cache.DeleteProfile(ctx, identity); err != nil {
			f.logger.Warn().Err(err).Str("identity", identity.String()).Msg("deleting cached profile")
		}
	}
	if err := f.deps.Cache.DeleteSession(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("deleting cached session")
	}
	if err := f.arbiter.SignOut(ctx); err != nil && !errors.Is(err, errors.ErrClosed) {
		f.logger.Warn().Err(err).Msg("arbiter sign-out")
	}

	if err := f.deps.Provider.SignOut(ctx, session); err != nil {
		f.metrics.SignOutFailure()
		f.logger.Warn().Err(errors.Join(errors.ErrSignOutFailed, err)).Str("identity", identity.String()).Msg("sign-out-failed")
		return
	}
	f.logger.Info().Str("identity", identity.String()).Msg("signed out")
}

// RefreshProfile re-reads the profile of the current identity. A forced
// refresh ignores the cache and fails with ErrProfileFetchFailed when neither
// remote read succeeds; the displayed profile is left as it was.
func (f *Facade) RefreshProfile(ctx context.Context, force bool) (*profiles.Profile, error) {
	f.mu.RLock()
	session := f.snap.Session
	gen := f.generation
	f.mu.RUnlock()
	if session == nil {
		return nil, errors.ErrNoSession
	}

	update, err := f.syncer.Sync(ctx, session, force, f.publisher(gen))
	if err != nil {
		f.logger.Info().Err(err).Bool("force", force).Str("identity", session.Identity.String()).Msg("profile refresh failed")
		return nil, err
	}
	return update.Profile.Clone(), nil
}

// PatchProfile applies patch to the displayed profile and its cache entry
// without a round trip. It reports false when there is no profile to patch.
// The next authoritative read supersedes the patched value.
func (f *Facade) PatchProfile(ctx context.Context, patch profiles.Patch) bool {
	next, identity, gen, ok := f.applyPatch(patch)
	if !ok {
		return false
	}
	if _, err := f.cacheProfile(ctx, gen, identity, next); err != nil {
		f.logger.Warn().Err(err).Str("identity", identity.String()).Msg("caching patched profile")
	}
	return true
}

// SaveProfile patches optimistically, then sends the user editable fields to
// the backend. The backend's answer becomes the authoritative profile; on
// failure the previous profile is restored and the error returned.
func (f *Facade) SaveProfile(ctx context.Context, patch profiles.Patch) (*profiles.Profile, error) {
	if f.deps.Updater == nil {
		return nil, errors.Wrapf(errors.ErrUnsupported, "[Facade.SaveProfile] no profile updater")
	}

	f.mu.RLock()
	session := f.snap.Session
	gen := f.generation
	previous := f.snap.Profile.Clone()
	previousAuthoritative := f.snap.ProfileAuthoritative
	f.mu.RUnlock()
	if session == nil {
		return nil, errors.ErrNoSession
	}

	f.PatchProfile(ctx, patch)

	saved, err := f.deps.Updater.UpdateProfile(ctx, session, patch)
	if err != nil {
		f.logger.Warn().Err(err).Str("identity", session.Identity.String()).Msg("saving profile, rolling back")
		f.mu.Lock()
		if gen == f.generation && previous != nil {
			f.snap.Profile = previous
			f.snap.ProfileAuthoritative = previousAuthoritative
			snap := f.snapshotLocked()
			f.mu.Unlock()
			if _, cacheErr := f.cacheProfile(ctx, gen, session.Identity, previous); cacheErr != nil {
				f.logger.Warn().Err(cacheErr).Msg("restoring cached profile")
			}
			f.notify(snap)
		} else {
			f.mu.Unlock()
		}
		return nil, err
	}

	f.publisher(gen)(profiles.Update{Identity: session.Identity, Profile: saved, Authoritative: true, Source: profiles.SourcePatch})
	if _, err := f.cacheProfile(ctx, gen, session.Identity, saved); err != nil {
		f.logger.Warn().Err(err).Msg("caching saved profile")
	}
	return saved.Clone(), nil
}

// HandleUnload forwards a host unload to the navigation classifier.
func (f *Facade) HandleUnload(ctx context.Context, ev navigation.UnloadEvent) (navigation.Outcome, error) {
	if f.deps.Classifier == nil {
		return "", errors.Wrapf(errors.ErrUnsupported, "[Facade.HandleUnload] no classifier")
	}
	return f.deps.Classifier.HandleUnload(ctx, ev)
}

func (f *Facade) onTransition(t acquisition.Transition) {
	var identity sessions.Identity
	if t.Session != nil {
		identity = t.Session.Identity
	}

	// Paint from the cache before anyone sees the new identity
	var cached *profiles.Profile
	if identity != "" && identity != f.currentIdentity() {
		p, ok, err := f.deps.Cache.LoadProfile(f.ctx, identity)
		if err != nil {
			f.logger.Warn().Err(err).Str("identity", identity.String()).Msg("reading cached profile")
		}
		if ok {
			cached = p
		}
	}

	f.mu.Lock()
	previous := f.snap.Identity
	f.snap.State = t.To
	f.snap.Session = t.Session
	loading := t.To == acquisition.StateAcquiring
	if !loading {
		f.stopWatchdogLocked()
	}
	f.snap.Loading = loading

	var gen uint64
	changed := identity != previous
	if changed {
		f.generation++
		gen = f.generation
		f.snap.Identity = identity
		f.snap.Profile = nil
		f.snap.ProfileAuthoritative = false
		if cached != nil {
			f.snap.Profile = cached
		}
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	if changed && identity == "" && previous != "" {
		if err := f.deps.Cache.DeleteProfile(f.ctx, previous); err != nil {
			f.logger.Warn().Err(err).Str("identity", previous.String()).Msg("deleting cached profile")
		}
	}
	f.notify(snap)

	if changed && identity != "" {
		f.startSync(gen, t.Session)
	}
}

func (f *Facade) startSync(gen uint64, session *sessions.Session) {
	if f.ctx.Err() != nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if _, err := f.syncer.Sync(f.ctx, session, false, f.publisher(gen)); err != nil && f.ctx.Err() == nil {
			f.logger.Info().Err(err).Str("identity", session.Identity.String()).Msg("no profile available yet")
		}
	}()
}

// publisher applies updates for generation gen only; anything produced for a
// previous identity is dropped. A provisional value never replaces an
// authoritative one.
func (f *Facade) publisher(gen uint64) profiles.Publisher {
	return func(u profiles.Update) {
		f.mu.Lock()
		if gen != f.generation || u.Identity != f.snap.Identity || u.Profile == nil {
			f.mu.Unlock()
			return
		}
		if !u.Authoritative && f.snap.ProfileAuthoritative {
			f.mu.Unlock()
			return
		}
		f.snap.Profile = u.Profile.Clone()
		f.snap.ProfileAuthoritative = u.Authoritative
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.notify(snap)
	}
}

func (f *Facade) applyPatch(patch profiles.Patch) (*profiles.Profile, sessions.Identity, uint64, bool) {
	f.mu.Lock()
	if f.snap.Profile == nil || patch.Empty() {
		f.mu.Unlock()
		return nil, "", 0, false
	}
	next := patch.Apply(*f.snap.Profile)
	f.snap.Profile = &next
	f.snap.ProfileAuthoritative = false
	identity := f.snap.Identity
	gen := f.generation
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.notify(snap)
	return next.Clone(), identity, gen, true
}

// cacheProfile writes profile for identity only while generation gen is
// current. The read lock is held across the write, so an identity change
// (which deletes the entry after bumping the generation) always lands after it.
func (f *Facade) cacheProfile(ctx context.Context, gen uint64, identity sessions.Identity, profile *profiles.Profile) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if gen != f.generation || identity == "" || identity != f.snap.Identity {
		return false, nil
	}
	return f.deps.Cache.SaveProfile(ctx, identity, profile)
}

// snapshotLocked records a change and returns the new snapshot.
func (f *Facade) snapshotLocked() Snapshot {
	f.snap.Version++
	return f.copyLocked()
}

func (f *Facade) copyLocked() Snapshot {
	out := f.snap
	out.Profile = f.snap.Profile.Clone()
	return out
}

func (f *Facade) notify(snap Snapshot) {
	if f.ctx.Err() != nil {
		return
	}
	f.listenersMu.Lock()
	listeners := make([]func(Snapshot), 0, len(f.listeners))
	for id := 0; id < f.nextID; id++ {
		if fn, ok := f.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	f.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (f *Facade) armWatchdogLocked(d time.Duration) {
	f.stopWatchdogLocked()
	f.wg.Add(1)
	f.watchdog = time.AfterFunc(d, func() {
		defer f.wg.Done()
		f.mu.Lock()
		if !f.snap.Loading {
			f.mu.Unlock()
			return
		}
		f.snap.Loading = false
		f.watchdog = nil
		snap := f.snapshotLocked()
		f.mu.Unlock()

		f.metrics.LoadingWatchdog()
		f.logger.Warn().Msg("loading flag forced off by watchdog")
		f.notify(snap)
	})
}

func (f *Facade) stopWatchdogLocked() {
	if f.watchdog == nil {
		return
	}
	if f.watchdog.Stop() {
		f.wg.Done()
	}
	f.watchdog = nil
}

// identityCache drops profile writes for anyone but the current identity, so a
// sync finishing after sign-out cannot bring the entry back.
type identityCache struct {
	f *Facade
}

func (c identityCache) LoadProfile(ctx context.Context, identity sessions.Identity) (*profiles.Profile, bool, error) {
	return c.f.deps.Cache.LoadProfile(ctx, identity)
}

func (c identityCache) SaveProfile(ctx context.Context, identity sessions.Identity, profile *profiles.Profile) (bool, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	if identity == "" || c.f.snap.Identity != identity {
		return false, nil
	}
	return c.f.deps.Cache.SaveProfile(ctx, identity, profile)
}
