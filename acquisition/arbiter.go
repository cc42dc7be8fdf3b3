package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/auth"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/metrics"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/tracing"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const eventBuffer = 16

// SessionCache is where resolved sessions are written and where sign-out
// deletes them.
type SessionCache interface {
	SaveSession(ctx context.Context, session *sessions.Session) error
	DeleteSession(ctx context.Context) error
}

type event interface{}

type pullResult struct {
	attempt int
	session *sessions.Session
	err     error
}

type pushEvent struct {
	session *sessions.Session
	kind    auth.EventKind
}

type timerKind int

const (
	timerTimeout timerKind = iota
	timerRetry
)

type timerFired struct {
	gen  int
	kind timerKind
}

type signOutRequest struct {
	done chan struct{}
}

// Arbiter decides which session source wins. All state lives in one loop
// goroutine; pulls, pushes and timers only send events to it.
type Arbiter struct {
	source  auth.SessionSource
	cache   SessionCache
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics

	events   chan event
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopDone chan struct{}

	lifecycle   sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	snapMu sync.RWMutex
	snap   Snapshot

	// Owned by the loop goroutine
	reload      bool
	state       State
	session     *sessions.Session
	pushDecided bool
	attempt     int
	applied     int
	retriesLeft int
	retryCount  int
	timer       *time.Timer
	timerGen    int
	span        trace.Span
}

type Option func(*Arbiter)

func WithOptions(opts Options) Option {
	return func(a *Arbiter) {
		a.opts = opts.withDefaults()
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Arbiter) {
		a.metrics = m
	}
}

// WithSessionCache sets where resolved sessions are persisted.
func WithSessionCache(c SessionCache) Option {
	return func(a *Arbiter) {
		a.cache = c
	}
}

func NewArbiter(source auth.SessionSource, opts ...Option) (*Arbiter, error) {
	if source == nil {
		return nil, fmt.Errorf("[NewArbiter] session source is nil")
	}
	a := &Arbiter{
		source:    source,
		opts:      DefaultOptions(),
		logger:    logging.Component("acquisition"),
		events:    make(chan event, eventBuffer),
		loopDone:  make(chan struct{}),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// OnTransition registers l for every subsequent transition. Listeners run on
// the arbiter's goroutine and must not block, call SignOut or call Close.
func (a *Arbiter) OnTransition(l Listener) func() {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = l
	return func() {
		a.listenersMu.Lock()
		defer a.listenersMu.Unlock()
		delete(a.listeners, id)
	}
}

// Start enters acquiring: the first pull and the push subscription begin
// together and the timeout for this kind of load is armed. The arbiter runs
// until ctx ends or Close is called.
func (a *Arbiter) Start(ctx context.Context, reload bool) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.closed {
		return errors.ErrClosed
	}
	if a.started {
		return fmt.Errorf("[Arbiter.Start] already started")
	}
	a.started = true
	a.reload = reload
	a.ctx, a.cancel = context.WithCancel(ctx)

	go a.loop()
	a.unsubscribe = a.source.Subscribe(a.onPush)
	return nil
}

// Close stops timers, drops the push subscription and waits for every pull
// goroutine. Nothing is delivered to listeners afterwards.
func (a *Arbiter) Close() {
	a.lifecycle.Lock()
	if a.closed {
		a.lifecycle.Unlock()
		return
	}
	a.closed = true
	started := a.started
	unsubscribe := a.unsubscribe
	a.lifecycle.Unlock()

	if !started {
		return
	}
	a.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	<-a.loopDone
	a.wg.Wait()
}

// SignOut forces resolved-without-session from any state and deletes the
// cached session. It returns once the loop has applied it.
func (a *Arbiter) SignOut(ctx context.Context) error {
	a.lifecycle.Lock()
	started, closed := a.started, a.closed
	a.lifecycle.Unlock()
	if !started || closed {
		return errors.ErrClosed
	}

	req := signOutRequest{done: make(chan struct{})}
	select {
	case a.events <- req:
	case <-a.ctx.Done():
		return errors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-a.ctx.Done():
		return errors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Arbiter) Snapshot() Snapshot {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	return a.snap
}

func (a *Arbiter) onPush(session *sessions.Session, kind auth.EventKind) {
	a.send(pushEvent{session: session, kind: kind})
}

func (a *Arbiter) send(ev event) {
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

func (a *Arbiter) loop() {
	defer close(a.loopDone)
	defer a.stopTimer()

	_, a.span = tracing.StartSpan(a.ctx, "acquisition.acquire", trace.WithAttributes(attribute.Bool("reload", a.reload)))
	defer a.endSpan()

	a.transition(StateAcquiring, SourceStartup, false, "")
	a.startPull()
	a.armTimer(timerTimeout, a.opts.Timeout(a.reload))

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.events:
			switch ev := ev.(type) {
			case pullResult:
				a.handlePull(ev)
			case pushEvent:
				a.handlePush(ev)
			case timerFired:
				a.handleTimer(ev)
			case signOutRequest:
				a.signOut(SourceSignOut, "")
				close(ev.done)
			}
		}
	}
}

func (a *Arbiter) startPull() {
	a.attempt++
	attempt := a.attempt

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(a.ctx, a.opts.AttemptTimeout)
		defer cancel()
		ctx, span := tracing.StartSpan(ctx, "acquisition.pull", trace.WithAttributes(attribute.Int("attempt", attempt)))
		session, err := a.source.PullSession(ctx)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		a.send(pullResult{attempt: attempt, session: session, err: err})
	}()
}

func (a *Arbiter) handlePull(r pullResult) {
	outcome := auth.PullOutcomeSession
	if r.err != nil || r.session == nil {
		outcome = auth.ClassifyPullError(r.err)
	}
	a.metrics.PullAttempt(outcome)
	logEvent := a.logger.Debug()
	if r.err != nil {
		logEvent = a.logger.Info().Err(r.err)
	}
	logEvent.Int("attempt", r.attempt).Str("outcome", outcome).Str("state", a.state.String()).Msg("pull settled")

	if a.pushDecided {
		a.logger.Debug().Int("attempt", r.attempt).Msg("discarding pull, push already decided")
		return
	}
	session := r.session
	if r.err != nil {
		session = nil
	}
	// An older attempt may still find the session a faster one missed, so
	// only empty results go stale
	if r.attempt < a.applied && session == nil {
		a.logger.Debug().Int("attempt", r.attempt).Int("applied", a.applied).Msg("discarding stale pull")
		return
	}

	switch a.state {
	case StateAcquiring:
		a.applied = r.attempt
		a.stopTimer()
		a.metrics.Resolution(string(SourcePull))
		if session != nil {
			a.resolveWithSession(session, SourcePull, "")
		} else {
			a.setSession(nil)
			a.transition(StateResolvedWithoutSession, SourcePull, false, "")
		}
		a.transition(StateStable, SourcePull, false, "")

	case StateReconciling:
		a.applied = max(a.applied, r.attempt)
		if session != nil {
			a.stopTimer()
			a.retriesLeft = 0
			a.resolveWithSession(session, SourcePull, "")
			a.transition(StateStable, SourcePull, false, "")
			return
		}
		if r.attempt != a.attempt {
			// A newer retry is still in flight
			return
		}
		if a.retriesLeft > 0 {
			a.armTimer(timerRetry, a.retryDelay())
			return
		}
		a.transition(StateStable, SourcePull, false, "")

	case StateStable:
		if session == nil || a.session != nil {
			a.logger.Debug().Int("attempt", r.attempt).Msg("ignoring pull after resolution")
			return
		}
		a.applied = max(a.applied, r.attempt)
		a.logger.Info().Int("attempt", r.attempt).Str("identity", session.Identity.String()).Msg("late pull found a session")
		a.resolveWithSession(session, SourcePull, "")
		a.transition(StateStable, SourcePull, false, "")

	default:
		a.logger.Debug().Int("attempt", r.attempt).Str("state", a.state.String()).Msg("ignoring pull after resolution")
	}
}

func (a *Arbiter) handlePush(p pushEvent) {
	a.logger.Debug().Str("kind", string(p.kind)).Bool("session", p.session != nil).Str("state", a.state.String()).Msg("push received")

	if p.kind == auth.EventSignedOut {
		a.signOut(SourcePush, p.kind)
		return
	}
	if p.session == nil {
		// Hydration without a session decides nothing
		return
	}

	a.pushDecided = true
	a.stopTimer()
	a.retriesLeft = 0

	if a.session != nil && a.session.Identity == p.session.Identity &&
		(a.state == StateResolvedWithSession || a.state == StateStable) {
		a.setSession(p.session)
		a.saveSession(p.session)
		a.notify(Transition{From: a.state, To: a.state, Session: p.session, Source: SourcePush, Kind: p.kind})
		return
	}

	if a.state == StateAcquiring {
		a.metrics.Resolution(string(SourcePush))
	}
	a.resolveWithSession(p.session, SourcePush, p.kind)
	a.transition(StateStable, SourcePush, false, p.kind)
}

func (a *Arbiter) handleTimer(t timerFired) {
	if t.gen != a.timerGen {
		return
	}
	a.timer = nil

	switch t.kind {
	case timerTimeout:
		if a.state != StateAcquiring {
			return
		}
		a.metrics.PullAttempt(auth.PullOutcomeTimeout)
		a.metrics.Resolution(string(SourceTimeout))
		a.logger.Info().Dur("timeout", a.opts.Timeout(a.reload)).Msg("no session source settled in time, reconciling in background")

		a.setSession(nil)
		a.transition(StateResolvedWithoutSession, SourceTimeout, true, "")
		a.transition(StateReconciling, SourceTimeout, true, "")
		a.retriesLeft = 1
		if a.reload {
			a.retriesLeft++
		}
		a.armTimer(timerRetry, a.retryDelay())

	case timerRetry:
		if a.state != StateReconciling || a.retriesLeft == 0 {
			return
		}
		a.retriesLeft--
		a.retryCount++
		a.startPull()
	}
}

func (a *Arbiter) retryDelay() time.Duration {
	if a.retryCount == 0 {
		return a.opts.RetryDelay
	}
	return a.opts.ReloadRetryDelay
}

func (a *Arbiter) signOut(source Source, kind auth.EventKind) {
	a.pushDecided = true
	a.stopTimer()
	a.retriesLeft = 0
	a.setSession(nil)
	if a.cache != nil {
		if err := a.cache.DeleteSession(a.ctx); err != nil {
			a.logger.Warn().Err(err).Msg("deleting cached session")
		}
	}
	a.transition(StateResolvedWithoutSession, source, false, kind)
	a.transition(StateStable, source, false, kind)
}

func (a *Arbiter) resolveWithSession(session *sessions.Session, source Source, kind auth.EventKind) {
	a.setSession(session)
	a.saveSession(session)
	a.transition(StateResolvedWithSession, source, false, kind)
}

func (a *Arbiter) saveSession(session *sessions.Session) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SaveSession(a.ctx, session); err != nil {
		a.logger.Warn().Err(err).Msg("caching session")
	}
}

func (a *Arbiter) setSession(session *sessions.Session) {
	a.session = session
	a.snapMu.Lock()
	a.snap.Session = session
	a.snapMu.Unlock()
}

func (a *Arbiter) transition(to State, source Source, provisional bool, kind auth.EventKind) {
	from := a.state
	a.state = to

	a.snapMu.Lock()
	a.snap.State = to
	a.snapMu.Unlock()

	a.metrics.Transition(to.String())
	if to == StateStable {
		a.endSpan()
	}
	a.logger.Debug().Str("from", from.String()).Str("to", to.String()).Str("source", string(source)).Msg("transition")
	a.notify(Transition{From: from, To: to, Session: a.session, Source: source, Provisional: provisional, Kind: kind})
}

func (a *Arbiter) notify(t Transition) {
	a.listenersMu.Lock()
	listeners := make([]Listener, 0, len(a.listeners))
	for id := 0; id < a.nextID; id++ {
		if l, ok := a.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	a.listenersMu.Unlock()

	for _, l := range listeners {
		if a.ctx.Err() != nil {
			return
		}
		l(t)
	}
}

func (a *Arbiter) armTimer(kind timerKind, d time.Duration) {
	a.stopTimer()
	a.timerGen++
	gen := a.timerGen

	a.wg.Add(1)
	a.timer = time.AfterFunc(d, func() {
		defer a.wg.Done()
		a.send(timerFired{gen: gen, kind: kind})
	})
}

func (a *Arbiter) stopTimer() {
	if a.timer == nil {
		return
	}
	if a.timer.Stop() {
		a.wg.Done()
	}
	a.timer = nil
	a.timerGen++
}

func (a *Arbiter) endSpan() {
	if a.span != nil {
		a.span.End()
		a.span = nil
	}
}
