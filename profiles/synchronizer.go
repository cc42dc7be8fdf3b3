package profiles

import (
	"context"
	"fmt"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/metrics"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/tracing"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// Fetcher reads the authoritative profile for the session's identity.
type Fetcher interface {
	FetchProfile(ctx context.Context, session *sessions.Session) (*Profile, error)
}

// RecordReader reads a user record straight from the provider's store. A nil
// record with a nil error means the identity has no record.
type RecordReader interface {
	ReadUserRecord(ctx context.Context, identity sessions.Identity) (*Profile, error)
}

type Cache interface {
	LoadProfile(ctx context.Context, identity sessions.Identity) (*Profile, bool, error)
	SaveProfile(ctx context.Context, identity sessions.Identity, profile *Profile) (bool, error)
}

type Source string

const (
	SourceCache    Source = "cache"
	SourceBackend  Source = "backend"
	SourceProvider Source = "provider"
	SourcePatch    Source = "patch"
)

// Update is one profile value published for an identity. Provisional values
// come from the cache or an optimistic patch; authoritative ones from a
// successful remote read.
type Update struct {
	Identity      sessions.Identity
	Profile       *Profile
	Authoritative bool
	Source        Source
}

type Publisher func(Update)

const defaultFetchTimeout = 10 * time.Second

type Synchronizer struct {
	primary  Fetcher
	fallback RecordReader
	cache    Cache
	group    singleflight.Group
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

type Option func(*Synchronizer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithFetchTimeout bounds one shared remote read. It applies regardless of
// the callers' own deadlines.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// NewSynchronizer builds a synchronizer reading primary first and fallback
// second. fallback may be nil.
func NewSynchronizer(primary Fetcher, fallback RecordReader, cache Cache, opts ...Option) (*Synchronizer, error) {
	if primary == nil {
		return nil, fmt.Errorf("[NewSynchronizer] primary fetcher is nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("[NewSynchronizer] cache is nil")
	}
	s := &Synchronizer{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		timeout:  defaultFetchTimeout,
		logger:   logging.Component("profiles"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type remoteResult struct {
	profile *Profile
	source  Source
}

// Sync brings the profile for session's identity up to date.
//
// Unless force is set, the cached profile is published first as provisional.
// The remote read tries the backend, then the provider's record store. On
// success the authoritative value is cached, published and returned. When both
// reads fail a forced sync returns ErrProfileFetchFailed, while a plain sync
// falls back to the cached value and only fails when there is none.
func (s *Synchronizer) Sync(ctx context.Context, session *sessions.Session, force bool, publish Publisher) (Update, error) {
	if session == nil || session.Identity == "" {
		return Update{}, errors.ErrNoSession
	}
	if publish == nil {
		publish = func(Update) {}
	}
	identity := session.Identity

	ctx, span := tracing.StartSpan(ctx, "profiles.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("identity", identity.String()), attribute.Bool("force", force))

	var cached *Update
	if !force {
		profile, ok, err := s.cache.LoadProfile(ctx, identity)
		if err != nil {
			s.logger.Warn().Err(err).Str("identity", identity.String()).Msg("reading cached profile")
		}
		if ok {
			s.metrics.ProfileFetch(string(SourceCache), "hit")
			cached = &Update{Identity: identity, Profile: profile, Source: SourceCache}
			publish(cached.copy())
		}
	}

	key := fmt.Sprintf("%s|%t", identity, force)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// Coalesced callers share this read, so it outlives any one of them
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.readRemote(readCtx, session)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller gave up")
		return Update{}, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote read failed")
		if cached != nil && !force {
			s.logger.Info().Err(err).Str("identity", identity.String()).Msg("keeping cached profile")
			return cached.copy(), nil
		}
		return Update{}, errors.Join(errors.ErrProfileFetchFailed, err)
	}

	result := v.(remoteResult)
	update := Update{
		Identity:      identity,
		Profile:       result.profile.Clone(),
		Authoritative: true,
		Source:        result.source,
	}
	// Coalesced callers write the same bytes, which the cache skips
	if _, err := s.cache.SaveProfile(ctx, identity, update.Profile); err != nil {
		s.logger.Warn().Err(err).Str("identity", identity.String()).Msg("caching profile")
	}
	publish(update.copy())
	return update, nil
}

func (s *Synchronizer) readRemote(ctx context.Context, session *sessions.Session) (remoteResult, error) {
	identity := session.Identity

	profile, primaryErr := s.primary.FetchProfile(ctx, session)
	if primaryErr == nil && profile != nil {
		s.metrics.ProfileFetch(string(SourceBackend), "ok")
		return remoteResult{profile: s.complete(profile, identity), source: SourceBackend}, nil
	}
	if primaryErr == nil {
		primaryErr = errors.ErrNotFound
	}
	s.metrics.ProfileFetch(string(SourceBackend), "error")
	s.logger.Warn().Err(primaryErr).Str("identity", identity.String()).Msg("backend profile read failed")

	if s.fallback == nil {
		return remoteResult{}, primaryErr
	}
	record, fallbackErr := s.fallback.ReadUserRecord(ctx, identity)
	if fallbackErr == nil && record == nil {
		fallbackErr = errors.Wrapf(errors.ErrNotFound, "no user record for %s", identity)
	}
	if fallbackErr != nil {
		s.metrics.ProfileFetch(string(SourceProvider), "error")
		return remoteResult{}, errors.Join(primaryErr, fallbackErr)
	}
	s.metrics.ProfileFetch(string(SourceProvider), "ok")
	return remoteResult{profile: s.complete(record, identity), source: SourceProvider}, nil
}

func (s *Synchronizer) complete(p *Profile, identity sessions.Identity) *Profile {
	out := p.Clone()
	if out.ID == "" {
		out.ID = identity.String()
	}
	out.Normalize()
	return out
}

func (u Update) copy() Update {
	u.Profile = u.Profile.Clone()
	return u
}
