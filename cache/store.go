package cache

import (
	"bytes"
	"context"
	"fmt"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/metrics"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Disposition is what the previous unload decided about the cache.
type Disposition string

const (
	DispositionPreserve Disposition = "preserve"
	DispositionReload   Disposition = "reload"
)

// Store is the typed view over a Repo that the rest of the module uses.
type Store struct {
	repo    Repo
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type StoreOption func(*Store)

func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(repo Repo, opts ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewStore] repo is nil")
	}
	s := &Store{
		repo:   repo,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadSession returns the cached session, or nil when there is none. An entry
// that no longer decodes is deleted and reported as absent.
func (s *Store) LoadSession(ctx context.Context) (*sessions.Session, error) {
	data, ok, err := s.repo.Get(ctx, SessionKey)
	if err != nil || !ok {
		return nil, err
	}
	session, err := sessions.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable cached session")
		return nil, s.repo.Delete(ctx, SessionKey)
	}
	return session, nil
}

func (s *Store) SaveSession(ctx context.Context, session *sessions.Session) error {
	if session == nil {
		return s.DeleteSession(ctx)
	}
	data, err := sessions.Encode(session)
	if err != nil {
		return err
	}
	if err := s.repo.Set(ctx, SessionKey, data); err != nil {
		return err
	}
	s.metrics.CacheWrite("session")
	return nil
}

func (s *Store) DeleteSession(ctx context.Context) error {
	return s.repo.Delete(ctx, SessionKey)
}

// LoadProfile returns the cached profile for identity. Unreadable entries are
// dropped and reported as absent.
func (s *Store) LoadProfile(ctx context.Context, identity sessions.Identity) (*profiles.Profile, bool, error) {
	key := ProfileKey(identity)
	data, ok, err := s.repo.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	profile, err := profiles.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity.String()).Msg("discarding unreadable cached profile")
		return nil, false, s.repo.Delete(ctx, key)
	}
	return profile, true, nil
}

// SaveProfile writes the canonical encoding of profile. The write is skipped
// when the stored bytes already match; changed reports whether it happened.
func (s *Store) SaveProfile(ctx context.Context, identity sessions.Identity, profile *profiles.Profile) (bool, error) {
	if profile == nil {
		return false, fmt.Errorf("[Store.SaveProfile] profile is nil")
	}
	data, err := profiles.Encode(profile)
	if err != nil {
		return false, err
	}
	key := ProfileKey(identity)
	current, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok && bytes.Equal(current, data) {
		return false, nil
	}
	if err := s.repo.Set(ctx, key, data); err != nil {
		return false, err
	}
	s.metrics.CacheWrite("profile")
	return true, nil
}

func (s *Store) DeleteProfile(ctx context.Context, identity sessions.Identity) error {
	return s.repo.Delete(ctx, ProfileKey(identity))
}

func (s *Store) TabMarker(ctx context.Context) (string, bool, error) {
	data, ok, err := s.repo.Get(ctx, TabKey)
	return string(data), ok, err
}

func (s *Store) SetTabMarker(ctx context.Context, marker string) error {
	return s.repo.Set(ctx, TabKey, []byte(marker))
}

// Disposition defaults to preserve when nothing was recorded.
func (s *Store) Disposition(ctx context.Context) (Disposition, error) {
	data, ok, err := s.repo.Get(ctx, DispositionKey)
	if err != nil {
		return DispositionPreserve, err
	}
	if !ok || Disposition(data) != DispositionReload {
		return DispositionPreserve, nil
	}
	return DispositionReload, nil
}

func (s *Store) SetDisposition(ctx context.Context, d Disposition) error {
	return s.repo.Set(ctx, DispositionKey, []byte(d))
}

// Purge removes every key in the namespace and returns how many went.
func (s *Store) Purge(ctx context.Context) (int, error) {
	keys, err := s.repo.Keys(ctx, Namespace)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if err := s.repo.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("[Store.Purge] %s: %w", k, err)
		}
		removed++
	}
	s.metrics.CachePurge()
	return removed, nil
}
