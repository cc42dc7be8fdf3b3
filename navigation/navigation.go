// Package navigation decides, once per load, whether the host is reloading or
// starting fresh, and whether an unload is a genuine close that should purge
// the credential cache.
package navigation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/longanisha/Mahidol-Forum-sub000/cache"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/rs/zerolog"
)

// EntryType is how the host reports the current load was reached.
type EntryType string

const (
	EntryNavigate    EntryType = "navigate"
	EntryReload      EntryType = "reload"
	EntryBackForward EntryType = "back_forward"
	EntryUnknown     EntryType = "unknown"
)

// Host reports the navigation entry type of the current load.
type Host interface {
	EntryType() EntryType
}

type HostFunc func() EntryType

func (f HostFunc) EntryType() EntryType {
	return f()
}

// Intent is what the host knows about an unload. Shells that can tell a
// reload from a close report it; others report IntentUnknown.
type Intent string

const (
	IntentUnknown Intent = "unknown"
	IntentReload  Intent = "reload"
	IntentClose   Intent = "close"
)

type UnloadEvent struct {
	Persisted bool   // Page kept in a back/forward cache, nothing is torn down
	Intent    Intent
}

type Result struct {
	Reload bool
	Entry  EntryType
}

type Outcome string

const (
	OutcomeIgnoredPersisted   Outcome = "ignored-persisted"
	OutcomePreservedReload    Outcome = "preserved-reload"
	OutcomePreservedAmbiguous Outcome = "preserved-ambiguous"
	OutcomePurged             Outcome = "purged"
)

type Classifier struct {
	host      Host
	store     *cache.Store
	newMarker func() string
	logger    zerolog.Logger

	once   sync.Once
	result Result

	mu     sync.Mutex
	marker string
}

type Option func(*Classifier)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithMarkerFunc replaces the generator of same-tab markers (tests).
func WithMarkerFunc(fn func() string) Option {
	return func(c *Classifier) {
		c.newMarker = fn
	}
}

func NewClassifier(host Host, store *cache.Store, opts ...Option) (*Classifier, error) {
	if host == nil {
		return nil, fmt.Errorf("[NewClassifier] host is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("[NewClassifier] store is nil")
	}
	c := &Classifier{
		host:      host,
		store:     store,
		newMarker: func() string { return uuid.NewString() },
		logger:    logging.Component("navigation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify runs once per load; later calls return the first result. The load
// is a reload when the host says so or when the previous unload left a reload
// disposition. Either way the disposition is reset and a new same-tab marker
// is written.
func (c *Classifier) Classify(ctx context.Context) Result {
	c.once.Do(func() {
		entry := c.host.EntryType()
		if entry == "" {
			entry = EntryUnknown
		}
		disposition, err := c.store.Disposition(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("reading unload disposition")
		}
		c.result = Result{
			Reload: entry == EntryReload || disposition == cache.DispositionReload,
			Entry:  entry,
		}

		if err := c.store.SetDisposition(ctx, cache.DispositionPreserve); err != nil {
			c.logger.Warn().Err(err).Msg("resetting unload disposition")
		}
		marker := c.newMarker()
		if err := c.store.SetTabMarker(ctx, marker); err != nil {
			c.logger.Warn().Err(err).Msg("writing tab marker")
			marker = ""
		}
		c.mu.Lock()
		c.marker = marker
		c.mu.Unlock()

		c.logger.Debug().Bool("reload", c.result.Reload).Str("entry", string(entry)).Msg("classified load")
	})
	return c.result
}

// HandleUnload decides what an unload does to the cache. Only a close whose
// same-tab marker still matches the one written at load purges; anything the
// classifier cannot be sure about keeps the cache. The host's intent is
// final: an unknown or unrecognised intent never purges and never records a
// reload.
func (c *Classifier) HandleUnload(ctx context.Context, ev UnloadEvent) (Outcome, error) {
	if ev.Persisted {
		return OutcomeIgnoredPersisted, nil
	}

	switch ev.Intent {
	case IntentReload:
		if err := c.store.SetDisposition(ctx, cache.DispositionReload); err != nil {
			return OutcomePreservedReload, fmt.Errorf("[Classifier.HandleUnload] record reload: %w", err)
		}
		return OutcomePreservedReload, nil

	case IntentClose:
		c.mu.Lock()
		marker := c.marker
		c.mu.Unlock()

		stored, ok, err := c.store.TabMarker(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("reading tab marker, keeping cache")
			return OutcomePreservedAmbiguous, nil
		}
		if marker == "" || !ok || stored != marker {
			c.logger.Info().Msg("tab marker changed, keeping cache")
			return OutcomePreservedAmbiguous, nil
		}
		removed, err := c.store.Purge(ctx)
		if err != nil {
			return OutcomePreservedAmbiguous, fmt.Errorf("[Classifier.HandleUnload] purge: %w", err)
		}
		c.logger.Info().Int("removed", removed).Msg("tab closed, cache purged")
		return OutcomePurged, nil

	default:
		c.logger.Debug().Str("intent", string(ev.Intent)).Msg("no host intent, keeping cache")
		return OutcomePreservedAmbiguous, nil
	}
}
