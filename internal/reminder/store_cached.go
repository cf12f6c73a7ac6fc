package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// CachedStore layers a cache Store (redis) over the durable Store
// (sqlite). The durable store is the source of truth: saves go there
// first and must succeed; the cache is written best-effort afterwards.
// Loads prefer the cache; when the cache errors it is marked down and
// retried after recoveryInterval.
type CachedStore struct {
	durable Store
	cache   Store
	logger  *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time

	recoveryInterval time.Duration
}

func NewCachedStore(durable, cache Store, logger *zerolog.Logger) *CachedStore {
	return &CachedStore{
		durable:          durable,
		cache:            cache,
		logger:           logger,
		recoveryInterval: time.Minute,
	}
}

func (s *CachedStore) cacheUsable() bool {
	if !s.isDown.Load() {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) < s.recoveryInterval {
		return false
	}
	// Time for a recovery attempt.
	s.lastCheck = time.Now()
	return true
}

func (s *CachedStore) markDown(err error) {
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Msg("reminder cache down, serving from durable store")
	}
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

func (s *CachedStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("reminder cache recovered")
	}
}

func (s *CachedStore) Load(ctx context.Context, principal string) ([]ReminderItem, error) {
	if s.cacheUsable() {
		items, err := s.cache.Load(ctx, principal)
		switch {
		case err == nil:
			s.markUp()
			return items, nil
		case errors.Is(err, ErrNoData):
			// Cache miss is not a cache failure; fall through.
			s.markUp()
		default:
			s.markDown(err)
		}
	}

	items, err := s.durable.Load(ctx, principal)
	if err != nil {
		return nil, err
	}

	// Repopulate the cache so the next load is a hit.
	if s.cacheUsable() {
		if err := s.cache.Save(ctx, principal, items); err != nil {
			s.markDown(err)
		}
	}
	return items, nil
}

func (s *CachedStore) Save(ctx context.Context, principal string, items []ReminderItem) error {
	if err := s.durable.Save(ctx, principal, items); err != nil {
		return err
	}

	if s.cacheUsable() {
		if err := s.cache.Save(ctx, principal, items); err != nil {
			s.markDown(err)
		} else {
			s.markUp()
		}
	}
	return nil
}
