package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/ArtixJP/albert-api/internal/store"
)

// Postgres-backed window counters, keyed by gateway API key. Good enough at
// this scale; for high throughput move the counters to Redis or in-memory
// sharded state with periodic sync.

type Service struct {
	st *store.Store
}

func New(st *store.Store) *Service { return &Service{st: st} }

var ErrRateLimited = errors.New("rate limit exceeded")

// Allow charges one request against the key's minute and day windows.
// Keys without a limits row are never limited.
func (s *Service) Allow(ctx context.Context, keyID string) error {
	lim, err := s.st.Limits().Get(ctx, keyID)
	if err != nil {
		return err
	}
	if lim.RPM == nil && lim.RPD == nil {
		return nil
	}

	now := time.Now().UTC()
	if lim.RPM != nil {
		if ok, err := s.st.Counters().IncAndCheck(ctx, keyID, "minute", now.Truncate(time.Minute), *lim.RPM); err != nil {
			return err
		} else if !ok {
			return ErrRateLimited
		}
	}
	if lim.RPD != nil {
		if ok, err := s.st.Counters().IncAndCheck(ctx, keyID, "day", truncDay(now), *lim.RPD); err != nil {
			return err
		} else if !ok {
			return ErrRateLimited
		}
	}
	return nil
}

func truncDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
