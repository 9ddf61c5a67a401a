package store

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles the pgx repositories. One instance is built at startup and
// handed by reference into request-scoped code; it holds no mutable state
// beyond the pool.
type Store struct {
	pool *pgxpool.Pool

	keys     *KeysRepo
	sessions *SessionsRepo
	chunks   *ChunksRepo
	limits   *LimitsRepo
	cnt      *CountersRepo
}

func New(pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	s.keys = &KeysRepo{pool: pool}
	s.sessions = &SessionsRepo{pool: pool}
	s.chunks = &ChunksRepo{pool: pool}
	s.limits = &LimitsRepo{pool: pool}
	s.cnt = &CountersRepo{pool: pool}
	return s
}

func (s *Store) Keys() *KeysRepo         { return s.keys }
func (s *Store) Sessions() *SessionsRepo { return s.sessions }
func (s *Store) Chunks() *ChunksRepo     { return s.chunks }
func (s *Store) Limits() *LimitsRepo     { return s.limits }
func (s *Store) Counters() *CountersRepo { return s.cnt }
