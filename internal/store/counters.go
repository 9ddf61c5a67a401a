package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CountersRepo struct{ pool *pgxpool.Pool }

// IncAndCheck bumps the counter for one (key, window) and reports whether
// the incremented count is still within limit. The upsert is a single
// statement, so concurrent requests serialize on the counter row.
func (r *CountersRepo) IncAndCheck(ctx context.Context, keyID, window string, windowStart time.Time, limit int) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
INSERT INTO api_key_counters(key_id, window_type, window_start, count)
VALUES($1,$2,$3,1)
ON CONFLICT (key_id, window_type, window_start)
DO UPDATE SET count = api_key_counters.count + 1
RETURNING count
`, keyID, window, windowStart).Scan(&count)
	if err != nil {
		return false, err
	}
	return count <= limit, nil
}
