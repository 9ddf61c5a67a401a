package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Limits are per-key request caps. A nil field means no cap for that window;
// a key with no limits row is unlimited.
type Limits struct {
	RPM *int
	RPD *int
}

type LimitsRepo struct{ pool *pgxpool.Pool }

func (r *LimitsRepo) Get(ctx context.Context, keyID string) (Limits, error) {
	var rpm, rpd *int
	err := r.pool.QueryRow(ctx, `
SELECT rpm, rpd
FROM api_key_limits
WHERE key_id=$1
`, keyID).Scan(&rpm, &rpd)
	if errors.Is(err, pgx.ErrNoRows) {
		return Limits{}, nil
	}
	if err != nil {
		return Limits{}, err
	}
	return Limits{RPM: rpm, RPD: rpd}, nil
}
