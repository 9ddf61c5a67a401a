package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

type KeysRepo struct{ pool *pgxpool.Pool }

var ErrNotFound = errors.New("not found")

func hashKey(k string) string {
	h := sha256.Sum256([]byte(k))
	return hex.EncodeToString(h[:])
}

// ResolveKeyID maps a raw bearer key to its stored id. Revoked keys do not
// resolve.
func (r *KeysRepo) ResolveKeyID(ctx context.Context, rawKey string) (string, error) {
	kh := hashKey(rawKey)
	var id string
	err := r.pool.QueryRow(ctx, `
SELECT id
FROM api_keys
WHERE key_hash=$1 AND revoked_at IS NULL
`, kh).Scan(&id)
	if err != nil {
		return "", ErrNotFound
	}
	return id, nil
}
