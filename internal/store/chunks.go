package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ArtixJP/albert-api/internal/vectors"
)

// ChunksRepo is the pgvector-backed vector database. Rows are written by the
// document ingestion pipeline (outside this service); the gateway only reads.
type ChunksRepo struct{ pool *pgxpool.Pool }

// Search returns up to k chunks of one collection ranked by cosine
// similarity to queryVec, highest first.
func (r *ChunksRepo) Search(ctx context.Context, collection string, queryVec []float32, k int, filter *vectors.Filter) ([]vectors.ScoredChunk, error) {
	vec := pgvector.NewVector(queryVec)

	query := `
SELECT id::text, file_id, content, 1 - (embedding <=> $2) AS score
FROM document_chunks
WHERE collection=$1`
	args := []any{collection, vec}
	if filter != nil && len(filter.FileIDs) > 0 {
		query += ` AND file_id = ANY($3) ORDER BY embedding <=> $2 LIMIT $4`
		args = append(args, filter.FileIDs, k)
	} else {
		query += ` ORDER BY embedding <=> $2 LIMIT $3`
		args = append(args, k)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vectors.ScoredChunk
	for rows.Next() {
		var c vectors.ScoredChunk
		if err := rows.Scan(&c.VectorID, &c.FileID, &c.Content, &c.Score); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCollections returns every distinct collection name.
func (r *ChunksRepo) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT collection FROM document_chunks ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
